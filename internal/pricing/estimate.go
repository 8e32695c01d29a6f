package pricing

import (
	"math"
	"time"
)

// Estimate returns the cost of running at 'hourlyRate' for 'd', rounded to
// cents. Negative inputs yield 0.
func Estimate(hourlyRate float64, d time.Duration) float64 {
	if hourlyRate <= 0 || d <= 0 {
		return 0
	}
	return math.Round(hourlyRate*d.Seconds()/3600*100) / 100
}
