package runner

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Summary reports how a session went.
type Summary struct {
	RunName    string
	InstanceID string
	ImageID    string

	Total        time.Duration
	Provisioning time.Duration
	Execution    time.Duration
	Teardown     time.Duration

	// HourlyRate and EstimatedCost are nil when pricing failed.
	HourlyRate    *float64
	EstimatedCost *float64

	ExitCode int
}

// Active is the time the instance was in use: provisioning plus execution.
func (s *Summary) Active() time.Duration {
	return s.Provisioning + s.Execution
}

func (s *Summary) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("run", s.RunName),
		slog.String("instance", s.InstanceID),
		slog.Duration("total", s.Total),
		slog.Duration("provisioning", s.Provisioning),
		slog.Duration("execution", s.Execution),
		slog.Duration("teardown", s.Teardown),
		slog.Int("exit_code", s.ExitCode),
	}
	if s.EstimatedCost != nil {
		attrs = append(attrs, slog.Float64("estimated_cost_usd", *s.EstimatedCost))
	}
	return slog.GroupValue(attrs...)
}

var _ slog.LogValuer = (*Summary)(nil)

func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run:          %s\n", s.RunName)
	fmt.Fprintf(&b, "Total:        %s\n", s.Total.Round(time.Second))
	fmt.Fprintf(&b, "Provisioning: %s\n", s.Provisioning.Round(time.Second))
	fmt.Fprintf(&b, "Execution:    %s\n", s.Execution.Round(time.Second))
	fmt.Fprintf(&b, "Teardown:     %s\n", s.Teardown.Round(time.Second))
	fmt.Fprintf(&b, "Exit code:    %d\n", s.ExitCode)
	if s.EstimatedCost != nil {
		fmt.Fprintf(&b, "Cost:         $%.2f", *s.EstimatedCost)
	} else {
		b.WriteString("Cost:         unknown")
	}
	return b.String()
}
