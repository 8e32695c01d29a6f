package mock

import (
	"context"
	"sync/atomic"
	"time"
)

func NewWaiter() Waiter {
	return Waiter{active: new(atomic.Int32)}
}

// Waiter counts running goroutines like a 'sync.WaitGroup', but its wait
// honours a context deadline.
type Waiter struct {
	active *atomic.Int32
}

func (w Waiter) Add()  { w.active.Add(1) }
func (w Waiter) Done() { w.active.Add(-1) }

func (w Waiter) WaitContext(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		if w.active.Load() <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
