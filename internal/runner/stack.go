package runner

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/chainguard-dev/clog"
)

type (
	// Teardown destroys one resource.
	Teardown func(ctx context.Context) error

	stack struct {
		steps []step
	}
	step struct {
		name     string
		teardown Teardown
	}
)

// Push adds a teardown, to be run in the reverse order they were added.
func (s *stack) Push(name string, t Teardown) {
	s.steps = append(s.steps, step{name: name, teardown: t})
}

func (s *stack) Len() int {
	return len(s.steps)
}

// Destroy runs every queued teardown in LIFO order and empties the stack. A
// failing step does not stop the ones after it; all errors are joined.
func (s *stack) Destroy(ctx context.Context) error {
	log := clog.FromContext(ctx)
	steps := s.steps
	s.steps = nil

	var errs error
	for _, st := range slices.Backward(steps) {
		if err := st.teardown(ctx); err != nil {
			log.Error("teardown step failed", "step", st.name, "error", err)
			errs = errors.Join(errs, fmt.Errorf("%s: %w", st.name, err))
			continue
		}
		log.Debug("teardown step complete", "step", st.name)
	}
	return errs
}
