package runner

import (
	"context"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/rm-runner/rm-runner/internal/o11y"
)

// teardown unwinds 's' and reports how long it took. It ignores
// cancellation of 'ctx': an interrupted session still releases what it
// created.
func (r *Runner) teardown(ctx context.Context, s *stack) (time.Duration, error) {
	ctx = context.WithoutCancel(ctx)
	log := clog.FromContext(ctx)

	if s.Len() == 0 {
		return 0, nil
	}
	if r.cfg.SkipTeardown {
		log.Warn("skipping teardown, resources left in place",
			"env", EnvSkipTeardown,
			"resources", s.Len(),
			"tag", tagKeyRun+"="+r.cfg.RunName,
		)
		return 0, nil
	}

	ctx, span := o11y.StartPhase(ctx, "teardown")
	log.Info("tearing down", "resources", s.Len())
	start := r.clock.Now()
	err := s.Destroy(ctx)
	o11y.EndPhase(span, err)
	elapsed := r.clock.Since(start)
	if err != nil {
		log.Error("teardown incomplete", "error", err)
		return elapsed, err
	}
	log.Info("teardown complete", "elapsed", elapsed)
	return elapsed, nil
}
