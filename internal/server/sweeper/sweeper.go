// Package sweeper periodically removes revoked and expired refresh tokens.
package sweeper

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
)

type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

type Runner struct {
	target   Sweeper
	interval time.Duration
	log      logging.Logger
}

func New(target Sweeper, interval time.Duration, log logging.Logger) *Runner {
	return &Runner{target: target, interval: interval, log: log.With("module", "sweeper")}
}

// Run sweeps every interval until ctx is done. A non-positive interval
// disables the runner. Failed sweeps are logged and retried on the next tick.
func (r *Runner) Run(ctx context.Context) {
	if r.interval <= 0 {
		r.log.Info(ctx, "sweeper disabled")
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.target.Sweep(ctx)
			if err != nil {
				r.log.Error(ctx, "sweep failed", "error", err)
				continue
			}
			r.log.Info(ctx, "sweep completed", "deleted", n)
		}
	}
}
