// Package reaper periodically deletes expired auth rows. Expiry is enforced lazily on read,
// so the reaper only bounds storage growth and never changes what callers observe.
package reaper

import (
	"context"
	"time"

	"github.com/sawyelin/ylstack-auth-sub000/internal/logging"
)

// Expirer deletes rows that expired before now and reports how many went.
type Expirer interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// CounterPruner drops failed-login records older than a cutoff (the Postgres lockout counter).
type CounterPruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Target is one table or store to sweep.
type Target struct {
	Name string
	Rows Expirer
}

// Options tunes a Reaper.
type Options struct {
	Interval time.Duration
	// Timeout bounds one sweep of a single target.
	Timeout time.Duration
	// LockoutWindow is how far back failed-login records must be kept.
	LockoutWindow time.Duration
	Now           func() time.Time
}

// Reaper sweeps its targets on a fixed interval.
type Reaper struct {
	targets []Target
	counter CounterPruner
	opts    Options
	log     logging.Logger
}

// New returns a Reaper. counter may be nil.
func New(targets []Target, counter CounterPruner, opts Options, log logging.Logger) *Reaper {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.LockoutWindow <= 0 {
		opts.LockoutWindow = 15 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Reaper{targets: targets, counter: counter, opts: opts, log: log.With("component", "reaper")}
}

// Sweep runs every target once and returns the number of rows removed per target.
// A failing target is logged and skipped.
func (r *Reaper) Sweep(ctx context.Context) map[string]int64 {
	now := r.opts.Now().UTC()
	removed := make(map[string]int64, len(r.targets)+1)
	for _, t := range r.targets {
		n, err := r.run(ctx, func(ctx context.Context) (int64, error) { return t.Rows.DeleteExpired(ctx, now) })
		if err != nil {
			r.log.Warn(ctx, "sweep failed", "target", t.Name, "error", err)
			continue
		}
		removed[t.Name] = n
	}
	if r.counter != nil {
		cutoff := now.Add(-r.opts.LockoutWindow)
		n, err := r.run(ctx, func(ctx context.Context) (int64, error) { return r.counter.DeleteBefore(ctx, cutoff) })
		if err != nil {
			r.log.Warn(ctx, "sweep failed", "target", "login_failures", "error", err)
		} else {
			removed["login_failures"] = n
		}
	}
	return removed
}

func (r *Reaper) run(ctx context.Context, fn func(context.Context) (int64, error)) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()
	return fn(ctx)
}

// Run sweeps immediately and then every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		removed := r.Sweep(ctx)
		var total int64
		for _, n := range removed {
			total += n
		}
		if total > 0 {
			r.log.Info(ctx, "expired rows removed", "total", total, "by_target", removed)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
