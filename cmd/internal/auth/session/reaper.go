package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Sweeper is the store capability the Reaper needs.
type Sweeper interface {
	DeleteExpiredOrStaleRevoked(ctx context.Context, now time.Time, threshold time.Time) (int, error)
}

// Reaper periodically deletes expired refresh records and revoked records
// older than the retention window. A failed sweep is logged and retried on
// the next tick.
type Reaper struct {
	store     Sweeper
	interval  time.Duration
	retention time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// NewReaper builds a Reaper using cfg.ReaperInterval and cfg.RevokedRetention.
func NewReaper(store Sweeper, cfg Config, log *slog.Logger) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{
		store:     store,
		interval:  cfg.ReaperInterval,
		retention: cfg.RevokedRetention,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Sweep runs one cleanup pass at now and returns the number of deleted records.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) (n int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("session: reaper panic: %v", p)
		}
	}()
	return r.store.DeleteExpiredOrStaleRevoked(ctx, now, now.Add(-r.retention))
}

// Run sweeps once immediately and then every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	r.log.Info("session.reaper.start", "interval", r.interval.String(), "retention", r.retention.String())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.sweepAndLog(ctx)

		select {
		case <-ctx.Done():
			r.log.Info("session.reaper.stop")
			return
		case <-ticker.C:
		}
	}
}

func (r *Reaper) sweepAndLog(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	n, err := r.Sweep(ctx, r.now())
	if err != nil {
		reaperRuns.WithLabelValues("error").Inc()
		r.log.Error("session.reaper.sweep.fail", "err", err)
		return
	}
	reaperRuns.WithLabelValues("ok").Inc()
	reaperDeleted.Add(float64(n))
	r.log.Info("session.reaper.sweep", "deleted", n, "duration_ms", time.Since(start).Milliseconds())
}
