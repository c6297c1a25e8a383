// Package workers runs the periodic background jobs: the early-access sweep and expiry cleanup.
package workers

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

type EarlySweeper interface {
	SweepEarlyWindow(ctx context.Context) (int, error)
}

// Expirer deletes rows that expired before now.
type Expirer interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Worker struct {
	sweeper      EarlySweeper
	expirers     map[string]Expirer
	sweepEvery   time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

func New(sweeper EarlySweeper, expirers map[string]Expirer) *Worker {
	return &Worker{
		sweeper:      sweeper,
		expirers:     expirers,
		sweepEvery:   time.Minute,
		cleanupEvery: time.Hour,
		now:          time.Now,
	}
}

// Run blocks until ctx is cancelled. Each job runs once at start and then on its ticker.
func (w *Worker) Run(ctx context.Context) {
	sweepTicker := time.NewTicker(w.sweepEvery)
	defer sweepTicker.Stop()
	cleanupTicker := time.NewTicker(w.cleanupEvery)
	defer cleanupTicker.Stop()

	w.sweep(ctx)
	w.cleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("Background workers stopped")
			return
		case <-sweepTicker.C:
			w.sweep(ctx)
		case <-cleanupTicker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	if w.sweeper == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, w.sweepEvery)
	defer cancel()

	n, err := w.sweeper.SweepEarlyWindow(ctx)
	if err != nil {
		log.WithError(err).Error("Early-access sweep failed")
		return
	}
	if n > 0 {
		log.WithField("notified", n).Info("Early-access sweep done")
	}
}

func (w *Worker) cleanup(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	now := w.now()
	for name, e := range w.expirers {
		deleted, err := e.DeleteExpired(ctx, now)
		if err != nil {
			log.WithError(err).WithField("table", name).Error("Expiry cleanup failed")
			continue
		}
		if deleted > 0 {
			log.WithFields(log.Fields{"table": name, "deleted": deleted}).Info("Expired rows removed")
		}
	}
}
