package worker

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jwalitptl/alarm-service/internal/service/syncer"
	"github.com/jwalitptl/alarm-service/pkg/logger"
)

// Syncer runs one upstream synchronization.
type Syncer interface {
	RunOnce(ctx context.Context) (syncer.Result, error)
}

// SyncWorker is the periodic wake-up that pulls the upstream snapshot.
type SyncWorker struct {
	syncer   Syncer
	interval time.Duration
	logger   *logger.Logger
	clock    clockwork.Clock
}

// NewSyncWorker builds the worker. A nil clock means the real one.
func NewSyncWorker(s Syncer, interval time.Duration, log *logger.Logger, clock clockwork.Clock) *SyncWorker {
	if log == nil {
		log = logger.Nop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SyncWorker{
		syncer:   s,
		interval: interval,
		logger:   log,
		clock:    clock,
	}
}

// Start runs a sync immediately and then every interval until ctx is done.
func (w *SyncWorker) Start(ctx context.Context) {
	w.run(ctx)

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			w.run(ctx)
		}
	}
}

func (w *SyncWorker) run(ctx context.Context) {
	res, err := w.syncer.RunOnce(ctx)
	if err != nil {
		// Log error but continue
		w.logger.Error(err, "Periodic sync failed")
		return
	}
	w.logger.Debug("Periodic sync finished",
		"alarms", res.Alarms,
		"skipped", res.Skipped,
		"broadcasts", res.Broadcasts)
}
