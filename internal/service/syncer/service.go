// Package syncer pulls alarm snapshots and broadcasts from the upstream
// backend.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/alarm-service/internal/model"
	"github.com/jwalitptl/alarm-service/internal/service/alarm"
	"github.com/jwalitptl/alarm-service/internal/service/notification"
	"github.com/jwalitptl/alarm-service/pkg/logger"
	"github.com/jwalitptl/alarm-service/pkg/metrics"
)

// Fetcher is the read side of the upstream backend.
type Fetcher interface {
	FetchAlarms(ctx context.Context) ([]model.Alarm, error)
	FetchBroadcasts(ctx context.Context) ([]model.Broadcast, error)
}

// Applier receives the validated alarm snapshot.
type Applier interface {
	ReplaceAll(ctx context.Context, alarms []model.Alarm) error
}

type Config struct {
	// BroadcastTTL is how long a shown broadcast id is remembered.
	BroadcastTTL   time.Duration
	SyncBroadcasts bool
}

// Result summarizes one sync run.
type Result struct {
	Alarms     int `json:"alarms"`
	Skipped    int `json:"skipped"`
	Broadcasts int `json:"broadcasts"`
}

type Service struct {
	fetcher  Fetcher
	applier  Applier
	notifier notification.Service
	seen     *cache.Cache
	config   Config
	logger   *logger.Logger
	metrics  *metrics.Metrics

	mu sync.Mutex
}

func NewService(fetcher Fetcher, applier Applier, notifier notification.Service, cfg Config, log *logger.Logger, m *metrics.Metrics) *Service {
	if cfg.BroadcastTTL <= 0 {
		cfg.BroadcastTTL = 24 * time.Hour
	}
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{
		fetcher:  fetcher,
		applier:  applier,
		notifier: notifier,
		seen:     cache.New(cfg.BroadcastTTL, cfg.BroadcastTTL/2),
		config:   cfg,
		logger:   log,
		metrics:  m,
	}
}

// RunOnce syncs alarms and then broadcasts. Runs are serialized. A failed
// broadcast sync does not undo an applied alarm snapshot.
func (s *Service) RunOnce(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res Result
	applied, skipped, err := s.syncAlarms(ctx)
	if err != nil {
		return res, err
	}
	res.Alarms, res.Skipped = applied, skipped

	if s.config.SyncBroadcasts {
		shown, err := s.syncBroadcasts(ctx)
		res.Broadcasts = shown
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *Service) syncAlarms(ctx context.Context) (int, int, error) {
	fetched, err := s.fetcher.FetchAlarms(ctx)
	if err != nil {
		s.metrics.SyncRuns.WithLabelValues("alarms", "error").Inc()
		return 0, 0, err
	}

	valid := alarm.FilterValid(fetched, s.logger)
	if err := s.applier.ReplaceAll(ctx, valid); err != nil {
		s.metrics.SyncRuns.WithLabelValues("alarms", "error").Inc()
		return 0, 0, err
	}

	s.metrics.SyncRuns.WithLabelValues("alarms", "success").Inc()
	skipped := len(fetched) - len(valid)
	s.logger.Info("Synced alarms", "fetched", len(fetched), "skipped", skipped)
	return len(valid), skipped, nil
}

func (s *Service) syncBroadcasts(ctx context.Context) (int, error) {
	broadcasts, err := s.fetcher.FetchBroadcasts(ctx)
	if err != nil {
		s.metrics.SyncRuns.WithLabelValues("broadcasts", "error").Inc()
		return 0, err
	}
	s.metrics.SyncRuns.WithLabelValues("broadcasts", "success").Inc()

	shown := 0
	for _, b := range broadcasts {
		if err := b.Validate(); err != nil {
			s.logger.Warn("Skipping invalid broadcast", "broadcast_id", b.ID, "error", err.Error())
			continue
		}
		// Add fails when the id is already remembered.
		if err := s.seen.Add(b.ID, struct{}{}, cache.DefaultExpiration); err != nil {
			continue
		}
		if err := s.notifier.Show(ctx, s.notifier.BroadcastNotification(b)); err != nil {
			s.logger.Error(err, "Failed to show broadcast", "broadcast_id", b.ID)
		}
		s.metrics.BroadcastsShown.Inc()
		shown++
	}
	return shown, nil
}
