package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/alarm-service/internal/model"
	"github.com/jwalitptl/alarm-service/pkg/logger"
	"github.com/jwalitptl/alarm-service/pkg/messaging"
	"github.com/jwalitptl/alarm-service/pkg/metrics"
	"github.com/jwalitptl/alarm-service/pkg/repository"
)

// Reporter forwards a delivery report to the upstream backend.
type Reporter interface {
	ReportDelivered(ctx context.Context, r model.DeliveryReport) error
}

type OutboxProcessorConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// RetryAttempts is the number of immediate attempts per poll.
	RetryAttempts int
	RetryDelay    time.Duration
	// MaxRetries is the number of polls an event may be retried in before it
	// is marked failed.
	MaxRetries int
}

func (c OutboxProcessorConfig) validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("BatchSize must be greater than 0")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("PollInterval must be greater than 0")
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("RetryAttempts must be greater than 0")
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("RetryDelay must be greater than 0")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("MaxRetries must be greater than 0")
	}
	return nil
}

type OutboxProcessor struct {
	repo     repository.OutboxRepository
	reporter Reporter
	broker   messaging.Broker
	config   OutboxProcessorConfig
	logger   *logger.Logger
	metrics  *metrics.Metrics
	clock    clockwork.Clock
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	reporter Reporter,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	log *logger.Logger,
	m *metrics.Metrics,
	clock clockwork.Clock,
) (*OutboxProcessor, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if broker == nil {
		broker = messaging.NopBroker{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &OutboxProcessor{
		repo:     repo,
		reporter: reporter,
		broker:   broker,
		config:   config,
		logger:   log,
		metrics:  m,
		clock:    clock,
	}, nil
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := p.clock.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor", "poll_interval", p.config.PollInterval.String())

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.Chan():
			if err := p.ProcessOnce(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		}
	}
}

// ProcessOnce drains one batch of due events.
func (p *OutboxProcessor) ProcessOnce(ctx context.Context) error {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	events, err := p.repo.GetPendingEventsWithLock(ctx, p.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending events: %w", err)
	}

	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error(err, "Failed to process event",
				"event_id", event.ID.String(),
				"event_type", event.EventType)
			continue
		}
	}

	return nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	err := p.retry(ctx, func() error {
		return p.dispatch(ctx, event)
	})

	if err != nil {
		errStr := err.Error()
		status := model.OutboxStatusRetry
		var retryAt *time.Time
		if event.RetryCount+1 >= p.config.MaxRetries {
			status = model.OutboxStatusFailed
			p.metrics.OutboxEventsFailed.Inc()
		} else {
			at := p.clock.Now().Add(p.backoff(event.RetryCount))
			retryAt = &at
			p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
		}
		if updateErr := p.repo.UpdateStatus(ctx, event.ID, status, &errStr, retryAt); updateErr != nil {
			p.logger.Error(updateErr, "Failed to update event status", "event_id", event.ID.String())
		}
		return err
	}

	p.metrics.OutboxEventsProcessed.Inc()
	if err := p.repo.UpdateStatus(ctx, event.ID, model.OutboxStatusProcessed, nil, nil); err != nil {
		p.logger.Error(err, "Failed to update event status", "event_id", event.ID.String())
		return err
	}

	return nil
}

func (p *OutboxProcessor) dispatch(ctx context.Context, event *model.OutboxEvent) error {
	switch event.EventType {
	case model.EventAlarmDelivered:
		var report model.DeliveryReport
		if err := json.Unmarshal(event.Payload, &report); err != nil {
			return fmt.Errorf("decode delivery report: %w", err)
		}
		if err := p.reporter.ReportDelivered(ctx, report); err != nil {
			return err
		}
	}
	return p.broker.Publish(ctx, messaging.ChannelEvents, messaging.Message{
		Type:    event.EventType,
		Payload: event.Payload,
	})
}

// backoff doubles the retry delay for every previous retry, capped at one hour.
func (p *OutboxProcessor) backoff(retries int) time.Duration {
	d := p.config.RetryDelay
	for i := 0; i < retries && d < time.Hour; i++ {
		d *= 2
	}
	if d > time.Hour {
		d = time.Hour
	}
	return d
}

func (p *OutboxProcessor) retry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < p.config.RetryAttempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < p.config.RetryAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.clock.After(p.config.RetryDelay):
			}
		}
	}
	return err
}
