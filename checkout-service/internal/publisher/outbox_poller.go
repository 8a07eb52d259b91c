package publisher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	d "github.com/courtside/storefront/checkout-service/domain"
	r "github.com/courtside/storefront/checkout-service/internal/repository"
	"github.com/courtside/storefront/checkout-service/internal/service"
	"github.com/courtside/storefront/pkg/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

type OutboxStore interface {
	r.OutboxRepository
	ListStuckPendingOrders(ctx context.Context, olderThan time.Duration, limit int) ([]*d.Order, error)
}

type Materializer interface {
	Materialize(ctx context.Context, correlationID string, trigger service.Trigger) (*d.Order, error)
}

type Config struct {
	EventTick      time.Duration
	RecoveryTick   time.Duration
	StuckAfter     time.Duration
	BatchSize      int
	PublishTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		EventTick:      time.Second,
		RecoveryTick:   30 * time.Second,
		StuckAfter:     time.Minute,
		BatchSize:      100,
		PublishTimeout: 5 * time.Second,
	}
}

// OutboxPoller publishes committed outbox rows and re-drives orders that
// stopped in pending.
type OutboxPoller struct {
	cfg          Config
	repo         OutboxStore
	materializer Materializer
	writer       events.Writer
	published    *prometheus.CounterVec
	log          *slog.Logger
}

// NewOutboxPoller expects published labelled by result.
func NewOutboxPoller(cfg Config, repo OutboxStore, materializer Materializer, writer events.Writer, published *prometheus.CounterVec, log *slog.Logger) *OutboxPoller {
	return &OutboxPoller{
		cfg:          cfg,
		repo:         repo,
		materializer: materializer,
		writer:       writer,
		published:    published,
		log:          log,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.cfg.EventTick)
	recoveryTicker := time.NewTicker(p.cfg.RecoveryTick)
	defer eventTicker.Stop()
	defer recoveryTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-recoveryTicker.C:
			p.recoverStuckOrders(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() {
	if err := p.writer.Close(); err != nil {
		p.log.Error("error closing writer", "error", err)
	}
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	evts, err := p.repo.GetUnprocessedEvents(ctx, p.cfg.BatchSize)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to fetch outbox events", "error", err)
		return
	}

	for _, event := range evts {
		if err := p.publish(ctx, event); err != nil {
			p.published.WithLabelValues("failed").Inc()
			p.log.ErrorContext(ctx, "failed to publish outbox event",
				"event_id", event.ID, "correlation_id", event.AggregateID, "error", err)
			// keep per-key ordering: later rows wait for the next tick
			return
		}
		p.published.WithLabelValues("published").Inc()

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.log.ErrorContext(ctx, "failed to mark outbox event processed", "event_id", event.ID, "error", err)
		}
	}
}

func (p *OutboxPoller) recoverStuckOrders(ctx context.Context) {
	orders, err := p.repo.ListStuckPendingOrders(ctx, p.cfg.StuckAfter, p.cfg.BatchSize)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to list stuck orders", "error", err)
		return
	}

	for _, order := range orders {
		p.log.InfoContext(ctx, "recovering stuck order", "correlation_id", order.CorrelationID, "order_id", order.ID)
		_, err := p.materializer.Materialize(ctx, order.CorrelationID, service.TriggerRecovery)
		switch {
		case err == nil:
		case errors.Is(err, service.ErrPaymentNotCompleted), errors.Is(err, service.ErrPaymentFailed):
			p.log.WarnContext(ctx, "stuck order left pending", "correlation_id", order.CorrelationID, "error", err)
		default:
			p.log.ErrorContext(ctx, "failed to recover stuck order", "correlation_id", order.CorrelationID, "error", err)
		}
	}
}

func (p *OutboxPoller) publish(ctx context.Context, event *r.OutboxEvent) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: events.HeaderEventType, Value: []byte(event.EventType)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}
