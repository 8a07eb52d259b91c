package notifier

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/courtside/storefront/pkg/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

// Consumer reads order events and emails the buyer a confirmation.
type Consumer struct {
	reader      events.Reader
	mailer      Mailer
	deduper     Deduper
	log         *slog.Logger
	sent        *prometheus.CounterVec
	backoff     time.Duration
	sendTimeout time.Duration
}

// NewConsumer builds a consumer. A nil deduper sends on every delivery.
func NewConsumer(reader events.Reader, mailer Mailer, deduper Deduper, log *slog.Logger, sent *prometheus.CounterVec) *Consumer {
	if deduper == nil {
		deduper = noopDeduper{}
	}
	return &Consumer{
		reader:      reader,
		mailer:      mailer,
		deduper:     deduper,
		log:         log,
		sent:        sent,
		backoff:     time.Second,
		sendTimeout: 10 * time.Second,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.getMessageAndNotify(ctx)
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Error("error closing reader", "error", err)
	}
}

func (c *Consumer) getMessageAndNotify(ctx context.Context) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
			c.log.Error("error reading message", "error", err)
			c.wait(ctx)
		}
		return
	}

	for !c.notify(ctx, m) {
		c.wait(ctx)
		if ctx.Err() != nil {
			return
		}
	}
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.log.Error("error committing message", "offset", m.Offset, "error", err)
	}
}

// notify reports whether the message is done with. Only a failed send leaves
// it pending.
func (c *Consumer) notify(ctx context.Context, m kafka.Message) bool {
	evt, ok, err := events.DecodeOrderMaterialized(m)
	if err != nil {
		c.log.Error("error parsing message", "offset", m.Offset, "error", err)
		c.sent.WithLabelValues("invalid").Inc()
		return true
	}
	if !ok {
		return true
	}
	if evt.Email == "" {
		c.log.Warn("order event without buyer email", "correlation_id", evt.CorrelationID)
		c.sent.WithLabelValues("skipped").Inc()
		return true
	}

	claimed, err := c.deduper.Claim(ctx, evt.CorrelationID)
	if err != nil {
		// sending twice beats not sending at all
		c.log.Warn("dedupe unavailable, sending anyway", "correlation_id", evt.CorrelationID, "error", err)
		claimed = true
	}
	if !claimed {
		c.log.Info("confirmation already sent", "correlation_id", evt.CorrelationID)
		c.sent.WithLabelValues("duplicate").Inc()
		return true
	}

	msg, err := OrderConfirmation(evt)
	if err != nil {
		c.log.Error("failed to render confirmation", "correlation_id", evt.CorrelationID, "error", err)
		c.sent.WithLabelValues("invalid").Inc()
		return true
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()
	if err := c.mailer.Send(sendCtx, msg); err != nil {
		c.log.Error("failed to send confirmation",
			"correlation_id", evt.CorrelationID, "order_id", evt.OrderID, "error", err)
		c.sent.WithLabelValues("failed").Inc()
		if err := c.deduper.Release(ctx, evt.CorrelationID); err != nil {
			c.log.Warn("failed to release dedupe claim", "correlation_id", evt.CorrelationID, "error", err)
		}
		return false
	}
	c.log.Info("order confirmation sent", "correlation_id", evt.CorrelationID, "order_id", evt.OrderID)
	c.sent.WithLabelValues("sent").Inc()
	return true
}

func (c *Consumer) wait(ctx context.Context) {
	select {
	case <-time.After(c.backoff):
	case <-ctx.Done():
	}
}
