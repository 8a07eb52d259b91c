package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/courtside/storefront/pkg/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

// CartClearer removes the carts that fed a placed order.
type CartClearer interface {
	ClearAfterOrder(ctx context.Context, accountID, sessionID string) error
}

// Poller consumes order events and empties the buyer's carts.
type Poller struct {
	reader  events.Reader
	clearer CartClearer
	log     *slog.Logger
	cleared *prometheus.CounterVec
	backoff time.Duration
}

func NewPoller(reader events.Reader, clearer CartClearer, log *slog.Logger, cleared *prometheus.CounterVec) *Poller {
	return &Poller{
		reader:  reader,
		clearer: clearer,
		log:     log,
		cleared: cleared,
		backoff: time.Second,
	}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.getMessageAndEmptyCart(ctx)
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Error("error closing reader", "error", err)
	}
}

func (p *Poller) getMessageAndEmptyCart(ctx context.Context) {
	m, err := p.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
			p.log.Error("error reading message", "error", err)
			p.wait(ctx)
		}
		return
	}

	// the offset only moves past an event once its carts are cleared
	for !p.emptyCart(ctx, m) {
		p.wait(ctx)
		if ctx.Err() != nil {
			return
		}
	}
	if err := p.reader.CommitMessages(ctx, m); err != nil {
		p.log.Error("error committing message", "offset", m.Offset, "error", err)
	}
}

// emptyCart reports whether the message is done with. Undecodable and
// ownerless events are done; a failed clear is not.
func (p *Poller) emptyCart(ctx context.Context, m kafka.Message) bool {
	evt, ok, err := events.DecodeOrderMaterialized(m)
	if err != nil {
		p.log.Error("error parsing message", "offset", m.Offset, "error", err)
		p.cleared.WithLabelValues("invalid").Inc()
		return true
	}
	if !ok {
		return true
	}
	if evt.AccountID == "" && evt.SessionID == "" {
		p.log.Warn("order event without cart owner", "correlation_id", evt.CorrelationID)
		p.cleared.WithLabelValues("skipped").Inc()
		return true
	}

	if err := p.clearer.ClearAfterOrder(ctx, evt.AccountID, evt.SessionID); err != nil {
		p.log.Error("failed to clear cart after order",
			"correlation_id", evt.CorrelationID, "user_id", evt.AccountID, "error", err)
		p.cleared.WithLabelValues("failed").Inc()
		return false
	}
	p.log.Info("cart cleared after order", "correlation_id", evt.CorrelationID, "user_id", evt.AccountID)
	p.cleared.WithLabelValues("cleared").Inc()
	return true
}

func (p *Poller) wait(ctx context.Context) {
	select {
	case <-time.After(p.backoff):
	case <-ctx.Done():
	}
}
