package payment

import (
	"context"
	"errors"
	"log/slog"

	"github.com/courtside/storefront/pkg/circuitbreaker"
)

// Guarded protects outbound provider calls with a circuit breaker. Only
// availability failures count towards tripping it.
type Guarded struct {
	next Provider
	cb   *circuitbreaker.Breaker[*Intent]
}

func NewGuarded(next Provider, cfg circuitbreaker.Config, log *slog.Logger) *Guarded {
	return &Guarded{
		next: next,
		cb: circuitbreaker.New[*Intent](cfg, log, func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		}),
	}
}

func (g *Guarded) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	return g.execute(func() (*Intent, error) { return g.next.CreateIntent(ctx, req) })
}

func (g *Guarded) RetrieveIntent(ctx context.Context, id string) (*Intent, error) {
	return g.execute(func() (*Intent, error) { return g.next.RetrieveIntent(ctx, id) })
}

func (g *Guarded) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	return g.next.VerifyWebhook(payload, signature)
}

func (g *Guarded) execute(fn func() (*Intent, error)) (*Intent, error) {
	in, err := g.cb.Execute(fn)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, errors.Join(ErrUnavailable, err)
	}
	return in, err
}
