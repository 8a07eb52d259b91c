package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/courtside/storefront/cart-service/internal/cache"
	"github.com/courtside/storefront/cart-service/internal/domain"
	"github.com/courtside/storefront/cart-service/internal/repository"
	"github.com/courtside/storefront/pkg/auth"
	"golang.org/x/sync/singleflight"
)

// Session is the cart bound to one request. It is not shared across requests.
type Session struct {
	identity auth.Identity
	cart     *domain.Cart
	degraded bool
	// partial is set when the durable cart could not be read, so the local
	// cart must be merged into it rather than replace it.
	partial bool
}

func (s *Session) Cart() *domain.Cart {
	return s.cart
}

func (s *Session) Degraded() bool {
	return s.degraded
}

func (s *Session) Identity() auth.Identity {
	return s.identity
}

// Adapter keeps the in-memory cart, the session store and the durable store
// in step. Guests live in the session store only. Accounts live in the durable
// store, falling back to the session store while durable writes fail.
type Adapter struct {
	durable        repository.CartRepository
	local          cache.SessionStore
	reporter       Reporter
	log            *slog.Logger
	sfg            singleflight.Group
	durableTimeout time.Duration
}

func NewAdapter(durable repository.CartRepository, local cache.SessionStore, reporter Reporter, log *slog.Logger, durableTimeout time.Duration) *Adapter {
	if durableTimeout <= 0 {
		durableTimeout = 2 * time.Second
	}
	return &Adapter{
		durable:        durable,
		local:          local,
		reporter:       reporter,
		log:            log,
		durableTimeout: durableTimeout,
	}
}

func (a *Adapter) LoadForSession(ctx context.Context, id auth.Identity) (*Session, error) {
	local, err := a.local.Get(ctx, id.SessionID)
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		if !id.Authenticated() {
			return nil, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
		}
		a.log.WarnContext(ctx, "session cart read failed", "session_id", id.SessionID, "error", err)
	}

	if !id.Authenticated() {
		if local == nil || local.Cart == nil || local.AccountID != "" {
			return &Session{identity: id, cart: domain.NewCart(id.SessionID)}, nil
		}
		return &Session{identity: id, cart: local.Cart}, nil
	}

	if local != nil && local.Cart != nil && local.Degraded && local.AccountID == id.AccountID {
		return &Session{identity: id, cart: local.Cart, degraded: true, partial: local.Partial}, nil
	}

	durable, err := a.loadDurable(ctx, id.AccountID)
	if err != nil {
		sess := &Session{identity: id, cart: domain.NewCart(id.AccountID), partial: true}
		if guest := guestCart(local); guest != nil {
			sess.cart = domain.Merge(guest, sess.cart)
		}
		a.degrade(ctx, sess, "load", err)
		if saveErr := a.saveLocal(ctx, sess); saveErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCartUnavailable, errors.Join(err, saveErr))
		}
		return sess, nil
	}

	sess := &Session{identity: id, cart: durable}

	if local != nil && local.AccountID == id.AccountID {
		// Leftover copy of an already synced cart.
		a.dropLocal(ctx, id.SessionID)
		return sess, nil
	}

	guest := guestCart(local)
	if guest == nil {
		return sess, nil
	}

	sess.cart = domain.Merge(guest, durable)
	if err := a.replaceDurable(ctx, sess.cart); err != nil {
		a.degrade(ctx, sess, "merge", err)
		if saveErr := a.saveLocal(ctx, sess); saveErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCartUnavailable, errors.Join(err, saveErr))
		}
		return sess, nil
	}
	a.log.InfoContext(ctx, "guest cart merged into account cart",
		"user_id", id.AccountID, "session_id", id.SessionID, "lines", len(sess.cart.Items))
	a.dropLocal(ctx, id.SessionID)
	return sess, nil
}

func guestCart(state *cache.SessionState) *domain.Cart {
	if state == nil || state.Cart == nil || state.AccountID != "" || state.Cart.IsEmpty() {
		return nil
	}
	return state.Cart
}

func (a *Adapter) loadDurable(ctx context.Context, accountID string) (*domain.Cart, error) {
	v, err, _ := a.sfg.Do(accountID, func() (interface{}, error) {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.durableTimeout)
		defer cancel()

		cart, err := a.durable.GetCart(dctx, accountID)
		if errors.Is(err, repository.ErrCartNotFound) {
			return domain.NewCart(accountID), nil
		}
		if err != nil {
			return nil, err
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	// singleflight hands the same pointer to every waiter.
	return v.(*domain.Cart).Clone(), nil
}

func (a *Adapter) AddLine(ctx context.Context, s *Session, productID string, quantity int, variant domain.Variant, unitPriceCents int64) (domain.CartLine, error) {
	line, err := s.cart.AddLine(productID, quantity, variant, unitPriceCents)
	if err != nil {
		return domain.CartLine{}, err
	}
	err = a.persist(ctx, s, "upsert_line", func(ctx context.Context) error {
		return a.durable.UpsertLine(ctx, s.cart.UserID, line)
	})
	return line, err
}

func (a *Adapter) SetQuantity(ctx context.Context, s *Session, key domain.LineKey, quantity int) error {
	if !s.cart.SetQuantity(key, quantity) {
		if quantity <= 0 {
			return nil
		}
		return ErrLineNotFound
	}
	if quantity <= 0 {
		return a.persist(ctx, s, "remove_line", func(ctx context.Context) error {
			return ignoreNotFound(a.durable.RemoveLine(ctx, s.cart.UserID, key))
		})
	}
	line, _ := s.cart.Line(key)
	return a.persist(ctx, s, "upsert_line", func(ctx context.Context) error {
		return a.durable.UpsertLine(ctx, s.cart.UserID, line)
	})
}

func (a *Adapter) RemoveLine(ctx context.Context, s *Session, key domain.LineKey) error {
	if !s.cart.RemoveLine(key) {
		return nil
	}
	return a.persist(ctx, s, "remove_line", func(ctx context.Context) error {
		return ignoreNotFound(a.durable.RemoveLine(ctx, s.cart.UserID, key))
	})
}

func (a *Adapter) Clear(ctx context.Context, s *Session) error {
	s.cart.Clear()
	return a.persist(ctx, s, "clear", func(ctx context.Context) error {
		return ignoreNotFound(a.durable.DeleteCart(ctx, s.cart.UserID))
	})
}

// ClearAfterOrder drops both copies of an account's cart once its order is placed.
func (a *Adapter) ClearAfterOrder(ctx context.Context, accountID, sessionID string) error {
	var errs []error
	if accountID != "" {
		if err := ignoreNotFound(a.durable.DeleteCart(ctx, accountID)); err != nil {
			errs = append(errs, err)
		}
	}
	if sessionID != "" {
		if err := a.local.Delete(ctx, sessionID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// persist mirrors the in-memory change. Durable failures are absorbed by
// switching the session to local-only mode.
func (a *Adapter) persist(ctx context.Context, s *Session, op string, mirror func(context.Context) error) error {
	if !s.identity.Authenticated() {
		if err := a.saveLocal(ctx, s); err != nil {
			return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
		}
		return nil
	}

	var err error
	if s.degraded {
		err = a.resync(ctx, s)
		if err == nil {
			s.degraded = false
			s.partial = false
			a.reporter.Resynced(ctx, s.identity.AccountID)
			a.dropLocal(ctx, s.identity.SessionID)
			return nil
		}
	} else {
		dctx, cancel := context.WithTimeout(ctx, a.durableTimeout)
		err = mirror(dctx)
		cancel()
		if err == nil {
			return nil
		}
	}

	a.degrade(ctx, s, op, err)
	if saveErr := a.saveLocal(ctx, s); saveErr != nil {
		return fmt.Errorf("%w: %v", ErrCartUnavailable, errors.Join(err, saveErr))
	}
	return nil
}

func (a *Adapter) resync(ctx context.Context, s *Session) error {
	if !s.partial {
		return a.replaceDurable(ctx, s.cart)
	}
	dctx, cancel := context.WithTimeout(ctx, a.durableTimeout)
	durable, err := a.durable.GetCart(dctx, s.identity.AccountID)
	cancel()
	switch {
	case errors.Is(err, repository.ErrCartNotFound):
		durable = domain.NewCart(s.identity.AccountID)
	case err != nil:
		return err
	}
	merged := domain.Merge(s.cart, durable)
	if err := a.replaceDurable(ctx, merged); err != nil {
		return err
	}
	s.cart = merged
	return nil
}

func (a *Adapter) replaceDurable(ctx context.Context, cart *domain.Cart) error {
	dctx, cancel := context.WithTimeout(ctx, a.durableTimeout)
	defer cancel()
	return a.durable.ReplaceCart(dctx, cart)
}

func (a *Adapter) degrade(ctx context.Context, s *Session, op string, err error) {
	s.degraded = true
	a.reporter.DurableWriteFailed(ctx, s.identity.AccountID, op, err)
}

func (a *Adapter) saveLocal(ctx context.Context, s *Session) error {
	state := &cache.SessionState{Cart: s.cart, Degraded: s.degraded, Partial: s.partial}
	if s.identity.Authenticated() {
		state.AccountID = s.identity.AccountID
	}
	return a.local.Set(ctx, s.identity.SessionID, state)
}

func (a *Adapter) dropLocal(ctx context.Context, sessionID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := a.local.Delete(ctx, sessionID); err != nil {
		a.log.WarnContext(ctx, "session cart delete failed", "session_id", sessionID, "error", err)
	}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, repository.ErrCartNotFound) {
		return nil
	}
	return err
}
