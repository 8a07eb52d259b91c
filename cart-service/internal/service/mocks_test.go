package service

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/courtside/storefront/cart-service/internal/cache"
	"github.com/courtside/storefront/cart-service/internal/domain"
	"github.com/courtside/storefront/cart-service/internal/repository"
)

type mockRepository struct {
	m        sync.RWMutex
	carts    map[string]*domain.Cart
	err      error
	getErr   error
	calls    []string
	getCalls int
	release  chan struct{}
}

func newMockRepository() *mockRepository {
	return &mockRepository{carts: map[string]*domain.Cart{}}
}

func (m *mockRepository) record(op string) {
	m.calls = append(m.calls, op)
}

func (m *mockRepository) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	m.m.Lock()
	m.getCalls++
	release := m.release
	m.m.Unlock()
	if release != nil {
		<-release
	}

	m.m.RLock()
	defer m.m.RUnlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	c, ok := m.carts[userID]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	return c.Clone(), nil
}

func (m *mockRepository) ReplaceCart(_ context.Context, cart *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.record("replace")
	if m.err != nil {
		return m.err
	}
	m.carts[cart.UserID] = cart.Clone()
	return nil
}

func (m *mockRepository) UpsertLine(_ context.Context, userID string, line domain.CartLine) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.record("upsert")
	if m.err != nil {
		return m.err
	}
	c, ok := m.carts[userID]
	if !ok {
		c = domain.NewCart(userID)
		m.carts[userID] = c
	}
	if !c.SetQuantity(line.Key(), line.Quantity) {
		c.Items = append(c.Items, line)
	}
	return nil
}

func (m *mockRepository) RemoveLine(_ context.Context, userID string, key domain.LineKey) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.record("remove")
	if m.err != nil {
		return m.err
	}
	c, ok := m.carts[userID]
	if !ok {
		return repository.ErrCartNotFound
	}
	c.RemoveLine(key)
	return nil
}

func (m *mockRepository) DeleteCart(_ context.Context, userID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.record("delete")
	if m.err != nil {
		return m.err
	}
	if _, ok := m.carts[userID]; !ok {
		return repository.ErrCartNotFound
	}
	delete(m.carts, userID)
	return nil
}

func (m *mockRepository) setErr(err error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.err = err
}

func (m *mockRepository) cart(userID string) *domain.Cart {
	m.m.RLock()
	defer m.m.RUnlock()
	if c, ok := m.carts[userID]; ok {
		return c.Clone()
	}
	return nil
}

func (m *mockRepository) gets() int {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.getCalls
}

type mockSessionStore struct {
	m      sync.RWMutex
	states map[string]*cache.SessionState
	err    error
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{states: map[string]*cache.SessionState{}}
}

func (m *mockSessionStore) Get(_ context.Context, sessionID string) (*cache.SessionState, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.states[sessionID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	cp := *s
	cp.Cart = s.Cart.Clone()
	return &cp, nil
}

func (m *mockSessionStore) Set(_ context.Context, sessionID string, state *cache.SessionState) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *state
	cp.Cart = state.Cart.Clone()
	m.states[sessionID] = &cp
	return nil
}

func (m *mockSessionStore) Delete(_ context.Context, sessionID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.states, sessionID)
	return nil
}

func (m *mockSessionStore) state(sessionID string) *cache.SessionState {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.states[sessionID]
}

type mockReporter struct {
	m        sync.Mutex
	failures []string
	resyncs  int
}

func (r *mockReporter) DurableWriteFailed(_ context.Context, _ string, op string, _ error) {
	r.m.Lock()
	defer r.m.Unlock()
	r.failures = append(r.failures, op)
}

func (r *mockReporter) Resynced(context.Context, string) {
	r.m.Lock()
	defer r.m.Unlock()
	r.resyncs++
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
