package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	d "github.com/courtside/storefront/checkout-service/domain"
	"github.com/courtside/storefront/checkout-service/internal/catalog"
	r "github.com/courtside/storefront/checkout-service/internal/repository"
	"github.com/courtside/storefront/pkg/payment"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newOutcomes() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_materialize_total",
	}, []string{"trigger", "outcome"})
}

type outboxRow struct {
	correlationID string
	eventType     string
	payload       []byte
}

// memStore mimics the Postgres constraints the materializer relies on.
type memStore struct {
	m           sync.RWMutex
	intents     map[string]*d.CheckoutIntent
	orders      map[string]*d.Order
	accounts    map[string]string
	memberships map[string]*d.Membership
	outbox      []outboxRow
	insertErr   error
	completeErr error
}

func newMemStore() *memStore {
	return &memStore{
		intents:     map[string]*d.CheckoutIntent{},
		orders:      map[string]*d.Order{},
		accounts:    map[string]string{},
		memberships: map[string]*d.Membership{},
	}
}

func (s *memStore) CreateIntent(_ context.Context, intent *d.CheckoutIntent) error {
	s.m.Lock()
	defer s.m.Unlock()
	if _, ok := s.intents[intent.CorrelationID]; ok {
		return r.ErrDuplicateCorrelation
	}
	if intent.IdempotencyKey != "" {
		for _, existing := range s.intents {
			if existing.IdempotencyKey == intent.IdempotencyKey {
				return r.ErrDuplicateIdempotencyKey
			}
		}
	}
	intent.CreatedAt = time.Now()
	intent.UpdatedAt = intent.CreatedAt
	cp := *intent
	s.intents[intent.CorrelationID] = &cp
	return nil
}

func (s *memStore) GetIntent(_ context.Context, correlationID string) (*d.CheckoutIntent, error) {
	s.m.RLock()
	defer s.m.RUnlock()
	intent, ok := s.intents[correlationID]
	if !ok {
		return nil, r.ErrIntentNotFound
	}
	cp := *intent
	return &cp, nil
}

func (s *memStore) GetIntentByIdempotencyKey(_ context.Context, key string) (*d.CheckoutIntent, error) {
	s.m.RLock()
	defer s.m.RUnlock()
	for _, intent := range s.intents {
		if intent.IdempotencyKey == key {
			cp := *intent
			return &cp, nil
		}
	}
	return nil, r.ErrIdempotencyKeyNotFound
}

func (s *memStore) UpdateIntentStatus(_ context.Context, correlationID string, status d.IntentStatus) error {
	s.m.Lock()
	defer s.m.Unlock()
	intent, ok := s.intents[correlationID]
	if !ok {
		return r.ErrIntentNotFound
	}
	if intent.Status != d.IntentStatusCompleted {
		intent.Status = status
	}
	return nil
}

func (s *memStore) intentStatus(correlationID string) d.IntentStatus {
	s.m.RLock()
	defer s.m.RUnlock()
	return s.intents[correlationID].Status
}

func (s *memStore) GetOrderByCorrelationID(_ context.Context, correlationID string) (*d.Order, error) {
	s.m.RLock()
	defer s.m.RUnlock()
	o, ok := s.orders[correlationID]
	if !ok {
		return nil, r.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *memStore) InsertPendingOrder(_ context.Context, order *d.Order) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	if _, ok := s.orders[order.CorrelationID]; ok {
		return r.ErrDuplicateCorrelation
	}
	cp := *order
	s.orders[order.CorrelationID] = &cp
	return nil
}

func (s *memStore) CompleteOrder(_ context.Context, correlationID, eventType string, payload []byte) (bool, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.completeErr != nil {
		return false, s.completeErr
	}
	o, ok := s.orders[correlationID]
	if !ok || o.Status != d.OrderStatusPending {
		return false, nil
	}
	o.Status = d.OrderStatusCompleted
	s.outbox = append(s.outbox, outboxRow{correlationID: correlationID, eventType: eventType, payload: payload})
	return true, nil
}

func (s *memStore) ListStuckPendingOrders(_ context.Context, _ time.Duration, _ int) ([]*d.Order, error) {
	s.m.RLock()
	defer s.m.RUnlock()
	var out []*d.Order
	for _, o := range s.orders {
		if o.Status == d.OrderStatusPending {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) outboxRows() []outboxRow {
	s.m.RLock()
	defer s.m.RUnlock()
	return append([]outboxRow(nil), s.outbox...)
}

func (s *memStore) orderCount() int {
	s.m.RLock()
	defer s.m.RUnlock()
	return len(s.orders)
}

func (s *memStore) ResolveAccountByEmail(_ context.Context, email string) (string, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if id, ok := s.accounts[email]; ok {
		return id, nil
	}
	id := uuid.NewString()
	s.accounts[email] = id
	return id, nil
}

func (s *memStore) GetMembershipByCustomerID(_ context.Context, customerID string) (*d.Membership, error) {
	s.m.RLock()
	defer s.m.RUnlock()
	for _, m := range s.memberships {
		if m.ProviderCustomerID == customerID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, r.ErrMembershipNotFound
}

func (s *memStore) GetMembershipByEmail(_ context.Context, email string) (*d.Membership, error) {
	s.m.RLock()
	defer s.m.RUnlock()
	for _, m := range s.memberships {
		if m.Email == email {
			cp := *m
			return &cp, nil
		}
	}
	return nil, r.ErrMembershipNotFound
}

func (s *memStore) GetMembershipByAccount(_ context.Context, accountID string) (*d.Membership, error) {
	s.m.RLock()
	defer s.m.RUnlock()
	m, ok := s.memberships[accountID]
	if !ok {
		return nil, r.ErrMembershipNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) UpsertMembership(_ context.Context, m *d.Membership) error {
	s.m.Lock()
	defer s.m.Unlock()
	if m.Role == "" {
		m.Role = d.RoleMember
	}
	m.UpdatedAt = time.Now()
	cp := *m
	s.memberships[m.AccountID] = &cp
	return nil
}

type mockProvider struct {
	m            sync.Mutex
	intents      map[string]*payment.Intent
	createErr    error
	retrieveErr  error
	createCalls  int
	retrieveHits int
	lastCreate   payment.CreateIntentRequest
}

func newMockProvider() *mockProvider {
	return &mockProvider{intents: map[string]*payment.Intent{}}
}

func (p *mockProvider) CreateIntent(_ context.Context, req payment.CreateIntentRequest) (*payment.Intent, error) {
	p.m.Lock()
	defer p.m.Unlock()
	p.createCalls++
	p.lastCreate = req
	if p.createErr != nil {
		return nil, p.createErr
	}
	id := "pi_" + uuid.NewString()
	pi := &payment.Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		AmountMinor:  req.AmountMinor,
		Currency:     req.Currency,
		Status:       payment.StatusRequiresPaymentMethod,
		Metadata:     req.Metadata,
	}
	p.intents[id] = pi
	return pi, nil
}

func (p *mockProvider) RetrieveIntent(_ context.Context, id string) (*payment.Intent, error) {
	p.m.Lock()
	defer p.m.Unlock()
	p.retrieveHits++
	if p.retrieveErr != nil {
		return nil, p.retrieveErr
	}
	pi, ok := p.intents[id]
	if !ok {
		return nil, payment.ErrIntentNotFound
	}
	cp := *pi
	return &cp, nil
}

func (p *mockProvider) VerifyWebhook([]byte, string) (*payment.Event, error) {
	return nil, payment.ErrSignatureInvalid
}

func (p *mockProvider) setStatus(id string, status payment.Status) {
	p.m.Lock()
	defer p.m.Unlock()
	p.intents[id].Status = status
}

func (p *mockProvider) seed(pi *payment.Intent) {
	p.m.Lock()
	defer p.m.Unlock()
	p.intents[pi.ID] = pi
}

type mockCatalog struct {
	products map[string]*catalog.Product
	err      error
	lastIDs  []string
}

func (c *mockCatalog) GetProducts(_ context.Context, ids []string) (map[string]*catalog.Product, error) {
	c.lastIDs = ids
	if c.err != nil {
		return nil, c.err
	}
	out := map[string]*catalog.Product{}
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
