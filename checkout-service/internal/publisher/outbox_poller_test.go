package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	d "github.com/courtside/storefront/checkout-service/domain"
	r "github.com/courtside/storefront/checkout-service/internal/repository"
	"github.com/courtside/storefront/checkout-service/internal/service"
	"github.com/courtside/storefront/pkg/events"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
)

type MockRepository struct {
	m            sync.Mutex
	OutboxEvents []*r.OutboxEvent
	FetchErr     error
	Processed    []uuid.UUID
	StuckOrders  []*d.Order
	StuckErr     error
}

func (m *MockRepository) GetUnprocessedEvents(context.Context, int) ([]*r.OutboxEvent, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	var out []*r.OutboxEvent
	for _, e := range m.OutboxEvents {
		if !m.processed(e.ID) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockRepository) processed(id uuid.UUID) bool {
	for _, p := range m.Processed {
		if p == id {
			return true
		}
	}
	return false
}

func (m *MockRepository) MarkEventAsProcessed(_ context.Context, id uuid.UUID) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.Processed = append(m.Processed, id)
	return nil
}

func (m *MockRepository) ListStuckPendingOrders(context.Context, time.Duration, int) ([]*d.Order, error) {
	if m.StuckErr != nil {
		return nil, m.StuckErr
	}
	return m.StuckOrders, nil
}

func (m *MockRepository) processedIDs() []uuid.UUID {
	m.m.Lock()
	defer m.m.Unlock()
	return append([]uuid.UUID(nil), m.Processed...)
}

type MockWriter struct {
	m        sync.Mutex
	Messages []kafkaGo.Message
	FailKey  string
}

func (w *MockWriter) WriteMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	w.m.Lock()
	defer w.m.Unlock()
	for _, msg := range msgs {
		if w.FailKey != "" && string(msg.Key) == w.FailKey {
			return errors.New("leader not available")
		}
		w.Messages = append(w.Messages, msg)
	}
	return nil
}

func (w *MockWriter) Close() error { return nil }

type MockMaterializer struct {
	Calls []string
	Errs  map[string]error
}

func (m *MockMaterializer) Materialize(_ context.Context, correlationID string, trigger service.Trigger) (*d.Order, error) {
	m.Calls = append(m.Calls, correlationID+"/"+string(trigger))
	if err := m.Errs[correlationID]; err != nil {
		return nil, err
	}
	return &d.Order{CorrelationID: correlationID, Status: d.OrderStatusCompleted}, nil
}

func newPublished() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_outbox_published_total"}, []string{"result"})
}

func newPoller(repo *MockRepository, mat *MockMaterializer, w events.Writer) (*OutboxPoller, *prometheus.CounterVec) {
	published := newPublished()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewOutboxPoller(DefaultConfig(), repo, mat, w, published, log), published
}

func outboxEvent(correlationID string) *r.OutboxEvent {
	return &r.OutboxEvent{
		ID:          uuid.New(),
		AggregateID: correlationID,
		EventType:   events.TypeOrderMaterialized,
		Payload:     json.RawMessage(fmt.Sprintf(`{"correlation_id":%q,"account_id":"acct-1"}`, correlationID)),
		CreatedAt:   time.Now(),
	}
}

func TestProcessUnpublishedEvents_PublishesAndMarks(t *testing.T) {
	e1, e2 := outboxEvent("pi_1"), outboxEvent("pi_2")
	repo := &MockRepository{OutboxEvents: []*r.OutboxEvent{e1, e2}}
	w := &MockWriter{}
	p, published := newPoller(repo, &MockMaterializer{}, w)

	p.processUnpublishedEvents(context.Background())

	require.Len(t, w.Messages, 2)
	assert.Equal(t, "pi_1", string(w.Messages[0].Key))
	assert.Equal(t, events.TypeOrderMaterialized, events.EventType(w.Messages[0]))
	assert.Equal(t, []uuid.UUID{e1.ID, e2.ID}, repo.processedIDs())
	assert.Equal(t, float64(2), testutil.ToFloat64(published.WithLabelValues("published")))

	// nothing left to publish on the next tick
	p.processUnpublishedEvents(context.Background())
	assert.Len(t, w.Messages, 2)
}

func TestProcessUnpublishedEvents_StopsAtFirstFailure(t *testing.T) {
	e1, e2 := outboxEvent("pi_bad"), outboxEvent("pi_2")
	repo := &MockRepository{OutboxEvents: []*r.OutboxEvent{e1, e2}}
	w := &MockWriter{FailKey: "pi_bad"}
	p, published := newPoller(repo, &MockMaterializer{}, w)

	p.processUnpublishedEvents(context.Background())

	assert.Empty(t, w.Messages)
	assert.Empty(t, repo.processedIDs())
	assert.Equal(t, float64(1), testutil.ToFloat64(published.WithLabelValues("failed")))
}

func TestProcessUnpublishedEvents_FetchError(t *testing.T) {
	repo := &MockRepository{FetchErr: errors.New("database connection error")}
	w := &MockWriter{}
	p, _ := newPoller(repo, &MockMaterializer{}, w)

	p.processUnpublishedEvents(context.Background())
	assert.Empty(t, w.Messages)
}

func TestRecoverStuckOrders(t *testing.T) {
	repo := &MockRepository{StuckOrders: []*d.Order{
		{CorrelationID: "pi_stuck_1", Status: d.OrderStatusPending},
		{CorrelationID: "pi_stuck_2", Status: d.OrderStatusPending},
		{CorrelationID: "pi_stuck_3", Status: d.OrderStatusPending},
	}}
	mat := &MockMaterializer{Errs: map[string]error{
		"pi_stuck_2": service.ErrPaymentNotCompleted,
	}}
	p, _ := newPoller(repo, mat, &MockWriter{})

	p.recoverStuckOrders(context.Background())

	// one failure does not stop the sweep
	assert.Equal(t, []string{"pi_stuck_1/recovery", "pi_stuck_2/recovery", "pi_stuck_3/recovery"}, mat.Calls)
}

func TestRecoverStuckOrders_ListError(t *testing.T) {
	repo := &MockRepository{StuckErr: errors.New("database connection error")}
	mat := &MockMaterializer{}
	p, _ := newPoller(repo, mat, &MockWriter{})

	p.recoverStuckOrders(context.Background())
	assert.Empty(t, mat.Calls)
}

func setupKafka(t *testing.T) (string, func()) {
	if testing.Short() {
		t.Skip("skipping kafka integration test in short mode")
	}
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}

	return brokers[0], cleanup
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestOutboxPoller_PublishesEventsToKafka(t *testing.T) {
	brokerAddr, cleanup := setupKafka(t)
	defer cleanup()

	createTopic(t, brokerAddr, events.TopicOrderEvents)
	time.Sleep(5 * time.Second)

	evt := outboxEvent("pi_kafka")
	repo := &MockRepository{OutboxEvents: []*r.OutboxEvent{evt}}

	client := events.NewClient(brokerAddr)
	writer := client.NewWriter(events.TopicOrderEvents)
	writer.WriteTimeout = 10 * time.Second

	cfg := DefaultConfig()
	cfg.PublishTimeout = 10 * time.Second
	poller := NewOutboxPoller(cfg, repo, &MockMaterializer{}, writer, newPublished(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer poller.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	go poller.Run(ctx)

	reader := client.NewReader(events.TopicOrderEvents, "test-consumer")
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pi_kafka", string(msg.Key))

	decoded, ok, err := events.DecodeOrderMaterialized(msg)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pi_kafka", decoded.CorrelationID)
	assert.Equal(t, "acct-1", decoded.AccountID)

	require.Eventually(t, func() bool {
		return len(repo.processedIDs()) == 1
	}, 5*time.Second, 100*time.Millisecond)
}
