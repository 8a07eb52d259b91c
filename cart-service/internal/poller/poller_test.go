package poller

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

	"github.com/alicebob/miniredis/v2"
	c "github.com/courtside/storefront/cart-service/internal/cache"
	"github.com/courtside/storefront/cart-service/internal/domain"
	r "github.com/courtside/storefront/cart-service/internal/repository"
	"github.com/courtside/storefront/cart-service/internal/service"
	"github.com/courtside/storefront/pkg/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "carts_cleared_total"}, []string{"outcome"})
}

type chanReader struct {
	msgs chan kafkaGo.Message

	m         sync.Mutex
	committed []kafkaGo.Message
}

func (c *chanReader) FetchMessage(ctx context.Context) (kafkaGo.Message, error) {
	select {
	case m := <-c.msgs:
		return m, nil
	case <-ctx.Done():
		return kafkaGo.Message{}, ctx.Err()
	}
}

func (c *chanReader) CommitMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	c.m.Lock()
	defer c.m.Unlock()
	c.committed = append(c.committed, msgs...)
	return nil
}

func (c *chanReader) commits() []kafkaGo.Message {
	c.m.Lock()
	defer c.m.Unlock()
	return append([]kafkaGo.Message(nil), c.committed...)
}

func (c *chanReader) Close() error { return nil }

type mockClearer struct {
	m     sync.Mutex
	calls [][2]string
	err   error
}

func (m *mockClearer) ClearAfterOrder(_ context.Context, accountID, sessionID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.calls = append(m.calls, [2]string{accountID, sessionID})
	return m.err
}

func (m *mockClearer) count() int {
	m.m.Lock()
	defer m.m.Unlock()
	return len(m.calls)
}

type flakyClearer struct {
	m        sync.Mutex
	failures int
}

func (f *flakyClearer) ClearAfterOrder(context.Context, string, string) error {
	f.m.Lock()
	defer f.m.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("mongo down")
	}
	return nil
}

func orderMessage(t *testing.T, evt events.OrderMaterialized, eventType string) kafkaGo.Message {
	payload, err := json.Marshal(evt)
	require.NoError(t, err)
	return kafkaGo.Message{
		Key:     []byte(evt.CorrelationID),
		Value:   payload,
		Headers: []kafkaGo.Header{{Key: events.HeaderEventType, Value: []byte(eventType)}},
	}
}

func TestPoller_ClearsOnOrderEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &chanReader{msgs: make(chan kafkaGo.Message, 4)}
	clearer := &mockClearer{}
	counter := newCounter()
	p := NewPoller(reader, clearer, discardLogger(), counter)

	reader.msgs <- orderMessage(t, events.OrderMaterialized{CorrelationID: "pi_1", AccountID: "acc-1", SessionID: "sess-1"}, events.TypeOrderMaterialized)
	reader.msgs <- orderMessage(t, events.OrderMaterialized{CorrelationID: "pi_2"}, "order.refunded")
	reader.msgs <- kafkaGo.Message{Value: []byte("{not json")}
	reader.msgs <- orderMessage(t, events.OrderMaterialized{CorrelationID: "pi_3"}, events.TypeOrderMaterialized)

	go p.Run(ctx)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(counter.WithLabelValues("skipped")) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, clearer.count())
	assert.Equal(t, [2]string{"acc-1", "sess-1"}, clearer.calls[0])
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("cleared")))
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("invalid")))
	assert.Eventually(t, func() bool { return len(reader.commits()) == 4 }, time.Second, 10*time.Millisecond)
}

func TestPoller_ClearFailureIsNotCommitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &chanReader{msgs: make(chan kafkaGo.Message, 1)}
	clearer := &mockClearer{err: errors.New("mongo down")}
	counter := newCounter()
	p := NewPoller(reader, clearer, discardLogger(), counter)
	p.backoff = 5 * time.Millisecond

	reader.msgs <- orderMessage(t, events.OrderMaterialized{CorrelationID: "pi_1", AccountID: "acc-1"}, events.TypeOrderMaterialized)
	go p.Run(ctx)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(counter.WithLabelValues("failed")) >= 2
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, reader.commits())
	assert.Equal(t, 0.0, testutil.ToFloat64(counter.WithLabelValues("cleared")))
}

func TestPoller_RetriesUntilCleared(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &chanReader{msgs: make(chan kafkaGo.Message, 1)}
	clearer := &flakyClearer{failures: 2}
	counter := newCounter()
	p := NewPoller(reader, clearer, discardLogger(), counter)
	p.backoff = 5 * time.Millisecond

	msg := orderMessage(t, events.OrderMaterialized{CorrelationID: "pi_1", AccountID: "acc-1"}, events.TypeOrderMaterialized)
	msg.Offset = 7
	reader.msgs <- msg
	go p.Run(ctx)

	require.Eventually(t, func() bool {
		return len(reader.commits()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(7), reader.commits()[0].Offset)
	assert.Equal(t, 2.0, testutil.ToFloat64(counter.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("cleared")))
}

func setupTestDB(t *testing.T) (r.CartRepository, func()) {
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := r.ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	cleanup := func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	return r.NewMongoRepository(db), cleanup
}

func setupKafka(t *testing.T) (string, func()) {
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

func TestPoller_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	sessions := c.NewRedisSessionStore(client, time.Hour)

	repo, cleanupDb := setupTestDB(t)
	defer cleanupDb()
	broker, cleanupKafka := setupKafka(t)
	defer cleanupKafka()
	createTopic(t, broker, events.TopicOrderEvents)

	require.NoError(t, repo.UpsertLine(ctx, "acc-1", domain.CartLine{ProductID: "ball", Quantity: 1, UnitPriceCents: 2999}))
	require.NoError(t, sessions.Set(ctx, "sess-1", &c.SessionState{Cart: domain.NewCart("acc-1"), AccountID: "acc-1", Degraded: true}))

	adapter := service.NewAdapter(repo, sessions, service.NewSyncReporter(discardLogger(), newCounter(), newCounter()), discardLogger(), time.Second)
	kc := events.NewClient(broker)
	p := NewPoller(kc.NewReader(events.TopicOrderEvents, "cart-service-test"), adapter, discardLogger(), newCounter())
	defer p.Close()

	w := kc.NewWriter(events.TopicOrderEvents)
	require.NoError(t, w.WriteMessages(ctx, orderMessage(t, events.OrderMaterialized{
		OrderID:       "ord-1",
		CorrelationID: "pi_1",
		AccountID:     "acc-1",
		SessionID:     "sess-1",
		TotalAmount:   decimal.RequireFromString("29.99"),
		Currency:      "usd",
	}, events.TypeOrderMaterialized)))
	require.NoError(t, w.Close())

	go p.Run(ctx)

	require.Eventually(t, func() bool {
		_, err := repo.GetCart(ctx, "acc-1")
		return errors.Is(err, r.ErrCartNotFound)
	}, 30*time.Second, 500*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := sessions.Get(ctx, "sess-1")
		return errors.Is(err, c.ErrCacheMiss)
	}, 15*time.Second, 500*time.Millisecond)
}
