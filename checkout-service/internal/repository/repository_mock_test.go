package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	d "github.com/courtside/storefront/checkout-service/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepositoryFromDB(db), mock
}

func TestCreateIntent_DuplicateIdempotencyKey(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO checkout_intents")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "idx_checkout_intents_idempotency_key"})

	err := repo.CreateIntent(context.Background(), &d.CheckoutIntent{
		CorrelationID:  "pi_1",
		IdempotencyKey: "key-1",
		Amount:         decimal.RequireFromString("10.00"),
		Currency:       "usd",
		Status:         d.IntentStatusOpen,
	})
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateIntent_DuplicateCorrelation(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO checkout_intents")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "checkout_intents_pkey"})

	err := repo.CreateIntent(context.Background(), &d.CheckoutIntent{CorrelationID: "pi_1", Status: d.IntentStatusOpen})
	assert.ErrorIs(t, err, ErrDuplicateCorrelation)
}

func TestGetIntent_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM checkout_intents WHERE correlation_id = $1")).
		WithArgs("pi_missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetIntent(context.Background(), "pi_missing")
	assert.ErrorIs(t, err, ErrIntentNotFound)
}

func TestInsertPendingOrder_DuplicateCorrelationRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "idx_orders_correlation_id"})
	mock.ExpectRollback()

	order := &d.Order{ID: uuid.New(), CorrelationID: "pi_1", Status: d.OrderStatusPending}
	err := repo.InsertPendingOrder(context.Background(), order)
	assert.ErrorIs(t, err, ErrDuplicateCorrelation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteOrder_AlreadyTerminalWritesNoEvent(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET status = 'completed'")).
		WithArgs("pi_1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	changed, err := repo.CompleteOrder(context.Background(), "pi_1", "order.materialized", []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteOrder_WritesOutboxInSameTransaction(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET status = 'completed'")).
		WithArgs("pi_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_events")).
		WithArgs(sqlmock.AnyArg(), "pi_1", "order.materialized", []byte(`{"order_id":"x"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	changed, err := repo.CompleteOrder(context.Background(), "pi_1", "order.materialized", []byte(`{"order_id":"x"}`))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteOrder_OutboxFailureRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET status = 'completed'")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_events")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	changed, err := repo.CompleteOrder(context.Background(), "pi_1", "order.materialized", []byte(`{}`))
	assert.Error(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMembershipByCustomerID_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM memberships WHERE provider_customer_id = $1")).
		WithArgs("cus_404").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetMembershipByCustomerID(context.Background(), "cus_404")
	assert.ErrorIs(t, err, ErrMembershipNotFound)
}

func TestResolveAccountByEmail_RequiresEmail(t *testing.T) {
	repo, _ := newMockRepo(t)

	_, err := repo.ResolveAccountByEmail(context.Background(), "   ")
	assert.Error(t, err)
}
