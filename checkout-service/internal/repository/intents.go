package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	d "github.com/courtside/storefront/checkout-service/domain"
)

type IntentRepository interface {
	CreateIntent(ctx context.Context, intent *d.CheckoutIntent) error
	GetIntent(ctx context.Context, correlationID string) (*d.CheckoutIntent, error)
	GetIntentByIdempotencyKey(ctx context.Context, key string) (*d.CheckoutIntent, error)
	UpdateIntentStatus(ctx context.Context, correlationID string, status d.IntentStatus) error
}

const intentColumns = `correlation_id, COALESCE(idempotency_key, ''), COALESCE(account_id, ''), COALESCE(session_id, ''),
	lines, buyer, amount, currency, free, client_secret, status, created_at, updated_at`

func (r *Repository) CreateIntent(ctx context.Context, intent *d.CheckoutIntent) error {
	lines, err := json.Marshal(intent.Lines)
	if err != nil {
		return fmt.Errorf("marshal intent lines: %w", err)
	}
	buyer, err := json.Marshal(intent.Buyer)
	if err != nil {
		return fmt.Errorf("marshal buyer: %w", err)
	}

	query := `INSERT INTO checkout_intents
		(correlation_id, idempotency_key, account_id, session_id, lines, buyer, amount, currency, free, client_secret, status)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	err = r.db.QueryRowContext(ctx, query,
		intent.CorrelationID,
		intent.IdempotencyKey,
		intent.AccountID,
		intent.SessionID,
		lines,
		buyer,
		intent.Amount,
		intent.Currency,
		intent.Free,
		intent.ClientSecret,
		intent.Status,
	).Scan(&intent.CreatedAt, &intent.UpdatedAt)
	if err != nil {
		if pqErr, ok := uniqueViolation(err); ok {
			if pqErr.Constraint == "idx_checkout_intents_idempotency_key" {
				return ErrDuplicateIdempotencyKey
			}
			return ErrDuplicateCorrelation
		}
		return fmt.Errorf("insert checkout intent: %w", err)
	}
	return nil
}

func (r *Repository) GetIntent(ctx context.Context, correlationID string) (*d.CheckoutIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM checkout_intents WHERE correlation_id = $1`
	intent, err := scanIntent(r.db.QueryRowContext(ctx, query, correlationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query checkout intent: %w", err)
	}
	return intent, nil
}

func (r *Repository) GetIntentByIdempotencyKey(ctx context.Context, key string) (*d.CheckoutIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM checkout_intents WHERE idempotency_key = $1`
	intent, err := scanIntent(r.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query checkout intent by idempotency key: %w", err)
	}
	return intent, nil
}

// UpdateIntentStatus never moves an intent out of completed.
func (r *Repository) UpdateIntentStatus(ctx context.Context, correlationID string, status d.IntentStatus) error {
	query := `UPDATE checkout_intents SET status = $2, updated_at = NOW()
		WHERE correlation_id = $1 AND status <> 'completed'`
	res, err := r.db.ExecContext(ctx, query, correlationID, status)
	if err != nil {
		return fmt.Errorf("update checkout intent status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM checkout_intents WHERE correlation_id = $1)`, correlationID).Scan(&exists); err != nil {
			return fmt.Errorf("check checkout intent: %w", err)
		}
		if !exists {
			return ErrIntentNotFound
		}
	}
	return nil
}

func scanIntent(row scanner) (*d.CheckoutIntent, error) {
	var (
		intent d.CheckoutIntent
		lines  []byte
		buyer  []byte
	)
	err := row.Scan(
		&intent.CorrelationID,
		&intent.IdempotencyKey,
		&intent.AccountID,
		&intent.SessionID,
		&lines,
		&buyer,
		&intent.Amount,
		&intent.Currency,
		&intent.Free,
		&intent.ClientSecret,
		&intent.Status,
		&intent.CreatedAt,
		&intent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(lines, &intent.Lines); err != nil {
		return nil, fmt.Errorf("unmarshal intent lines: %w", err)
	}
	if err := json.Unmarshal(buyer, &intent.Buyer); err != nil {
		return nil, fmt.Errorf("unmarshal buyer: %w", err)
	}
	return &intent, nil
}
