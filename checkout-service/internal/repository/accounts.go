package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	d "github.com/courtside/storefront/checkout-service/domain"
	"github.com/google/uuid"
)

type AccountRepository interface {
	ResolveAccountByEmail(ctx context.Context, email string) (string, error)
	GetMembershipByCustomerID(ctx context.Context, customerID string) (*d.Membership, error)
	GetMembershipByEmail(ctx context.Context, email string) (*d.Membership, error)
	GetMembershipByAccount(ctx context.Context, accountID string) (*d.Membership, error)
	UpsertMembership(ctx context.Context, m *d.Membership) error
}

// ResolveAccountByEmail returns the account owning email, creating one if needed.
// Concurrent callers for the same email get the same id.
func (r *Repository) ResolveAccountByEmail(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", errors.New("email is required to resolve an account")
	}

	query := `INSERT INTO accounts (id, email) VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id`

	var id string
	if err := r.db.QueryRowContext(ctx, query, uuid.NewString(), email).Scan(&id); err != nil {
		return "", fmt.Errorf("resolve account: %w", err)
	}
	return id, nil
}

const membershipColumns = `account_id, email, COALESCE(provider_customer_id, ''), tier, role, expires_at, updated_at`

func (r *Repository) GetMembershipByCustomerID(ctx context.Context, customerID string) (*d.Membership, error) {
	return r.getMembership(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE provider_customer_id = $1`, customerID)
}

func (r *Repository) GetMembershipByEmail(ctx context.Context, email string) (*d.Membership, error) {
	return r.getMembership(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE email = $1 ORDER BY updated_at DESC LIMIT 1`, normalizeEmail(email))
}

func (r *Repository) GetMembershipByAccount(ctx context.Context, accountID string) (*d.Membership, error) {
	return r.getMembership(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE account_id = $1`, accountID)
}

func (r *Repository) UpsertMembership(ctx context.Context, m *d.Membership) error {
	query := `INSERT INTO memberships (account_id, email, provider_customer_id, tier, role, expires_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
		ON CONFLICT (account_id) DO UPDATE SET
			email = EXCLUDED.email,
			provider_customer_id = COALESCE(EXCLUDED.provider_customer_id, memberships.provider_customer_id),
			tier = EXCLUDED.tier,
			role = EXCLUDED.role,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
		RETURNING updated_at`

	role := m.Role
	if role == "" {
		role = d.RoleMember
	}
	err := r.db.QueryRowContext(ctx, query,
		m.AccountID,
		normalizeEmail(m.Email),
		m.ProviderCustomerID,
		m.Tier,
		role,
		m.ExpiresAt,
	).Scan(&m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	m.Role = role
	return nil
}

func (r *Repository) getMembership(ctx context.Context, query string, arg string) (*d.Membership, error) {
	var (
		m         d.Membership
		expiresAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&m.AccountID,
		&m.Email,
		&m.ProviderCustomerID,
		&m.Tier,
		&m.Role,
		&expiresAt,
		&m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query membership: %w", err)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		m.ExpiresAt = &t
	}
	return &m, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
