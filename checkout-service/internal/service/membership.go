package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	d "github.com/courtside/storefront/checkout-service/domain"
	r "github.com/courtside/storefront/checkout-service/internal/repository"
	"github.com/courtside/storefront/pkg/auth"
	"github.com/courtside/storefront/pkg/payment"
)

type MembershipUpdater struct {
	repo r.AccountRepository
	log  *slog.Logger
	now  func() time.Time
}

func NewMembershipUpdater(repo r.AccountRepository, log *slog.Logger) *MembershipUpdater {
	return &MembershipUpdater{repo: repo, log: log, now: time.Now}
}

// Apply records a subscription change. The subscriber is matched by provider
// customer id first and by email second. An unmatched subscriber with an email
// gets an account created for it.
func (u *MembershipUpdater) Apply(ctx context.Context, sub payment.Subscription, deleted bool) (*d.Membership, error) {
	m, err := u.match(ctx, sub)
	if err != nil {
		return nil, err
	}

	if sub.CustomerID != "" {
		m.ProviderCustomerID = sub.CustomerID
	}
	if m.Email == "" {
		m.Email = sub.CustomerEmail
	}

	m.Tier = d.TierFree
	m.ExpiresAt = nil
	if !deleted && sub.Active() {
		m.Tier = d.TierPremium
		if !sub.CurrentPeriodEnd.IsZero() {
			end := sub.CurrentPeriodEnd.UTC()
			m.ExpiresAt = &end
		}
	}

	if err := u.repo.UpsertMembership(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to store membership: %w", err)
	}

	u.log.InfoContext(ctx, "membership updated",
		"user_id", m.AccountID, "tier", m.Tier, "subscription_id", sub.ID, "subscription_status", sub.Status)
	return m, nil
}

func (u *MembershipUpdater) match(ctx context.Context, sub payment.Subscription) (*d.Membership, error) {
	if sub.CustomerID != "" {
		m, err := u.repo.GetMembershipByCustomerID(ctx, sub.CustomerID)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, r.ErrMembershipNotFound) {
			return nil, fmt.Errorf("failed to look up membership by customer: %w", err)
		}
	}

	if sub.CustomerEmail == "" {
		return nil, fmt.Errorf("%w: customer %s", ErrSubscriberUnknown, sub.CustomerID)
	}

	m, err := u.repo.GetMembershipByEmail(ctx, sub.CustomerEmail)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, r.ErrMembershipNotFound) {
		return nil, fmt.Errorf("failed to look up membership by email: %w", err)
	}

	accountID, err := u.repo.ResolveAccountByEmail(ctx, sub.CustomerEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve subscriber account: %w", err)
	}
	return &d.Membership{AccountID: accountID, Email: sub.CustomerEmail, Role: d.RoleMember}, nil
}

// LookupProfile serves the request-time profile enrichment.
func (u *MembershipUpdater) LookupProfile(ctx context.Context, accountID string) (auth.Profile, error) {
	m, err := u.repo.GetMembershipByAccount(ctx, accountID)
	if errors.Is(err, r.ErrMembershipNotFound) {
		return auth.Profile{Tier: auth.TierFree, Role: auth.RoleMember}, nil
	}
	if err != nil {
		return auth.Profile{}, err
	}
	return auth.Profile{Tier: m.EffectiveTier(u.now()), Role: m.Role}, nil
}
