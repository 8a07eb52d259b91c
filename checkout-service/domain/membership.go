package domain

import "time"

const (
	TierFree    = "free"
	TierPremium = "premium"

	RoleMember = "member"
	RoleAdmin  = "admin"
)

type Membership struct {
	AccountID          string
	Email              string
	ProviderCustomerID string
	Tier               string
	Role               string
	ExpiresAt          *time.Time
	UpdatedAt          time.Time
}

// EffectiveTier downgrades an expired premium membership.
func (m *Membership) EffectiveTier(now time.Time) string {
	if m.Tier != TierPremium {
		return TierFree
	}
	if m.ExpiresAt != nil && m.ExpiresAt.Before(now) {
		return TierFree
	}
	return TierPremium
}
