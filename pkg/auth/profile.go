package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const (
	TierFree    = "free"
	TierPremium = "premium"
)

type Profile struct {
	Tier string
	Role string
}

// ProfileLookup fetches membership tier and role for an account.
type ProfileLookup interface {
	LookupProfile(ctx context.Context, accountID string) (Profile, error)
}

type profileKey struct{}

func ProfileFromContext(ctx context.Context) Profile {
	if p, ok := ctx.Value(profileKey{}).(Profile); ok {
		return p
	}
	return Profile{Tier: TierFree, Role: RoleMember}
}

// Enricher attaches the caller's membership profile. Lookups are bounded by
// timeout and any failure degrades to the free tier and member role.
type Enricher struct {
	lookup  ProfileLookup
	timeout time.Duration
	log     *slog.Logger
}

func NewEnricher(lookup ProfileLookup, timeout time.Duration, log *slog.Logger) *Enricher {
	if timeout <= 0 {
		timeout = 300 * time.Millisecond
	}
	return &Enricher{lookup: lookup, timeout: timeout, log: log}
}

func (e *Enricher) Resolve(ctx context.Context, accountID string) Profile {
	fallback := Profile{Tier: TierFree, Role: RoleMember}
	if accountID == "" {
		return fallback
	}

	lookupCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	p, err := e.lookup.LookupProfile(lookupCtx, accountID)
	if err != nil {
		e.log.WarnContext(ctx, "profile lookup degraded", "user_id", accountID, "error", err)
		return fallback
	}
	if p.Tier == "" {
		p.Tier = TierFree
	}
	if p.Role == "" {
		p.Role = RoleMember
	}
	return p
}

// Middleware must run after Verifier.Middleware. The role from the profile
// store overrides the token role.
func (e *Enricher) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok || !id.Authenticated() {
			next.ServeHTTP(w, r)
			return
		}
		p := e.Resolve(r.Context(), id.AccountID)
		id.Role = p.Role
		ctx := WithIdentity(r.Context(), id)
		ctx = context.WithValue(ctx, profileKey{}, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
