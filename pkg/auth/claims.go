// Package auth provides credential verification for the admission gateway.
//
// The decoder is a pure function of (token, secret, clock): it performs no
// network or storage I/O, so an unreachable backing store can never block
// authentication.
package auth

import (
	"context"
	"time"
)

// Role is the caller's role within its tenant. Closed set.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleMember  Role = "member"
)

// ParseRole maps a raw claim value to a Role.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleOwner, RoleAdmin, RoleManager, RoleMember:
		return Role(s), true
	}
	return "", false
}

// Tier is the caller's service level. Closed set; determines throughput quota.
type Tier string

const (
	TierBasic        Tier = "basic"
	TierProfessional Tier = "professional"
	TierGrowth       Tier = "growth"
	TierElite        Tier = "elite"
)

// ParseTier maps a raw claim value to a Tier.
func ParseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case TierBasic, TierProfessional, TierGrowth, TierElite:
		return Tier(s), true
	}
	return "", false
}

// Claims is the decoded, trusted representation of a caller for the lifetime
// of one request. Claims are immutable once decoded and are never cached
// across requests.
type Claims struct {
	// Subject is the unique user identifier (sub claim).
	Subject string `json:"sub"`

	// TenantID scopes every authorization decision unless SovereignOverride
	// is set and an explicit override target is supplied.
	TenantID string `json:"tenant_id"`

	// Role is the user's role within the tenant.
	Role Role `json:"role"`

	// Tier determines the throughput quota applied to the caller.
	Tier Tier `json:"tier"`

	// SovereignOverride is an explicit, narrowly-scoped capability claim
	// permitting the caller to act on a tenant other than its own. It is
	// checked structurally, never inferred from email or any other
	// free-text identity field.
	SovereignOverride bool `json:"sovereign_override,omitempty"`

	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// HasRole checks if the caller has a specific role.
func (c *Claims) HasRole(role Role) bool {
	return c.Role == role
}

// HasAnyRole checks if the caller has any of the specified roles.
func (c *Claims) HasAnyRole(roles ...Role) bool {
	for _, role := range roles {
		if c.Role == role {
			return true
		}
	}
	return false
}

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const claimsContextKey contextKey = "gatewarden_claims"

// ClaimsFromContext extracts claims from a context.
// Returns nil if no claims are present.
func ClaimsFromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(claimsContextKey).(*Claims); ok {
		return claims
	}
	return nil
}

// ContextWithClaims returns a new context carrying the given claims.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
