package auth

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Decoder verifies compact signed tokens against a shared secret and
// extracts identity claims. It holds only key material; it never caches
// decoded claims and never touches the network.
type Decoder struct {
	key jwk.Key
}

// NewDecoder creates a decoder for HS256-signed tokens.
func NewDecoder(secret []byte) (*Decoder, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("signing secret is required")
	}

	key, err := jwk.FromRaw(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to build signing key: %w", err)
	}

	return &Decoder{key: key}, nil
}

// Decode verifies the token's signature and expiry against now and extracts
// claims. It fails with:
//   - ErrMissingCredential when raw is empty
//   - ErrInvalidSignature when the token is garbled or the signature does
//     not verify
//   - ErrExpired when now >= the token's expiry
//   - ErrMalformedClaims when required claims are absent or outside their
//     closed sets
func (d *Decoder) Decode(raw string, now time.Time) (*Claims, error) {
	if raw == "" {
		return nil, ErrMissingCredential
	}

	// Signature verification only; temporal validation is done explicitly
	// against the caller-supplied clock.
	token, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, d.key),
		jwt.WithValidate(false),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	exp := token.Expiration()
	if exp.IsZero() {
		return nil, fmt.Errorf("%w: exp claim is required", ErrMalformedClaims)
	}
	if !now.Before(exp) {
		return nil, ErrExpired
	}

	claims := &Claims{
		Subject:   token.Subject(),
		IssuedAt:  token.IssuedAt(),
		ExpiresAt: exp,
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub claim is required", ErrMalformedClaims)
	}

	tenantID, ok := stringClaim(token, "tenant_id")
	if !ok || tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id claim is required", ErrMalformedClaims)
	}
	claims.TenantID = tenantID

	rawRole, ok := stringClaim(token, "role")
	if !ok {
		return nil, fmt.Errorf("%w: role claim is required", ErrMalformedClaims)
	}
	role, ok := ParseRole(rawRole)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrMalformedClaims, rawRole)
	}
	claims.Role = role

	rawTier, ok := stringClaim(token, "tier")
	if !ok {
		return nil, fmt.Errorf("%w: tier claim is required", ErrMalformedClaims)
	}
	tier, ok := ParseTier(rawTier)
	if !ok {
		return nil, fmt.Errorf("%w: unknown tier %q", ErrMalformedClaims, rawTier)
	}
	claims.Tier = tier

	// The override capability must be a structural boolean claim. Any other
	// shape is ignored rather than coerced.
	if v, ok := token.Get("sovereign_override"); ok {
		if b, ok := v.(bool); ok {
			claims.SovereignOverride = b
		}
	}

	return claims, nil
}

func stringClaim(token jwt.Token, name string) (string, bool) {
	v, ok := token.Get(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
