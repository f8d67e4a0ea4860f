package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// tokenSpec describes a test token to be signed.
type tokenSpec struct {
	subject   string
	issuedAt  time.Time
	expiresAt time.Time
	claims    map[string]interface{}
}

func signTestToken(t testing.TB, secret []byte, spec tokenSpec) string {
	t.Helper()

	token := jwt.New()

	if spec.subject != "" {
		if err := token.Set(jwt.SubjectKey, spec.subject); err != nil {
			t.Fatalf("failed to set sub: %v", err)
		}
	}
	if !spec.issuedAt.IsZero() {
		if err := token.Set(jwt.IssuedAtKey, spec.issuedAt); err != nil {
			t.Fatalf("failed to set iat: %v", err)
		}
	}
	if !spec.expiresAt.IsZero() {
		if err := token.Set(jwt.ExpirationKey, spec.expiresAt); err != nil {
			t.Fatalf("failed to set exp: %v", err)
		}
	}

	for key, value := range spec.claims {
		if err := token.Set(key, value); err != nil {
			t.Fatalf("failed to set %s: %v", key, err)
		}
	}

	key, err := jwk.FromRaw(secret)
	if err != nil {
		t.Fatalf("failed to build signing key: %v", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, key))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	return string(signed)
}

// validTokenClaims returns the claim set of a well-formed access token.
func validTokenClaims() map[string]interface{} {
	return map[string]interface{}{
		"tenant_id": "tenant-a",
		"role":      "admin",
		"tier":      "professional",
	}
}
