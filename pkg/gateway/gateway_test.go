package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewarden/gatewarden/pkg/audit"
	"github.com/gatewarden/gatewarden/pkg/auth"
	"github.com/gatewarden/gatewarden/pkg/config"
	"github.com/gatewarden/gatewarden/pkg/limiter"
	"github.com/gatewarden/gatewarden/pkg/policy"
)

var (
	testSecret = []byte("gateway-test-signing-secret-0123456789")
	testClock  = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
)

func signToken(t *testing.T, subject string, claims map[string]any) string {
	t.Helper()

	token := jwt.New()
	require.NoError(t, token.Set(jwt.SubjectKey, subject))
	require.NoError(t, token.Set(jwt.IssuedAtKey, testClock.Add(-time.Minute)))
	if _, ok := claims["exp"]; !ok {
		require.NoError(t, token.Set(jwt.ExpirationKey, testClock.Add(time.Hour)))
	}
	for k, v := range claims {
		require.NoError(t, token.Set(k, v))
	}

	key, err := jwk.FromRaw(testSecret)
	require.NoError(t, err)
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, key))
	require.NoError(t, err)
	return string(signed)
}

func memberToken(t *testing.T, subject, tenant, tier string) string {
	return signToken(t, subject, map[string]any{
		"tenant_id": tenant,
		"role":      "member",
		"tier":      tier,
	})
}

// recordingSink captures audit events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Record(ctx context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) all() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...)
}

// failingLimiter simulates a store outage.
type failingLimiter struct{}

func (failingLimiter) TryAcquire(ctx context.Context, key string, quotas []limiter.Quota, now time.Time) (*limiter.Decision, error) {
	return nil, limiter.ErrStoreUnavailable
}

const gatewayTestConfig = `
auth:
  secret: gateway-test-signing-secret-0123456789
tiers:
  basic:
    window: 60s
    max_requests: 2
  growth:
    window: 60s
    max_requests: 100
  elite:
    window: 60s
    max_requests: 100
operations:
  - route: /api/leads
    allowed_tiers: [elite]
`

func newTestGateway(t *testing.T, lim limiter.Limiter, opts ...Option) (*Gateway, *recordingSink) {
	t.Helper()

	cfg, err := config.Load([]byte(gatewayTestConfig))
	require.NoError(t, err)

	decoder, err := auth.NewDecoder(testSecret)
	require.NoError(t, err)

	registry, err := policy.NewRegistry(cfg)
	require.NoError(t, err)

	sink := &recordingSink{}
	opts = append([]Option{
		WithAuditSink(sink),
		WithClock(func() time.Time { return testClock }),
	}, opts...)

	return New(decoder, registry, lim, opts...), sink
}

func TestGateway_Admit(t *testing.T) {
	g, _ := newTestGateway(t, limiter.NewMemoryLimiter())

	decision := g.Admit(context.Background(), Request{
		Credential: memberToken(t, "user-1", "tenant-a", "basic"),
		Operation:  "/api/reports",
	})

	assert.True(t, decision.Admitted)
	assert.False(t, decision.Degraded)
	assert.Equal(t, 200, decision.StatusCode())
	require.NotNil(t, decision.Claims)
	assert.Equal(t, "user-1", decision.Claims.Subject)
	assert.Equal(t, "tenant-a", decision.Claims.TenantID)
	require.NotNil(t, decision.Usage)
	assert.Equal(t, int64(1), decision.Usage.Remaining)
}

func TestGateway_Unauthenticated(t *testing.T) {
	g, _ := newTestGateway(t, limiter.NewMemoryLimiter())

	tests := []struct {
		name       string
		credential string
		reason     string
	}{
		{"missing", "", ReasonMissingCredential},
		{"garbled", "not.a.token", ReasonInvalidCredential},
		{"expired", signToken(t, "user-1", map[string]any{
			"tenant_id": "tenant-a",
			"role":      "member",
			"tier":      "basic",
			"exp":       testClock.Add(-time.Minute).Unix(),
		}), ReasonExpiredCredential},
		{"refresh token", signToken(t, "user-1", map[string]any{
			"type": "refresh",
		}), ReasonMalformedClaims},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := g.Admit(context.Background(), Request{
				Credential: tt.credential,
				Operation:  "/api/reports",
			})
			assert.False(t, decision.Admitted)
			assert.Equal(t, tt.reason, decision.Reason)
			assert.Equal(t, 401, decision.StatusCode())
			assert.Nil(t, decision.Claims)
		})
	}
}

func TestGateway_ForbiddenTier(t *testing.T) {
	g, _ := newTestGateway(t, limiter.NewMemoryLimiter())

	token := memberToken(t, "user-1", "tenant-a", "growth")
	decision := g.Admit(context.Background(), Request{
		Credential: token,
		Operation:  "/api/leads",
	})

	assert.False(t, decision.Admitted)
	assert.Equal(t, ReasonForbiddenTier, decision.Reason)
	assert.Equal(t, 403, decision.StatusCode())
	assert.Contains(t, decision.Message, "elite")

	// The gate rejects before the limiter runs: the growth quota of 100
	// must be untouched.
	next := g.Admit(context.Background(), Request{
		Credential: token,
		Operation:  "/api/reports",
	})
	require.True(t, next.Admitted)
	assert.Equal(t, int64(99), next.Usage.Remaining)
}

func TestGateway_RateLimited(t *testing.T) {
	g, _ := newTestGateway(t, limiter.NewMemoryLimiter())

	token := memberToken(t, "user-1", "tenant-a", "basic")
	req := Request{Credential: token, Operation: "/api/reports"}

	first := g.Admit(context.Background(), req)
	require.True(t, first.Admitted)
	second := g.Admit(context.Background(), req)
	require.True(t, second.Admitted)
	assert.Equal(t, int64(0), second.Usage.Remaining)

	third := g.Admit(context.Background(), req)
	assert.False(t, third.Admitted)
	assert.Equal(t, ReasonRateLimited, third.Reason)
	assert.Equal(t, 429, third.StatusCode())
	require.NotNil(t, third.Usage)
	assert.Equal(t, int64(0), third.Usage.Remaining)
	assert.Equal(t, testClock.Add(time.Minute), third.Usage.ResetAt)

	// A different subject has its own key.
	other := g.Admit(context.Background(), Request{
		Credential: memberToken(t, "user-2", "tenant-a", "basic"),
		Operation:  "/api/reports",
	})
	assert.True(t, other.Admitted)
}

func TestGateway_FailOpen(t *testing.T) {
	g, _ := newTestGateway(t, failingLimiter{})

	decision := g.Admit(context.Background(), Request{
		Credential: memberToken(t, "user-1", "tenant-a", "basic"),
		Operation:  "/api/reports",
	})

	assert.True(t, decision.Admitted)
	assert.True(t, decision.Degraded)
	assert.Empty(t, decision.Reason)
	assert.Nil(t, decision.Usage)
	require.NotNil(t, decision.Claims)
}

func TestGateway_SovereignOverride(t *testing.T) {
	g, sink := newTestGateway(t, limiter.NewMemoryLimiter())

	token := signToken(t, "user-1", map[string]any{
		"tenant_id":          "tenant-a",
		"role":               "owner",
		"tier":               "elite",
		"sovereign_override": true,
	})

	decision := g.Admit(context.Background(), Request{
		Credential:   token,
		Operation:    "/api/reports",
		TargetTenant: "tenant-b",
	})

	require.True(t, decision.Admitted)
	assert.Equal(t, "tenant-b", decision.Claims.TenantID)

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, "user-1", events[0].ActingSubject)
	assert.Equal(t, "tenant-a", events[0].ClaimedTenant)
	assert.Equal(t, "tenant-b", events[0].OverriddenTenant)
	assert.Equal(t, "/api/reports", events[0].Operation)
	assert.Equal(t, testClock, events[0].Timestamp)
}

func TestGateway_OverrideWithoutCapability(t *testing.T) {
	g, sink := newTestGateway(t, limiter.NewMemoryLimiter())

	decision := g.Admit(context.Background(), Request{
		Credential:   memberToken(t, "user-1", "tenant-a", "elite"),
		Operation:    "/api/reports",
		TargetTenant: "tenant-b",
	})

	assert.False(t, decision.Admitted)
	assert.Equal(t, ReasonForbiddenOverride, decision.Reason)
	assert.Equal(t, 403, decision.StatusCode())
	assert.Empty(t, sink.all())
}

func TestGateway_OverrideOwnTenantIsNotAudited(t *testing.T) {
	g, sink := newTestGateway(t, limiter.NewMemoryLimiter())

	decision := g.Admit(context.Background(), Request{
		Credential:   memberToken(t, "user-1", "tenant-a", "elite"),
		Operation:    "/api/reports",
		TargetTenant: "tenant-a",
	})

	assert.True(t, decision.Admitted)
	assert.Empty(t, sink.all())
}

func TestGateway_TenantScope(t *testing.T) {
	g, _ := newTestGateway(t, limiter.NewMemoryLimiter(),
		WithScope(config.ScopeTenant))

	// Two subjects in one tenant draw from the same budget of 2.
	reqA := Request{Credential: memberToken(t, "user-1", "tenant-a", "basic"), Operation: "/api/reports"}
	reqB := Request{Credential: memberToken(t, "user-2", "tenant-a", "basic"), Operation: "/api/reports"}

	require.True(t, g.Admit(context.Background(), reqA).Admitted)
	require.True(t, g.Admit(context.Background(), reqB).Admitted)

	third := g.Admit(context.Background(), reqA)
	assert.False(t, third.Admitted)
	assert.Equal(t, ReasonRateLimited, third.Reason)
}

func TestGateway_UnknownTierFallsBack(t *testing.T) {
	g, _ := newTestGateway(t, limiter.NewMemoryLimiter())

	// professional is not configured: it draws from the most restrictive
	// configured budget (basic, 2 per minute).
	token := memberToken(t, "user-1", "tenant-a", "professional")
	req := Request{Credential: token, Operation: "/api/reports"}

	require.True(t, g.Admit(context.Background(), req).Admitted)
	require.True(t, g.Admit(context.Background(), req).Admitted)
	assert.False(t, g.Admit(context.Background(), req).Admitted)
}
