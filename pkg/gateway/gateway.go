// Package gateway decides, for each inbound request, who the caller is and
// whether the call may proceed under its tier's quota. The flow is
// decode -> tier gate -> quota, with fail-open admission when the quota
// store is unreachable.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gatewarden/gatewarden/pkg/audit"
	"github.com/gatewarden/gatewarden/pkg/auth"
	"github.com/gatewarden/gatewarden/pkg/config"
	"github.com/gatewarden/gatewarden/pkg/limiter"
	"github.com/gatewarden/gatewarden/pkg/observability"
	"github.com/gatewarden/gatewarden/pkg/policy"
)

// Request is one admission check input.
type Request struct {
	// Credential is the raw bearer token. Empty when the caller sent none.
	Credential string

	// Operation names the protected operation, typically the route pattern.
	Operation string

	// TargetTenant is the tenant the caller asked to act on, taken from the
	// override header. Empty when absent.
	TargetTenant string
}

// Gateway orchestrates claim decoding, tier gating and quota consumption.
// Stateless; safe for concurrent use.
type Gateway struct {
	decoder  *auth.Decoder
	policies *policy.Registry
	limits   limiter.Limiter
	sink     audit.Sink
	metrics  *observability.Metrics
	logger   *slog.Logger

	scope     string
	keyPrefix string
	now       func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithAuditSink sets the sink that records sovereign override usage.
func WithAuditSink(sink audit.Sink) Option {
	return func(g *Gateway) { g.sink = sink }
}

// WithMetrics attaches admission metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithLogger sets the gateway logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithScope selects whether limiter keys are built from the subject or the
// effective tenant.
func WithScope(scope string) Option {
	return func(g *Gateway) { g.scope = scope }
}

// WithKeyPrefix sets the limiter key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(g *Gateway) { g.keyPrefix = prefix }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New creates a Gateway. The decoder, policy registry and limiter are
// required; everything else has a sensible default.
func New(decoder *auth.Decoder, policies *policy.Registry, limits limiter.Limiter, opts ...Option) *Gateway {
	g := &Gateway{
		decoder:   decoder,
		policies:  policies,
		limits:    limits,
		sink:      audit.NewLogSink(nil),
		logger:    slog.Default(),
		scope:     config.ScopeSubject,
		keyPrefix: "rl",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit runs the admission state machine for one request. It never returns
// an error: infrastructure failure is absorbed by the fail-open policy and
// every other failure is a terminal rejection decision.
func (g *Gateway) Admit(ctx context.Context, req Request) *Decision {
	now := g.now()

	claims, err := g.decoder.Decode(req.Credential, now)
	if err != nil {
		decision := rejectUnauthenticated(err)
		g.metrics.RecordDecision(ctx, decision.outcome(), "")
		return decision
	}

	if !g.policies.Allows(req.Operation, claims.Tier) {
		decision := &Decision{
			Reason: ReasonForbiddenTier,
			Message: fmt.Sprintf("operation requires tier %s",
				formatTiers(g.policies.AllowedTiers(req.Operation))),
			Claims: claims,
		}
		g.metrics.RecordDecision(ctx, decision.outcome(), string(claims.Tier))
		return decision
	}

	effectiveTenant := claims.TenantID
	overrode := false
	if req.TargetTenant != "" && req.TargetTenant != claims.TenantID {
		if !claims.SovereignOverride {
			decision := &Decision{
				Reason:  ReasonForbiddenOverride,
				Message: "tenant override requires the sovereign override capability",
				Claims:  claims,
			}
			g.metrics.RecordDecision(ctx, decision.outcome(), string(claims.Tier))
			return decision
		}
		effectiveTenant = req.TargetTenant
		overrode = true
	}

	effectiveTier, quotas := g.policies.QuotasFor(claims.Tier)

	identity := claims.Subject
	if g.scope == config.ScopeTenant {
		identity = effectiveTenant
	}
	key := limiter.BuildKey(g.keyPrefix, string(effectiveTier), identity)

	start := time.Now()
	verdict, err := g.limits.TryAcquire(ctx, key, quotas, now)
	g.metrics.RecordStoreRoundTrip(ctx, time.Since(start), err)

	// Forwarded claims carry the tenant the request acts on.
	forwarded := *claims
	forwarded.TenantID = effectiveTenant

	var decision *Decision
	switch {
	case err != nil:
		if !errors.Is(err, limiter.ErrStoreUnavailable) {
			g.logger.Error("Unexpected limiter failure, admitting degraded", "error", err)
		} else {
			g.logger.Warn("Rate limit store unreachable, admitting degraded", "key", key)
		}
		g.metrics.RecordDegraded(ctx)
		decision = &Decision{Admitted: true, Degraded: true, Claims: &forwarded}

	case !verdict.Admitted:
		usage := verdict.Binding()
		decision = &Decision{
			Reason:  ReasonRateLimited,
			Message: "quota exhausted, retry after the window resets",
			Claims:  &forwarded,
			Usage:   usage,
		}

	default:
		decision = &Decision{Admitted: true, Claims: &forwarded, Usage: verdict.Binding()}
	}

	if decision.Admitted && overrode {
		event := audit.NewEvent(claims.Subject, claims.TenantID, effectiveTenant, req.Operation, now)
		if err := g.sink.Record(ctx, event); err != nil {
			g.logger.Error("Failed to record override audit event",
				"error", err, "subject", claims.Subject, "overridden_tenant", effectiveTenant)
		}
	}

	g.metrics.RecordDecision(ctx, decision.outcome(), string(claims.Tier))
	return decision
}

func rejectUnauthenticated(err error) *Decision {
	reason := ReasonInvalidCredential
	message := "credential verification failed"
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		reason = ReasonMissingCredential
		message = "no bearer credential presented"
	case errors.Is(err, auth.ErrExpired):
		reason = ReasonExpiredCredential
		message = "credential has expired"
	case errors.Is(err, auth.ErrMalformedClaims):
		reason = ReasonMalformedClaims
		message = "credential claims are incomplete or out of range"
	}
	return &Decision{Reason: reason, Message: message}
}

func formatTiers(tiers []auth.Tier) string {
	names := make([]string, len(tiers))
	for i, t := range tiers {
		names[i] = string(t)
	}
	return strings.Join(names, " or ")
}
