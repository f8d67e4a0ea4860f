package gateway

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gatewarden/gatewarden/pkg/auth"
	"github.com/gatewarden/gatewarden/pkg/limiter"
)

// OperationFunc names the protected operation for a request.
type OperationFunc func(r *http.Request) string

// MiddlewareConfig configures the admission middleware.
type MiddlewareConfig struct {
	// Gateway makes the admission decisions. Required.
	Gateway *Gateway

	// CookieName is the fallback credential cookie, consulted when the
	// Authorization header is absent. Empty disables the fallback.
	CookieName string

	// OverrideHeader carries the sovereign tenant override target.
	// Empty disables the override transport.
	OverrideHeader string

	// OperationFunc names the operation for policy lookup. If nil, the
	// request path is used.
	OperationFunc OperationFunc

	// ExcludedPaths bypass admission entirely (health checks, metrics).
	ExcludedPaths []string

	// OnRejected is called for rejected requests. If nil, a JSON error
	// response is sent.
	OnRejected func(w http.ResponseWriter, r *http.Request, decision *Decision)
}

// Middleware returns an HTTP middleware that admits or rejects every
// request through the gateway. Admitted requests continue with the verified
// claims and the decision attached to the request context.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	if cfg.OperationFunc == nil {
		cfg.OperationFunc = func(r *http.Request) string { return r.URL.Path }
	}
	if cfg.OnRejected == nil {
		cfg.OnRejected = defaultOnRejected
	}

	excluded := make(map[string]bool, len(cfg.ExcludedPaths))
	for _, path := range cfg.ExcludedPaths {
		excluded[path] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excluded[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			req := Request{
				Credential: extractCredential(r, cfg.CookieName),
				Operation:  cfg.OperationFunc(r),
			}
			if cfg.OverrideHeader != "" {
				req.TargetTenant = r.Header.Get(cfg.OverrideHeader)
			}

			decision := cfg.Gateway.Admit(r.Context(), req)

			if !decision.Admitted {
				if decision.Reason == ReasonRateLimited {
					setQuotaHeaders(w, decision.Usage)
					setRetryAfter(w, decision.Usage)
				}
				cfg.OnRejected(w, r, decision)
				return
			}

			setQuotaHeaders(w, decision.Usage)

			ctx := auth.ContextWithClaims(r.Context(), decision.Claims)
			ctx = context.WithValue(ctx, decisionContextKey{}, decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type decisionContextKey struct{}

// DecisionFromContext returns the admission decision attached by the
// middleware, or nil.
func DecisionFromContext(ctx context.Context) *Decision {
	if d, ok := ctx.Value(decisionContextKey{}).(*Decision); ok {
		return d
	}
	return nil
}

// extractCredential pulls the bearer token from the Authorization header,
// falling back to the credential cookie.
func extractCredential(r *http.Request, cookieName string) string {
	if header := r.Header.Get("Authorization"); header != "" {
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header {
			// Wrong scheme: treat as no credential rather than passing
			// arbitrary header content to the decoder.
			return ""
		}
		return token
	}

	if cookieName != "" {
		if cookie, err := r.Cookie(cookieName); err == nil {
			return cookie.Value
		}
	}
	return ""
}

func setQuotaHeaders(w http.ResponseWriter, usage *limiter.Usage) {
	if usage == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(usage.Quota.MaxRequests, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(usage.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(usage.ResetAt.Unix(), 10))
}

// timeNow is a hook so tests can pin Retry-After arithmetic.
var timeNow = time.Now

func setRetryAfter(w http.ResponseWriter, usage *limiter.Usage) {
	if usage == nil || usage.ResetAt.IsZero() {
		return
	}
	wait := usage.ResetAt.Sub(timeNow())
	if wait <= 0 {
		return
	}
	w.Header().Set("Retry-After", strconv.FormatInt(int64(math.Ceil(wait.Seconds())), 10))
}

func defaultOnRejected(w http.ResponseWriter, r *http.Request, decision *Decision) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(decision.StatusCode())

	response := map[string]any{
		"error": map[string]any{
			"code":    decision.Reason,
			"message": decision.Message,
		},
	}
	_ = json.NewEncoder(w).Encode(response)
}
