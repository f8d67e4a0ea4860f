package gateway

import (
	"net/http"

	"github.com/gatewarden/gatewarden/pkg/auth"
	"github.com/gatewarden/gatewarden/pkg/limiter"
)

// Machine-parseable rejection reason codes. Stable: clients branch on them.
const (
	ReasonMissingCredential = "missing_credential"
	ReasonInvalidCredential = "invalid_credential"
	ReasonExpiredCredential = "expired_credential"
	ReasonMalformedClaims   = "malformed_claims"
	ReasonForbiddenTier     = "forbidden_tier"
	ReasonForbiddenOverride = "forbidden_override"
	ReasonRateLimited       = "rate_limited"
)

// Decision is the outcome of one admission check. Constructed per request,
// never persisted.
type Decision struct {
	Admitted bool

	// Degraded marks an admission granted without a quota verdict because
	// the store was unreachable.
	Degraded bool

	// Reason and Message are set on rejections only. Reason is one of the
	// code constants above; Message is human-readable and never contains
	// credential material or store internals.
	Reason  string
	Message string

	// Claims are the verified caller identity, with TenantID already
	// rewritten when a sovereign override was applied. Downstream handlers
	// scope data by these claims exclusively. Nil on unauthenticated
	// rejections.
	Claims *auth.Claims

	// Usage is the binding quota window after this decision. Nil when the
	// check never reached the limiter or the store was unreachable.
	Usage *limiter.Usage
}

// StatusCode maps the decision to its HTTP status.
func (d *Decision) StatusCode() int {
	if d.Admitted {
		return http.StatusOK
	}
	switch d.Reason {
	case ReasonForbiddenTier, ReasonForbiddenOverride:
		return http.StatusForbidden
	case ReasonRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusUnauthorized
	}
}

// outcome labels the decision for metrics.
func (d *Decision) outcome() string {
	if d.Admitted {
		if d.Degraded {
			return "degraded"
		}
		return "admitted"
	}
	return d.Reason
}
