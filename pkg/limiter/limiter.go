// Package limiter implements distributed sliding-window-log rate limiting.
//
// A request is admitted when, for every quota attached to its key, fewer
// than MaxRequests timestamps fall inside the trailing window. Prune, count
// and insert execute as one indivisible operation against the backing
// store, so the limit holds under arbitrary concurrency across gateway
// replicas.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStoreUnavailable is returned when the backing store cannot be reached
// or errors. Callers are expected to fail open on it rather than surface it.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Quota is one throughput budget: at most MaxRequests inside any trailing
// Window.
type Quota struct {
	Window      time.Duration
	MaxRequests int64
}

// Usage is the post-decision state of one quota window.
type Usage struct {
	Quota Quota

	// Remaining is the quota left in the window after this decision.
	// Never negative.
	Remaining int64

	// ResetAt is when the oldest surviving entry leaves the window, i.e.
	// the earliest instant at which a denied caller can retry.
	ResetAt time.Time
}

// Decision is the outcome of one TryAcquire call. A denied decision means
// no timestamp was recorded for any window.
type Decision struct {
	Admitted bool
	Usages   []Usage
}

// Binding returns the most restrictive usage, the one response headers and
// retry timing should be derived from. On denial this is the violated
// window.
func (d *Decision) Binding() *Usage {
	if len(d.Usages) == 0 {
		return nil
	}
	binding := &d.Usages[0]
	for i := range d.Usages[1:] {
		u := &d.Usages[i+1]
		if u.Remaining < binding.Remaining {
			binding = u
		}
	}
	return binding
}

// Limiter atomically decides whether the next request for a key fits inside
// its current windows and, if so, records it.
//
// Implementations must be safe for concurrent use.
type Limiter interface {
	// TryAcquire consumes one unit of quota for key if every quota admits
	// it. now is supplied by the caller so decisions are testable against
	// a fixed clock. A nil error with Admitted=false is an ordinary
	// rate-limit denial; ErrStoreUnavailable signals infrastructure
	// failure and consumes nothing.
	TryAcquire(ctx context.Context, key string, quotas []Quota, now time.Time) (*Decision, error)
}

// BuildKey namespaces a limiter key as {prefix}:{tier}:{identity}.
func BuildKey(prefix, tier, identity string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, tier, identity)
}

// windowKeys derives one store key per quota window. The first window uses
// the base key unchanged; additional windows get an index suffix so the
// burst and sustained logs never share a timestamp set.
func windowKeys(key string, n int) []string {
	keys := make([]string, n)
	keys[0] = key
	for i := 1; i < n; i++ {
		keys[i] = fmt.Sprintf("%s:%d", key, i+1)
	}
	return keys
}

func validateQuotas(quotas []Quota) error {
	if len(quotas) == 0 {
		return fmt.Errorf("at least one quota is required")
	}
	for _, q := range quotas {
		if q.Window <= 0 || q.MaxRequests <= 0 {
			return fmt.Errorf("quota window and max requests must be positive")
		}
	}
	return nil
}
