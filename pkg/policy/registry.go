// Package policy maps tiers to throughput quotas and operations to the
// tiers permitted to call them.
package policy

import (
	"fmt"
	"sync/atomic"

	"github.com/gatewarden/gatewarden/pkg/auth"
	"github.com/gatewarden/gatewarden/pkg/config"
	"github.com/gatewarden/gatewarden/pkg/limiter"
)

// tierOrder lists the closed tier set, most restrictive first. Used to
// break ties when electing the fallback tier.
var tierOrder = []auth.Tier{auth.TierBasic, auth.TierProfessional, auth.TierGrowth, auth.TierElite}

// snapshot is one immutable view of the policy tables. Reloads build a new
// snapshot and swap the pointer; in-flight requests keep reading the one
// they started with.
type snapshot struct {
	quotas   map[auth.Tier][]limiter.Quota
	fallback auth.Tier
	gates    map[string][]auth.Tier
}

// Registry resolves quotas and tier gates. It is read-mostly: request-path
// lookups are lock-free pointer loads; Reload swaps the whole table
// atomically and never mutates in place.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry builds a registry from validated configuration.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	snap, err := buildSnapshot(cfg)
	if err != nil {
		return nil, err
	}

	r := &Registry{}
	r.snap.Store(snap)
	return r, nil
}

// Reload replaces the policy tables. Safe to call concurrently with
// request-path lookups.
func (r *Registry) Reload(cfg *config.Config) error {
	snap, err := buildSnapshot(cfg)
	if err != nil {
		return err
	}
	r.snap.Store(snap)
	return nil
}

// QuotasFor resolves the quota set for a tier. An unconfigured tier
// resolves to the most restrictive configured tier, never to unlimited;
// the returned tier is the effective one and is what limiter keys should
// be built from.
func (r *Registry) QuotasFor(tier auth.Tier) (auth.Tier, []limiter.Quota) {
	snap := r.snap.Load()

	if quotas, ok := snap.quotas[tier]; ok {
		return tier, quotas
	}
	return snap.fallback, snap.quotas[snap.fallback]
}

// AllowedTiers returns the tier gate for an operation, or nil when the
// operation declares no restriction (all tiers allowed).
func (r *Registry) AllowedTiers(operation string) []auth.Tier {
	return r.snap.Load().gates[operation]
}

// Allows reports whether a tier may call an operation.
func (r *Registry) Allows(operation string, tier auth.Tier) bool {
	allowed := r.AllowedTiers(operation)
	if allowed == nil {
		return true
	}
	for _, t := range allowed {
		if t == tier {
			return true
		}
	}
	return false
}

func buildSnapshot(cfg *config.Config) (*snapshot, error) {
	snap := &snapshot{
		quotas: make(map[auth.Tier][]limiter.Quota, len(cfg.Tiers)),
		gates:  make(map[string][]auth.Tier, len(cfg.Operations)),
	}

	for name, tc := range cfg.Tiers {
		tier, ok := auth.ParseTier(name)
		if !ok {
			return nil, fmt.Errorf("policy: unknown tier %q", name)
		}

		quotas := []limiter.Quota{{
			Window:      tc.Window.Duration(),
			MaxRequests: tc.MaxRequests,
		}}
		if tc.Sustained != nil {
			quotas = append(quotas, limiter.Quota{
				Window:      tc.Sustained.Window.Duration(),
				MaxRequests: tc.Sustained.MaxRequests,
			})
		}
		snap.quotas[tier] = quotas
	}

	if len(snap.quotas) == 0 {
		return nil, fmt.Errorf("policy: at least one tier quota is required")
	}

	snap.fallback = electFallback(snap.quotas)

	for _, op := range cfg.Operations {
		tiers := make([]auth.Tier, 0, len(op.AllowedTiers))
		for _, name := range op.AllowedTiers {
			tier, ok := auth.ParseTier(name)
			if !ok {
				return nil, fmt.Errorf("policy: operation %q: unknown tier %q", op.Route, name)
			}
			tiers = append(tiers, tier)
		}
		snap.gates[op.Route] = tiers
	}

	return snap, nil
}

// electFallback picks the configured tier with the smallest burst budget.
// Ties go to the earlier tier in closed-set order.
func electFallback(quotas map[auth.Tier][]limiter.Quota) auth.Tier {
	var (
		fallback auth.Tier
		best     int64 = -1
	)
	for _, tier := range tierOrder {
		qs, ok := quotas[tier]
		if !ok {
			continue
		}
		if best == -1 || qs[0].MaxRequests < best {
			fallback = tier
			best = qs[0].MaxRequests
		}
	}
	return fallback
}
