package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewarden/gatewarden/pkg/auth"
	"github.com/gatewarden/gatewarden/pkg/config"
)

func testConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Load([]byte(yaml))
	require.NoError(t, err)
	return cfg
}

const configHeader = "auth:\n  secret: 0123456789abcdef0123456789abcdef\n"

func TestRegistry_QuotasFor(t *testing.T) {
	cfg := testConfig(t, configHeader+`
tiers:
  basic:
    window: 60s
    max_requests: 5
  elite:
    window: 60s
    max_requests: 100
    sustained:
      window: 24h
      max_requests: 10000
`)
	r, err := NewRegistry(cfg)
	require.NoError(t, err)

	tier, quotas := r.QuotasFor(auth.TierElite)
	assert.Equal(t, auth.TierElite, tier)
	require.Len(t, quotas, 2)
	assert.Equal(t, int64(100), quotas[0].MaxRequests)
	assert.Equal(t, time.Minute, quotas[0].Window)
	assert.Equal(t, int64(10000), quotas[1].MaxRequests)
	assert.Equal(t, 24*time.Hour, quotas[1].Window)

	// growth is not configured: it resolves to the most restrictive
	// configured tier, never to unlimited.
	tier, quotas = r.QuotasFor(auth.TierGrowth)
	assert.Equal(t, auth.TierBasic, tier)
	require.Len(t, quotas, 1)
	assert.Equal(t, int64(5), quotas[0].MaxRequests)
}

func TestRegistry_FallbackElection(t *testing.T) {
	// elite configured with a smaller burst than growth: the fallback is
	// chosen by budget, not by tier name.
	cfg := testConfig(t, configHeader+`
tiers:
  growth:
    window: 60s
    max_requests: 50
  elite:
    window: 60s
    max_requests: 10
`)
	r, err := NewRegistry(cfg)
	require.NoError(t, err)

	tier, quotas := r.QuotasFor(auth.TierBasic)
	assert.Equal(t, auth.TierElite, tier)
	assert.Equal(t, int64(10), quotas[0].MaxRequests)
}

func TestRegistry_TierGates(t *testing.T) {
	cfg := testConfig(t, configHeader+`
operations:
  - route: /api/leads
    allowed_tiers: [elite]
  - route: /api/reports
    allowed_tiers: [growth, elite]
`)
	r, err := NewRegistry(cfg)
	require.NoError(t, err)

	// Declared gates.
	assert.True(t, r.Allows("/api/leads", auth.TierElite))
	assert.False(t, r.Allows("/api/leads", auth.TierGrowth))
	assert.False(t, r.Allows("/api/reports", auth.TierBasic))
	assert.True(t, r.Allows("/api/reports", auth.TierGrowth))

	// Undeclared operations are open to all tiers.
	assert.True(t, r.Allows("/api/anything", auth.TierBasic))
	assert.Nil(t, r.AllowedTiers("/api/anything"))

	assert.Equal(t, []auth.Tier{auth.TierGrowth, auth.TierElite}, r.AllowedTiers("/api/reports"))
}

func TestRegistry_Reload(t *testing.T) {
	cfg := testConfig(t, configHeader+`
tiers:
  basic:
    window: 60s
    max_requests: 5
`)
	r, err := NewRegistry(cfg)
	require.NoError(t, err)

	_, quotas := r.QuotasFor(auth.TierBasic)
	assert.Equal(t, int64(5), quotas[0].MaxRequests)

	next := testConfig(t, configHeader+`
tiers:
  basic:
    window: 60s
    max_requests: 50
operations:
  - route: /api/leads
    allowed_tiers: [basic]
`)
	require.NoError(t, r.Reload(next))

	_, quotas = r.QuotasFor(auth.TierBasic)
	assert.Equal(t, int64(50), quotas[0].MaxRequests)
	assert.False(t, r.Allows("/api/leads", auth.TierElite))
}

func TestRegistry_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gatewarden.yaml")

	write := func(yaml string) {
		require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	}

	write(configHeader + `
tiers:
  basic:
    window: 60s
    max_requests: 5
`)

	cfg, err := config.LoadFromFile(path)
	require.NoError(t, err)
	r, err := NewRegistry(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Watch(ctx, path))

	write(configHeader + `
tiers:
  basic:
    window: 60s
    max_requests: 99
`)

	require.Eventually(t, func() bool {
		_, quotas := r.QuotasFor(auth.TierBasic)
		return quotas[0].MaxRequests == 99
	}, 5*time.Second, 20*time.Millisecond)

	// A broken config must not dislodge the running snapshot.
	write("tiers: [")
	time.Sleep(200 * time.Millisecond)
	_, quotas := r.QuotasFor(auth.TierBasic)
	assert.Equal(t, int64(99), quotas[0].MaxRequests)
}
