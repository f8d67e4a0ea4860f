package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMetrics_Disabled(t *testing.T) {
	m, err := InitMetrics(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, m)

	// No-op instruments must absorb records without panicking.
	m.RecordDecision(context.Background(), "admitted", "basic")
	m.RecordDegraded(context.Background())
	m.RecordStoreRoundTrip(context.Background(), 5*time.Millisecond, nil)
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	m.RecordDecision(context.Background(), "rate_limited", "elite")
	m.RecordDegraded(context.Background())
	m.RecordStoreRoundTrip(context.Background(), time.Millisecond, assert.AnError)
}
