package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	event := NewEvent("user-1", "tenant-a", "tenant-b", "/api/leads", now)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, now, event.Timestamp)
	assert.Equal(t, "user-1", event.ActingSubject)
	assert.Equal(t, "tenant-a", event.ClaimedTenant)
	assert.Equal(t, "tenant-b", event.OverriddenTenant)
	assert.Equal(t, "/api/leads", event.Operation)

	other := NewEvent("user-1", "tenant-a", "tenant-b", "/api/leads", now)
	assert.NotEqual(t, event.ID, other.ID)
}

func TestLogSink_Record(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	sink := NewLogSink(logger)

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	event := NewEvent("user-1", "tenant-a", "tenant-b", "/api/leads", now)
	require.NoError(t, sink.Record(context.Background(), event))
	require.NoError(t, sink.Close())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, event.ID, entry["audit_id"])
	assert.Equal(t, "user-1", entry["acting_subject"])
	assert.Equal(t, "tenant-a", entry["claimed_tenant"])
	assert.Equal(t, "tenant-b", entry["overridden_tenant"])
	assert.Equal(t, "/api/leads", entry["operation"])
}

func TestLogSink_NilLoggerDefaults(t *testing.T) {
	sink := NewLogSink(nil)
	assert.NotNil(t, sink.logger)
}
