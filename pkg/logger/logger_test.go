package logger

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("INFO"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestTextHandler_Simple(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(&textHandler{writer: &buf, minLevel: slog.LevelInfo})

	logger.Info("Request admitted", "tier", "basic", "remaining", 4)
	assert.Equal(t, "INFO Request admitted tier=basic remaining=4\n", buf.String())

	buf.Reset()
	logger.Debug("should be filtered")
	assert.Empty(t, buf.String())
}

func TestTextHandler_Verbose(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(&textHandler{writer: &buf, minLevel: slog.LevelInfo, verbose: true})

	logger.Warn("Store unreachable")
	line := buf.String()
	assert.Contains(t, line, "WARN Store unreachable")
	assert.Contains(t, line, time.Now().Format("2006/01/02"))
}

func TestTextHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(&textHandler{writer: &buf, minLevel: slog.LevelInfo})
	logger := base.With("component", "gateway")

	logger.Info("ready")
	assert.Equal(t, "INFO ready component=gateway\n", buf.String())
}
