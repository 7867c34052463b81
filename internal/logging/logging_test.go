package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Output: &buf})
	require.NoError(t, err)

	componentLogger := WithComponent(logger, "polling")
	componentLogger.Info().Msg("dropped")
	componentLogger = WithComponent(logger, "polling")
	componentLogger.Warn().Str("source", "trailers").Msg("poll failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "polling", entry["component"])
	assert.Equal(t, "trailers", entry["source"])
	assert.Equal(t, "poll failed", entry["message"])
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Format: "console", Output: &buf})
	require.NoError(t, err)
	logger.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
}
