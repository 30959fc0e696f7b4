package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},

		{"DEBUG", LevelDebug},
		{"WARNING", LevelWarn},
		{"Error", LevelError},
		{"dEbUg", LevelDebug},

		// Empty and unrecognized default to Info
		{"", LevelInfo},
		{"trace", LevelInfo},
		{"fatal", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected Format
	}{
		{"json", FormatJSON},
		{"JSON", FormatJSON},
		{"Json", FormatJSON},
		{"text", FormatText},
		{"", FormatText},
		{"yaml", FormatText},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseFormat(tt.input))
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf})

	logger.Debug("hidden")
	logger.Info("relay started", "port", 5683)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "relay started", rec["msg"])
	assert.EqualValues(t, 5683, rec["port"])
}

func TestOpen_WithFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "relayd.log")

	logger, closer, err := Open(Config{Level: LevelDebug, Output: &buf, File: path})
	require.NoError(t, err)

	logger.With("component", "relay").Info("stored request", "length", 4)
	require.NoError(t, closer.Close())

	assert.Contains(t, buf.String(), "stored request")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "relay", rec["component"])
}

func TestOpen_BadFile(t *testing.T) {
	_, _, err := Open(Config{File: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)

	// New falls back to the primary output
	assert.NotNil(t, New(Config{File: filepath.Join(t.TempDir(), "missing", "x.log")}))
}

func TestNop(t *testing.T) {
	Nop().Error("discarded")
}
