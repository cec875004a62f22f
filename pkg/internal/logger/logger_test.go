package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"", LevelInfo, true},
		{"warning", LevelWarn, true},
		{"error", LevelError, true},
		{"loud", LevelInfo, false},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.ok {
			require.NoError(t, err, tt.in)
		} else {
			assert.Error(t, err, tt.in)
		}
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestDefaultLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: LevelWarn, Output: &buf})
	require.NoError(t, err)

	l.Info("hidden %d", 1)
	assert.Empty(t, buf.String())

	l.Warn("shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")

	buf.Reset()
	l.SetLevel(LevelDebug)
	l.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestDefaultLoggerJSONWithField(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: LevelInfo, Format: "json", Output: &buf})
	require.NoError(t, err)

	l.WithField("bus", "i2c0").Info("packet dropped")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "i2c0", entry["bus"])
	assert.Equal(t, "packet dropped", entry["msg"])
	assert.Equal(t, "info", entry["level"])
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(Options{Format: "xml"})
	assert.Error(t, err)
}

func TestNoOpLogger(t *testing.T) {
	var l Logger = NewNoOpLogger()
	assert.Same(t, l, l.WithField("k", "v"))
	l.Error("nothing %s", "happens")
}
