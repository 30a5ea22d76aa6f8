package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}

	assert.True(t, ValidLevel("Warn"))
	assert.False(t, ValidLevel("loud"))
}

func TestInitWritesJSON(t *testing.T) {
	t.Cleanup(func() { Init(DefaultConfig()) })

	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})

	Debug().Str("room", "chat").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "chat", entry["room"])
	assert.Equal(t, "hello", entry["message"])
}

func TestInitRespectsLevel(t *testing.T) {
	t.Cleanup(func() { Init(DefaultConfig()) })

	var buf bytes.Buffer
	Init(Config{Level: "warn", Output: &buf})

	Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	Warn().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestSlogHandler(t *testing.T) {
	t.Cleanup(func() { Init(DefaultConfig()) })
	Init(Config{Level: "debug", Output: &bytes.Buffer{}})

	var buf bytes.Buffer
	logger := slog.New(NewSlogHandler(NewTestLogger(&buf)))

	logger.WithGroup("supervisor").With("service", "http").Warn("service failed",
		"restarts", 3,
		"error", errors.New("boom"),
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "service failed", entry["message"])
	assert.Equal(t, "http", entry["supervisor.service"])
	assert.EqualValues(t, 3, entry["supervisor.restarts"])
	assert.Equal(t, "boom", entry["supervisor.error"])
}

func TestSlogHandlerEnabled(t *testing.T) {
	t.Cleanup(func() { Init(DefaultConfig()) })
	Init(Config{Level: "warn", Output: &bytes.Buffer{}})

	h := NewSlogHandler(NewTestLogger(&bytes.Buffer{}))
	assert.False(t, h.Enabled(t.Context(), slog.LevelInfo))
	assert.True(t, h.Enabled(t.Context(), slog.LevelError))
}
