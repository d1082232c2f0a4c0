package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSONLevel(t *testing.T) {
	var buf bytes.Buffer
	l := JSON(&buf, slog.LevelWarn)
	l.Info("hidden")
	assert.Zero(t, buf.Len())
	l.With("op", "conv").Warn("shown", "k", 3)
	assert.Contains(t, buf.String(), `"op":"conv"`)
	assert.Contains(t, buf.String(), `"k":3`)
}

func TestPretty(t *testing.T) {
	var buf bytes.Buffer
	l := Pretty(&buf, slog.LevelDebug).WithGroup("tune")
	l.Debug("picked", "wg", "8x4x1", "note", "two words")
	out := buf.String()
	assert.Contains(t, out, "picked")
	assert.Contains(t, out, "tune.wg=8x4x1")
	assert.Contains(t, out, `tune.note="two words"`)
}

func TestPrettyHandlerGroups(t *testing.T) {
	h := NewPrettyHandler(&bytes.Buffer{}, nil)
	assert.Same(t, h, h.WithGroup(""))
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, h.Enabled(context.Background(), slog.LevelWarn))
}

func TestContext(t *testing.T) {
	var buf bytes.Buffer
	l := Text(&buf, slog.LevelInfo)
	ctx := WithContext(context.Background(), l)
	FromContext(ctx).Info("via context")
	assert.Contains(t, buf.String(), "via context")
	assert.NotNil(t, FromContext(context.Background()))
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
