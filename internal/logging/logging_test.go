package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriterEmitsUTCJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, false)

	l.Debug("hidden")
	l.Info("chair.relocated", "from", 4, "to", 2)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "chair.relocated", rec["msg"])
	assert.EqualValues(t, 4, rec["from"])

	ts, ok := rec["time"].(string)
	require.True(t, ok)
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, parsed.Location())
}

func TestNewWriterDebugAddsSource(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, true).Debug("visible")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "visible", rec["msg"])
	assert.Contains(t, rec, "source")
}

func TestNewToFile(t *testing.T) {
	home := t.TempDir()
	l, closeFn, err := New(Config{Home: home, ToFile: true})
	require.NoError(t, err)

	l.Info("site.created", "name", "Cozy")
	require.NoError(t, closeFn())

	b, err := os.ReadFile(filepath.Join(home, "logs", "cozy.log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"site.created"`)
}

func TestNewFileFailure(t *testing.T) {
	home := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(home, nil, 0o644))

	_, _, err := New(Config{Home: home, ToFile: true})
	assert.Error(t, err)
}

func TestDiscardDropsEverything(t *testing.T) {
	l := Discard()
	require.NotNil(t, l)
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
}
