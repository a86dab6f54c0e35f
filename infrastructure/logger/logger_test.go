package logger

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestFileOutputWritesJSONEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "trader.log")
	errPath := filepath.Join(dir, "logs", "errors.log")
	l, err := New(Config{Level: "info", Outputs: []string{"file"}, OutputFile: path, ErrorFile: errPath, Format: "json"})
	require.NoError(t, err)

	l.LogSession("state_change", map[string]interface{}{"from": "CONNECTED", "to": "ACTIVE"})
	l.LogExecution("order_completed", map[string]interface{}{"symbol": "AAPL"})
	l.LogError(errors.New("boom"), nil)
	require.NoError(t, l.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "session_event", first["msg"])
	assert.Equal(t, "state_change", first["event"])
	assert.NotContains(t, first, "schema_error")

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Contains(t, second, "schema_error")

	errRaw, err := os.ReadFile(errPath)
	require.NoError(t, err)
	assert.Contains(t, string(errRaw), "boom")
}

func TestWithFieldsAndNop(t *testing.T) {
	l := NewNop()
	child := l.WithFields(map[string]interface{}{"symbol": "AAPL"})
	assert.NotNil(t, child.Logger)
	child.LogSession("anything", nil)
}
