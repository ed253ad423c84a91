package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsolatedLogger_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.log")
	l := NewIsolatedLogger(path)

	l.Debug("Hub", "dropped below level", nil)
	l.Info("Hub", "Client registered", map[string]interface{}{"room_id": "R1"})
	l.Error("Hub", "Broadcast failed", map[string]interface{}{"error": "boom"})
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "INFO", first["level"])
	assert.Equal(t, "Client registered", first["message"])
	assert.Equal(t, "Hub", first["module"])
	assert.Equal(t, "R1", first["details"].(map[string]interface{})["room_id"])
}

func TestNop(t *testing.T) {
	var l ILogger = NewNop()
	l.Info("X", "ignored", nil)
	assert.NoError(t, l.Sync())
}
