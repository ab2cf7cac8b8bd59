package monitoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLoggerWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "rainguard.log")
	logger, err := NewLogger(LogConfig{Level: "info", Format: "console", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("model loaded", zap.Int("trees", 100))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "model loaded", entry["msg"])
	assert.Equal(t, float64(100), entry["trees"])
}

func TestNewLoggerRejectsBadConfig(t *testing.T) {
	_, err := NewLogger(LogConfig{Level: "verbose"})
	assert.Error(t, err)
	_, err = NewLogger(LogConfig{Format: "xml"})
	assert.Error(t, err)

	logger, err := NewLogger(LogConfig{})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
