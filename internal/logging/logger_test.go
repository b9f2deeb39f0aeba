package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew_FileOutputJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "api.log")

	logger, err := New(Config{Level: "debug", OutputPath: path, Format: "json"})
	require.NoError(t, err)

	logger.Info("invoice created", zap.Int("invoice_number", 7))
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &entry))
	assert.Equal(t, "invoice created", entry["msg"])
	assert.Equal(t, float64(7), entry["invoice_number"])
	assert.Contains(t, entry, "timestamp")
}

func TestNew_UnknownLevelDefaultsToInfo(t *testing.T) {
	logger, err := New(Config{Level: "loud", OutputPath: "stderr"})
	require.NoError(t, err)

	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}
