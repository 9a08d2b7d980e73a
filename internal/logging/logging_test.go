package logging

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	loc := time.FixedZone("WIB", 7*3600)

	logger := NewJSON(&buf, loc)
	logger.Info("download_attempt", zap.String("stage", "original"), zap.Int("attempt", 1))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "download_attempt", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "original", entry["stage"])
	assert.Equal(t, float64(1), entry["attempt"])

	ts, err := time.Parse(time.RFC3339Nano, entry["ts"].(string))
	require.NoError(t, err)
	_, offset := ts.Zone()
	assert.Equal(t, 7*3600, offset)
}

func TestReplace(t *testing.T) {
	var buf bytes.Buffer
	restore := Replace(NewJSON(&buf, time.UTC))

	L().Warn("storage_delete_failed")
	restore()

	assert.Contains(t, buf.String(), "storage_delete_failed")
	assert.NotNil(t, L())
}

func TestInitFallsBackToInfo(t *testing.T) {
	defer Replace(nil)()

	require.NoError(t, Init(Config{Level: "loud", Format: "json"}))
	assert.True(t, L().Core().Enabled(zap.InfoLevel))
	assert.False(t, L().Core().Enabled(zap.DebugLevel))
}
