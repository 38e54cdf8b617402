// File: internal/observability/logger_test.go
package observability

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/webpilot-ai/webpilot/internal/config"
)

// memSink collects log output in memory for assertions.
type memSink struct {
	zaptest.Buffer
}

func initTestLogger(t *testing.T, cfg config.LoggerConfig) *memSink {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)

	sink := &memSink{}
	Initialize(cfg, zapcore.Lock(sink))
	return sink
}

func TestInitializeConsoleLogger(t *testing.T) {
	sink := initTestLogger(t, config.LoggerConfig{
		Level: "debug", Format: "console", ServiceName: "test-service",
	})

	GetLogger().Info("Hello from the console encoder.")

	output := sink.String()
	assert.Contains(t, output, "INFO")
	assert.Contains(t, output, "Hello from the console encoder.")
	assert.Contains(t, output, "test-service.")
}

func TestInitializeJSONLogger(t *testing.T) {
	sink := initTestLogger(t, config.LoggerConfig{
		Level: "info", Format: "json", ServiceName: "json-service",
	})

	GetLogger().Warn("Structured message.", zap.String("key", "value"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(sink.Bytes(), &entry), "output should be valid JSON")
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "json-service", entry["logger"])
	assert.Equal(t, "Structured message.", entry["msg"])
	assert.Equal(t, "value", entry["key"])
}

func TestLevelFiltering(t *testing.T) {
	sink := initTestLogger(t, config.LoggerConfig{
		Level: "warn", Format: "json", ServiceName: "filtered",
	})

	logger := GetLogger()
	logger.Debug("dropped")
	logger.Info("also dropped")
	logger.Warn("kept")

	output := sink.String()
	assert.NotContains(t, output, "dropped")
	assert.Contains(t, output, "kept")
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	sink := initTestLogger(t, config.LoggerConfig{
		Level: "loudest", Format: "json", ServiceName: "fallback",
	})

	logger := GetLogger()
	logger.Debug("below info")
	logger.Info("at info")

	output := sink.String()
	assert.NotContains(t, output, "below info")
	assert.Contains(t, output, "at info")
}

func TestFileLogging(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "webpilot.log")
	initTestLogger(t, config.LoggerConfig{
		Level: "debug", Format: "console", ServiceName: "filetest",
		LogFile: logFile, MaxSize: 1,
	})

	GetLogger().Info("Persisted message.")
	Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)

	// The file stream is always JSON regardless of the console format.
	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "Persisted message.", entry["msg"])
}

func TestInitializeIsIdempotent(t *testing.T) {
	sink := initTestLogger(t, config.LoggerConfig{
		Level: "info", Format: "json", ServiceName: "first",
	})

	// A second call must not replace the configured logger.
	Initialize(config.LoggerConfig{
		Level: "debug", Format: "console", ServiceName: "second",
	}, zapcore.Lock(&memSink{}))

	GetLogger().Info("still routed to the first sink")
	assert.Contains(t, sink.String(), "still routed to the first sink")
}

func TestGetLoggerBeforeInitialization(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	assert.NotNil(t, GetLogger(), "uninitialized access returns a usable fallback")
	assert.NotPanics(t, Sync)
}
