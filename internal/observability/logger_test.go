// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/uiprobe/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func initBuffered(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)
	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))
	return &buf
}

func TestInitialize(t *testing.T) {
	t.Run("console format colorizes levels", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "uiprobe",
			Colors:      config.ColorConfig{Info: "green"},
		})
		GetLogger().Named("engine").Info("Scenario started.")
		Sync()

		out := buf.String()
		assert.Contains(t, out, colorGreen+"INFO ")
		assert.Contains(t, out, colorReset)
		assert.Contains(t, out, "uiprobe.engine.")
		assert.Contains(t, out, "Scenario started.")
	})

	t.Run("json format is structured", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "uiprobe"})
		ForRun(GetLogger(), "run-1", "http://localhost").Warn("Viewport restore failed.", zap.String("viewport", "Mobile"))
		Sync()

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "uiprobe", entry["logger"])
		assert.Equal(t, "run-1", entry["run_id"])
		assert.Equal(t, "http://localhost", entry["target"])
		assert.Equal(t, "Mobile", entry["viewport"])
	})

	t.Run("log file receives json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "uiprobe.log")
		initBuffered(t, config.LoggerConfig{Level: "debug", Format: "console", LogFile: path, MaxSize: 1})
		GetLogger().Error("Navigation failed.")
		Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), `"msg":"Navigation failed."`)
	})

	t.Run("only the first call wins", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "First"})
		Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "Second"}, zapcore.AddSync(&bytes.Buffer{}))
		GetLogger().Info("hello")
		GetLogger().Debug("filtered")
		Sync()

		assert.Contains(t, buf.String(), "First")
		assert.NotContains(t, buf.String(), "Second")
		assert.NotContains(t, buf.String(), "filtered")
	})

	t.Run("set level raises verbosity", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "warn", Format: "json"})
		GetLogger().Info("before")
		SetLevel(zapcore.DebugLevel)
		GetLogger().Debug("after")
		Sync()

		assert.NotContains(t, buf.String(), "before")
		assert.Contains(t, buf.String(), "after")
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "chatty", Format: "json"})
		GetLogger().Debug("hidden")
		GetLogger().Info("shown")
		Sync()

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("fallback before initialization", func(t *testing.T) {
		ResetForTest()
		require.NotNil(t, GetLogger())
	})

	t.Run("returns the stored logger", func(t *testing.T) {
		initBuffered(t, config.LoggerConfig{Level: "info"})
		assert.Same(t, globalLogger.Load(), GetLogger())
	})
}
