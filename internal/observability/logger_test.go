// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/screengraph/internal/config"
)

// syncBuffer is a goroutine-safe sink for logger output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) Sync() error { return nil }

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// resetGlobalLogger keeps tests isolated from the process-wide singleton.
func resetGlobalLogger(t *testing.T) {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)
}

func TestInitialize(t *testing.T) {
	t.Run("console logger with colors", func(t *testing.T) {
		resetGlobalLogger(t)
		out := &syncBuffer{}

		Initialize(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "TestService",
			Colors:      config.ColorConfig{Info: "green"},
		}, out)
		GetLogger().Info("This is a test message.")

		output := out.String()
		assert.Contains(t, output, "INFO")
		assert.Contains(t, output, "This is a test message.")
		assert.Contains(t, output, colorGreen)
		assert.Contains(t, output, colorReset)
		assert.Contains(t, output, "TestService.")
	})

	t.Run("json logger", func(t *testing.T) {
		resetGlobalLogger(t)
		out := &syncBuffer{}

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"}, out)
		GetLogger().Warn("This is a JSON message.", zap.String("key", "value"))

		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(out.String()), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "This is a JSON message.", entry["msg"])
		assert.Equal(t, "value", entry["key"])
	})

	t.Run("writes to a log file if configured", func(t *testing.T) {
		resetGlobalLogger(t)
		logPath := filepath.Join(t.TempDir(), "run.log")

		Initialize(config.LoggerConfig{Level: "debug", Format: "json", LogFile: logPath, MaxSize: 1}, &syncBuffer{})
		GetLogger().Error("This should go to the file.")
		Sync()

		content, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
	})

	t.Run("only initializes once", func(t *testing.T) {
		resetGlobalLogger(t)
		out := &syncBuffer{}

		Initialize(config.LoggerConfig{Level: "info", ServiceName: "First"}, out)
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, out)
		second := GetLogger()

		assert.Same(t, first, second)
		second.Info("test")
		assert.Contains(t, out.String(), "First")
		assert.NotContains(t, out.String(), "Second")
	})
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	out := &syncBuffer{}
	logger := NewLogger(config.LoggerConfig{Level: "warn", Format: "json"}, out)

	logger.Info("dropped")
	logger.Warn("kept")

	assert.NotContains(t, out.String(), "dropped")
	assert.Contains(t, out.String(), "kept")
	assert.Contains(t, out.String(), `"logger":"screengraph"`)
}

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	out := &syncBuffer{}
	logger := NewLogger(config.LoggerConfig{Level: "verbose", Format: "json"}, out)

	logger.Debug("debug line")
	logger.Info("info line")

	assert.NotContains(t, out.String(), "debug line")
	assert.Contains(t, out.String(), "info line")
}

func TestForRun(t *testing.T) {
	out := &syncBuffer{}
	logger := ForRun(NewLogger(config.LoggerConfig{Level: "info", Format: "json"}, out), "run-1", "com.example")
	logger.Info("step")

	assert.Contains(t, out.String(), `"run_id":"run-1"`)
	assert.Contains(t, out.String(), `"app_id":"com.example"`)
}

func TestGetLogger(t *testing.T) {
	t.Run("returns a fallback logger if not initialized", func(t *testing.T) {
		resetGlobalLogger(t)
		require.NotNil(t, GetLogger())
	})

	t.Run("returns the global logger after initialization", func(t *testing.T) {
		resetGlobalLogger(t)
		Initialize(config.LoggerConfig{Level: "info", ServiceName: "GlobalTest"}, zapcore.AddSync(&syncBuffer{}))
		assert.Same(t, globalLogger.Load(), GetLogger())
	})
}

func TestNewLogger_ConsoleColorsOnlyConfiguredLevels(t *testing.T) {
	out := &syncBuffer{}
	logger := NewLogger(config.LoggerConfig{
		Level:  "debug",
		Format: "console",
		Colors: config.ColorConfig{Error: "red", Warn: "no-such-color"},
	}, out)

	logger.Warn("plain warning")
	logger.Error("red error")

	// Error entries carry a stack trace on the lines that follow.
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Contains(t, lines[0], "WARN")
	assert.NotContains(t, lines[0], "\x1b[")
	assert.Contains(t, lines[0], "screengraph.")
	assert.Contains(t, lines[1], colorRed+"ERROR"+colorReset)
}
