package logger_test

import (
	"os"
	"path/filepath"
	"testing"

	"storyteller/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "client.log")

	log, err := logger.New(logger.Config{Level: "debug", Encoding: "json", OutputPath: out})
	require.NoError(t, err)

	log.Debug("hello")
	_ = log.Sync()

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"logger":"storyteller"`)
	assert.Contains(t, string(data), `"level":"DEBUG"`)
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	out := filepath.Join(t.TempDir(), "client.log")

	log, err := logger.New(logger.Config{Level: "loud", Encoding: "json", OutputPath: out})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("shown")
	_ = log.Sync()

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestNew_InitialFieldsOnEveryEntry(t *testing.T) {
	out := filepath.Join(t.TempDir(), "client.log")

	log, err := logger.New(logger.Config{
		Level:      "info",
		Encoding:   "json",
		OutputPath: out,
		Fields:     map[string]any{"scope": "app-test"},
	})
	require.NoError(t, err)

	log.Named("feed").Info("opened")
	_ = log.Sync()

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scope":"app-test"`)
	assert.Contains(t, string(data), `"logger":"storyteller.feed"`)
}

func TestNew_LevelOffWritesNothing(t *testing.T) {
	out := filepath.Join(t.TempDir(), "client.log")

	log, err := logger.New(logger.Config{Level: " OFF ", Encoding: "json", OutputPath: out})
	require.NoError(t, err)

	log.Error("dropped")
	_ = log.Sync()

	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err), "no output file is opened when logging is off")
}
