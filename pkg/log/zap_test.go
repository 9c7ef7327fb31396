package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"DualLane/internal/conf"

	klog "github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewZapLogger_NilConfig(t *testing.T) {
	_, err := NewZapLogger(nil)
	require.Error(t, err)
}

func TestNewZapLogger_InvalidLevel(t *testing.T) {
	_, err := NewZapLogger(&conf.Log{Level: "verbose", Format: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestNewZapLogger_WritesToFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "duallane_test.log")

	zapLog, err := NewZapLogger(&conf.Log{
		Level:      "debug",
		Format:     "json",
		OutputFile: logFile,
		Env:        "production",
	})
	require.NoError(t, err)

	zapLog.Info("routing decision recorded")
	// Sync errors are ignored: the console cores cannot fsync a pipe.
	_ = zapLog.Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "routing decision recorded"))
	assert.True(t, strings.Contains(string(data), `"service":"DualLane"`))
}

func TestNewZapLogger_ConsoleFormat(t *testing.T) {
	zapLog, err := NewZapLogger(&conf.Log{Level: "info", Format: "console", Env: "development"})
	require.NoError(t, err)
	require.NotNil(t, zapLog)
}

func TestKratosAdapter_SanitizesStringFields(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "adapter_test.log")

	zapLog, err := NewZapLogger(&conf.Log{
		Level:      "info",
		Format:     "json",
		OutputFile: logFile,
		Env:        "production",
	})
	require.NoError(t, err)

	adapter := NewKratosAdapter(zapLog)
	require.NotNil(t, adapter)

	err = adapter.Log(klog.LevelInfo,
		"msg", "operator override",
		"api_key", "sk-1234567890abcdefghij",
		"provider", "direct",
	)
	require.NoError(t, err)
	_ = zapLog.Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-1234567890abcdefghij")
	assert.Contains(t, string(data), "direct")
}

func TestKratosAdapter_EmptyAndOddKeyvals(t *testing.T) {
	zapLog, err := NewZapLogger(&conf.Log{Level: "info", Format: "json", Env: "production"})
	require.NoError(t, err)

	adapter := NewKratosAdapter(zapLog)

	assert.NoError(t, adapter.Log(klog.LevelInfo))
	assert.NoError(t, adapter.Log(klog.LevelInfo, "msg", "ok", "dangling"))
}
