package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroute/backend/internal/config"
)

func TestNewLogger(t *testing.T) {
	t.Run("输出到标准输出", func(t *testing.T) {
		log, err := NewLogger(Config{Level: "warn"})
		require.NoError(t, err)

		assert.False(t, log.Core().Enabled(-1))
		assert.True(t, log.Core().Enabled(1))
	})

	t.Run("无效级别回退到 info", func(t *testing.T) {
		log, err := NewLogger(Config{Level: "verbose"})
		require.NoError(t, err)

		assert.False(t, log.Core().Enabled(-1))
		assert.True(t, log.Core().Enabled(0))
	})

	t.Run("写入日志文件", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "nested", "mailroute.log")
		log, err := NewLogger(Config{Level: "info", LogFile: file, MaxSize: 1, Service: "mailroute"})
		require.NoError(t, err)

		log.Info("hello")
		_ = log.Sync()

		data, err := os.ReadFile(file)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"message":"hello"`)
		assert.Contains(t, string(data), `"service":"mailroute"`)
	})
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.LogConfig{Level: "debug", File: "/tmp/x.log", MaxSize: 10, MaxBackups: 2, MaxAge: 7}, "smtp")

	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "/tmp/x.log", cfg.LogFile)
	assert.Equal(t, 10, cfg.MaxSize)
	assert.Equal(t, "smtp", cfg.Service)
	assert.True(t, cfg.Compress)
}

func TestNewDevelopmentLogger(t *testing.T) {
	log := NewDevelopmentLogger()
	require.NotNil(t, log)
	assert.True(t, log.Core().Enabled(-1))
}
