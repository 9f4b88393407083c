package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/ciscofetch/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.App.DevicePath = filepath.Join(t.TempDir(), "devices")
	cfg.App.SSHConfig = ""
	return cfg
}

func TestNewDefaults(t *testing.T) {
	a, err := New(testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Orchestrator)
	assert.NotNil(t, a.Metrics)
	assert.Nil(t, a.History, "未配置历史库")
	assert.Equal(t, a.Store, a.Fetch.Store())
}

func TestNewWithHistory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "db", "history.db")

	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.History)
	assert.NoError(t, a.History.Health())
}

func TestNewInvalidMirror(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Minio.Host = "127.0.0.1"
	cfg.Storage.Minio.Port = 9000

	_, err := New(cfg)
	require.Error(t, err, "缺少 bucket")
	assert.Contains(t, err.Error(), "minio")
}

// TestNewUnreachableNats 事件服务不可达时仍可运行
func TestNewUnreachableNats(t *testing.T) {
	cfg := testConfig(t)
	cfg.Events.NatsURL = "nats://127.0.0.1:1"

	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.publisher)
}
