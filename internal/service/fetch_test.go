package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/sshcollectorpro/ciscofetch/addone/platform/platforms/cisco_ios"
	"github.com/sshcollectorpro/ciscofetch/internal/artifact"
	"github.com/sshcollectorpro/ciscofetch/internal/config"
	"github.com/sshcollectorpro/ciscofetch/internal/credential"
	"github.com/sshcollectorpro/ciscofetch/internal/inventory"
	"github.com/sshcollectorpro/ciscofetch/internal/metrics"
	"github.com/sshcollectorpro/ciscofetch/pkg/ssh"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.App.DevicePath = filepath.Join(t.TempDir(), "devices")
	cfg.App.KnownHosts = filepath.Join(t.TempDir(), "known_hosts")
	cfg.App.SSHConfig = ""
	return cfg
}

func newTestFetch(t *testing.T, fleet *fakeFleet, opts ...Option) *FetchService {
	cfg := testConfig(t)
	opts = append([]Option{WithSessionFactory(fleet.factory())}, opts...)
	return NewFetchService(cfg, artifact.NewStore(cfg.App.DevicePath), opts...)
}

var adminCreds = credential.Credentials{User: "admin", Pass: "cisco"}

// TestRunCommandsConnectFailure 连接失败时不执行命令，但会话仍被关闭
func TestRunCommandsConnectFailure(t *testing.T) {
	fleet := newFakeFleet()
	fleet.down["r1"] = true
	f := newTestFetch(t, fleet)

	results, err := f.RunCommands(context.Background(), inventory.Device{Host: "r1"}, adminCreds, []string{"show version"})
	require.Error(t, err)
	assert.Equal(t, ssh.MsgConnectFailed, err.Error())
	assert.Nil(t, results)
	assert.Empty(t, fleet.commands, "连接失败后不应执行命令")
	assert.Equal(t, 1, fleet.sessions)
	assert.Equal(t, 1, fleet.closed)
}

func TestRunCommands(t *testing.T) {
	fleet := newFakeFleet()
	f := newTestFetch(t, fleet)

	cmds := []string{"terminal length 0", "show version"}
	results, err := f.RunCommands(context.Background(), inventory.Device{Host: "r1"}, adminCreds, cmds)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "show version", results[1].Command)
	assert.Contains(t, results[1].Output, "Cisco IOS Software")
	assert.Equal(t, 1, fleet.closed)
}

func TestConnectionInfoPrecedence(t *testing.T) {
	fleet := newFakeFleet()
	f := newTestFetch(t, fleet)

	creds := credential.Credentials{User: "admin", Pass: "x", HostName: "10.0.0.1", Port: 2222, KeyFile: "/k"}
	_, err := f.RunCommands(context.Background(), inventory.Device{Host: "r1"}, creds, []string{"show version"})
	require.NoError(t, err)

	_, err = f.RunCommands(context.Background(), inventory.Device{Host: "r2"}, adminCreds, []string{"show version"})
	require.NoError(t, err)

	require.Len(t, fleet.connects, 2)
	assert.Equal(t, ssh.ConnectionInfo{Host: "10.0.0.1", Port: 2222, Username: "admin", Password: "x", KeyFile: "/k"}, fleet.connects[0])
	assert.Equal(t, "r2", fleet.connects[1].Host)
	assert.Equal(t, 22, fleet.connects[1].Port, "未配置端口时使用 ssh.port")
}

// TestDownloadConfigPerAlias 每个别名独立会话，单个失败不影响其余
func TestDownloadConfigPerAlias(t *testing.T) {
	fleet := newFakeFleet()
	mirror := &fakeMirror{}
	m := metrics.New()
	f := newTestFetch(t, fleet, WithMirror(mirror), WithMetrics(m))
	device := inventory.Device{Host: "r1", Platform: "cisco_ios"}

	results := f.DownloadConfig(context.Background(), device, adminCreds, []string{"run", "tech", "bogus", "start"})
	require.Len(t, results, 4)

	run := results[0]
	assert.Empty(t, run.Error)
	assert.Equal(t, artifact.RunningConfig, run.Name)
	assert.Equal(t, f.Store().Path("r1", artifact.RunningConfig), run.Path)
	assert.Equal(t, "minio://bucket/r1/running-config", run.Mirror)
	assert.Equal(t, int64(len(fleet.files["running-config"])), run.Size)

	tech := results[1]
	assert.Empty(t, tech.Error)
	bs, err := os.ReadFile(tech.Path)
	require.NoError(t, err)
	assert.Equal(t, "------------------ show version ------------------\r\nCisco IOS Software\r\nR1#", string(bs), "分页提示行被过滤")
	assert.Equal(t, 1, tech.FilteredLines)
	assert.Zero(t, run.FilteredLines)
	assert.Equal(t, [][]string{{"terminal length 0", "show tech"}}, fleet.commands)

	bogus := results[2]
	assert.True(t, errors.Is(bogus.Err, artifact.ErrUnknownAlias))
	assert.Empty(t, bogus.Path)

	start := results[3]
	assert.Equal(t, ssh.MsgDownloadFailed, start.Error)
	assert.Empty(t, start.Path)

	assert.Equal(t, 3, fleet.sessions, "非法别名不创建会话")
	assert.Equal(t, 3, fleet.closed)
	assert.Equal(t, []string{"running-config", "startup-config"}, fleet.downloads)
	assert.Equal(t, []string{"r1/running-config", "r1/show-tech"}, mirror.puts)
}

func TestDownloadConfigConnectFailure(t *testing.T) {
	fleet := newFakeFleet()
	fleet.down["r1"] = true
	f := newTestFetch(t, fleet)

	results := f.DownloadConfig(context.Background(), inventory.Device{Host: "r1"}, adminCreds, []string{"run", "tech"})
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, ssh.MsgConnectFailed, r.Error)
	}
	assert.Empty(t, fleet.downloads)
	assert.Empty(t, fleet.commands)
	assert.Equal(t, 2, fleet.closed)
}

func TestMirrorFailureDoesNotFailDownload(t *testing.T) {
	fleet := newFakeFleet()
	f := newTestFetch(t, fleet, WithMirror(&fakeMirror{err: errors.New("minio down")}))

	results := f.DownloadConfig(context.Background(), inventory.Device{Host: "r1"}, adminCreds, []string{"run"})
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Error)
	assert.Empty(t, results[0].Mirror)
}

// TestDownloadThenShowRoundTrip 下载的制品可按别名原样读回
func TestDownloadThenShowRoundTrip(t *testing.T) {
	fleet := newFakeFleet()
	f := newTestFetch(t, fleet)
	device := inventory.Device{Host: "r1"}

	results := f.DownloadConfig(context.Background(), device, adminCreds, []string{"run"})
	require.Empty(t, results[0].Error)

	sessions := fleet.sessions
	name, data, err := f.ShowCachedConfig(device, "run")
	require.NoError(t, err)
	assert.Equal(t, artifact.RunningConfig, name)
	assert.Equal(t, fleet.files["running-config"], string(data))
	assert.Equal(t, sessions, fleet.sessions, "读取缓存不访问设备")
}

func TestShowCachedConfigMissing(t *testing.T) {
	f := newTestFetch(t, newFakeFleet())

	_, _, err := f.ShowCachedConfig(inventory.Device{Host: "r1"}, "start")
	require.Error(t, err)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
	var ioErr *artifact.Error
	assert.ErrorAs(t, err, &ioErr)

	_, statErr := os.Stat(f.Store().Root())
	assert.True(t, os.IsNotExist(statErr))

	_, _, err = f.ShowCachedConfig(inventory.Device{Host: "r1"}, "startup")
	assert.ErrorIs(t, err, artifact.ErrUnknownAlias)
}
