package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/ciscofetch/internal/artifact"
	"github.com/sshcollectorpro/ciscofetch/internal/config"
	"github.com/sshcollectorpro/ciscofetch/internal/credential"
	"github.com/sshcollectorpro/ciscofetch/internal/database"
	"github.com/sshcollectorpro/ciscofetch/internal/events"
	"github.com/sshcollectorpro/ciscofetch/internal/inventory"
	"github.com/sshcollectorpro/ciscofetch/internal/metrics"
	"github.com/sshcollectorpro/ciscofetch/internal/model"
)

type eventSink struct {
	mu       sync.Mutex
	subjects []string
	events   []events.DeviceEvent
}

func (s *eventSink) Publish(ctx context.Context, subject string, payload []byte) error {
	var ev events.DeviceEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects = append(s.subjects, subject)
	s.events = append(s.events, ev)
	return nil
}

func (s *eventSink) Close() {}

func newTestOrchestrator(t *testing.T, fleet *fakeFleet, mutate func(*config.Config), opts ...OrchestratorOption) *Orchestrator {
	t.Helper()
	cfg := testConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	fetch := NewFetchService(cfg, artifact.NewStore(cfg.App.DevicePath), WithSessionFactory(fleet.factory()))
	return NewOrchestrator(cfg, fetch, credential.NewResolver(""), opts...)
}

var cliCreds = credential.Overrides{User: "admin", Pass: "cisco"}

// TestExecuteIsolatesFailures 一台设备失败不影响后续设备，汇总保持顺序
func TestExecuteIsolatesFailures(t *testing.T) {
	fleet := newFakeFleet()
	fleet.down["r1"] = true
	o := newTestOrchestrator(t, fleet, nil)

	s := o.Execute(context.Background(), Request{
		Hosts:     []string{"r1", "r2"},
		Overrides: cliCreds,
		Commands:  []string{"show version"},
	})

	assert.NotEmpty(t, s.RunID)
	assert.Equal(t, []string{"run"}, s.Workflows)
	assert.Equal(t, []string{"r1", "r2"}, s.Order)
	require.Len(t, s.Devices, 2)

	r1 := s.Devices["r1"]
	assert.Equal(t, StatusFailed, r1.Status)
	require.NotNil(t, r1.Run)
	assert.Equal(t, "failed to connect", r1.Run.Error)

	r2 := s.Devices["r2"]
	assert.Equal(t, StatusSuccess, r2.Status)
	require.Len(t, r2.Run.Results, 1)

	assert.Equal(t, 1, s.Failed())
	assert.Equal(t, model.StatusPartial, s.Status())
	assert.Equal(t, 2, fleet.closed)
}

// TestExecuteMissingUserSkipsAuthWorkflows 缺少用户名时只跳过需要认证的工作流
func TestExecuteMissingUserSkipsAuthWorkflows(t *testing.T) {
	fleet := newFakeFleet()
	o := newTestOrchestrator(t, fleet, nil)

	s := o.Execute(context.Background(), Request{
		Hosts:    []string{"r1"},
		Commands: []string{"show version"},
		Download: []string{"run"},
	})

	r1 := s.Devices["r1"]
	assert.Equal(t, StatusSkipped, r1.Status)
	assert.Equal(t, []string{credential.MsgMissingUser, credential.MsgMissingPass}, r1.CredentialErrors)
	assert.Equal(t, MsgSkippedNoUser, r1.Run.Error)
	require.Len(t, r1.Download, 1)
	assert.Equal(t, MsgSkippedNoUser, r1.Download[0].Error)
	assert.Zero(t, fleet.sessions)
}

// TestExecuteMissingPasswordStillAttempts 仅缺密码时仍尝试连接（可能依赖 agent）
func TestExecuteMissingPasswordStillAttempts(t *testing.T) {
	fleet := newFakeFleet()
	o := newTestOrchestrator(t, fleet, nil)

	s := o.Execute(context.Background(), Request{
		Hosts:     []string{"r1"},
		Overrides: credential.Overrides{User: "admin"},
		Commands:  []string{"show version"},
	})
	r1 := s.Devices["r1"]
	assert.Equal(t, StatusSuccess, r1.Status)
	assert.Equal(t, []string{credential.MsgMissingPass}, r1.CredentialErrors)
	assert.Equal(t, 1, fleet.sessions)
}

func TestExecuteInventoryError(t *testing.T) {
	fleet := newFakeFleet()
	o := newTestOrchestrator(t, fleet, nil)

	s := o.Execute(context.Background(), Request{
		Inventory: &inventory.File{Devices: []inventory.Device{{Host: "r1"}, {Host: " "}}},
		Overrides: cliCreds,
		Commands:  []string{"show version"},
		Show:      []string{"run"},
	})

	require.Equal(t, []string{"r1", "<entry 2>"}, s.Order)
	bad := s.Devices["<entry 2>"]
	assert.Equal(t, StatusSkipped, bad.Status)
	assert.Equal(t, "missing host", bad.Error)
	assert.Nil(t, bad.Run)
	assert.Empty(t, bad.Show)
	assert.Equal(t, 1, fleet.sessions)
}

func TestExecuteRecoversPanics(t *testing.T) {
	fleet := newFakeFleet()
	fleet.panicHost = "boom"
	o := newTestOrchestrator(t, fleet, nil)

	s := o.Execute(context.Background(), Request{
		Hosts:     []string{"boom", "r2"},
		Overrides: cliCreds,
		Commands:  []string{"show version"},
	})
	assert.Equal(t, StatusFailed, s.Devices["boom"].Status)
	assert.Contains(t, s.Devices["boom"].Error, "driver exploded")
	assert.Equal(t, StatusSuccess, s.Devices["r2"].Status)
}

// TestExecuteShowOnly 读取缓存不需要凭据也不建立会话
func TestExecuteShowOnly(t *testing.T) {
	fleet := newFakeFleet()
	o := newTestOrchestrator(t, fleet, nil)
	_, err := o.fetch.Store().Write("r1", artifact.StartupConfig, []byte("hostname R1\n"))
	require.NoError(t, err)

	s := o.Execute(context.Background(), Request{
		Hosts: []string{"r1", "r2"},
		Show:  []string{"start"},
	})

	r1 := s.Devices["r1"]
	assert.Equal(t, StatusSuccess, r1.Status)
	require.Len(t, r1.Show, 1)
	assert.Equal(t, "hostname R1\n", r1.Show[0].Content)
	assert.Equal(t, artifact.StartupConfig, r1.Show[0].Name)

	r2 := s.Devices["r2"]
	assert.Equal(t, StatusFailed, r2.Status)
	assert.Contains(t, r2.Show[0].Error, "artifact not found")
	assert.Zero(t, fleet.sessions)
}

func TestExecuteConcurrent(t *testing.T) {
	fleet := newFakeFleet()
	o := newTestOrchestrator(t, fleet, func(c *config.Config) { c.Collector.Concurrent = 4 })

	hosts := []string{"r1", "r2", "r3", "r4", "r5", "r6"}
	s := o.Execute(context.Background(), Request{
		Hosts:     hosts,
		Overrides: cliCreds,
		Download:  []string{"run", "tech"},
	})
	assert.Equal(t, hosts, s.Order)
	assert.Equal(t, 0, s.Failed())
	assert.Equal(t, 12, fleet.sessions)
	assert.Equal(t, 12, fleet.closed)
}

// TestExecuteRecordsHistoryEventsMetrics 运行结束后写入历史、发布事件并更新指标
func TestExecuteRecordsHistoryEventsMetrics(t *testing.T) {
	fleet := newFakeFleet()
	fleet.down["r2"] = true

	db, err := database.OpenSQLite(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "history.db")})
	require.NoError(t, err)
	defer db.Close()
	sink := &eventSink{}
	m := metrics.New()

	o := newTestOrchestrator(t, fleet, func(c *config.Config) { c.Events.Subject = "fleet" },
		WithHistory(db), WithPublisher(sink), WithRunMetrics(m))

	s := o.Execute(context.Background(), Request{
		Hosts:     []string{"r1", "r2"},
		Overrides: cliCreds,
		Download:  []string{"run"},
	})

	run, err := db.GetRun(s.RunID)
	require.NoError(t, err)
	assert.Equal(t, "download", run.Workflows)
	assert.Equal(t, model.StatusPartial, run.Status)
	assert.Equal(t, 1, run.Failed)
	require.Len(t, run.DeviceRecords, 2)
	assert.Equal(t, "r1", run.DeviceRecords[0].Host)
	assert.Equal(t, `["running-config"]`, run.DeviceRecords[0].Artifacts)
	assert.Equal(t, "failed to connect", run.DeviceRecords[1].Error)

	require.Len(t, sink.events, 2)
	assert.Equal(t, []string{"fleet.success", "fleet.failed"}, sink.subjects)
	assert.Equal(t, s.RunID, sink.events[0].RunID)
	assert.Equal(t, []string{"running-config"}, sink.events[0].Artifacts)
}

func TestRequestWorkflows(t *testing.T) {
	assert.Empty(t, Request{}.Workflows())
	assert.Equal(t, []string{"run", "download", "show"}, Request{
		Commands: []string{"x"}, Download: []string{"run"}, Show: []string{"run"},
	}.Workflows())
}
