package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sshcollectorpro/ciscofetch/internal/artifact"
	"github.com/sshcollectorpro/ciscofetch/internal/config"
	"github.com/sshcollectorpro/ciscofetch/internal/credential"
	"github.com/sshcollectorpro/ciscofetch/internal/database"
	"github.com/sshcollectorpro/ciscofetch/internal/events"
	"github.com/sshcollectorpro/ciscofetch/internal/inventory"
	"github.com/sshcollectorpro/ciscofetch/internal/metrics"
	"github.com/sshcollectorpro/ciscofetch/internal/model"
	"github.com/sshcollectorpro/ciscofetch/pkg/logger"
	"github.com/sshcollectorpro/ciscofetch/pkg/ssh"
)

// 设备状态
const (
	StatusSuccess = model.StatusSuccess
	StatusFailed  = model.StatusFailed
	StatusSkipped = model.StatusSkipped
)

// MsgSkippedNoUser 缺少用户名时需要认证的工作流不执行
const MsgSkippedNoUser = "skipped: missing username"

// Request 一次运行的请求
type Request struct {
	Hosts     []string             `json:"hosts,omitempty"`
	Groups    []string             `json:"groups,omitempty"`
	Inventory *inventory.File      `json:"-"`
	Overrides credential.Overrides `json:"-"`
	// Commands 非空时执行 run 工作流
	Commands []string `json:"commands,omitempty"`
	// Download 与 Show 为制品别名（run/start/tech）
	Download []string `json:"download,omitempty"`
	Show     []string `json:"show,omitempty"`
}

// Workflows 请求包含的工作流
func (r Request) Workflows() []string {
	var w []string
	if len(r.Commands) > 0 {
		w = append(w, WorkflowRun)
	}
	if len(r.Download) > 0 {
		w = append(w, WorkflowDownload)
	}
	if len(r.Show) > 0 {
		w = append(w, WorkflowShow)
	}
	return w
}

// RunResult run 工作流结果
type RunResult struct {
	Results []ssh.CommandResult `json:"results"`
	Error   string              `json:"error,omitempty"`
}

// ShowResult 本地制品读取结果
type ShowResult struct {
	Alias   string        `json:"alias"`
	Name    artifact.Name `json:"name,omitempty"`
	Content string        `json:"content,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// DeviceResult 单台设备在本次运行中的结果
type DeviceResult struct {
	Host             string           `json:"host"`
	Platform         string           `json:"platform,omitempty"`
	Status           string           `json:"status"`
	Error            string           `json:"error,omitempty"`
	CredentialErrors []string         `json:"credential_errors,omitempty"`
	Run              *RunResult       `json:"run,omitempty"`
	Download         []ArtifactResult `json:"download,omitempty"`
	Show             []ShowResult     `json:"show,omitempty"`
	Duration         time.Duration    `json:"duration"`
}

// Summary 一次运行的汇总，Order 保持设备解析顺序
type Summary struct {
	RunID     string                   `json:"run_id"`
	Workflows []string                 `json:"workflows"`
	StartTime time.Time                `json:"start_time"`
	EndTime   time.Time                `json:"end_time"`
	Order     []string                 `json:"order"`
	Devices   map[string]*DeviceResult `json:"devices"`
}

// Failed 状态不为 success 的设备数
func (s *Summary) Failed() int {
	n := 0
	for _, d := range s.Devices {
		if d.Status != StatusSuccess {
			n++
		}
	}
	return n
}

// Status 运行整体状态
func (s *Summary) Status() string {
	failed := s.Failed()
	switch {
	case failed == 0:
		return model.StatusSuccess
	case failed == len(s.Devices):
		return model.StatusFailed
	}
	return model.StatusPartial
}

// Orchestrator 遍历设备执行请求的工作流，单台设备的失败不影响其余设备
type Orchestrator struct {
	cfg       *config.Config
	fetch     *FetchService
	resolver  *credential.Resolver
	metrics   *metrics.Metrics
	publisher events.Publisher
	history   *database.DB
}

// OrchestratorOption Orchestrator 可选项
type OrchestratorOption func(*Orchestrator)

// WithRunMetrics 记录运行与设备指标
func WithRunMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithPublisher 每台设备完成后发布事件
func WithPublisher(p events.Publisher) OrchestratorOption {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithHistory 运行结束后写入历史
func WithHistory(db *database.DB) OrchestratorOption {
	return func(o *Orchestrator) { o.history = db }
}

// NewOrchestrator 创建编排器
func NewOrchestrator(cfg *config.Config, fetch *FetchService, resolver *credential.Resolver, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{cfg: cfg, fetch: fetch, resolver: resolver}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute 解析设备并执行请求的工作流；默认逐台顺序执行，
// collector.concurrent 大于 1 时并行
func (o *Orchestrator) Execute(ctx context.Context, req Request) *Summary {
	if o.cfg.SSH.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.SSH.RunTimeout)
		defer cancel()
	}

	devices := inventory.Resolve(req.Hosts, req.Inventory, req.Groups)
	summary := &Summary{
		RunID:     uuid.NewString(),
		Workflows: req.Workflows(),
		StartTime: time.Now(),
		Order:     make([]string, len(devices)),
		Devices:   make(map[string]*DeviceResult, len(devices)),
	}
	for i, d := range devices {
		key := d.Host
		if d.Error != "" && strings.TrimSpace(key) == "" {
			key = fmt.Sprintf("<entry %d>", i+1)
		}
		summary.Order[i] = key
		summary.Devices[key] = &DeviceResult{Host: d.Host, Platform: d.Platform}
	}

	log := logger.WithField("run_id", summary.RunID)
	log.Infof("run started: %d device(s), workflows=%s", len(devices), strings.Join(summary.Workflows, ","))

	var g errgroup.Group
	g.SetLimit(o.concurrency())
	var mu sync.Mutex
	for i, d := range devices {
		d := d // per-iteration copy (go 1.21 loop semantics)
		res := summary.Devices[summary.Order[i]]
		g.Go(func() error {
			o.processDevice(ctx, d, req, res)
			mu.Lock()
			defer mu.Unlock()
			o.afterDevice(ctx, summary.RunID, res)
			return nil
		})
	}
	_ = g.Wait()

	summary.EndTime = time.Now()
	o.metrics.ObserveRun(summary.Status())
	o.saveHistory(summary)
	log.Infof("run finished: %d device(s), %d failed, %s", len(devices), summary.Failed(), summary.EndTime.Sub(summary.StartTime).Round(time.Millisecond))
	return summary
}

func (o *Orchestrator) concurrency() int {
	if o.cfg.Collector.Concurrent < 1 {
		return 1
	}
	return o.cfg.Collector.Concurrent
}

func (o *Orchestrator) processDevice(ctx context.Context, d inventory.Device, req Request, res *DeviceResult) {
	start := time.Now()
	log := logger.WithField("host", d.Host)
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("device panic: %v\n%s", r, debug.Stack())
			res.Status = StatusFailed
			res.Error = fmt.Sprintf("internal error: %v", r)
		}
		res.Duration = time.Since(start)
	}()

	if d.Error != "" {
		res.Status = StatusSkipped
		res.Error = d.Error
		log.Warnf("device skipped: %s", d.Error)
		return
	}

	creds := o.resolver.Resolve(d, req.Overrides)
	res.CredentialErrors = creds.Errors
	if err := creds.Err(); err != nil {
		log.Warnf("credential problems: %v", err)
	}

	failed, skipped := false, false
	authOK := creds.HasUser()

	if len(req.Commands) > 0 {
		if !authOK {
			res.Run = &RunResult{Error: MsgSkippedNoUser}
			skipped = true
		} else {
			results, err := o.fetch.RunCommands(ctx, d, creds, req.Commands)
			res.Run = &RunResult{Results: results}
			if err != nil {
				res.Run.Error = err.Error()
				failed = true
				log.Errorf("run failed: %s", errorDetail(err))
			}
		}
	}

	if len(req.Download) > 0 {
		if !authOK {
			for _, alias := range req.Download {
				res.Download = append(res.Download, ArtifactResult{Alias: alias, Error: MsgSkippedNoUser})
			}
			skipped = true
		} else {
			res.Download = o.fetch.DownloadConfig(ctx, d, creds, req.Download)
			for _, a := range res.Download {
				if a.Err != nil {
					failed = true
					log.Errorf("download %s failed: %s", a.Alias, errorDetail(a.Err))
				}
			}
		}
	}

	for _, alias := range req.Show {
		sr := ShowResult{Alias: alias}
		name, data, err := o.fetch.ShowCachedConfig(d, alias)
		sr.Name = name
		if err != nil {
			sr.Error = err.Error()
			failed = true
		} else {
			sr.Content = string(data)
		}
		res.Show = append(res.Show, sr)
	}

	switch {
	case failed:
		res.Status = StatusFailed
	case skipped:
		res.Status = StatusSkipped
	default:
		res.Status = StatusSuccess
	}
}

// errorDetail 会话错误对外只暴露粗粒度文案，日志中记录完整原因
func errorDetail(err error) string {
	var e *ssh.Error
	if errors.As(err, &e) {
		return e.Detail()
	}
	return err.Error()
}

func (o *Orchestrator) afterDevice(ctx context.Context, runID string, res *DeviceResult) {
	o.metrics.ObserveDevice(res.Status, res.Duration)
	if o.publisher == nil {
		return
	}
	events.Emit(ctx, o.publisher, o.cfg.Events.Subject, events.DeviceEvent{
		RunID:     runID,
		Host:      res.Host,
		Status:    res.Status,
		Error:     firstError(res),
		Artifacts: artifactNames(res),
		Time:      time.Now(),
	})
}

func firstError(res *DeviceResult) string {
	if res.Error != "" {
		return res.Error
	}
	if res.Run != nil && res.Run.Error != "" {
		return res.Run.Error
	}
	for _, a := range res.Download {
		if a.Error != "" {
			return a.Error
		}
	}
	for _, s := range res.Show {
		if s.Error != "" {
			return s.Error
		}
	}
	return ""
}

func artifactNames(res *DeviceResult) []string {
	var names []string
	for _, a := range res.Download {
		if a.Error == "" && a.Name != "" {
			names = append(names, string(a.Name))
		}
	}
	return names
}

func (o *Orchestrator) saveHistory(s *Summary) {
	if o.history == nil {
		return
	}
	run := &model.RunRecord{
		ID:        s.RunID,
		Workflows: strings.Join(s.Workflows, ","),
		Status:    s.Status(),
		Devices:   len(s.Devices),
		Failed:    s.Failed(),
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Duration:  s.EndTime.Sub(s.StartTime).Milliseconds(),
	}
	for _, key := range s.Order {
		d := s.Devices[key]
		rec := model.DeviceRecord{
			Host:             key,
			Platform:         d.Platform,
			Status:           d.Status,
			Error:            firstError(d),
			CredentialErrors: strings.Join(d.CredentialErrors, "; "),
			Duration:         d.Duration.Milliseconds(),
		}
		if d.Run != nil {
			rec.Commands = len(d.Run.Results)
		}
		if names := artifactNames(d); len(names) > 0 {
			bs, _ := json.Marshal(names)
			rec.Artifacts = string(bs)
		}
		run.DeviceRecords = append(run.DeviceRecords, rec)
	}
	if err := o.history.SaveRun(run); err != nil {
		logger.WithFields(logrus.Fields{"run_id": s.RunID}).Warnf("failed to save run history: %v", err)
	}
}
