package service

import (
	"context"
	"errors"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/ciscofetch/addone/platform"
	"github.com/sshcollectorpro/ciscofetch/internal/artifact"
	"github.com/sshcollectorpro/ciscofetch/internal/config"
	"github.com/sshcollectorpro/ciscofetch/internal/credential"
	"github.com/sshcollectorpro/ciscofetch/internal/inventory"
	"github.com/sshcollectorpro/ciscofetch/internal/metrics"
	"github.com/sshcollectorpro/ciscofetch/internal/util"
	"github.com/sshcollectorpro/ciscofetch/pkg/logger"
	"github.com/sshcollectorpro/ciscofetch/pkg/ssh"
)

// 工作流名称
const (
	WorkflowRun      = "run"
	WorkflowDownload = "download"
	WorkflowShow     = "show"
)

// ArtifactResult 单个制品的下载结果
type ArtifactResult struct {
	Alias  string        `json:"alias"`
	Name   artifact.Name `json:"name,omitempty"`
	Path   string        `json:"path,omitempty"`
	Size   int64         `json:"size,omitempty"`
	Mirror string        `json:"mirror,omitempty"`
	Error  string        `json:"error,omitempty"`
	Err    error         `json:"-"`

	// FilteredLines 保存前按 collector.output_filter 移除的行数，仅 show-tech 可能非零
	FilteredLines int `json:"filtered_lines,omitempty"`
}

// FetchService 单台设备上的取数工作流
type FetchService struct {
	cfg        *config.Config
	store      *artifact.Store
	mirror     artifact.Mirror
	metrics    *metrics.Metrics
	newSession SessionFactory
}

// Option FetchService 可选项
type Option func(*FetchService)

// WithMirror 写入成功后镜像到远端存储
func WithMirror(m artifact.Mirror) Option {
	return func(f *FetchService) { f.mirror = m }
}

// WithMetrics 记录工作流指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *FetchService) { f.metrics = m }
}

// WithSessionFactory 替换会话实现
func WithSessionFactory(factory SessionFactory) Option {
	return func(f *FetchService) { f.newSession = factory }
}

// NewFetchService 创建取数服务
func NewFetchService(cfg *config.Config, store *artifact.Store, opts ...Option) *FetchService {
	f := &FetchService{cfg: cfg, store: store}
	for _, opt := range opts {
		opt(f)
	}
	if f.newSession == nil {
		f.newSession = NewSSHSessionFactory(cfg)
	}
	return f
}

// Store 本地制品目录
func (f *FetchService) Store() *artifact.Store { return f.store }

func (f *FetchService) connectionInfo(device inventory.Device, creds credential.Credentials) *ssh.ConnectionInfo {
	host := device.Host
	if creds.HostName != "" {
		host = creds.HostName
	}
	port := creds.Port
	if port == 0 {
		port = f.cfg.SSH.Port
	}
	return &ssh.ConnectionInfo{
		Host:     host,
		Port:     port,
		Username: creds.User,
		Password: creds.Pass,
		KeyFile:  creds.KeyFile,
	}
}

func (f *FetchService) platformDefaults(device inventory.Device) platform.Defaults {
	name := device.Platform
	if name == "" {
		name = f.cfg.Collector.DefaultPlatform
	}
	return platform.Get(name).Defaults()
}

// RunCommands 打开会话执行命令；连接失败时不执行命令，会话总会关闭
func (f *FetchService) RunCommands(ctx context.Context, device inventory.Device, creds credential.Credentials, commands []string) ([]ssh.CommandResult, error) {
	sess := f.newSession()
	defer sess.Close()

	if err := sess.Connect(ctx, f.connectionInfo(device, creds)); err != nil {
		f.metrics.ObserveWorkflow(WorkflowRun, err)
		return nil, err
	}
	results, err := sess.Run(ctx, commands)
	for i := range results {
		results[i].Output = util.EnsureUTF8(results[i].Output)
	}
	f.metrics.ObserveWorkflow(WorkflowRun, err)
	return results, err
}

// DownloadConfig 按别名逐个获取制品，每个制品独立会话，单个失败不影响其余
func (f *FetchService) DownloadConfig(ctx context.Context, device inventory.Device, creds credential.Credentials, aliases []string) []ArtifactResult {
	out := make([]ArtifactResult, 0, len(aliases))
	for _, alias := range aliases {
		res := ArtifactResult{Alias: alias}
		name, err := artifact.Resolve(alias)
		if err == nil {
			res.Name = name
			res.Path, res.FilteredLines, err = f.fetchArtifact(ctx, device, creds, name)
		}
		if err != nil {
			res.Err = err
			res.Error = err.Error()
			res.Path = ""
			res.FilteredLines = 0
		} else {
			if info, statErr := os.Stat(res.Path); statErr == nil {
				res.Size = info.Size()
				f.metrics.ObserveArtifact(string(name), res.Size)
			}
			res.Mirror = f.mirrorArtifact(ctx, device.Host, name, res.Path)
		}
		f.metrics.ObserveWorkflow(WorkflowDownload, err)
		out = append(out, res)
	}
	return out
}

func (f *FetchService) fetchArtifact(ctx context.Context, device inventory.Device, creds credential.Credentials, name artifact.Name) (string, int, error) {
	defaults := f.platformDefaults(device)

	sess := f.newSession()
	defer sess.Close()
	if err := sess.Connect(ctx, f.connectionInfo(device, creds)); err != nil {
		return "", 0, err
	}

	if name == artifact.ShowTech {
		// 设备上不存在该文件，执行命令并保存最后一条命令的输出
		results, err := sess.Run(ctx, defaults.WithPaging(defaults.ShowTechCommand))
		if err != nil {
			return "", 0, err
		}
		if len(results) == 0 {
			return "", 0, errors.New("no output captured")
		}
		content := util.EnsureUTF8(results[len(results)-1].Output)
		// 分页已关闭时输出中不会有分页提示，原样保存；有命中才会改写并记录行数
		content, removed := artifact.ApplyLineFilter(f.cfg.Collector.OutputFilter, content)
		if removed > 0 {
			logger.WithFields(logrus.Fields{"host": device.Host, "artifact": name}).Warnf("removed %d filtered line(s) before saving", removed)
		}
		path, err := f.store.Write(device.Host, name, []byte(content))
		return path, removed, err
	}

	remote := defaults.RunningConfigPath
	if name == artifact.StartupConfig {
		remote = defaults.StartupConfigPath
	}
	if remote == "" {
		remote = string(name)
	}
	var local string
	err := f.store.With(device.Host, name, func(path string) error {
		var err error
		local, err = sess.Download(ctx, remote, path)
		return err
	})
	return local, 0, err
}

func (f *FetchService) mirrorArtifact(ctx context.Context, host string, name artifact.Name, path string) string {
	if f.mirror == nil {
		return ""
	}
	uri, err := f.mirror.Put(ctx, host, name, path)
	if err != nil {
		logger.WithFields(logrus.Fields{"host": host, "artifact": name}).Warnf("artifact mirror failed: %v", err)
		return ""
	}
	return uri
}

// ShowCachedConfig 读取本地缓存的制品，不访问设备。
// 文件不存在时直接返回包装了 artifact.ErrNotFound 的错误，不再尝试读取。
func (f *FetchService) ShowCachedConfig(device inventory.Device, alias string) (artifact.Name, []byte, error) {
	name, err := artifact.Resolve(alias)
	if err != nil {
		f.metrics.ObserveWorkflow(WorkflowShow, err)
		return "", nil, err
	}
	data, err := f.store.Read(device.Host, name)
	f.metrics.ObserveWorkflow(WorkflowShow, err)
	return name, data, err
}
