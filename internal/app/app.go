package app

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/ciscofetch/internal/artifact"
	"github.com/sshcollectorpro/ciscofetch/internal/config"
	"github.com/sshcollectorpro/ciscofetch/internal/credential"
	"github.com/sshcollectorpro/ciscofetch/internal/database"
	"github.com/sshcollectorpro/ciscofetch/internal/events"
	"github.com/sshcollectorpro/ciscofetch/internal/metrics"
	"github.com/sshcollectorpro/ciscofetch/internal/service"
	"github.com/sshcollectorpro/ciscofetch/pkg/logger"
)

// App 按配置装配好的运行组件
type App struct {
	Config       *config.Config
	Store        *artifact.Store
	Fetch        *service.FetchService
	Orchestrator *service.Orchestrator
	Metrics      *metrics.Metrics
	// History 未配置 database.sqlite.path 时为 nil
	History *database.DB

	publisher *events.NatsPublisher
}

// Option 装配可选项，测试用来替换会话实现
type Option func(*options)

type options struct {
	fetchOpts []service.Option
}

// WithFetchOptions 追加 FetchService 选项
func WithFetchOptions(opts ...service.Option) Option {
	return func(o *options) { o.fetchOpts = append(o.fetchOpts, opts...) }
}

// New 装配存储、镜像、历史、事件与指标；可选组件未配置时跳过
func New(cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		Config:  cfg,
		Store:   artifact.NewStore(cfg.App.DevicePath),
		Metrics: metrics.New(),
	}

	fetchOpts := []service.Option{service.WithMetrics(a.Metrics)}
	mirror, err := artifact.NewMinioMirror(cfg.Storage.Minio)
	if err != nil {
		return nil, fmt.Errorf("failed to init minio mirror: %w", err)
	}
	if mirror != nil {
		fetchOpts = append(fetchOpts, service.WithMirror(mirror))
		logger.WithFields(logrus.Fields{
			"host":   cfg.Storage.Minio.Host,
			"bucket": cfg.Storage.Minio.Bucket,
		}).Info("Artifact mirror enabled")
	}
	fetchOpts = append(fetchOpts, o.fetchOpts...)
	a.Fetch = service.NewFetchService(cfg, a.Store, fetchOpts...)

	orchOpts := []service.OrchestratorOption{service.WithRunMetrics(a.Metrics)}
	if cfg.Database.SQLite.Path != "" {
		db, err := database.OpenSQLite(cfg.Database.SQLite)
		if err != nil {
			return nil, err
		}
		a.History = db
		orchOpts = append(orchOpts, service.WithHistory(db))
	}
	if cfg.Events.NatsURL != "" {
		p, err := events.NewNatsPublisher(cfg.Events.NatsURL)
		if err != nil {
			// 事件只是附加输出，连接失败不阻止运行
			logger.WithField("url", cfg.Events.NatsURL).Warnf("Events disabled: %v", err)
		} else {
			a.publisher = p
			orchOpts = append(orchOpts, service.WithPublisher(p))
		}
	}

	a.Orchestrator = service.NewOrchestrator(cfg, a.Fetch, credential.NewResolver(cfg.App.SSHConfig), orchOpts...)
	return a, nil
}

// Close 释放历史数据库与事件连接
func (a *App) Close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			logger.Warnf("Failed to close history database: %v", err)
		}
	}
}
