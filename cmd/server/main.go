package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sshcollectorpro/ciscofetch/api/router"
	"github.com/sshcollectorpro/ciscofetch/internal/app"
	"github.com/sshcollectorpro/ciscofetch/internal/config"
	"github.com/sshcollectorpro/ciscofetch/pkg/logger"
	"github.com/sshcollectorpro/ciscofetch/simulate"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:          "ciscofetch-server",
	Short:        "HTTP API for running ciscofetch workflows",
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(configFile)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "app.json", "app config file (empty for defaults)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initLogger(cfg *config.Config) error {
	return logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
}

func serve(path string) error {
	// 加载配置
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	// 初始化日志
	if err := initLogger(cfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"version":    router.Version,
		"concurrent": cfg.Collector.Concurrent,
	}).Info("Starting ciscofetch server")

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// 启动模拟设备（可选）
	if cfg.Server.SimulateFile != "" {
		sc, err := simulate.LoadConfig(cfg.Server.SimulateFile)
		if err != nil {
			logger.Warnf("Simulate: failed to load %s: %v", cfg.Server.SimulateFile, err)
		} else if sim, err := simulate.Start(sc.Listen, sc); err != nil {
			logger.Warnf("Simulate: failed to start: %v", err)
		} else {
			defer sim.Stop()
			logger.Infof("Simulate: device %s listening on %s", sc.Hostname, sim.Addr())
		}
	}

	// 创建HTTP服务器
	server := &http.Server{
		Addr:           cfg.GetServerAddr(),
		Handler:        router.SetupRouter(a),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 配置文件监听：仅热更新日志设置，其余配置需重启生效
	if path != "" {
		err := config.Watch(ctx, path, func(newCfg *config.Config) {
			if err := initLogger(newCfg); err != nil {
				logger.Warnf("Config reload: logger init failed: %v", err)
				return
			}
			logger.Info("Config reloaded")
		}, func(err error) {
			logger.Warnf("Config reload failed: %v", err)
		})
		if err != nil {
			logger.Warnf("Config watch init failed: %v", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on %s (mode %s)", server.Addr, cfg.Server.Mode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Server shutting down...")

	// 优雅关闭服务器
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
		return err
	}
	logger.Info("Server shutdown complete")
	return nil
}
