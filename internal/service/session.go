package service

import (
	"context"

	"github.com/sshcollectorpro/ciscofetch/internal/config"
	"github.com/sshcollectorpro/ciscofetch/pkg/ssh"
)

// Session 工作流使用的远端会话
type Session interface {
	Connect(ctx context.Context, info *ssh.ConnectionInfo) error
	Run(ctx context.Context, commands []string) ([]ssh.CommandResult, error)
	Download(ctx context.Context, remote, localPath string) (string, error)
	Close() error
}

// SessionFactory 每次工作流调用创建一个新会话
type SessionFactory func() Session

// NewSSHSessionFactory 按应用配置创建 SSH 会话，所有会话共享同一个 known_hosts 存储
func NewSSHSessionFactory(cfg *config.Config) SessionFactory {
	sc := ssh.DefaultConfig()
	if cfg.SSH.ConnectTimeout > 0 {
		sc.Timeout = cfg.SSH.ConnectTimeout
	}
	if cfg.SSH.CommandTimeout > 0 {
		sc.CommandTimeout = cfg.SSH.CommandTimeout
	}
	if cfg.SSH.PollInterval > 0 {
		sc.PollInterval = cfg.SSH.PollInterval
	}
	if cfg.SSH.MaxPollInterval > 0 {
		sc.MaxPollInterval = cfg.SSH.MaxPollInterval
	}
	if cfg.SSH.QuietAfter > 0 {
		sc.QuietAfter = cfg.SSH.QuietAfter
	}
	sc.HostKeys = ssh.NewHostKeyStore(cfg.App.KnownHosts, cfg.SSH.HostKeyPolicy)

	return func() Session { return ssh.NewSession(sc) }
}
