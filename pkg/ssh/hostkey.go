package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/sshcollectorpro/ciscofetch/pkg/logger"
)

// HostKeyPolicy 主机密钥策略
type HostKeyPolicy string

const (
	// HostKeyAcceptNew 首次见到的主机自动写入 known_hosts，密钥变化则拒绝
	HostKeyAcceptNew HostKeyPolicy = "accept-new"
	// HostKeyStrict 只接受 known_hosts 中已有的密钥
	HostKeyStrict HostKeyPolicy = "strict"
	// HostKeyInsecure 不校验主机密钥
	HostKeyInsecure HostKeyPolicy = "insecure"
)

// ErrNoKnownHosts strict 策略未配置 known_hosts 路径
var ErrNoKnownHosts = errors.New("strict host key policy requires a known_hosts path")

// HostKeyStore 基于 known_hosts 文件的主机密钥校验，多个会话共享同一实例
type HostKeyStore struct {
	path   string
	policy HostKeyPolicy
	mu     sync.Mutex

	warnOnce sync.Once
}

// NewHostKeyStore 创建主机密钥存储；未知策略按 accept-new 处理
func NewHostKeyStore(path string, policy string) *HostKeyStore {
	p := HostKeyPolicy(policy)
	switch p {
	case HostKeyAcceptNew, HostKeyStrict, HostKeyInsecure:
	default:
		p = HostKeyAcceptNew
	}
	return &HostKeyStore{path: path, policy: p}
}

// Policy 当前策略
func (h *HostKeyStore) Policy() HostKeyPolicy { return h.policy }

// Callback 返回握手使用的主机密钥回调
func (h *HostKeyStore) Callback() ssh.HostKeyCallback {
	if h == nil || h.policy == HostKeyInsecure {
		return ssh.InsecureIgnoreHostKey()
	}
	if h.path == "" {
		// strict 没有 known_hosts 无法校验，拒绝连接
		if h.policy == HostKeyStrict {
			return func(hostname string, _ net.Addr, _ ssh.PublicKey) error {
				return fmt.Errorf("host key for %s not verified: %w", hostname, ErrNoKnownHosts)
			}
		}
		h.warnOnce.Do(func() {
			logger.Warnf("known_hosts path not set, host keys are not verified (policy %s)", h.policy)
		})
		return ssh.InsecureIgnoreHostKey()
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		h.mu.Lock()
		defer h.mu.Unlock()

		if err := h.ensureFile(); err != nil {
			return err
		}
		// 每次重新加载，保证并发会话写入的新主机立即可见
		cb, err := knownhosts.New(h.path)
		if err != nil {
			return fmt.Errorf("failed to load known_hosts: %w", err)
		}
		err = cb(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 && h.policy == HostKeyAcceptNew {
			return h.add(hostname, key)
		}
		return err
	}
}

func (h *HostKeyStore) ensureFile() error {
	if _, err := os.Stat(h.path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o700); err != nil {
		return fmt.Errorf("failed to create known_hosts dir: %w", err)
	}
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create known_hosts: %w", err)
	}
	return f.Close()
}

func (h *HostKeyStore) add(hostname string, key ssh.PublicKey) error {
	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts: %w", err)
	}
	defer f.Close()
	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to record host key: %w", err)
	}
	logger.WithField("host", hostname).Infof("added %s host key to %s", key.Type(), h.path)
	return nil
}
