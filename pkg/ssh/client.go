package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/sshcollectorpro/ciscofetch/pkg/logger"
)

// State 会话状态
type State int

const (
	StateUnconnected State = iota
	StateConnected
	StateShellOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnected:
		return "connected"
	case StateShellOpen:
		return "shell-open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Config SSH会话配置
type Config struct {
	// Timeout 建立连接（TCP 拨号与 SSH 握手）的上限
	Timeout time.Duration
	// CommandTimeout 单条命令等待首个输出的上限
	CommandTimeout time.Duration
	// BannerTimeout 打开 shell 后等待登录提示的上限
	BannerTimeout time.Duration
	// PollInterval 与 MaxPollInterval 控制等待输出时的指数退避
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	// QuietAfter 输出静默多久视为本条命令输出结束
	QuietAfter time.Duration
	// ExitCommand 最后一条命令后发送的退出命令
	ExitCommand string
	HostKeys    *HostKeyStore
	// UseAgent 存在 SSH_AUTH_SOCK 时追加 ssh-agent 认证
	UseAgent bool
}

// DefaultConfig 默认会话参数
func DefaultConfig() *Config {
	return &Config{
		Timeout:         10 * time.Second,
		CommandTimeout:  30 * time.Second,
		BannerTimeout:   5 * time.Second,
		PollInterval:    250 * time.Millisecond,
		MaxPollInterval: 2 * time.Second,
		QuietAfter:      500 * time.Millisecond,
		ExitCommand:     "exit",
		UseAgent:        true,
	}
}

// ConnectionInfo SSH连接信息
type ConnectionInfo struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
	KeyFile  string `json:"key_file,omitempty"`
}

// Address 拨号地址；Host 已包含端口时直接使用
func (i *ConnectionInfo) Address() string {
	if h, p, err := net.SplitHostPort(i.Host); err == nil {
		return net.JoinHostPort(h, p)
	}
	port := i.Port
	if port <= 0 {
		port = 22
	}
	return net.JoinHostPort(i.Host, strconv.Itoa(port))
}

// CommandResult 命令执行结果
type CommandResult struct {
	Command  string        `json:"command"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
}

// Session 单台设备上的一个已认证交互式 shell。
// 每次工作流调用新建一个，用完即关，不跨设备或跨调用复用。
type Session struct {
	config *Config

	mu      sync.Mutex
	state   State
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	out     *outputBuffer
	banner  string
	host    string
}

// NewSession 创建会话
func NewSession(config *Config) *Session {
	if config == nil {
		config = DefaultConfig()
	}
	return &Session{config: config, state: StateUnconnected}
}

// State 当前状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Banner 打开 shell 后读到的登录输出
func (s *Session) Banner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banner
}

// Connect 建立连接、认证并打开交互式 shell。
// 传输层或认证失败返回 "failed to connect"；shell 打开失败返回
// "failed to initiate channel"，此时连接保持，调用方仍需 Close。
func (s *Session) Connect(ctx context.Context, info *ConnectionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUnconnected {
		return newError(KindConnect, MsgConnectFailed, fmt.Errorf("session is %s", s.state))
	}
	s.host = info.Host
	log := logger.WithFields(logrus.Fields{"host": info.Host, "user": info.Username})

	client, err := s.dial(ctx, info)
	if err != nil {
		log.Debugf("connect failed: %v", err)
		return newError(KindConnect, MsgConnectFailed, err)
	}
	s.client = client
	s.state = StateConnected

	if err := s.openShell(); err != nil {
		log.Debugf("shell failed: %v", err)
		return newError(KindConnect, MsgChannelFailed, err)
	}
	s.state = StateShellOpen

	// 读取登录横幅与首个提示符，避免混入第一条命令的输出
	if err := s.waitReady(ctx, s.config.BannerTimeout); err == nil {
		s.banner, _ = s.drain(ctx)
	}
	log.Debug("shell open")
	return nil
}

func (s *Session) dial(ctx context.Context, info *ConnectionInfo) (*ssh.Client, error) {
	auth, closeAgent, err := s.authMethods(info)
	if err != nil {
		return nil, err
	}
	defer closeAgent()

	sshConfig := &ssh.ClientConfig{
		User:            info.Username,
		Auth:            auth,
		HostKeyCallback: s.config.HostKeys.Callback(),
		Timeout:         s.config.Timeout,
		Config: ssh.Config{
			// 兼容旧版本网络设备的密钥交换与加密算法
			KeyExchanges: []string{
				"curve25519-sha256",
				"curve25519-sha256@libssh.org",
				"ecdh-sha2-nistp256",
				"ecdh-sha2-nistp384",
				"ecdh-sha2-nistp521",
				"diffie-hellman-group14-sha256",
				"diffie-hellman-group14-sha1",
				"diffie-hellman-group1-sha1",
				"diffie-hellman-group-exchange-sha256",
				"diffie-hellman-group-exchange-sha1",
			},
			Ciphers: []string{
				"aes128-gcm@openssh.com",
				"aes256-gcm@openssh.com",
				"chacha20-poly1305@openssh.com",
				"aes128-ctr",
				"aes192-ctr",
				"aes256-ctr",
				"aes128-cbc",
				"3des-cbc",
			},
		},
	}

	address := info.Address()
	dialCtx := ctx
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}
	dialer := &net.Dialer{Timeout: s.config.Timeout}
	conn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	// 握手同样受连接超时与上下文约束
	if s.config.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.config.Timeout))
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, sshConfig)
	stop()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create SSH connection: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (s *Session) authMethods(info *ConnectionInfo) ([]ssh.AuthMethod, func(), error) {
	var methods []ssh.AuthMethod
	closeAgent := func() {}

	// 与 OpenSSH 一致：不可用的密钥文件跳过，继续尝试其他认证方式
	var keyErr error
	if info.KeyFile != "" {
		signer, err := loadSigner(info.KeyFile, info.Password)
		if err != nil {
			keyErr = err
			logger.WithFields(logrus.Fields{"host": info.Host, "key": info.KeyFile}).Warnf("skipping identity file: %v", err)
		} else {
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}

	if s.config.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			if conn, err := net.Dial("unix", sock); err == nil {
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
				closeAgent = func() { _ = conn.Close() }
			}
		}
	}

	if info.Password != "" {
		// 同时尝试 password 与 keyboard-interactive，兼容网络设备
		password := info.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		if keyErr != nil {
			return nil, closeAgent, fmt.Errorf("no authentication method available: %w", keyErr)
		}
		return nil, closeAgent, errors.New("no authentication method available")
	}
	return methods, closeAgent, nil
}

func loadSigner(path, passphrase string) (ssh.Signer, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(bs)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) && passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(bs, []byte(passphrase))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file: %w", err)
	}
	return signer, nil
}

func (s *Session) openShell() error {
	session, err := s.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	var ptyErr error
	for _, term := range []string{"vt100", "xterm", "ansi", "dumb"} {
		if ptyErr = session.RequestPty(term, 80, 24, modes); ptyErr == nil {
			break
		}
	}
	if ptyErr != nil {
		session.Close()
		return fmt.Errorf("failed to request pty: %w", ptyErr)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return fmt.Errorf("failed to get stdin: %w", err)
	}
	out := &outputBuffer{}
	session.Stdout = out
	session.Stderr = out

	if err := session.Shell(); err != nil {
		session.Close()
		return fmt.Errorf("failed to start shell: %w", err)
	}

	s.session = session
	s.stdin = stdin
	s.out = out
	return nil
}

// Run 在已打开的 shell 中按顺序执行命令。
// 每条命令写入后轮询等待首个输出，再读取到输出静默为止；不做提示符匹配，
// 因此输出边界只是尽力而为。全部执行后发送退出命令且不读取其输出。
func (s *Session) Run(ctx context.Context, commands []string) ([]CommandResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateShellOpen {
		return nil, newError(KindSession, MsgChannelNotOpen, nil)
	}

	results := make([]CommandResult, 0, len(commands))
	for _, cmd := range commands {
		start := time.Now()
		if _, err := io.WriteString(s.stdin, cmd+"\n"); err != nil {
			return results, newError(KindSession, MsgCommandFailed, fmt.Errorf("failed to write command: %w", err))
		}

		if err := s.waitReady(ctx, s.config.CommandTimeout); err != nil {
			msg := MsgCommandFailed
			if errors.Is(err, errNoOutput) {
				msg = MsgCommandTimeout
			}
			return results, newError(KindSession, msg, fmt.Errorf("%s: %w", cmd, err))
		}

		output, err := s.drain(ctx)
		results = append(results, CommandResult{Command: cmd, Output: output, Duration: time.Since(start)})
		if err != nil {
			return results, newError(KindSession, MsgCommandFailed, fmt.Errorf("%s: %w", cmd, err))
		}
		logger.DebugCommandOutput(s.host, cmd, output)
	}

	if s.config.ExitCommand != "" {
		_, _ = io.WriteString(s.stdin, s.config.ExitCommand+"\n")
	}
	// 退出后 shell 不再可用，但连接仍可用于文件传输
	s.state = StateConnected
	return results, nil
}

var errNoOutput = errors.New("no output before timeout")

// waitReady 轮询直到有可读输出，间隔从 PollInterval 指数增长到 MaxPollInterval
func (s *Session) waitReady(ctx context.Context, limit time.Duration) error {
	interval := s.config.PollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	maxInterval := s.config.MaxPollInterval
	if maxInterval < interval {
		maxInterval = interval
	}

	var deadline <-chan time.Time
	if limit > 0 {
		timer := time.NewTimer(limit)
		defer timer.Stop()
		deadline = timer.C
	}

	for !s.out.Ready() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return errNoOutput
		case <-time.After(interval):
		}
		interval *= 2
		if interval > maxInterval {
			interval = maxInterval
		}
	}
	return nil
}

// drain 取走当前全部输出，直到连续 QuietAfter 内没有新数据
func (s *Session) drain(ctx context.Context) (string, error) {
	quiet := s.config.QuietAfter
	if quiet <= 0 {
		quiet = 500 * time.Millisecond
	}
	var acc bytes.Buffer
	for {
		acc.Write(s.out.Take())
		select {
		case <-ctx.Done():
			return acc.String(), ctx.Err()
		case <-time.After(quiet):
		}
		if !s.out.Ready() {
			return acc.String(), nil
		}
	}
}

// Download 通过同一连接上的 SFTP 子通道下载 remote 到 localPath。
// 任何失败统一返回 "failed to download file"，底层原因保留在错误链中。
func (s *Session) Download(ctx context.Context, remote, localPath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected && s.state != StateShellOpen {
		return "", newError(KindSession, MsgDownloadFailed, fmt.Errorf("session is %s", s.state))
	}
	if err := s.fetch(ctx, remote, localPath); err != nil {
		logger.WithFields(logrus.Fields{"host": s.host, "remote": remote}).Debugf("download failed: %v", err)
		return "", newError(KindSession, MsgDownloadFailed, err)
	}
	return localPath, nil
}

func (s *Session) fetch(ctx context.Context, remote, localPath string) error {
	client, err := sftp.NewClient(s.client)
	if err != nil {
		return fmt.Errorf("failed to create SFTP client: %w", err)
	}
	defer client.Close()
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	src, err := client.Open(remote)
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer src.Close()

	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(localPath)+".part-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	// 包装为纯 Reader，按顺序读取远端文件
	if _, err := io.Copy(tmp, struct{ io.Reader }{src}); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to copy remote file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}

// Close 释放连接，可重复调用；底层关闭错误被忽略
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	if s.session != nil {
		_ = s.session.Close()
		s.session = nil
	}
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}
	s.state = StateClosed
	return nil
}

// outputBuffer 接收远端输出，供轮询读取
type outputBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Ready 是否有未读取的输出
func (b *outputBuffer) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len() > 0
}

// Take 取走当前全部输出
func (b *outputBuffer) Take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]byte(nil), b.buf.Bytes()...)
	b.buf.Reset()
	return out
}
