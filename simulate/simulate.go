// Package simulate 提供一个进程内的网络设备 SSH 模拟器：
// 交互式 shell 按命令表回显输出，sftp 子系统提供只读的配置文件。
package simulate

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/crypto/ssh"

	"github.com/sshcollectorpro/ciscofetch/pkg/logger"
)

// Config 模拟设备配置
type Config struct {
	Hostname string `mapstructure:"hostname"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// Banner 打开 shell 时先于提示符输出
	Banner string `mapstructure:"banner"`
	// Commands 命令到输出的映射
	Commands map[string]string `mapstructure:"commands"`
	// Files sftp 可读取的文件，键为远端路径
	Files map[string]string `mapstructure:"files"`
	// Silent 这些命令不产生任何输出，用于模拟设备无响应
	Silent []string `mapstructure:"silent"`
	// Latency 每条命令输出前的延迟
	Latency time.Duration `mapstructure:"latency"`
	Listen  string        `mapstructure:"listen"`
	// HostKeyFile 持久化主机密钥，为空时每次启动生成新密钥
	HostKeyFile string `mapstructure:"host_key_file"`
}

// LoadConfig 读取模拟设备配置文件（yaml 或 json）
func LoadConfig(file string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(file)
	v.SetDefault("hostname", "Router")
	v.SetDefault("listen", "127.0.0.1:2222")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read simulate config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal simulate config: %w", err)
	}
	return &cfg, nil
}

// Server 运行中的模拟设备
type Server struct {
	cfg      *Config
	listener net.Listener
	hostKey  ssh.Signer

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Start 在 addr 上启动模拟设备；addr 端口为 0 时随机分配
func Start(addr string, cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "Router"
	}
	signer, err := hostSigner(cfg.HostKeyFile)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := &Server{cfg: cfg, listener: ln, hostKey: signer, conns: make(map[net.Conn]struct{})}
	s.wg.Add(1)
	go s.acceptLoop()
	logger.WithFields(logrus.Fields{"addr": ln.Addr().String(), "hostname": cfg.Hostname}).Debug("Simulate: listener started")
	return s, nil
}

// hostSigner 读取持久化的主机密钥；文件不存在时生成并写入
func hostSigner(file string) (ssh.Signer, error) {
	if file != "" {
		if bs, err := os.ReadFile(file); err == nil {
			signer, err := ssh.ParsePrivateKey(bs)
			if err != nil {
				return nil, fmt.Errorf("failed to parse host key %s: %w", file, err)
			}
			return signer, nil
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read host key: %w", err)
		}
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	if file != "" {
		block, err := ssh.MarshalPrivateKey(priv, "simulate")
		if err != nil {
			return nil, fmt.Errorf("failed to encode host key: %w", err)
		}
		if err := os.WriteFile(file, pem.EncodeToMemory(block), 0o600); err != nil {
			return nil, fmt.Errorf("failed to write host key: %w", err)
		}
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to create host key signer: %w", err)
	}
	return signer, nil
}

// Addr 实际监听地址
func (s *Server) Addr() string { return s.listener.Addr().String() }

// HostKey 模拟设备的主机公钥
func (s *Server) HostKey() ssh.PublicKey { return s.hostKey.PublicKey() }

// Stop 关闭监听与所有连接并等待处理协程退出
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	_ = s.listener.Close()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// listener closed
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConn(c)
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
		}(conn)
	}
}

func (s *Server) checkPassword(user, pass string) bool {
	if s.cfg.Username != "" && user != s.cfg.Username {
		return false
	}
	return pass == s.cfg.Password
}

func (s *Server) handleConn(nc net.Conn) {
	defer nc.Close()
	srvCfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if s.checkPassword(meta.User(), string(password)) {
				return nil, nil
			}
			return nil, fmt.Errorf("access denied")
		},
		KeyboardInteractiveCallback: func(meta ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := challenge(meta.User(), "Authentication", []string{"Password:"}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) > 0 && s.checkPassword(meta.User(), answers[0]) {
				return nil, nil
			}
			return nil, fmt.Errorf("access denied")
		},
	}
	srvCfg.AddHostKey(s.hostKey)

	conn, chans, reqs, err := ssh.NewServerConn(nc, srvCfg)
	if err != nil {
		logger.WithField("remote", nc.RemoteAddr().String()).Debugf("Simulate: handshake failed: %v", err)
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	var wg sync.WaitGroup
	for ch := range chans {
		if ch.ChannelType() != "session" {
			ch.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := ch.Accept()
		if err != nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleSession(channel, requests)
		}()
	}
	wg.Wait()
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()
	for req := range requests {
		switch req.Type {
		case "pty-req", "env":
			req.Reply(true, nil)
		case "shell":
			req.Reply(true, nil)
			go ssh.DiscardRequests(requests)
			s.runShell(channel)
			sendExitStatus(channel)
			return
		case "subsystem":
			if subsystemName(req.Payload) != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go ssh.DiscardRequests(requests)
			s.serveSFTP(channel)
			return
		default:
			req.Reply(false, nil)
		}
	}
}

func subsystemName(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := binary.BigEndian.Uint32(payload[:4])
	if int(n) > len(payload)-4 {
		return ""
	}
	return string(payload[4 : 4+n])
}

func sendExitStatus(channel ssh.Channel) {
	status := make([]byte, 4)
	_, _ = channel.SendRequest("exit-status", false, status)
}

func (s *Server) runShell(channel ssh.Channel) {
	prompt := s.cfg.Hostname + "#"
	if s.cfg.Banner != "" {
		channel.Write([]byte(ensureCRLF(s.cfg.Banner)))
	}
	channel.Write([]byte(prompt))

	reader := bufio.NewReader(channel)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			if err != io.EOF {
				logger.Debugf("Simulate: session read error: %v", err)
			}
			return
		}
		cmd := strings.TrimSpace(strings.ReplaceAll(line, "\r", ""))
		if cmd == "" {
			channel.Write([]byte("\r\n" + prompt))
			continue
		}
		if equalAny(cmd, "exit", "quit", "logout") {
			return
		}
		if s.isSilent(cmd) {
			continue
		}
		if s.cfg.Latency > 0 {
			time.Sleep(s.cfg.Latency)
		}
		out, ok := s.cfg.Commands[cmd]
		if !ok {
			out = "% Invalid input detected at '^' marker.\n"
		}
		channel.Write([]byte(cmd + "\r\n" + ensureCRLF(out) + prompt))
	}
}

func (s *Server) isSilent(cmd string) bool {
	for _, c := range s.cfg.Silent {
		if c == cmd {
			return true
		}
	}
	return false
}

func (s *Server) serveSFTP(channel ssh.Channel) {
	fs := newMemFS(s.cfg.Files)
	server := sftp.NewRequestServer(channel, sftp.Handlers{
		FileGet:  fs,
		FilePut:  fs,
		FileCmd:  fs,
		FileList: fs,
	})
	if err := server.Serve(); err != nil && err != io.EOF {
		logger.Debugf("Simulate: sftp serve ended: %v", err)
	}
	server.Close()
}

// memFS 只读的内存文件系统
type memFS struct {
	files map[string]string
}

func newMemFS(files map[string]string) *memFS {
	m := &memFS{files: make(map[string]string, len(files))}
	for name, content := range files {
		m.files[cleanPath(name)] = content
	}
	return m
}

func cleanPath(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}

func (m *memFS) Fileread(r *sftp.Request) (io.ReaderAt, error) {
	content, ok := m.files[cleanPath(r.Filepath)]
	if !ok {
		return nil, os.ErrNotExist
	}
	return strings.NewReader(content), nil
}

func (m *memFS) Filewrite(r *sftp.Request) (io.WriterAt, error) {
	return nil, sftp.ErrSSHFxPermissionDenied
}

func (m *memFS) Filecmd(r *sftp.Request) error {
	return sftp.ErrSSHFxOpUnsupported
}

func (m *memFS) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	switch r.Method {
	case "List":
		names := make([]string, 0, len(m.files))
		for name := range m.files {
			names = append(names, name)
		}
		sort.Strings(names)
		list := make(listerAt, 0, len(names))
		for _, name := range names {
			list = append(list, memFile{name: path.Base(name), size: int64(len(m.files[name]))})
		}
		return list, nil
	case "Stat":
		p := cleanPath(r.Filepath)
		if p == "/" {
			return listerAt{memFile{name: "/", dir: true}}, nil
		}
		content, ok := m.files[p]
		if !ok {
			return nil, os.ErrNotExist
		}
		return listerAt{memFile{name: path.Base(p), size: int64(len(content))}}, nil
	}
	return nil, sftp.ErrSSHFxOpUnsupported
}

type listerAt []os.FileInfo

func (l listerAt) ListAt(ls []os.FileInfo, offset int64) (int, error) {
	if offset >= int64(len(l)) {
		return 0, io.EOF
	}
	n := copy(ls, l[offset:])
	if n < len(ls) {
		return n, io.EOF
	}
	return n, nil
}

type memFile struct {
	name string
	size int64
	dir  bool
}

func (f memFile) Name() string { return f.name }
func (f memFile) Size() int64  { return f.size }
func (f memFile) Mode() os.FileMode {
	if f.dir {
		return os.ModeDir | 0o555
	}
	return 0o444
}
func (f memFile) ModTime() time.Time { return time.Time{} }
func (f memFile) IsDir() bool        { return f.dir }
func (f memFile) Sys() interface{}   { return nil }

func ensureCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "\r\n")
	if !strings.HasSuffix(s, "\r\n") {
		s += "\r\n"
	}
	return s
}

func equalAny(s string, opts ...string) bool {
	for _, o := range opts {
		if strings.EqualFold(strings.TrimSpace(s), o) {
			return true
		}
	}
	return false
}
