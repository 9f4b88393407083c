package credential

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"
	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/ciscofetch/internal/inventory"
	"github.com/sshcollectorpro/ciscofetch/pkg/logger"
)

const (
	MsgMissingUser = "missing username"
	MsgMissingPass = "missing password or key"
)

// Overrides 命令行提供的凭据覆盖
type Overrides struct {
	User    string
	Pass    string
	KeyFile string
}

// Credentials 单台设备的最终凭据
type Credentials struct {
	User     string   `json:"user"`
	Pass     string   `json:"-"`
	KeyFile  string   `json:"key_file,omitempty"`
	HostName string   `json:"hostname,omitempty"`
	Port     int      `json:"port,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// Err 将累积的问题合并为一个 *Error；无问题时返回 nil
func (c Credentials) Err() error {
	if len(c.Errors) == 0 {
		return nil
	}
	return &Error{Problems: append([]string(nil), c.Errors...)}
}

// HasUser 是否解析到了用户名
func (c Credentials) HasUser() bool { return c.User != "" }

// Error 凭据错误，保留全部问题
type Error struct {
	Problems []string
}

func (e *Error) Error() string { return strings.Join(e.Problems, "; ") }

// Resolver 合并命令行与用户 SSH 客户端配置；清单中的 user/pass 不参与解析
type Resolver struct {
	sshConfig *ssh_config.Config
	path      string
}

// NewResolver 读取用户 SSH 客户端配置；文件不存在视为没有额外来源
func NewResolver(sshConfigPath string) *Resolver {
	r := &Resolver{path: sshConfigPath}
	if sshConfigPath == "" {
		return r
	}
	f, err := os.Open(sshConfigPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WithField("file", sshConfigPath).Warnf("ssh config unreadable: %v", err)
		}
		return r
	}
	defer f.Close()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		logger.WithField("file", sshConfigPath).Warnf("ssh config parse failed: %v", err)
		return r
	}
	r.sshConfig = cfg
	return r
}

// Resolve 按优先级计算凭据，所有缺失项累积到 Errors 而不中断
func (r *Resolver) Resolve(device inventory.Device, o Overrides) Credentials {
	host := device.Host
	out := Credentials{Port: device.Port}

	// 用户名：命令行 > SSH 配置
	switch {
	case o.User != "":
		out.User = o.User
	case r.lookup(host, "User") != "":
		out.User = r.lookup(host, "User")
	default:
		out.Errors = append(out.Errors, MsgMissingUser)
	}

	// 密钥：命令行 > SSH 配置 IdentityFile
	switch {
	case o.KeyFile != "":
		out.KeyFile = expandHome(o.KeyFile)
	case r.lookup(host, "IdentityFile") != "":
		out.KeyFile = expandHome(r.lookup(host, "IdentityFile"))
	}

	// 密码：仅命令行；没有密码也没有密钥时记录错误
	out.Pass = o.Pass
	if out.Pass == "" && out.KeyFile == "" {
		out.Errors = append(out.Errors, MsgMissingPass)
	}

	out.HostName = r.lookup(host, "HostName")
	if out.Port == 0 {
		if p, err := strconv.Atoi(r.lookup(host, "Port")); err == nil && p > 0 {
			out.Port = p
		}
	}

	if len(out.Errors) > 0 {
		logger.WithFields(logrus.Fields{"host": host, "errors": out.Errors}).Debug("credential problems")
	}
	return out
}

// lookup 读取 SSH 配置项，Match 等不支持的指令按未配置处理
func (r *Resolver) lookup(host, key string) (val string) {
	if r == nil || r.sshConfig == nil {
		return ""
	}
	defer func() {
		if rec := recover(); rec != nil {
			logger.WithField("file", r.path).Debugf("ssh config lookup %s: %v", key, rec)
			val = ""
		}
	}()
	v, err := r.sshConfig.Get(host, key)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(v)
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}

// String 日志友好输出，不包含密码
func (c Credentials) String() string {
	return fmt.Sprintf("user=%q key=%q errors=%v", c.User, c.KeyFile, c.Errors)
}
