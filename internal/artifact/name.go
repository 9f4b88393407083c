package artifact

import (
	"errors"
	"fmt"
)

// Name 已知的设备制品
type Name string

const (
	RunningConfig Name = "running-config"
	StartupConfig Name = "startup-config"
	ShowTech      Name = "show-tech"
)

// ErrUnknownAlias 别名不在 run/start/tech 之内
var ErrUnknownAlias = errors.New("unknown artifact alias")

var aliases = map[string]Name{
	"run":   RunningConfig,
	"start": StartupConfig,
	"tech":  ShowTech,
}

// Aliases 命令行可用的别名，顺序固定
func Aliases() []string { return []string{"run", "start", "tech"} }

// Resolve 将别名映射为制品名，大小写敏感
func Resolve(alias string) (Name, error) {
	if n, ok := aliases[alias]; ok {
		return n, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAlias, alias)
}

// IsFile 是否通过文件传输获取（show-tech 需要执行命令）
func (n Name) IsFile() bool { return n == RunningConfig || n == StartupConfig }
