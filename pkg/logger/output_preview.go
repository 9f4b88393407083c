package logger

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Preview 命令输出的首尾若干行
type Preview struct {
	Head  []string `json:"head"`
	Tail  []string `json:"tail,omitempty"`
	Lines int      `json:"lines"`
}

// NewPreview 提取输出首尾各 n 行；总行数不超过 n 时只填 Head
func NewPreview(output string, n int) Preview {
	if n <= 0 {
		n = 3
	}
	output = strings.ReplaceAll(output, "\r\n", "\n")
	output = strings.ReplaceAll(output, "\r", "\n")
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return Preview{}
	}
	lines := strings.Split(output, "\n")
	p := Preview{Lines: len(lines)}
	if len(lines) <= n {
		p.Head = lines
		return p
	}
	p.Head = lines[:n]
	tail := n
	if len(lines)-n < tail {
		tail = len(lines) - n
	}
	p.Tail = lines[len(lines)-tail:]
	return p
}

func (p Preview) String() string {
	if p.Lines == 0 {
		return "(no output)"
	}
	s := strings.Join(p.Head, " ⟩ ")
	if len(p.Tail) > 0 {
		s += " … " + strings.Join(p.Tail, " ⟩ ")
	}
	return s
}

// DebugCommandOutput 在 debug 级别记录命令输出的首尾行
func DebugCommandOutput(host, command, output string) {
	if !GetLogger().IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	WithFields(logrus.Fields{"host": host, "command": command}).
		Debugf("output: %s", NewPreview(output, 3))
}
