package artifact

import (
	"strings"

	"github.com/sshcollectorpro/ciscofetch/internal/config"
)

// ApplyLineFilter 移除命中前缀或包含规则的行，例如分页提示；返回过滤后的内容与移除的行数
func ApplyLineFilter(f config.OutputFilterConfig, s string) (string, int) {
	if s == "" || (len(f.Prefixes) == 0 && len(f.Contains) == 0) {
		return s, 0
	}
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, ln := range lines {
		if !matchLine(f, ln) {
			out = append(out, ln)
		}
	}
	if len(out) == len(lines) {
		return s, 0
	}
	return strings.Join(out, "\n"), len(lines) - len(out)
}

func matchLine(f config.OutputFilterConfig, ln string) bool {
	cmp := ln
	if f.TrimSpace {
		cmp = strings.TrimSpace(cmp)
	}
	if f.CaseInsensitive {
		cmp = strings.ToLower(cmp)
	}
	norm := func(p string) string {
		if f.CaseInsensitive {
			return strings.ToLower(p)
		}
		return p
	}
	for _, p := range f.Prefixes {
		if strings.HasPrefix(cmp, norm(p)) {
			return true
		}
	}
	for _, c := range f.Contains {
		if strings.Contains(cmp, norm(c)) {
			return true
		}
	}
	return false
}
