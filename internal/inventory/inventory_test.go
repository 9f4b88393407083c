package inventory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFile() *File {
	return &File{Devices: []Device{
		{Host: "edge1", Groups: []string{"dc1", "cisco"}},
		{Host: "edge2", Groups: []string{"dc2", "cisco"}},
		{Host: "core9", Groups: []string{"dc2"}, User: "netops"},
	}}
}

func hostsOf(ds []Device) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Host)
	}
	return out
}

// TestResolveExplicitOnly 仅显式主机：原样返回且不带凭据
func TestResolveExplicitOnly(t *testing.T) {
	got := Resolve([]string{"coreA", "coreB"}, nil, nil)
	assert.Equal(t, []Device{{Host: "coreA"}, {Host: "coreB"}}, got)
}

// TestResolveGroupsAreAdditive 分组过滤只作用于清单设备，显式主机始终在前
func TestResolveGroupsAreAdditive(t *testing.T) {
	got := Resolve([]string{"lab1", "lab2"}, sampleFile(), []string{"dc2"})
	assert.Equal(t, []string{"lab1", "lab2", "edge2", "core9"}, hostsOf(got))
}

func TestResolveWholeFileWithoutGroups(t *testing.T) {
	got := Resolve(nil, sampleFile(), nil)
	assert.Equal(t, []string{"edge1", "edge2", "core9"}, hostsOf(got))
}

func TestResolveGroupNoMatch(t *testing.T) {
	got := Resolve([]string{"lab1"}, sampleFile(), []string{"nowhere"})
	assert.Equal(t, []string{"lab1"}, hostsOf(got))
}

// TestResolveDedupKeepsFirstPosition 重复主机保留首个位置并合并清单字段
func TestResolveDedupKeepsFirstPosition(t *testing.T) {
	got := Resolve([]string{"core9", "core9"}, sampleFile(), nil)
	require.Equal(t, []string{"core9", "edge1", "edge2"}, hostsOf(got))
	assert.Equal(t, "netops", got[0].User)
	assert.Equal(t, []string{"dc2"}, got[0].Groups)
}

func TestResolveMissingHostMarked(t *testing.T) {
	f := &File{Devices: []Device{{Host: "  "}, {Host: "ok"}}}
	got := Resolve(nil, f, nil)
	require.Len(t, got, 2)
	assert.Equal(t, "missing host", got[0].Error)
	assert.Empty(t, got[1].Error)
}

// TestResolveDoesNotAliasFile 解析结果不应修改源清单
func TestResolveDoesNotAliasFile(t *testing.T) {
	f := sampleFile()
	got := Resolve(nil, f, nil)
	got[0].Groups[0] = "mutated"
	assert.Equal(t, "dc1", f.Devices[0].Groups[0])
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.json")
	content := `{"devices": [{"host": "r1", "user": "", "pass": "", "groups": ["dc1"], "compliance": ["all"]}]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	f, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, f.Devices, 1)
	assert.Equal(t, "r1", f.Devices[0].Host)
	assert.Equal(t, []string{"all"}, f.Devices[0].Compliance)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	var invErr *Error
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, "failed to read device file", invErr.Error())

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err = LoadFile(path)
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, "failed to parse device file", invErr.Msg)
}
