package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitConsoleWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Level: "debug", Format: "json", Output: "console", Console: &buf}))
	WithField("host", "r1").Debug("hello")
	assert.Contains(t, buf.String(), `"host":"r1"`)
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

// TestInitDebugFile 调试文件与控制台同时写入
func TestInitDebugFile(t *testing.T) {
	var buf bytes.Buffer
	debugFile := filepath.Join(t.TempDir(), "logs", "app.debug")
	require.NoError(t, Init(Config{Level: "debug", Output: "console", Console: &buf, DebugFile: debugFile, MaxSize: 1}))
	Debugf("command %s", "show version")

	bs, err := os.ReadFile(debugFile)
	require.NoError(t, err)
	assert.Contains(t, string(bs), "command show version")
	assert.Contains(t, buf.String(), "command show version")
}

func TestInitBadLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Level: "loud", Console: &buf}))
	Debug("hidden")
	Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewPreview(t *testing.T) {
	p := NewPreview("a\r\nb\r\nc\r\nd\r\ne\r\nf\r\ng\r\n", 3)
	assert.Equal(t, 7, p.Lines)
	assert.Equal(t, []string{"a", "b", "c"}, p.Head)
	assert.Equal(t, []string{"e", "f", "g"}, p.Tail)

	p = NewPreview("a\nb\nc\nd", 3)
	assert.Equal(t, []string{"d"}, p.Tail)

	p = NewPreview("only", 3)
	assert.Equal(t, []string{"only"}, p.Head)
	assert.Empty(t, p.Tail)
	assert.Equal(t, "only", p.String())

	assert.Equal(t, "(no output)", NewPreview("\r\n", 3).String())
}
