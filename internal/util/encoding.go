package util

import (
	"bytes"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

// 设备输出中常见的非 UTF-8 编码，按尝试顺序排列
var legacyEncodings = []encoding.Encoding{
	simplifiedchinese.GB18030,
	traditionalchinese.Big5,
	charmap.Windows1252,
	charmap.ISO8859_1,
}

// DecodeOutput 将设备输出转为 UTF-8；已是合法 UTF-8 时原样返回，
// 所有编码都无法解码时按原始字节返回
func DecodeOutput(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}
	for _, enc := range legacyEncodings {
		if s, ok := tryDecode(enc, b); ok {
			return s
		}
	}
	return string(b)
}

// EnsureUTF8 对字符串做 DecodeOutput
func EnsureUTF8(s string) string {
	return DecodeOutput([]byte(s))
}

func tryDecode(enc encoding.Encoding, b []byte) (string, bool) {
	reader := transform.NewReader(bytes.NewReader(b), enc.NewDecoder())
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", false
	}
	if utf8.Valid(decoded) {
		return string(decoded), true
	}
	return "", false
}

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b[()][A-Za-z0-9]|\x1b[=>]`)

// StripControl 移除终端控制序列与退格，便于在终端或 JSON 中展示；
// 仅用于展示，保存的制品不做此处理
func StripControl(s string) string {
	s = ansiRe.ReplaceAllString(s, "")
	if !strings.ContainsRune(s, '\b') {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if r == '\b' {
			str := b.String()
			if len(str) > 0 {
				_, size := utf8.DecodeLastRuneInString(str)
				b.Reset()
				b.WriteString(str[:len(str)-size])
			}
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
