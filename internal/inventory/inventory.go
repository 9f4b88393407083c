package inventory

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Device 设备标识与连接目标
type Device struct {
	Host       string   `json:"host"`
	Port       int      `json:"port,omitempty"`
	User       string   `json:"user,omitempty"`
	Pass       string   `json:"pass,omitempty"`
	Platform   string   `json:"platform,omitempty"`
	Groups     []string `json:"groups,omitempty"`
	Compliance []string `json:"compliance,omitempty"`
	// Error 条目不可用时由解析器填写，编排器据此跳过该设备
	Error string `json:"error,omitempty"`
}

// File 设备清单文件结构 {"devices": [...]}
type File struct {
	Devices []Device `json:"devices"`
}

// Error 清单错误
type Error struct {
	Host string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Host == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Host, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// LoadFile 读取 JSON 设备清单
func LoadFile(path string) (*File, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Msg: "failed to read device file", Err: err}
	}
	var f File
	if err := json.Unmarshal(bs, &f); err != nil {
		return nil, &Error{Msg: "failed to parse device file", Err: err}
	}
	return &f, nil
}

// Resolve 合并显式主机、清单文件与分组过滤，返回有序且按主机去重的设备列表。
//
// 显式主机总在最前；有分组过滤时追加分组命中的清单设备（过滤只作用于清单，
// 不会剔除显式主机）；无分组过滤但加载了清单时追加全部清单设备。
// 重复主机保留首次出现的位置，后续条目只补全空字段并合并分组。
func Resolve(hosts []string, file *File, groups []string) []Device {
	out := make([]Device, 0, len(hosts))
	index := make(map[string]int)

	add := func(d Device) {
		key := strings.TrimSpace(d.Host)
		if key == "" {
			d.Error = "missing host"
			out = append(out, d)
			return
		}
		d.Host = key
		if i, ok := index[key]; ok {
			out[i] = merge(out[i], d)
			return
		}
		index[key] = len(out)
		out = append(out, d)
	}

	for _, h := range hosts {
		add(Device{Host: h})
	}

	if file == nil {
		return out
	}

	if len(groups) > 0 {
		filter := make(map[string]struct{}, len(groups))
		for _, g := range groups {
			filter[g] = struct{}{}
		}
		for _, d := range file.Devices {
			if d.InAnyGroup(filter) {
				add(d.clone())
			}
		}
		return out
	}

	for _, d := range file.Devices {
		add(d.clone())
	}
	return out
}

// InAnyGroup 判断设备是否属于任一分组
func (d Device) InAnyGroup(filter map[string]struct{}) bool {
	for _, g := range d.Groups {
		if _, ok := filter[g]; ok {
			return true
		}
	}
	return false
}

func (d Device) clone() Device {
	c := d
	c.Groups = append([]string(nil), d.Groups...)
	c.Compliance = append([]string(nil), d.Compliance...)
	return c
}

func merge(base, extra Device) Device {
	if base.Port == 0 {
		base.Port = extra.Port
	}
	if base.User == "" {
		base.User = extra.User
	}
	if base.Pass == "" {
		base.Pass = extra.Pass
	}
	if base.Platform == "" {
		base.Platform = extra.Platform
	}
	base.Groups = union(base.Groups, extra.Groups)
	base.Compliance = union(base.Compliance, extra.Compliance)
	return base
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// NewTemplate 返回 --new dev 生成的示例清单
func NewTemplate() *File {
	return &File{Devices: []Device{
		{Host: "device1", Groups: []string{"dc1", "cisco"}, Compliance: []string{"all"}},
		{Host: "device2", Groups: []string{"dc2", "cisco"}, Compliance: []string{"all"}},
	}}
}
