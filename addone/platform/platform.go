package platform

// Defaults 平台相关的取数参数
type Defaults struct {
	// PagingCommands 在执行长输出命令前关闭分页
	PagingCommands []string
	// ShowTechCommand 生成 show-tech 制品的命令
	ShowTechCommand string
	// RunningConfigPath 与 StartupConfigPath 为 SFTP 远端路径
	RunningConfigPath string
	StartupConfigPath string
}

// Plugin 平台插件接口
type Plugin interface {
	// Name 插件名称（如：default、cisco_ios）
	Name() string
	// Defaults 返回平台默认参数
	Defaults() Defaults
}

// DefaultPlugin 未知平台使用的默认插件
type DefaultPlugin struct{}

func (p *DefaultPlugin) Name() string { return "default" }

func (p *DefaultPlugin) Defaults() Defaults {
	return Defaults{
		ShowTechCommand:   "show tech",
		RunningConfigPath: "running-config",
		StartupConfigPath: "startup-config",
	}
}

// WithPaging 在命令序列前追加分页关闭命令
func (d Defaults) WithPaging(cmds ...string) []string {
	out := make([]string, 0, len(d.PagingCommands)+len(cmds))
	out = append(out, d.PagingCommands...)
	return append(out, cmds...)
}
