package cisco_ios

import "github.com/sshcollectorpro/ciscofetch/addone/platform"

// Plugin 为 cisco_ios 平台插件
type Plugin struct{}

func (p *Plugin) Name() string { return "cisco_ios" }

func (p *Plugin) Defaults() platform.Defaults {
	// show tech 输出很长，需先关闭分页
	return platform.Defaults{
		PagingCommands:    []string{"terminal length 0"},
		ShowTechCommand:   "show tech",
		RunningConfigPath: "running-config",
		StartupConfigPath: "startup-config",
	}
}

func init() {
	platform.Register("cisco_ios", &Plugin{})
}
