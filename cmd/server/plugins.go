package main

// 引入平台插件，触发各平台的 init() 完成注册
import (
	_ "github.com/sshcollectorpro/ciscofetch/addone/platform/platforms/cisco_ios"
)
