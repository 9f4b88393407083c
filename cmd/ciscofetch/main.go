// Package main implements the ciscofetch command line tool
package main

import (
	"os"
)

const (
	appName    = "ciscofetch"
	appVersion = "0.1"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
