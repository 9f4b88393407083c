package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sshcollectorpro/ciscofetch/pkg/logger"
	"github.com/sshcollectorpro/ciscofetch/simulate"
)

var (
	simFile string
	listen  string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "simdevice",
	Short: "Run a simulated Cisco device (SSH shell + SFTP) for testing ciscofetch",
	Long: `simdevice serves an interactive shell that answers commands from a table
and an SFTP subsystem exposing running-config/startup-config files, as
described by a yaml or json simulate config.`,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		level := "info"
		if debug {
			level = "debug"
		}
		if err := logger.Init(logger.Config{Level: level, Output: "console"}); err != nil {
			return err
		}

		cfg, err := simulate.LoadConfig(simFile)
		if err != nil {
			return err
		}
		if listen != "" {
			cfg.Listen = listen
		}
		srv, err := simulate.Start(cfg.Listen, cfg)
		if err != nil {
			return err
		}
		defer srv.Stop()
		fmt.Fprintf(cmd.OutOrStdout(), "=> %s listening on %s (%d commands, %d files)\n",
			cfg.Hostname, srv.Addr(), len(cfg.Commands), len(cfg.Files))

		// 等待中断信号
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("Simulate: shutting down")
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&simFile, "file", "f", "simulate/simulate.yaml", "simulate config file")
	rootCmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address, overrides the config file")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
