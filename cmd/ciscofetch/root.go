package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sshcollectorpro/ciscofetch/internal/app"
	"github.com/sshcollectorpro/ciscofetch/internal/artifact"
	"github.com/sshcollectorpro/ciscofetch/internal/config"
	"github.com/sshcollectorpro/ciscofetch/internal/credential"
	"github.com/sshcollectorpro/ciscofetch/internal/inventory"
	"github.com/sshcollectorpro/ciscofetch/internal/service"
	"github.com/sshcollectorpro/ciscofetch/pkg/logger"
)

// rootOptions 命令行参数
type rootOptions struct {
	user     string
	pass     string
	key      string
	commands []string
	download []string
	show     []string
	devices  []string
	groups   []string
	news     []string
	out      string

	// 子命令共享
	configs []string
	appFile string
	devFile string
	debug   bool
	log     string

	appOpts []app.Option
}

func newRootCommand(appOpts ...app.Option) *cobra.Command {
	o := &rootOptions{appOpts: appOpts}
	cmd := &cobra.Command{
		Use:   appName,
		Short: appName + " - managing cisco devices",
		Long: `ciscofetch runs commands on Cisco devices over SSH, downloads their
running/startup configuration and show tech output into a per-device
directory, and prints previously downloaded artifacts.

Devices come from --devices and/or the dev config (--config dev), optionally
filtered by --groups. Credentials are taken from -u/-p/-k, then the user's
SSH client config, then the dev config.`,
		Example: `  ciscofetch --devices r1,r2 -u admin -r "terminal length 0" -r "show version"
  ciscofetch --config app,dev --groups dc1 -d run,start
  ciscofetch --devices r1 -s run
  ciscofetch --new app,dev`,
		Version:      appVersion,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.user, "user", "u", "", "username")
	f.StringVarP(&o.pass, "pass", "p", "", "password")
	f.StringVarP(&o.key, "key", "k", "", "ssh private key file")
	f.StringArrayVarP(&o.commands, "run", "r", nil, "command to run (repeatable, in order)")
	f.StringSliceVarP(&o.download, "download", "d", nil, "download configuration(s): run,start,tech")
	f.StringSliceVarP(&o.show, "show", "s", nil, "show downloaded configuration(s): run,start,tech")
	f.StringSliceVar(&o.devices, "devices", nil, "device(s)")
	f.StringSliceVar(&o.groups, "groups", nil, "group(s)")
	f.StringSliceVar(&o.news, "new", nil, "generate new json config(s): app,dev")
	f.StringVar(&o.out, "out", "", "write the JSON summary to a file (--out=FILE), stdout when given alone")
	f.Lookup("out").NoOptDefVal = "-"

	pf := cmd.PersistentFlags()
	pf.StringSliceVar(&o.configs, "config", nil, "load json config(s): app,dev")
	pf.StringVar(&o.appFile, "app-file", "app.json", "app config file")
	pf.StringVar(&o.devFile, "dev-file", "dev.json", "dev (inventory) config file")
	pf.BoolVar(&o.debug, "debug", false, "enable debug")
	pf.StringVar(&o.log, "log", "-", "log to file, '-' for stdout")

	cmd.AddCommand(newHistoryCommand(o))
	return cmd
}

func (o *rootOptions) run(cmd *cobra.Command) error {
	if err := o.validate(); err != nil {
		return err
	}

	out, closeOut, err := o.output(cmd)
	if err != nil {
		return err
	}
	defer closeOut()
	fmt.Fprintf(out, "=> %s v%s\n", appName, appVersion)

	if len(o.news) > 0 {
		return o.generate(out)
	}

	cfg, err := o.setup(cmd, out)
	if err != nil {
		return err
	}
	req, err := o.request()
	if err != nil {
		return err
	}

	a, err := app.New(cfg, o.appOpts...)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary := a.Orchestrator.Execute(ctx, req)
	printReport(out, req, summary)
	if err := o.writeSummary(out, summary); err != nil {
		return err
	}
	if n := summary.Failed(); n > 0 {
		return fmt.Errorf("%d of %d device(s) failed", n, len(summary.Devices))
	}
	return nil
}

func (o *rootOptions) validate() error {
	if err := checkChoices("config", o.configs, "app", "dev"); err != nil {
		return err
	}
	if err := checkChoices("new", o.news, "app", "dev"); err != nil {
		return err
	}
	for _, alias := range append(append([]string(nil), o.download...), o.show...) {
		if _, err := artifact.Resolve(alias); err != nil {
			return fmt.Errorf("invalid choice %q (choose from %v)", alias, artifact.Aliases())
		}
	}
	return nil
}

func checkChoices(flag string, values []string, choices ...string) error {
	for _, v := range values {
		if !slices.Contains(choices, v) {
			return fmt.Errorf("--%s: invalid choice %q (choose from %v)", flag, v, choices)
		}
	}
	return nil
}

// output --log 指定文件时报告与日志都写入该文件
func (o *rootOptions) output(cmd *cobra.Command) (io.Writer, func(), error) {
	if o.log == "" || o.log == "-" {
		return cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.Create(o.log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func (o *rootOptions) generate(out io.Writer) error {
	for _, which := range o.news {
		fmt.Fprintf(out, ":: generating new %s config\n", which)
		var err error
		switch which {
		case "app":
			err = config.WriteTemplate(o.appFile, config.Template())
		case "dev":
			err = config.WriteTemplate(o.devFile, inventory.NewTemplate())
		}
		if err != nil {
			return err
		}
	}
	fmt.Fprintln(out, ":: finished")
	return nil
}

// setup 加载应用配置并初始化日志
func (o *rootOptions) setup(cmd *cobra.Command, out io.Writer) (*config.Config, error) {
	path := ""
	if slices.Contains(o.configs, "app") {
		path = o.appFile
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	console := cmd.ErrOrStderr()
	if o.log != "" && o.log != "-" {
		console = out
	}
	lc := logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
		Console:    console,
	}
	if o.debug {
		lc.Level = "debug"
		lc.DebugFile = cfg.App.DebugFile
	}
	if err := logger.Init(lc); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, nil
}

func (o *rootOptions) request() (service.Request, error) {
	req := service.Request{
		Hosts:     o.devices,
		Groups:    o.groups,
		Overrides: credential.Overrides{User: o.user, Pass: o.pass, KeyFile: o.key},
		Commands:  o.commands,
		Download:  o.download,
		Show:      o.show,
	}
	if slices.Contains(o.configs, "dev") {
		inv, err := inventory.LoadFile(o.devFile)
		if err != nil {
			return req, err
		}
		req.Inventory = inv
	}
	return req, nil
}

func (o *rootOptions) writeSummary(out io.Writer, s *service.Summary) error {
	if o.out == "" {
		return nil
	}
	bs, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	if o.out == "-" {
		_, err = fmt.Fprintln(out, string(bs))
		return err
	}
	if err := os.WriteFile(o.out, append(bs, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}
