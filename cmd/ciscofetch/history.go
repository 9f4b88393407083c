package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sshcollectorpro/ciscofetch/internal/database"
	"github.com/sshcollectorpro/ciscofetch/internal/model"
)

func newHistoryCommand(root *rootOptions) *cobra.Command {
	var (
		limit int
		host  string
	)
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs or show one run",
		Long: `history reads the run history database configured by database.sqlite.path
in the app config. Without arguments it lists the latest runs; with a run id it
prints the per-device outcome of that run. --host lists one device's outcomes
across runs.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, closeOut, err := root.output(cmd)
			if err != nil {
				return err
			}
			defer closeOut()
			cfg, err := root.setup(cmd, out)
			if err != nil {
				return err
			}
			if cfg.Database.SQLite.Path == "" {
				return errors.New("run history disabled: database.sqlite.path not set")
			}
			db, err := database.OpenSQLite(cfg.Database.SQLite)
			if err != nil {
				return err
			}
			defer db.Close()

			switch {
			case len(args) == 1:
				run, err := db.GetRun(args[0])
				if err != nil {
					return err
				}
				printRun(out, run)
			case host != "":
				recs, err := db.DeviceHistory(host, limit)
				if err != nil {
					return err
				}
				printDeviceRecords(out, recs, true)
			default:
				runs, err := db.ListRuns(limit)
				if err != nil {
					return err
				}
				printRuns(out, runs)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries")
	cmd.Flags().StringVar(&host, "host", "", "show the history of one device")
	return cmd
}

func printRuns(w io.Writer, runs []model.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, ":: no runs recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tWORKFLOWS\tDEVICES\tFAILED\tSTATUS\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, r.StartTime.Format("2006-01-02 15:04:05"), r.Workflows,
			r.Devices, r.Failed, r.Status, time.Duration(r.Duration)*time.Millisecond)
	}
	_ = tw.Flush()
}

func printRun(w io.Writer, run *model.RunRecord) {
	fmt.Fprintf(w, "run:       %s\n", run.ID)
	fmt.Fprintf(w, "started:   %s\n", run.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "workflows: %s\n", run.Workflows)
	fmt.Fprintf(w, "status:    %s (%d of %d failed)\n", run.Status, run.Failed, run.Devices)
	printDeviceRecords(w, run.DeviceRecords, false)
}

func printDeviceRecords(w io.Writer, recs []model.DeviceRecord, withRun bool) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if withRun {
		fmt.Fprintln(tw, "RUN ID\tHOST\tSTATUS\tDURATION\tERROR")
	} else {
		fmt.Fprintln(tw, "HOST\tSTATUS\tDURATION\tERROR")
	}
	for _, d := range recs {
		dur := time.Duration(d.Duration) * time.Millisecond
		if withRun {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.RunID, d.Host, d.Status, dur, d.Error)
		} else {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Host, d.Status, dur, d.Error)
		}
	}
	_ = tw.Flush()
}
