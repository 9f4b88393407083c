package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sshcollectorpro/ciscofetch/internal/service"
	"github.com/sshcollectorpro/ciscofetch/internal/util"
)

// printReport 按设备解析顺序输出每台设备的结果
func printReport(w io.Writer, req service.Request, s *service.Summary) {
	if len(s.Order) == 0 {
		fmt.Fprintln(w, ":: no devices selected")
		return
	}
	for _, key := range s.Order {
		printDevice(w, req, key, s.Devices[key])
	}
	fmt.Fprintf(w, ":: finished: %d device(s), %d failed, %s\n",
		len(s.Devices), s.Failed(), s.EndTime.Sub(s.StartTime).Round(time.Millisecond))
}

func printDevice(w io.Writer, req service.Request, key string, res *service.DeviceResult) {
	fmt.Fprintf(w, ">> device: %s\n", key)
	if res.Error != "" && res.Run == nil && len(res.Download) == 0 && len(res.Show) == 0 {
		fmt.Fprintf(w, ":: error: %s\n", res.Error)
		fmt.Fprintln(w, ":: skipping")
		return
	}
	for _, e := range res.CredentialErrors {
		fmt.Fprintf(w, ":: warning: %s\n", e)
	}

	if res.Run != nil {
		fmt.Fprintf(w, ":: running commands\n   %q\n", req.Commands)
		for _, r := range res.Run.Results {
			fmt.Fprintf(w, "-- %s (%s)\n", r.Command, r.Duration.Round(time.Millisecond))
			if out := strings.TrimRight(util.StripControl(r.Output), "\r\n"); out != "" {
				fmt.Fprintln(w, out)
			}
		}
		if res.Run.Error != "" {
			fmt.Fprintf(w, ":: error: %s\n", res.Run.Error)
		}
	}

	if len(res.Download) > 0 {
		fmt.Fprintln(w, ":: downloading configuration")
		for _, a := range res.Download {
			if a.Error != "" {
				fmt.Fprintf(w, ":: error: %s: %s\n", a.Alias, a.Error)
				continue
			}
			fmt.Fprintf(w, "   %s -> %s (%d bytes)\n", a.Name, a.Path, a.Size)
			if a.FilteredLines > 0 {
				fmt.Fprintf(w, "   %d paging line(s) removed\n", a.FilteredLines)
			}
		}
	}

	for _, sr := range res.Show {
		fmt.Fprintln(w, ":: showing configuration")
		if sr.Error != "" {
			fmt.Fprintf(w, ":: error: %s: %s\n", sr.Alias, sr.Error)
			continue
		}
		fmt.Fprintln(w, strings.TrimRight(sr.Content, "\r\n"))
	}

	if res.Error != "" {
		fmt.Fprintf(w, ":: error: %s\n", res.Error)
	}
	fmt.Fprintf(w, ":: status: %s\n", res.Status)
}
