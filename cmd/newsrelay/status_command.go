package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"newsrelay/internal/api"
	"newsrelay/internal/daemon"
	"newsrelay/internal/daemonctl"
	"newsrelay/internal/state"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue depth, record counts and stage readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *daemon.Runtime) error {
				status := rt.Service.Status(cmd.Context())
				if running, pid, err := daemonctl.ProcessInfo(rt.Config); err == nil {
					status.Daemon = &api.DaemonInfo{Running: running, PID: pid, LockPath: rt.Config.LockPath()}
				}
				if jsonOutput {
					return writeJSON(cmd, status)
				}
				printStatus(cmd, status)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func printStatus(cmd *cobra.Command, status api.StatusResponse) {
	out := cmd.OutOrStdout()
	c := status.Consumer
	daemonState := "unknown"
	if status.Daemon != nil {
		daemonState = yesNo(status.Daemon.Running)
		if status.Daemon.Running && status.Daemon.PID > 0 {
			daemonState += " (pid " + strconv.Itoa(status.Daemon.PID) + ")"
		}
	}
	fmt.Fprintln(out, renderDetails([][2]string{
		{"Daemon running", daemonState},
		{"Queue ready", strconv.Itoa(c.QueueStats.Ready)},
		{"Queue in flight", strconv.Itoa(c.QueueStats.InFlight)},
		{"Queue delayed", strconv.Itoa(c.QueueStats.Delayed)},
		{"Producer configured", yesNo(status.Producer.Configured)},
		{"Stages ready", yesNo(c.Ready)},
	}))

	if len(c.RecordCounts) > 0 {
		statuses := make([]string, 0, len(c.RecordCounts))
		for s := range c.RecordCounts {
			statuses = append(statuses, string(s))
		}
		sort.Strings(statuses)
		rows := make([][]string, 0, len(statuses))
		for _, s := range statuses {
			rows = append(rows, []string{s, strconv.Itoa(c.RecordCounts[state.Status(s)])})
		}
		fmt.Fprintln(out, renderTable([]string{"Status", "Records"}, rows, []columnAlignment{alignLeft, alignRight}))
	}

	rows := make([][]string, 0, len(c.StageHealth))
	for _, h := range c.StageHealth {
		rows = append(rows, []string{h.Name, yesNo(h.Ready), h.Detail})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable([]string{"Stage", "Ready", "Detail"}, rows, nil))
	}
}
