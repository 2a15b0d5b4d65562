package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"newsrelay/internal/logging"
	"newsrelay/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var live bool
	var query logs.EventQuery

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show daemon logs",
		Long: `Show the tail of the current daemon log file.

With --live, events are streamed from the running daemon's API instead and
can be narrowed with --component, --envelope and --level.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if live {
				client, err := logs.NewEventClient(cfg.Paths.APIBind, cfg.Paths.APIToken)
				if err != nil {
					return err
				}
				query.Tail = lines
				return client.Stream(cmd.Context(), query, func(evt logging.LogEvent) error {
					_, err := fmt.Fprintln(out, logs.FormatEvent(evt))
					return err
				})
			}

			path := filepath.Join(cfg.Paths.LogDir, "newsrelay.log")
			tail, offset, err := logs.Tail(path, lines)
			if err != nil {
				return err
			}
			for _, line := range tail {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}
			return logs.Follow(cmd.Context(), path, offset, 0, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines or buffered events to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new log lines")
	cmd.Flags().BoolVar(&live, "live", false, "Stream events from the running daemon")
	cmd.Flags().StringVar(&query.Component, "component", "", "Only events from this component (with --live)")
	cmd.Flags().StringVar(&query.EnvelopeID, "envelope", "", "Only events for this envelope (with --live)")
	cmd.Flags().StringVar(&query.Level, "level", "", "Only events at this level (with --live)")
	return cmd
}
