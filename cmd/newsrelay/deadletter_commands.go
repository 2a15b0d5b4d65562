package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"newsrelay/internal/daemon"
	"newsrelay/internal/state"
)

func newDeadLetterCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dlq"},
		Short:   "Inspect and replay quarantined envelopes",
	}
	cmd.AddCommand(newDeadLetterListCommand(ctx))
	cmd.AddCommand(newDeadLetterShowCommand(ctx))
	cmd.AddCommand(newDeadLetterReplayCommand(ctx))
	return cmd
}

func newDeadLetterListCommand(ctx *commandContext) *cobra.Command {
	var all bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered envelopes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *daemon.Runtime) error {
				entries, err := rt.Service.DeadLetterList(cmd.Context(), all)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, entries)
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No dead letters")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{e.EnvelopeID, e.ErrorKind, strconv.Itoa(e.AttemptCount), strconv.Itoa(e.ReplayCount), e.QuarantinedAt})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Envelope", "Error kind", "Attempts", "Replays", "Quarantined"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include entries already replayed")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newDeadLetterShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <envelope-id>",
		Short: "Export a dead-letter entry with its payload and attempt history as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *daemon.Runtime) error {
				entry, err := rt.Service.DeadLetter(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, entry)
				}
				return writeYAML(cmd, entry)
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON instead of YAML")
	return cmd
}

func newDeadLetterReplayCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <envelope-id>...",
		Short: "Reset envelopes to received and put their payloads back on the queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *daemon.Runtime) error {
				out := cmd.OutOrStdout()
				for _, id := range args {
					resp, err := rt.Service.Replay(cmd.Context(), id)
					if err != nil {
						return fmt.Errorf("replay %s: %w", id, err)
					}
					note := ""
					if resp.Raw {
						note = " (undecodable payload re-published as is)"
					}
					fmt.Fprintf(out, "Replayed %s with trace %s%s\n", resp.EnvelopeID, resp.TraceID, note)
				}
				return nil
			})
		},
	}
}

func printAttempts(cmd *cobra.Command, attempts []state.AttemptEntry) {
	if len(attempts) == 0 {
		return
	}
	rows := make([][]string, 0, len(attempts))
	for _, a := range attempts {
		rows = append(rows, []string{
			a.At.UTC().Format("2006-01-02 15:04:05"),
			a.Stage,
			strconv.Itoa(a.Attempt),
			string(a.Status),
			a.ErrorKind,
			a.Error,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"At", "Stage", "Attempt", "Status", "Kind", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
	))
}
