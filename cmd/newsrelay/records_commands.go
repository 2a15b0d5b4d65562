package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"newsrelay/internal/daemon"
)

func newRecordsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect processing records",
	}
	cmd.AddCommand(newRecordsListCommand(ctx))
	cmd.AddCommand(newRecordsShowCommand(ctx))
	return cmd
}

func newRecordsListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processing records, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *daemon.Runtime) error {
				records, err := rt.Service.Records(cmd.Context(), statuses, limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, records)
				}
				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No records")
					return nil
				}
				rows := make([][]string, 0, len(records))
				for _, r := range records {
					rows = append(rows, []string{r.EnvelopeID, r.Status, strconv.Itoa(r.AttemptCount), r.LastErrorKind, r.UpdatedAt})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Envelope", "Status", "Attempts", "Last error", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum records to list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newRecordsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <envelope-id>",
		Short: "Show a record with its attempt history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *daemon.Runtime) error {
				detail, err := rt.Service.Record(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, detail)
				}
				out := cmd.OutOrStdout()
				r := detail.Record
				pairs := [][2]string{
					{"Envelope", r.EnvelopeID},
					{"Status", r.Status},
					{"Attempts", strconv.Itoa(r.AttemptCount)},
					{"Version", strconv.FormatInt(r.Version, 10)},
					{"Created", r.CreatedAt},
					{"Updated", r.UpdatedAt},
				}
				if r.LastError != "" {
					pairs = append(pairs, [2]string{"Last error", r.LastErrorKind + ": " + r.LastError})
				}
				if n := detail.Notification; n != nil {
					pairs = append(pairs, [2]string{"Notification", fmt.Sprintf("%s via %s at %s", n.Status, n.Channel, n.DeliveredAt.UTC().Format("2006-01-02 15:04:05"))})
				}
				if detail.DeadLetter != nil {
					pairs = append(pairs, [2]string{"Dead letter", "quarantined " + detail.DeadLetter.QuarantinedAt})
				}
				fmt.Fprintln(out, renderDetails(pairs))
				printAttempts(cmd, detail.Attempts)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
