package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"newsrelay/internal/api"
	"newsrelay/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	var network bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, credentials and the analysis provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg, preflight.Options{Network: network})
			if jsonOutput {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					status := "ok"
					if !r.Passed {
						status = "FAIL"
					}
					rows = append(rows, []string{r.Name, status, r.Detail})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Check", "Status", "Detail"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft},
				))
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return &exitError{
					code:     api.ExitConfig,
					err:      fmt.Errorf("%d preflight check(s) failed", len(failed)),
					reported: true,
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&network, "network", false, "Also send a health request to the analysis provider")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
