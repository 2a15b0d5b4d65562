package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"newsrelay/internal/api"
	"newsrelay/internal/daemon"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Poll the news source once and publish new articles",
		Long: `Poll the news source once and publish new articles.

Exit codes: 0 on success, 75 when the poll should be retried later
(rate limit, source or queue unavailable), 78 on configuration errors.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *daemon.Runtime) error {
				resp := rt.Service.Ingest(cmd.Context())
				if jsonOutput {
					if err := writeJSON(cmd, resp); err != nil {
						return err
					}
				} else {
					printIngest(cmd, resp)
				}
				return resultError(resp.Code, resp.Error)
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newConsumeCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var drain bool

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Process one queued message through the pipeline",
		Long: `Process one queued message through analysis, notification and storage.

Exit codes: 0 when the message was acknowledged or the queue is empty,
75 when the message was returned for a later retry, 78 when the deployment
is misconfigured and the message was left queued. With --drain, messages
are consumed until the queue is empty or a message is not acknowledged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *daemon.Runtime) error {
				for {
					resp := rt.Service.Consume(cmd.Context())
					if jsonOutput {
						if err := writeJSON(cmd, resp); err != nil {
							return err
						}
					} else {
						printConsume(cmd, resp)
					}
					if !drain || resp.Code != api.CodeAck {
						return resultError(resp.Code, resp.Error)
					}
				}
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&drain, "drain", false, "Keep consuming until the queue is empty")
	return cmd
}

// resultError turns a non-zero result code into an already reported exitError.
func resultError(code api.Code, detail string) error {
	exit := code.ExitCode()
	if exit == api.ExitOK {
		return nil
	}
	return &exitError{code: exit, err: fmt.Errorf("%s: %s", code, detail), reported: true}
}

func printIngest(cmd *cobra.Command, resp api.IngestResponse) {
	out := cmd.OutOrStdout()
	if resp.Code != api.CodeAck {
		fmt.Fprintf(out, "Ingest %s (%s): %s\n", resp.Code, resp.ErrorKind, resp.Error)
		return
	}
	r := resp.Result
	fmt.Fprintf(out, "Fetched %d, published %d, skipped %d (cursor %q, trace %s)\n",
		r.Fetched, r.Published, r.Skipped, r.Cursor, r.TraceID)
}

func printConsume(cmd *cobra.Command, resp api.ConsumeResponse) {
	out := cmd.OutOrStdout()
	switch resp.Code {
	case api.CodeEmpty:
		fmt.Fprintln(out, "Queue empty")
	case api.CodeAck:
		suffix := ""
		if resp.Duplicate {
			suffix = " (duplicate delivery)"
		}
		fmt.Fprintf(out, "%s -> %s%s\n", resp.EnvelopeID, resp.Status, suffix)
		if resp.Error != "" {
			fmt.Fprintf(out, "  last error (%s): %s\n", resp.ErrorKind, resp.Error)
		}
	case api.CodeRetry:
		fmt.Fprintf(out, "%s returned for retry in %.1fs (%s): %s\n", resp.EnvelopeID, resp.RetryAfter, resp.ErrorKind, resp.Error)
	default:
		fmt.Fprintf(out, "Consume %s (%s): %s\n", resp.Code, resp.ErrorKind, resp.Error)
	}
}
