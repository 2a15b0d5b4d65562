package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"newsrelay/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the configured channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireNotifications(); err != nil {
				return &exitError{code: exitCodeFor(err), err: err}
			}
			logger, err := ctx.logger(cfg)
			if err != nil {
				return err
			}
			channel, err := notifications.NewChannel(cfg.Notifications, logger)
			if err != nil {
				return err
			}
			if err := notifications.SendTest(cmd.Context(), channel); err != nil {
				return fmt.Errorf("send test notification via %s: %w", channel.Name(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Test notification sent via %s\n", channel.Name())
			return nil
		},
	}
}
