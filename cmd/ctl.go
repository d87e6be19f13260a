package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/smazurov/gethkeeper/internal/nats"
	"github.com/spf13/cobra"
)

var ctlActions = []string{nats.ActionStart, nats.ActionStop, nats.ActionRestart, nats.ActionReload, nats.ActionStatus}

// CreateCtlCmd creates the ctl command.
func CreateCtlCmd() *cobra.Command {
	var (
		url     string
		prefix  string
		reason  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:       "ctl <start|stop|restart|reload|status>",
		Short:     "Control a running gethkeeper over NATS",
		Long:      `Sends a control command to the NATS bridge of a running gethkeeper and prints its reply as JSON.`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: ctlActions,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			client, err := nats.Dial(url, prefix)
			if err != nil {
				return fmt.Errorf("connect to %s: %w", url, err)
			}
			defer client.Close()

			reply, err := client.Request(ctx, args[0], reason)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(reply); err != nil {
				return err
			}
			if !reply.Success {
				return fmt.Errorf("%s failed: %s", args[0], reply.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	cmd.Flags().StringVar(&prefix, "prefix", nats.DefaultPrefix, "Subject prefix of the target gethkeeper")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in the gethkeeper log")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "How long to wait for the reply")

	return cmd
}
