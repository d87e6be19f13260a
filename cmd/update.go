package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/smazurov/gethkeeper/internal/systemd"
	"github.com/smazurov/gethkeeper/internal/updater"
	"github.com/spf13/cobra"
)

// CreateUpdateCmd creates the update command.
func CreateUpdateCmd() *cobra.Command {
	var (
		opts        updater.Options
		check       bool
		rollback    bool
		restartUnit string
		userBus     bool
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update gethkeeper to the latest release",
		Long: `Replaces the gethkeeper binary with the latest GitHub release, keeping a backup for --rollback. ` +
			`The running service keeps the old binary until restarted; --restart-unit restarts it through systemd.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if check && rollback {
				return errors.New("--check and --rollback are mutually exclusive")
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			u, err := updater.New(opts)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			switch {
			case check:
				info, checkErr := u.Check(ctx)
				if checkErr != nil {
					return checkErr
				}
				return enc.Encode(info)
			case rollback:
				if err := u.Rollback(ctx); err != nil {
					return err
				}
			default:
				info, applyErr := u.Apply(ctx)
				if updater.CodeOf(applyErr) == updater.ErrCodeNoUpdate {
					return enc.Encode(info)
				}
				if applyErr != nil {
					return applyErr
				}
			}

			if err := enc.Encode(u.Status()); err != nil {
				return err
			}
			if restartUnit == "" {
				return nil
			}
			return restartService(ctx, cmd, restartUnit, userBus)
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Only report whether an update is available")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "Restore the binary replaced by the last update")
	cmd.Flags().StringVar(&opts.Repository, "repo", updater.DefaultRepository, "GitHub repository to fetch releases from")
	cmd.Flags().BoolVar(&opts.Prerelease, "prerelease", false, "Include prereleases")
	cmd.Flags().StringVar(&restartUnit, "restart-unit", "", "systemd unit to restart after updating")
	cmd.Flags().BoolVar(&userBus, "user", false, "Use the user D-Bus for --restart-unit")

	return cmd
}

func restartService(ctx context.Context, cmd *cobra.Command, unit string, user bool) error {
	mgr, err := systemd.NewManager(ctx, user)
	if err != nil {
		return fmt.Errorf("connect to systemd: %w", err)
	}
	defer mgr.Close()

	result, err := mgr.Restart(ctx, unit)
	if err != nil {
		return fmt.Errorf("restart %s: %w", unit, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "restart %s: %s\n", unit, result)
	if result != "done" {
		return fmt.Errorf("restart %s: job %s", unit, result)
	}
	return nil
}
