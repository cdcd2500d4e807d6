package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCmd(flags *globalFlags) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the checkpoint slot",
		Long: `Reset takes the lease and deletes the checkpoint slot together with its
committed positions. The next run bootstraps every stream at the current
time, so content published before the reset is never collected.

Reset fails while another instance holds the lease. An unreadable slot can
be reset.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("reset discards all committed checkpoints; pass --yes to confirm")
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			dropped, err := a.store.Reset(ctx)
			if err != nil {
				return err
			}
			if !dropped {
				fmt.Fprintf(cmd.OutOrStdout(), "queue %s has no checkpoint slot; nothing to reset\n", cfg.QueueName)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checkpoint slot %s deleted\n", cfg.QueueName)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting the committed checkpoints")

	return cmd
}
