package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRollCmd(root *rootOptions) *cobra.Command {
	var lookahead int

	cmd := &cobra.Command{
		Use:   "roll",
		Short: "Append new date windows to every matrix file without fetching",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("lookahead") {
				if lookahead < 0 {
					return fmt.Errorf("lookahead must not be negative (got %d)", lookahead)
				}
				root.cfg.Harvest.LookaheadDays = lookahead
			}

			a, err := newApp(root.cfg, root.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.rollRunner().Roll(cmd.Context())
			if err != nil {
				root.logger.Error().Err(err).Msg("Roll failed")
				return err
			}

			root.logger.Info().Int("rolled", n).Msg("Date windows rolled")
			fmt.Fprintf(cmd.OutOrStdout(), "rolled %d new windows\n", n)
			return nil
		},
	}

	cmd.Flags().IntVar(&lookahead, "lookahead", 0, "days ahead to keep covered (default from config)")
	return cmd
}
