package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale pending orders and purge old ones, once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.Service.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired: %d\npurged:  %d\n", res.Expired, res.Purged)
			return nil
		},
	}
}

func resendEmailsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resend-emails",
		Short: "Retry confirmation emails for paid orders that never got one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			sent, failed, err := rt.Service.ResendConfirmations(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent:   %d\nfailed: %d\n", sent, failed)
			if failed > 0 {
				return fmt.Errorf("%d confirmation(s) still failing", failed)
			}
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 100, "Maximum orders to process")
	return cmd
}
