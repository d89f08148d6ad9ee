package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
	"github.com/jcmexdev/storefront-payments/internal/order-service/ports"
)

func ordersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect and settle orders",
	}
	cmd.AddCommand(ordersListCmd())
	cmd.AddCommand(ordersOverrideCmd())
	return cmd
}

func ordersListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			date, _ := cmd.Flags().GetString("date")
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")

			f := ports.ListFilter{Status: domain.PaymentStatus(status), Limit: limit}
			if date != "" {
				t, err := time.Parse(time.DateOnly, date)
				if err != nil {
					return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
				}
				f.Date = t
			}
			if status != "" && !f.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}

			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			orders, err := rt.Service.List(cmd.Context(), f)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(orders)
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ORDER\tCREATED\tMETHOD\tSTATUS\tTOTAL\tPROVIDER\tEMAIL")
			for _, o := range orders {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
					o.ID, o.CreatedAt.UTC().Format(time.RFC3339), o.PaymentMethod, o.PaymentStatus,
					o.Total.StringFixed(2), o.Provider, o.EmailSent)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().String("date", "", "Only orders created on this UTC day (YYYY-MM-DD)")
	cmd.Flags().String("status", "", "PENDING, PAID or FAILED")
	cmd.Flags().IntP("limit", "n", 50, "Maximum orders")
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
	return cmd
}

func ordersOverrideCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "override <orderId>",
		Short: "Settle a pending order by hand (PAID or FAILED)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			reason, _ := cmd.Flags().GetString("reason")
			actor, _ := cmd.Flags().GetString("actor")

			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			o, err := rt.Service.Override(cmd.Context(), args[0], domain.PaymentStatus(status), actor, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", o.ID, o.PaymentStatus)
			return nil
		},
	}
	cmd.Flags().String("status", "", "PAID or FAILED")
	cmd.Flags().String("reason", "", "Why the order is being settled by hand")
	cmd.Flags().String("actor", "storefrontctl", "Who is making the change, for the audit log")
	_ = cmd.MarkFlagRequired("status")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}
