package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jcmexdev/storefront-payments/internal/bootstrap"
	"github.com/jcmexdev/storefront-payments/internal/pkg/config"
	"github.com/jcmexdev/storefront-payments/internal/pkg/telemetry"
)

var Version = "dev"

func main() {
	telemetry.InitLogger(os.Getenv("STOREFRONT_TELEMETRY_LOG_LEVEL"))

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "storefrontctl",
		Short:         "Operate the storefront payment service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", os.Getenv("STOREFRONT_CONFIG"), "Path to a YAML config file")

	root.AddCommand(sweepCmd())
	root.AddCommand(resendEmailsCmd())
	root.AddCommand(hashPasswordCmd())
	root.AddCommand(ordersCmd())
	return root
}

// openRuntime loads the config named by --config, opens the stores and
// checks they answer before any command touches them.
func openRuntime(cmd *cobra.Command) (*bootstrap.Runtime, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rt, err := bootstrap.Build(cfg, Version)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	if err := rt.Ready(cmd.Context()); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}
