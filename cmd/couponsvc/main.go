package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "couponsvc",
		Short:        "Limited-stock coupon issuance service",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(apiCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(allCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func apiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Serve the admission and campaign HTTP API",
		Long: `Serve the admission and campaign HTTP API.

With EVENT_DRIVEN_ENABLED=false claims go through an in-process queue, so
this process also runs the issuance worker.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), roles{api: true})
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume claim events and write issued coupons",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), roles{worker: true})
		},
	}
}

func reconcileCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair drift between the stock counter and issued coupons",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), roles{reconcile: true, once: once})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single pass and exit")
	return cmd
}

func allCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run API, worker and reconciliation in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), roles{api: true, worker: true, reconcile: true})
		},
	}
}
