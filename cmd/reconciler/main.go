package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "reconciler",
		Short: "Payment-to-session reconciliation and refund engine",
		Long: `Watches treasury payments across the configured chains, matches them to
verification sessions and orders by commitment digest, advances session state
exactly once, and refunds payments that can no longer be used.`,
		SilenceUsage: true,
	}

	root.AddCommand(newScanCmd())
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
