package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newScanCmd() *cobra.Command {
	var products []string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one reconciliation pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.scanner.Run(ctx, products)
			if err != nil {
				return err
			}

			for _, pr := range report.Products {
				a.logger.Info().
					Str("product", pr.Product).
					Int("applied", pr.Applied).
					Int("refunded", pr.Refunded).
					Int("errors", pr.Errors).
					Msg("scan complete")
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&products, "product", nil, "product line to reconcile (repeatable; default all)")
	return cmd
}
