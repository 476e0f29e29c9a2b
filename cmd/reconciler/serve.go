package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var scanInterval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and periodic reconciliation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			httpServer := &http.Server{
				Addr:         a.cfg.ServerAddr,
				Handler:      newAdminServer(a).Router(),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 6 * time.Minute,
				IdleTimeout:  60 * time.Second,
			}

			// background reconciliation loop
			go func() {
				ticker := time.NewTicker(scanInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						if _, err := a.scanner.Run(ctx, nil); err != nil {
							a.logger.Error().Err(err).Msg("scheduled scan failed")
						}
					case <-ctx.Done():
						return
					}
				}
			}()

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = httpServer.Shutdown(shutdownCtx)
			}()

			a.logger.Info().Str("addr", a.cfg.ServerAddr).Msg("admin API listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&scanInterval, "scan-interval", 5*time.Minute, "interval between reconciliation passes")
	return cmd
}
