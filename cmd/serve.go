// cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/trialctl/internal/observability"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the periodic expiry sweeper and, if enabled, the metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			components, err := a.factory.Create(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return components.Sweeper(nil).Run(gctx)
			})

			if cfg.Metrics.Enabled {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(components.Registry, promhttp.HandlerOpts{Registry: components.Registry}))
				mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
				})
				srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

				g.Go(func() error {
					logger.Info("Serving metrics.", zap.String("addr", cfg.Metrics.Addr))
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return fmt.Errorf("metrics server: %w", err)
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
			}

			logger.Info("Sweeper running.", zap.Duration("interval", cfg.Lifecycle.SweepInterval))
			if err := g.Wait(); err != nil {
				return err
			}
			logger.Info("Shut down cleanly.")
			return nil
		},
	}
	return cmd
}
