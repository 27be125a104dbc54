package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdziat/engagement-jobs/pkg/metrics"
)

func newServeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator, triggers and scheduler",
		Long: `Run the ingestion pipeline until SIGINT or SIGTERM.

The server will:
- Migrate the schema
- Claim and process jobs with bounded concurrency
- Write snapshots and alerts as jobs complete
- Sweep tracked posts and run maintenance on schedule
- Serve Prometheus metrics on metrics.addr`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, logger, err := g.open(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer p.Close()

			if p.Config.Upstream.BearerToken == "" {
				logger.Warn("no upstream bearer token configured; set X_BEARER_TOKEN")
			}

			var srv *http.Server
			if addr := p.Config.Metrics.Addr; addr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
					_, _ = w.Write([]byte("ok"))
				})
				srv = &http.Server{
					Addr:              addr,
					Handler:           mux,
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server error", "error", err)
					}
				}()
				logger.Info("metrics server listening", "addr", addr)
			}

			runErr := p.Run(ctx)

			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Error("metrics server shutdown error", "error", err)
				}
			}
			return runErr
		},
	}
}
