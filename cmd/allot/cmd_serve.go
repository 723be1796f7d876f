package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/yairfalse/allot/internal/api"
	"github.com/yairfalse/allot/internal/daemon"
	"github.com/yairfalse/allot/telemetry"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and metrics server",
		Long: `Run Allot as a long-lived service.

The API is served on server.addr under /api/v1/tenants/:tenant.
Prometheus metrics and health checks are served on server.metrics_addr
at /metrics, /health, /-/healthy and /-/ready. SIGINT and SIGTERM
trigger a graceful shutdown.`,
		Example: `  allot serve                          # Run with defaults
  allot serve -c /etc/allot/allot.toml # Use a config file
  ALLOT_SERVER_ADDR=:9000 allot serve  # Override the listen address`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			ctx := cmd.Context()

			shutdownOTEL, err := telemetry.InitOTEL(ctx, telemetry.Config{
				ServiceName:     cfg.OTEL.ServiceName,
				ServiceVersion:  version,
				Environment:     cfg.OTEL.Environment,
				Endpoint:        cfg.OTEL.Endpoint,
				Insecure:        cfg.OTEL.Insecure,
				TraceSampleRate: cfg.OTEL.Traces.SampleRate,
				TracesEnabled:   cfg.OTEL.Traces.Enabled,
				MetricsEnabled:  cfg.OTEL.Metrics.Enabled,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() { _ = shutdownOTEL(ctx) }()

			return withApp(ctx, opts, func(a *app) error {
				d, err := daemon.NewDaemon(daemon.Config{
					APIAddr:         cfg.Server.Addr,
					MetricsAddr:     cfg.Server.MetricsAddr,
					ShutdownTimeout: cfg.Server.ShutdownTimeout,
				}, api.NewServer(a.svc), telemetry.PrometheusRegistry, daemon.WithStorageStats(a.store))
				if err != nil {
					return err
				}
				return d.Run(ctx)
			})
		},
	}
}
