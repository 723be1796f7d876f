// Package daemon runs the long-lived API and metrics servers.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yairfalse/allot/storage"
	"github.com/yairfalse/allot/telemetry"
)

// Config holds daemon configuration
type Config struct {
	APIAddr         string
	MetricsAddr     string
	ShutdownTimeout time.Duration
}

// Daemon serves the API and the metrics endpoint until interrupted
type Daemon struct {
	config    Config
	api       *http.Server
	metrics   *http.Server
	apiLn     net.Listener
	metricsLn net.Listener
	logger    *telemetry.Logger
	startTime time.Time
	ready     atomic.Bool
	stats     storage.StorageStats
}

// Option configures a Daemon
type Option func(*Daemon)

// WithStorageStats reports storage size on the health endpoints
func WithStorageStats(stats storage.StorageStats) Option {
	return func(d *Daemon) {
		d.stats = stats
	}
}

// NewDaemon binds both listeners so ports are known before Run
func NewDaemon(config Config, api http.Handler, gatherer prometheus.Gatherer, opts ...Option) (*Daemon, error) {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 15 * time.Second
	}

	apiLn, err := net.Listen("tcp", config.APIAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", config.APIAddr, err)
	}
	metricsLn, err := net.Listen("tcp", config.MetricsAddr)
	if err != nil {
		_ = apiLn.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", config.MetricsAddr, err)
	}

	d := &Daemon{
		config:    config,
		apiLn:     apiLn,
		metricsLn: metricsLn,
		logger:    telemetry.NewLogger("daemon"),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(d)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", d.handleHealth)
	mux.HandleFunc("/-/healthy", d.handleHealth)
	mux.HandleFunc("/-/ready", d.handleReady)

	d.api = &http.Server{Handler: api, ReadHeaderTimeout: 10 * time.Second}
	d.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return d, nil
}

// Run blocks until ctx is cancelled, a signal arrives or a server fails.
// Interrupts and cancellation are a clean shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	var g run.Group

	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	g.Add(func() error {
		d.logger.Info().Str("addr", d.apiLn.Addr().String()).Msg("api server listening")
		return serve(d.api, d.apiLn)
	}, func(error) {
		d.shutdown(d.api, "api")
	})

	g.Add(func() error {
		d.logger.Info().Str("addr", d.metricsLn.Addr().String()).Msg("metrics server listening")
		return serve(d.metrics, d.metricsLn)
	}, func(error) {
		d.shutdown(d.metrics, "metrics")
	})

	d.ready.Store(true)
	err := g.Run()
	d.ready.Store(false)

	var sig run.SignalError
	if errors.As(err, &sig) {
		d.logger.Info().Str("signal", sig.Signal.String()).Msg("received signal, shutting down")
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serve(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (d *Daemon) shutdown(srv *http.Server, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		d.logger.Error().Err(err).Str("server", name).Msg("graceful shutdown failed")
	}
}

// APIAddr returns the bound API address
func (d *Daemon) APIAddr() string {
	return d.apiLn.Addr().String()
}

// MetricsPort returns the bound metrics port
func (d *Daemon) MetricsPort() int {
	if addr, ok := d.metricsLn.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Close releases listeners when Run was never called
func (d *Daemon) Close() error {
	return errors.Join(d.api.Close(), d.metrics.Close(), closeListener(d.apiLn), closeListener(d.metricsLn))
}

func closeListener(ln net.Listener) error {
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	h := HealthStatus{
		Status: "healthy",
		Uptime: int64(time.Since(d.startTime).Seconds()),
	}
	if d.stats != nil {
		h.Reports, h.DBSizeBytes = d.stats.Stats()
	}
	return h
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status      string
	Uptime      int64
	Reports     int
	DBSizeBytes int64
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := d.Health()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "%s uptime=%ds", h.Status, h.Uptime)
	if d.stats != nil {
		_, _ = fmt.Fprintf(w, " reports=%d db_bytes=%d", h.Reports, h.DBSizeBytes)
	}
}

func (d *Daemon) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !d.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
