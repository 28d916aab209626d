package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nholik/deckhand/internal/healthcheck"
	"github.com/nholik/deckhand/internal/metrics"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Options selects what the watch-mode HTTP listeners serve.
type Options struct {
	PollInterval time.Duration
	Tracker      *healthcheck.Tracker
	Metrics      *metrics.Metrics
	HealthPort   int
	MetricsPort  int
}

// listener is one HTTP server to start.
type listener struct {
	port    int
	label   string
	handler http.Handler
}

// Start launches health and metrics HTTP servers as configured. They shut down when ctx is done.
func Start(ctx context.Context, logger zerolog.Logger, opts Options) {
	for _, l := range listeners(opts) {
		startServer(ctx, logger, l)
	}
}

// listeners shares one server when both ports are equal; a zero port disables its endpoints.
func listeners(opts Options) []listener {
	if opts.HealthPort > 0 && opts.HealthPort == opts.MetricsPort {
		return []listener{{port: opts.HealthPort, label: "health/metrics", handler: Routes(opts, true, true)}}
	}

	var out []listener
	if opts.HealthPort > 0 {
		out = append(out, listener{port: opts.HealthPort, label: "health", handler: Routes(opts, true, false)})
	}
	if opts.MetricsPort > 0 {
		out = append(out, listener{port: opts.MetricsPort, label: "metrics", handler: Routes(opts, false, true)})
	}
	return out
}

// Routes builds the handler of one listener.
func Routes(opts Options, health, metricsRoute bool) *http.ServeMux {
	mux := http.NewServeMux()
	if health {
		mux.HandleFunc("/healthz", healthcheck.HealthHandler(opts.Tracker, opts.PollInterval))
		mux.HandleFunc("/readyz", healthcheck.ReadyHandler(opts.Tracker))
	}
	if metricsRoute && opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics.Handler())
	}
	return mux
}

func startServer(ctx context.Context, logger zerolog.Logger, l listener) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", l.port),
		Handler:           l.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("server", l.label).Int("port", l.port).Msg("http server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("server", l.label).Int("port", l.port).Msg("http server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("server", l.label).Int("port", l.port).Msg("http server shutdown failed")
		}
	}()
}
