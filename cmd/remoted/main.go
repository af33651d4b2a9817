package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/edgewire/internal/config"
	"github.com/danmuck/edgewire/internal/handler"
	"github.com/danmuck/edgewire/internal/observability"
	"github.com/danmuck/edgewire/internal/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "", "path to remoted TOML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "remoted: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	log := observability.InitLogger("remoted")
	observability.RegisterMetrics()

	cfg, err := config.LoadDaemon(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg.Server)
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	var metrics *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metrics = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("remoted metrics endpoint failed")
			}
		}()
	}

	log.Info().
		Str("addr", srv.Addr().String()).
		Int("workers", cfg.Workers).
		Str("metrics_addr", cfg.MetricsAddr).
		Msg("remoted ready")

	err = handler.Echo(ctx, srv, cfg.Workers)

	if metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metrics.Shutdown(shutdownCtx)
	}
	log.Info().
		Int64("bytes_received", srv.BytesReceived()).
		Int64("bytes_sent", srv.BytesSent()).
		Int("errors", len(srv.Errors())).
		Msg("remoted shutting down")
	return err
}
