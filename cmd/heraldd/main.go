// Command heraldd runs the webhook delivery engine and its management API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sourcegraph/conc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/xraph/herald"
	"github.com/xraph/herald/alert"
	"github.com/xraph/herald/api"
	"github.com/xraph/herald/internal/config"
	"github.com/xraph/herald/observability"
)

func main() {
	configPath := flag.String("config", os.Getenv("HERALD_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "heraldd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info("store ready", slog.String("driver", cfg.Store.Driver))
	defer st.Close() //nolint:errcheck // process exit

	opts := []herald.Option{
		herald.WithConfig(cfg.HeraldConfig()),
		herald.WithStore(st),
		herald.WithLogger(logger),
		herald.WithNotifier(alert.LogNotifier{Logger: logger}),
		herald.WithTracer(observability.NewTracer()),
	}

	router := chi.NewRouter()
	if cfg.Metrics.Enabled {
		mp, err := newMeterProvider()
		if err != nil {
			return err
		}
		defer mp.Shutdown(context.Background()) //nolint:errcheck // process exit

		metrics, err := observability.NewMetrics(mp.Meter("github.com/xraph/herald"))
		if err != nil {
			return fmt.Errorf("create metrics: %w", err)
		}
		opts = append(opts, herald.WithMetrics(metrics))
		router.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	h, err := herald.New(opts...)
	if err != nil {
		return err
	}

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	router.Mount(cfg.Server.BasePath, api.NewHandler(h, logger))

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	h.Start(ctx)

	var lifecycle conc.WaitGroup
	serveErr := make(chan error, 1)
	lifecycle.Go(func() {
		logger.Info("listening", slog.String("addr", srv.Addr), slog.String("base_path", cfg.Server.BasePath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("serve: %w", err)
			stop()
		}
	})

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	err = errors.Join(srv.Shutdown(shutdownCtx), h.Stop(shutdownCtx))
	lifecycle.Wait()

	select {
	case serr := <-serveErr:
		return errors.Join(serr, err)
	default:
		return err
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, hopts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, hopts))
}

func newMeterProvider() (*sdkmetric.MeterProvider, error) {
	exporter, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)), nil
}
