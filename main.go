package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"fleet-dashboard/internal/auth"
	"fleet-dashboard/internal/config"
	"fleet-dashboard/internal/fleet/application"
	"fleet-dashboard/internal/fleet/domain"
	"fleet-dashboard/internal/fleet/infrastructure/postgres"
	"fleet-dashboard/internal/fleet/infrastructure/upstream"
	"fleet-dashboard/internal/fleet/infrastructure/webhook"
	fleethttp "fleet-dashboard/internal/fleet/interfaces/http"
	"fleet-dashboard/internal/logging"
	"fleet-dashboard/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector, err := metrics.NewCollector(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal().Err(err).Msg("metrics init error")
	}

	client, err := upstream.NewClient(cfg.APIBaseURL, cfg.APIToken, upstream.WithTimeout(cfg.APITimeout))
	if err != nil {
		logger.Fatal().Err(err).Msg("upstream client error")
	}

	broker := fleethttp.NewSSEBroker()
	notifiers := application.MultiNotifier{broker}
	if cfg.WebhookURL != "" {
		hook, err := webhook.NewNotifier(cfg.WebhookURL, webhook.WithLogger(logging.WithComponent(logger, "webhook")))
		if err != nil {
			logger.Fatal().Err(err).Msg("webhook notifier error")
		}
		notifiers = append(notifiers, hook)
	}

	opts := []application.Option{
		application.WithLogger(logging.WithComponent(logger, "dashboard")),
		application.WithObserver(collector),
		application.WithNotifier(notifiers),
		application.WithActionLimit(cfg.ActionLimit),
		application.WithIntervals(application.Intervals{
			Trailers: cfg.Intervals.Trailers,
			Network:  cfg.Intervals.Network,
			JobSites: cfg.Intervals.JobSites,
			Actions:  cfg.Intervals.Actions,
			Daily:    cfg.Intervals.Daily,
		}),
		application.WithStatusPolicy(domain.StatusPolicy{
			StaleAfter:     cfg.Status.StaleAfter,
			CriticalSOC:    cfg.Status.CriticalSOC,
			WarningSOC:     cfg.Status.WarningSOC,
			WeakSignalBars: cfg.Status.WeakSignalBars,
		}),
	}
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("db open error")
		}
		defer db.Close()
		reader, err := postgres.NewDailyMetricsReader(db, postgres.WithTable(cfg.DailyTable))
		if err != nil {
			logger.Fatal().Err(err).Msg("daily metrics reader error")
		}
		if err := metrics.RegisterDBStats(prometheus.DefaultRegisterer, db); err != nil {
			logger.Fatal().Err(err).Msg("db metrics error")
		}
		opts = append(opts, application.WithEnergyReader(reader), application.WithSeriesReader(reader))
		logger.Info().Str("table", cfg.DailyTable).Msg("daily metrics served from postgres")
	}

	dashboard, err := application.NewDashboard(client, opts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("dashboard error")
	}
	if err := dashboard.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("dashboard start error")
	}
	defer dashboard.Close()

	handler, err := fleethttp.NewHandler(dashboard,
		fleethttp.WithExportObserver(collector),
		fleethttp.WithHandlerLogger(logging.WithComponent(logger, "http")),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("fleet handler error")
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy, logging.WithComponent(logger, "auth"))

	mux := http.NewServeMux()
	mux.Handle(auth.StreamPath, fleethttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/", handler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("http server error")
	}
	logger.Info().Msg("shutdown complete")
}

func loggingMiddleware(next http.Handler, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", resp.status).
			Dur("duration", time.Since(start)).
			Msg("http")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps the SSE stream working through the middleware.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
