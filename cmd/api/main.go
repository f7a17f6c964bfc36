package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/velvette/checkout/internal/config"
	"github.com/velvette/checkout/internal/database"
	"github.com/velvette/checkout/internal/gateway/razorpay"
	"github.com/velvette/checkout/internal/kafka"
	httpadapter "github.com/velvette/checkout/internal/orders/adapters/http"
	orderspostgres "github.com/velvette/checkout/internal/orders/adapters/postgres"
	ordersapp "github.com/velvette/checkout/internal/orders/app"
	ordersmetrics "github.com/velvette/checkout/internal/orders/metrics"
	"github.com/velvette/checkout/internal/orders/ports"
	"github.com/velvette/checkout/internal/orders/recon"
	"github.com/velvette/checkout/internal/search"
	"github.com/velvette/checkout/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := telemetry.NewLogger(parseLogLevel(cfg.Telemetry.LogLevel))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Initialize(ctx, telemetry.Config{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: cfg.Service.Version,
		Environment:    cfg.Service.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTelEndpoint,
		EnableTracing:  cfg.Telemetry.EnableTracing,
		EnableMetrics:  cfg.Telemetry.EnableMetrics,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	pool, err := database.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("create database pool: %w", err)
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		logger.Info("running database migrations", "path", cfg.Database.MigrationsPath)
		if err := database.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("migrations completed")
	}

	meter := otel.Meter(cfg.Service.Name)

	dbMetrics, err := database.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("create database metrics: %w", err)
	}
	reconMetrics, err := ordersmetrics.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("create reconciliation metrics: %w", err)
	}
	httpMetrics, err := httpadapter.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("create http metrics: %w", err)
	}
	kafkaMetrics, err := kafka.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("create kafka metrics: %w", err)
	}

	repo := orderspostgres.NewRepository(pool, dbMetrics, reconMetrics)
	gateway := razorpay.NewClient(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret)
	verifier := razorpay.NewVerifier(cfg.Razorpay.KeySecret, cfg.Razorpay.WebhookSecret)

	var indexer ports.SearchIndexer = search.NoopIndexer{}
	if cfg.Redis.Addr != "" {
		queue := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer queue.Close()
		redisIndexer := search.NewIndexer(queue, logger)
		defer redisIndexer.Close()
		indexer = redisIndexer
		logger.Info("search reindex queue enabled", "addr", cfg.Redis.Addr)
	}

	var events ports.EventBus = kafka.NewNoopEventBus()
	if len(cfg.Kafka.Brokers) > 0 {
		bus := kafka.NewEventBus(cfg.Kafka.Brokers, cfg.Kafka.Topic, kafkaMetrics)
		defer func() {
			if err := bus.Close(); err != nil {
				logger.Error("event bus close failed", "error", err)
			}
		}()
		events = bus
		logger.Info("kafka event bus enabled", "brokers", strings.Join(cfg.Kafka.Brokers, ","), "topic", cfg.Kafka.Topic)
	}

	engine := recon.NewEngine()
	coordinator := ordersapp.NewCoordinator(repo, repo, engine, gateway, events, indexer, logger)
	handler := ordersapp.NewObservableReconcileHandler(coordinator, logger, reconMetrics)
	service := ordersapp.NewService(repo, gateway, verifier, handler, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.CheckHealth(r.Context(), pool); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	httpadapter.NewHandler(service).Register(mux)

	root := withRecovery(httpadapter.WithMetrics(withLogging(mux), httpMetrics))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownGrace)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	} else {
		logger.Info("http server stopped")
	}

	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		slog.InfoContext(r.Context(), "http request", "method", r.Method, "path", r.URL.Path, "status", rw.status, "duration", time.Since(start))
	})
}

func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic recovered", "error", rec)
				respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
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

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
