// Collector serves GET /token and POST /feedback for the conference feedback bridge.
// Requires DATABASE_URL, JWT_SIGNATURE, OIDC_VALIDATION_URL, and MATRIX_SERVER_NAME; run cmd/migrate first.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nordeck/feedback-application/internal/collector/auth"
	"github.com/nordeck/feedback-application/internal/collector/handler"
	"github.com/nordeck/feedback-application/internal/collector/repository"
	"github.com/nordeck/feedback-application/internal/config"
	"github.com/nordeck/feedback-application/internal/db"
	"github.com/nordeck/feedback-application/internal/health"
	"github.com/nordeck/feedback-application/internal/telemetry"
	telemetryotel "github.com/nordeck/feedback-application/internal/telemetry/otel"
	"github.com/nordeck/feedback-application/internal/telemetry/producer"
)

const (
	serviceName     = "feedback-collector"
	shutdownTimeout = 10 * time.Second
)

var newProviders = telemetryotel.NewProviders

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stderr, serviceName)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("collector exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.ValidateCollector(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := newProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure)
	if err != nil {
		return err
	}
	providers.SetGlobal()
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(drainCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	emitters := []telemetry.EventEmitter{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	if brokers := cfg.TelemetryKafkaBrokersList(); len(brokers) > 0 {
		kafkaProducer, err := producer.NewKafkaProducer(brokers, cfg.TelemetryKafkaTopic)
		if err != nil {
			return err
		}
		defer kafkaProducer.Close()
		emitters = append(emitters, kafkaProducer)
		logger.Info("publishing telemetry to kafka", "topic", kafkaProducer.Topic())
	}

	validator := auth.NewOIDCValidator(cfg.OIDCValidationURL, cfg.MatrixServerName, cfg.UVSAuthToken, cfg.Timeout())
	issuer := auth.NewTokenIssuer([]byte(cfg.JWTSignature), cfg.TokenTTL())
	repo := repository.NewPostgresRepository(conn)

	router := handler.NewRouter()
	handler.New(validator, issuer, repo, telemetry.Multi(emitters...), logger).Register(router)
	health.NewHandler(conn).Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Wrap(handler.AccessLog(logger, map[string]bool{"/healthz": true, "/readyz": true}, router)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", "error", err)
	}
	// Let in-flight async emits finish before the producer and exporters go away.
	time.Sleep(telemetry.ShutdownDrainDuration)
	logger.Info("HTTP server stopped")
	return nil
}
