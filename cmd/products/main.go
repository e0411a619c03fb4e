package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/joao-fontenele/shoplite/internal/auth"
	"github.com/joao-fontenele/shoplite/internal/config"
	"github.com/joao-fontenele/shoplite/internal/domain"
	"github.com/joao-fontenele/shoplite/internal/messaging"
	"github.com/joao-fontenele/shoplite/internal/products"
	"github.com/joao-fontenele/shoplite/internal/server"
	"github.com/joao-fontenele/shoplite/internal/telemetry"
)

const serviceName = "products"

func main() {
	ctx := context.Background()
	cfg := config.MustLoad(slog.Default())
	logger := server.NewLogger(cfg.SlogLevel())

	if err := config.Require(map[string]string{
		"POSTGRES_URL": cfg.Postgres.URL,
		"JWT_SECRET":   cfg.Auth.JWTSecret,
	}); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, "0.1.0", cfg.Tracing.Endpoint, cfg.Tracing.Enabled)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	db, err := telemetry.OpenPostgres(ctx, cfg.Postgres.URL, cfg.SchemaOr("catalog"))
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	broker, err := messaging.Connect(ctx, cfg.Kafka.Brokers, cfg.Kafka.ClientID, logger)
	if err != nil {
		logger.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer func() { _ = broker.Close() }()

	if err := broker.Declare(ctx, messaging.Topology{Exchanges: []string{domain.ExchangeProductEvents}}); err != nil {
		logger.Error("failed to declare topology", "error", err)
		os.Exit(1)
	}

	service := products.NewService(products.NewCatalogRepository(db), broker, logger)
	handler := products.NewHandler(service, logger)

	mux := http.NewServeMux()
	handler.Routes(mux, auth.NewVerifier(cfg.Auth.JWTSecret))

	if err := server.Run(ctx, logger, server.Options{
		Name:    serviceName,
		Port:    cfg.PortOr("8083"),
		HTTP:    cfg.HTTP,
		Mux:     mux,
		Metrics: metricsHandler,
	}); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
