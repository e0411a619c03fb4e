package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/shoplite/internal/auth"
	"github.com/joao-fontenele/shoplite/internal/config"
	"github.com/joao-fontenele/shoplite/internal/delivery"
	"github.com/joao-fontenele/shoplite/internal/domain"
	"github.com/joao-fontenele/shoplite/internal/messaging"
	"github.com/joao-fontenele/shoplite/internal/orders"
	"github.com/joao-fontenele/shoplite/internal/payment"
	"github.com/joao-fontenele/shoplite/internal/server"
	"github.com/joao-fontenele/shoplite/internal/telemetry"
)

const serviceName = "orders"

func main() {
	ctx := context.Background()
	cfg := config.MustLoad(slog.Default())
	logger := server.NewLogger(cfg.SlogLevel())

	if err := config.Require(map[string]string{
		"POSTGRES_URL":         cfg.Postgres.URL,
		"JWT_SECRET":           cfg.Auth.JWTSecret,
		"PAYMENT_PROVIDER_URL": cfg.Payment.URL,
		"EMAIL_SERVICE_URL":    cfg.Delivery.EmailServiceURL,
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

	db, err := telemetry.OpenPostgres(ctx, cfg.Postgres.URL, cfg.SchemaOr("orders"))
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

	if err := broker.Declare(ctx, messaging.Topology{Exchanges: []string{domain.ExchangeOrderEvents}}); err != nil {
		logger.Error("failed to declare topology", "error", err)
		os.Exit(1)
	}

	payments := payment.NewClient(cfg.Payment.URL, cfg.Payment.APIKey, cfg.Payment.Currency, &http.Client{
		Timeout:   cfg.Payment.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	})
	deliverer := delivery.NewClient(cfg.Delivery.EmailServiceURL, &http.Client{
		Timeout:   cfg.Delivery.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}, delivery.Settings{
		MaxFailures: cfg.Delivery.MaxFailures,
		OpenTimeout: cfg.Delivery.OpenTimeout,
	}, logger)

	workflow := orders.NewWorkflow(orders.NewOrderRepository(db), payments, deliverer, broker, logger)
	handler := orders.NewHandler(workflow, logger)

	mux := http.NewServeMux()
	handler.Routes(mux, auth.NewVerifier(cfg.Auth.JWTSecret))

	if err := server.Run(ctx, logger, server.Options{
		Name:    serviceName,
		Port:    cfg.PortOr("8081"),
		HTTP:    cfg.HTTP,
		Mux:     mux,
		Metrics: metricsHandler,
	}); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
