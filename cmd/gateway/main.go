package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/shoplite/internal/config"
	"github.com/joao-fontenele/shoplite/internal/gateway"
	"github.com/joao-fontenele/shoplite/internal/server"
	"github.com/joao-fontenele/shoplite/internal/telemetry"
)

const serviceName = "gateway"

func main() {
	ctx := context.Background()
	cfg := config.MustLoad(slog.Default())
	logger := server.NewLogger(cfg.SlogLevel())

	if err := config.Require(map[string]string{
		"ORDERS_SERVICE_URL":   cfg.Gateway.OrdersURL,
		"PRODUCTS_SERVICE_URL": cfg.Gateway.ProductsURL,
		"CARTS_SERVICE_URL":    cfg.Gateway.CartsURL,
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

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	handler := gateway.NewHandler(
		gateway.NewServiceProxy("orders", cfg.Gateway.OrdersURL, httpClient),
		gateway.NewServiceProxy("products", cfg.Gateway.ProductsURL, httpClient),
		gateway.NewServiceProxy("carts", cfg.Gateway.CartsURL, httpClient),
		logger,
	)

	mux := http.NewServeMux()
	handler.Routes(mux)

	if err := server.Run(ctx, logger, server.Options{
		Name:    serviceName,
		Port:    cfg.PortOr("8080"),
		HTTP:    cfg.HTTP,
		Mux:     mux,
		Metrics: metricsHandler,
	}); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
