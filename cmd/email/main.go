package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/joao-fontenele/shoplite/internal/config"
	"github.com/joao-fontenele/shoplite/internal/email"
	"github.com/joao-fontenele/shoplite/internal/server"
	"github.com/joao-fontenele/shoplite/internal/telemetry"
)

const serviceName = "email"

// email stands in for the delivery provider: it accepts /send and logs it.
func main() {
	ctx := context.Background()
	cfg := config.MustLoad(slog.Default())
	logger := server.NewLogger(cfg.SlogLevel())

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, "0.1.0", cfg.Tracing.Endpoint, cfg.Tracing.Enabled)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	handler := email.NewHandler(email.LogSender{Logger: logger}, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /send", telemetry.WithHTTPRoute(handler.HandleSend))

	if err := server.Run(ctx, logger, server.Options{
		Name: serviceName,
		Port: cfg.PortOr("8084"),
		HTTP: cfg.HTTP,
		Mux:  mux,
	}); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
