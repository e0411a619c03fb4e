// Package server runs a service process: the HTTP listener, the background
// consumers and the graceful shutdown that stops both.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/shoplite/internal/config"
	"github.com/joao-fontenele/shoplite/internal/httpio"
)

// Worker runs until ctx is canceled. Returning a non-nil error other than
// context.Canceled stops the whole process.
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

type Options struct {
	Name    string
	Port    string
	HTTP    config.HTTP
	Mux     *http.ServeMux
	Metrics http.Handler
	Workers []Worker
}

// NewLogger builds the JSON logger every service writes to stdout.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// Instrument wraps mux with server spans named after the matched pattern.
func Instrument(mux http.Handler, name string) http.Handler {
	return otelhttp.NewHandler(mux, name,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			if r.Pattern != "" {
				return r.Pattern
			}
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Run serves opts.Mux plus /healthz and /metrics, starts the workers and
// blocks until SIGINT, SIGTERM or a failing worker.
func Run(ctx context.Context, logger *slog.Logger, opts Options) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := opts.Mux
	if mux == nil {
		mux = http.NewServeMux()
	}
	mux.HandleFunc("GET /healthz", httpio.HandleHealth)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	server := &http.Server{
		Addr:         ":" + opts.Port,
		Handler:      Instrument(mux, opts.Name),
		ReadTimeout:  opts.HTTP.ReadTimeout,
		WriteTimeout: opts.HTTP.WriteTimeout,
	}

	errs := make(chan error, len(opts.Workers)+1)

	go func() {
		logger.Info("starting "+opts.Name+" service", "port", opts.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	var wg sync.WaitGroup
	for _, w := range opts.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("starting worker", "worker", w.Name)
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("worker stopped", "worker", w.Name, "error", err)
				errs <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
	}

	logger.Info("shutting down")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	wg.Wait()

	return runErr
}
