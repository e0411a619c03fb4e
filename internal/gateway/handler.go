package gateway

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/joao-fontenele/shoplite/internal/apperror"
	"github.com/joao-fontenele/shoplite/internal/httpio"
	"github.com/joao-fontenele/shoplite/internal/telemetry"
)

type Handler struct {
	ordersProxy   *ServiceProxy
	productsProxy *ServiceProxy
	cartsProxy    *ServiceProxy
	logger        *slog.Logger
}

func NewHandler(ordersProxy, productsProxy, cartsProxy *ServiceProxy, logger *slog.Logger) *Handler {
	return &Handler{
		ordersProxy:   ordersProxy,
		productsProxy: productsProxy,
		cartsProxy:    cartsProxy,
		logger:        logger,
	}
}

// Routes exposes the public surface. Authorization is enforced upstream; the
// gateway only forwards the bearer token.
func (h *Handler) Routes(mux *http.ServeMux) {
	for _, pattern := range []string{
		"GET /orders", "POST /orders", "GET /orders/{id}",
	} {
		mux.HandleFunc(pattern, telemetry.WithHTTPRoute(h.HandleOrders))
	}

	for _, pattern := range []string{
		"GET /products", "POST /products",
		"GET /products/{id}", "PATCH /products/{id}", "DELETE /products/{id}",
		"GET /categories", "POST /categories",
		"GET /categories/{name}/products", "PATCH /categories/{id}", "DELETE /categories/{id}",
	} {
		mux.HandleFunc(pattern, telemetry.WithHTTPRoute(h.HandleProducts))
	}

	for _, pattern := range []string{
		"GET /cart", "DELETE /cart",
		"POST /cart/items", "PATCH /cart/items/{id}", "DELETE /cart/items/{id}",
	} {
		mux.HandleFunc(pattern, telemetry.WithHTTPRoute(h.HandleCarts))
	}
}

func (h *Handler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.ordersProxy, r.URL.Path)
}

func (h *Handler) HandleProducts(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.productsProxy, r.URL.Path)
}

func (h *Handler) HandleCarts(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.cartsProxy, r.URL.Path)
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, path string) {
	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to forward request", "error", err, "upstream", proxy.Name(), "path", path)
		httpio.WriteJSON(w, h.logger, http.StatusBadGateway, httpio.ErrorResponse{
			Kind:      apperror.KindInternal,
			Message:   "service unavailable",
			Status:    http.StatusBadGateway,
			Timestamp: time.Now().UTC(),
		})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.InfoContext(r.Context(), "request proxied", "method", r.Method, "path", path, "upstream", proxy.Name(), "status", resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to copy response body", "error", err)
	}
}
