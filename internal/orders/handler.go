package orders

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/shoplite/internal/auth"
	"github.com/joao-fontenele/shoplite/internal/domain"
	"github.com/joao-fontenele/shoplite/internal/httpio"
)

type Service interface {
	CreateOrder(ctx context.Context, id auth.Identity, in CreateOrderInput) (*domain.Order, error)
	GetOrderByID(ctx context.Context, id auth.Identity, orderID string) (*domain.Order, error)
	GetUserOrders(ctx context.Context, id auth.Identity) ([]domain.Order, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	id, err := auth.MustIdentity(r.Context())
	if err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}

	var req CreateOrderInput
	if err := httpio.DecodeJSON(r, &req); err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}

	order, err := h.service.CreateOrder(r.Context(), id, req)
	if err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}

	httpio.WriteJSON(w, h.logger, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := auth.MustIdentity(r.Context())
	if err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}

	order, err := h.service.GetOrderByID(r.Context(), id, r.PathValue("id"))
	if err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}

	h.logger.Info("order retrieved", "order_id", order.ID)
	httpio.WriteJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, err := auth.MustIdentity(r.Context())
	if err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}

	orders, err := h.service.GetUserOrders(r.Context(), id)
	if err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}

	h.logger.Info("orders listed", "user_id", id.UserID, "count", len(orders))
	httpio.WriteJSON(w, h.logger, http.StatusOK, orders)
}

// Routes registers the order endpoints on mux, gated to customers.
func (h *Handler) Routes(mux *http.ServeMux, v *auth.Verifier) {
	mux.HandleFunc("POST /orders", v.Require(h.logger, h.HandleCreate, auth.RoleCustomer))
	mux.HandleFunc("GET /orders", v.Require(h.logger, h.HandleList, auth.RoleCustomer))
	mux.HandleFunc("GET /orders/{id}", v.Require(h.logger, h.HandleGet, auth.RoleCustomer))
}
