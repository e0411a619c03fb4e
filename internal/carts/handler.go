package carts

import (
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/shoplite/internal/auth"
	"github.com/joao-fontenele/shoplite/internal/domain"
	"github.com/joao-fontenele/shoplite/internal/httpio"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Routes(mux *http.ServeMux, v *auth.Verifier) {
	mux.HandleFunc("GET /cart", v.Require(h.logger, h.HandleGet, auth.RoleCustomer))
	mux.HandleFunc("DELETE /cart", v.Require(h.logger, h.HandleClear, auth.RoleCustomer))
	mux.HandleFunc("POST /cart/items", v.Require(h.logger, h.HandleAddItem, auth.RoleCustomer))
	mux.HandleFunc("PATCH /cart/items/{id}", v.Require(h.logger, h.HandleUpdateItem, auth.RoleCustomer))
	mux.HandleFunc("DELETE /cart/items/{id}", v.Require(h.logger, h.HandleRemoveItem, auth.RoleCustomer))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, http.StatusOK, func(id auth.Identity) (*domain.Cart, error) {
		return h.service.GetCart(r.Context(), id.UserID)
	})
}

func (h *Handler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemInput
	if err := httpio.DecodeJSON(r, &req); err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}
	h.respond(w, r, http.StatusCreated, func(id auth.Identity) (*domain.Cart, error) {
		return h.service.AddItem(r.Context(), id.UserID, req)
	})
}

type updateItemRequest struct {
	// Quantity is added to the line's current quantity and may be negative.
	Quantity int `json:"quantity"`
}

func (h *Handler) HandleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if err := httpio.DecodeJSON(r, &req); err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}
	h.respond(w, r, http.StatusOK, func(id auth.Identity) (*domain.Cart, error) {
		return h.service.UpdateItem(r.Context(), id.UserID, r.PathValue("id"), req.Quantity)
	})
}

func (h *Handler) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, http.StatusOK, func(id auth.Identity) (*domain.Cart, error) {
		return h.service.RemoveItem(r.Context(), id.UserID, r.PathValue("id"))
	})
}

func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, http.StatusOK, func(id auth.Identity) (*domain.Cart, error) {
		return h.service.ClearCart(r.Context(), id.UserID)
	})
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, fn func(auth.Identity) (*domain.Cart, error)) {
	id, err := auth.MustIdentity(r.Context())
	if err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}

	cart, err := fn(id)
	if err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}
	httpio.WriteJSON(w, h.logger, status, cart)
}
