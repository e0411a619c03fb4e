package products

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/joao-fontenele/shoplite/internal/apperror"
	"github.com/joao-fontenele/shoplite/internal/auth"
	"github.com/joao-fontenele/shoplite/internal/httpio"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes registers the catalog endpoints. Reads are public, writes need ADMIN.
func (h *Handler) Routes(mux *http.ServeMux, v *auth.Verifier) {
	mux.HandleFunc("GET /products", h.HandleList)
	mux.HandleFunc("GET /products/{id}", h.HandleGet)
	mux.HandleFunc("POST /products", v.Require(h.logger, h.HandleCreate, auth.RoleAdmin))
	mux.HandleFunc("PATCH /products/{id}", v.Require(h.logger, h.HandleUpdate, auth.RoleAdmin))
	mux.HandleFunc("DELETE /products/{id}", v.Require(h.logger, h.HandleDelete, auth.RoleAdmin))

	mux.HandleFunc("GET /categories", h.HandleListCategories)
	mux.HandleFunc("GET /categories/{name}/products", h.HandleListByCategory)
	mux.HandleFunc("POST /categories", v.Require(h.logger, h.HandleCreateCategory, auth.RoleAdmin))
	mux.HandleFunc("PATCH /categories/{id}", v.Require(h.logger, h.HandleUpdateCategory, auth.RoleAdmin))
	mux.HandleFunc("DELETE /categories/{id}", v.Require(h.logger, h.HandleDeleteCategory, auth.RoleAdmin))
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	page, err := pageParam(r)
	if err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}

	products, err := h.service.ListProducts(r.Context(), page)
	if err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}
	httpio.WriteJSON(w, h.logger, http.StatusOK, products)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}
	httpio.WriteJSON(w, h.logger, http.StatusOK, p)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateProductInput
	if err := httpio.DecodeJSON(r, &req); err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}

	p, err := h.service.CreateProduct(r.Context(), req)
	if err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}
	httpio.WriteJSON(w, h.logger, http.StatusCreated, p)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req UpdateProductInput
	if err := httpio.DecodeJSON(r, &req); err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}

	res, err := h.service.UpdateProduct(r.Context(), r.PathValue("id"), req)
	if err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}

	h.logger.Info("product updated", "product_id", res.Product.ID, "stock_applied", res.StockApplied)
	httpio.WriteJSON(w, h.logger, http.StatusOK, res)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteProduct(r.Context(), r.PathValue("id")); err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context())
	if err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}
	httpio.WriteJSON(w, h.logger, http.StatusOK, categories)
}

func (h *Handler) HandleListByCategory(w http.ResponseWriter, r *http.Request) {
	page, err := pageParam(r)
	if err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}

	products, err := h.service.ListProductsByCategory(r.Context(), r.PathValue("name"), page)
	if err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}
	httpio.WriteJSON(w, h.logger, http.StatusOK, products)
}

func (h *Handler) HandleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryInput
	if err := httpio.DecodeJSON(r, &req); err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}

	c, err := h.service.CreateCategory(r.Context(), req)
	if err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}
	httpio.WriteJSON(w, h.logger, http.StatusCreated, c)
}

func (h *Handler) HandleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req UpdateCategoryInput
	if err := httpio.DecodeJSON(r, &req); err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}

	c, err := h.service.UpdateCategory(r.Context(), r.PathValue("id"), req)
	if err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}
	httpio.WriteJSON(w, h.logger, http.StatusOK, c)
}

func (h *Handler) HandleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteCategory(r.Context(), r.PathValue("id")); err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pageParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("page")
	if raw == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.Validation("page must be a number")
	}
	return page, nil
}
