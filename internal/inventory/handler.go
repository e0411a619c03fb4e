package inventory

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/joao-fontenele/shoplite/internal/apperror"
	"github.com/joao-fontenele/shoplite/internal/auth"
	"github.com/joao-fontenele/shoplite/internal/domain"
	"github.com/joao-fontenele/shoplite/internal/httpio"
	"github.com/joao-fontenele/shoplite/internal/telemetry"
)

type MovementLister interface {
	Movements(ctx context.Context, orderID string) ([]domain.StockMovement, error)
}

// Handler exposes the stock ledger for operators.
type Handler struct {
	repo   MovementLister
	logger *slog.Logger
}

func NewHandler(repo MovementLister, logger *slog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		logger: logger,
	}
}

// Routes registers the ledger endpoint. Only ADMIN may read it.
func (h *Handler) Routes(mux *http.ServeMux, v *auth.Verifier) {
	mux.HandleFunc("GET /stock/{orderId}/movements",
		telemetry.WithHTTPRoute(v.Require(h.logger, h.HandleListMovements, auth.RoleAdmin)))
}

func (h *Handler) HandleListMovements(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderId")
	if err := uuid.Validate(orderID); err != nil {
		httpio.WriteError(w, r, h.logger, apperror.Validation("invalid order id %q", orderID))
		return
	}

	movements, err := h.repo.Movements(r.Context(), orderID)
	if err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}

	h.logger.Info("stock movements listed", "order_id", orderID, "count", len(movements))
	httpio.WriteJSON(w, h.logger, http.StatusOK, movements)
}
