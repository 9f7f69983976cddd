package installment

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tradecore-erp/tradecore/internal/platform/httpx"
)

// Handler manages installment endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers installment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/invoices/{id}/installments", h.listByInvoice)
	r.Post("/installments/sweep", h.sweepOverdue)
}

func (h *Handler) listByInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "invoice id must be an integer")
		return
	}
	installments, err := h.service.ListByInvoice(r.Context(), id)
	if err != nil {
		h.logger.Error("installment listing failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	out := make([]map[string]any, 0, len(installments))
	for _, inst := range installments {
		out = append(out, map[string]any{
			"id":          inst.ID,
			"invoice_id":  inst.InvoiceID,
			"sequence":    inst.Sequence,
			"amount":      inst.Amount.StringFixed(4),
			"due_date":    inst.DueDate.Format(time.DateOnly),
			"status":      string(inst.Status),
			"paid_amount": inst.PaidAmount.StringFixed(4),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"installments": out})
}

func (h *Handler) sweepOverdue(w http.ResponseWriter, r *http.Request) {
	marked, err := h.service.SweepOverdue(r.Context(), time.Now().UTC())
	if err != nil {
		h.logger.Error("overdue sweep failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"marked_overdue": marked})
}
