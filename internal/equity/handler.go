package equity

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/tradecore-erp/tradecore/internal/platform/httpx"
	"github.com/tradecore-erp/tradecore/internal/treasury"
)

// Handler manages equity period endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers equity routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/periods/current", h.currentPeriod)
	r.Post("/capital/injections", h.injectCapital)
	r.Post("/capital/drawings", h.recordDrawing)
	r.Post("/periods/close", h.closePeriod)
}

func (h *Handler) currentPeriod(w http.ResponseWriter, r *http.Request) {
	period, locks, err := h.service.CurrentPeriod(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(locks))
	for _, lock := range locks {
		out = append(out, periodPartnerResponse(lock))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"period":   periodResponse(period),
		"partners": out,
	})
}

type injectCapitalRequest struct {
	PartnerID  int64  `json:"partner_id" validate:"required"`
	Amount     string `json:"amount" validate:"required"`
	Kind       string `json:"kind" validate:"required"`
	TreasuryID int64  `json:"treasury_id"`
	Note       string `json:"note"`
	ActorID    int64  `json:"actor_id"`
}

func (h *Handler) injectCapital(w http.ResponseWriter, r *http.Request) {
	var req injectCapitalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount must be a decimal string")
		return
	}
	lock, err := h.service.InjectCapital(r.Context(), InjectCapitalInput{
		PartnerID:  req.PartnerID,
		Amount:     amount,
		Kind:       CapitalKind(req.Kind),
		TreasuryID: req.TreasuryID,
		Note:       req.Note,
		ActorID:    req.ActorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, periodPartnerResponse(lock))
}

type drawingRequest struct {
	PartnerID  int64  `json:"partner_id" validate:"required"`
	Amount     string `json:"amount" validate:"required"`
	TreasuryID int64  `json:"treasury_id" validate:"required"`
	Note       string `json:"note"`
	ActorID    int64  `json:"actor_id"`
}

func (h *Handler) recordDrawing(w http.ResponseWriter, r *http.Request) {
	var req drawingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount must be a decimal string")
		return
	}
	err = h.service.RecordDrawing(r.Context(), DrawingInput{
		PartnerID:  req.PartnerID,
		Amount:     amount,
		TreasuryID: req.TreasuryID,
		Note:       req.Note,
		ActorID:    req.ActorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type closePeriodRequest struct {
	TreasuryID int64  `json:"treasury_id" validate:"required"`
	AsOf       string `json:"as_of"`
	Note       string `json:"note"`
	ActorID    int64  `json:"actor_id"`
}

func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
	var req closePeriodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var asOf time.Time
	if req.AsOf != "" {
		var err error
		asOf, err = time.Parse(time.RFC3339, req.AsOf)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "as_of must be RFC3339")
			return
		}
	}
	closed, err := h.service.ClosePeriodAndAllocate(r.Context(), ClosePeriodInput{
		TreasuryID: req.TreasuryID,
		AsOf:       asOf,
		Note:       req.Note,
		ActorID:    req.ActorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, periodResponse(closed))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNoOpenPeriod):
		httpx.Problem(w, http.StatusConflict, "No Open Period", err.Error())
	case errors.Is(err, treasury.ErrPartnerNotFound), errors.Is(err, treasury.ErrTreasuryNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, treasury.ErrInsufficientFunds):
		httpx.Problem(w, http.StatusConflict, "Insufficient Funds", err.Error())
	case errors.Is(err, ErrNotShareholder), errors.Is(err, ErrInvalidCapitalKind), errors.Is(err, ErrInvalidAmount):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("equity request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func periodResponse(p Period) map[string]any {
	out := map[string]any{
		"id":             p.ID,
		"number":         p.Number,
		"start_date":     p.StartDate,
		"status":         string(p.Status),
		"total_revenue":  p.TotalRevenue.StringFixed(4),
		"total_expenses": p.TotalExpenses.StringFixed(4),
		"net_profit":     p.NetProfit.StringFixed(4),
	}
	if !p.EndDate.IsZero() {
		out["end_date"] = p.EndDate
	}
	return out
}

func periodPartnerResponse(lock PeriodPartner) map[string]any {
	return map[string]any{
		"period_id":        lock.PeriodID,
		"partner_id":       lock.PartnerID,
		"equity_pct":       lock.EquityPct.String(),
		"capital_at_start": lock.CapitalAtStart.StringFixed(4),
		"profit_allocated": lock.ProfitAllocated.StringFixed(4),
		"capital_injected": lock.CapitalInjected.StringFixed(4),
		"drawings_taken":   lock.DrawingsTaken.StringFixed(4),
	}
}
