package treasury

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/tradecore-erp/tradecore/internal/platform/httpx"
	"github.com/tradecore-erp/tradecore/internal/shared"
)

// Handler manages treasury ledger endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers treasury routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/transactions", h.recordTransaction)
	r.Post("/transactions/{id}/void", h.voidTransaction)
	r.Get("/treasuries/{id}/balance", h.balance)
	r.Get("/statement", h.statement)
	r.Get("/partners/{id}", h.getPartner)
	r.Post("/partners/{id}/recalculate", h.recalculateBalance)
}

type recordTransactionRequest struct {
	TreasuryID  int64  `json:"treasury_id" validate:"required"`
	Type        string `json:"type" validate:"required"`
	Amount      string `json:"amount" validate:"required"`
	Description string `json:"description"`
	PartnerID   int64  `json:"partner_id"`
	EmployeeID  int64  `json:"employee_id"`
	RefKind     string `json:"ref_kind"`
	RefID       int64  `json:"ref_id"`
	ActorID     int64  `json:"actor_id"`
}

func (h *Handler) recordTransaction(w http.ResponseWriter, r *http.Request) {
	var req recordTransactionRequest
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
	transaction, err := h.service.RecordTransaction(r.Context(), TransactionInput{
		TreasuryID:  req.TreasuryID,
		Type:        TransactionType(req.Type),
		Amount:      amount,
		Description: req.Description,
		PartnerID:   req.PartnerID,
		EmployeeID:  req.EmployeeID,
		Ref:         shared.DocRef{Kind: shared.RefKind(req.RefKind), ID: req.RefID},
	}, req.ActorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, transactionResponse(transaction))
}

func (h *Handler) voidTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "transaction id must be an integer")
		return
	}
	var req struct {
		ActorID int64  `json:"actor_id"`
		Reason  string `json:"reason"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.service.VoidTransaction(r.Context(), id, req.ActorID, req.Reason); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "voided": true})
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "treasury id must be an integer")
		return
	}
	balance, err := h.service.Balance(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"treasury_id": id, "balance": balance.StringFixed(4)})
}

func (h *Handler) statement(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	treasuryID, _ := strconv.ParseInt(q.Get("treasury_id"), 10, 64)
	partnerID, _ := strconv.ParseInt(q.Get("partner_id"), 10, 64)
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	includeDeleted := q.Get("include_deleted") == "true"
	transactions, err := h.service.Statement(r.Context(), TransactionFilter{
		TreasuryID:     treasuryID,
		PartnerID:      partnerID,
		IncludeDeleted: includeDeleted,
		Page:           page,
		PerPage:        perPage,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(transactions))
	for _, t := range transactions {
		out = append(out, transactionResponse(t))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"transactions": out,
		"pagination":   shared.NewPagination(page, perPage, len(out)),
	})
}

func (h *Handler) getPartner(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "partner id must be an integer")
		return
	}
	partner, err := h.service.GetPartner(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, partnerResponse(partner))
}

func (h *Handler) recalculateBalance(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "partner id must be an integer")
		return
	}
	balance, err := h.service.RecalculateBalance(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"partner_id": id, "current_balance": balance.StringFixed(4)})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTreasuryNotFound), errors.Is(err, ErrPartnerNotFound), errors.Is(err, ErrTransactionNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInsufficientFunds):
		httpx.Problem(w, http.StatusConflict, "Insufficient Funds", err.Error())
	case errors.Is(err, ErrUnknownTransactionType), errors.Is(err, ErrInvalidAmount):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("treasury request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func transactionResponse(t Transaction) map[string]any {
	return map[string]any{
		"id":          t.ID,
		"treasury_id": t.TreasuryID,
		"amount":      t.Amount.String(),
		"type":        string(t.Type),
		"description": t.Description,
		"partner_id":  t.PartnerID,
		"employee_id": t.EmployeeID,
		"ref":         t.Ref.String(),
		"deleted":     t.Deleted,
		"occurred_at": t.OccurredAt,
	}
}

func partnerResponse(p Partner) map[string]any {
	return map[string]any{
		"id":                p.ID,
		"name":              p.Name,
		"type":              string(p.Type),
		"current_balance":   p.CurrentBalance.StringFixed(4),
		"current_capital":   p.CurrentCapital.StringFixed(4),
		"equity_percentage": p.EquityPercentage.String(),
		"is_manager":        p.IsManager,
		"monthly_salary":    p.MonthlySalary.StringFixed(4),
	}
}
