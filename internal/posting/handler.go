package posting

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/tradecore-erp/tradecore/internal/inventory"
	"github.com/tradecore-erp/tradecore/internal/platform/httpx"
	"github.com/tradecore-erp/tradecore/internal/shared"
	"github.com/tradecore-erp/tradecore/internal/treasury"
)

// Handler manages document posting endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency *shared.IdempotencyStore
	validate    *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, idempotency *shared.IdempotencyStore) *Handler {
	return &Handler{logger: logger, service: service, idempotency: idempotency, validate: validator.New()}
}

var kindSlugs = map[string]shared.RefKind{
	"sales-invoices":      shared.RefSalesInvoice,
	"purchase-invoices":   shared.RefPurchaseInvoice,
	"sales-returns":       shared.RefSalesReturn,
	"purchase-returns":    shared.RefPurchaseReturn,
	"stock-adjustments":   shared.RefStockAdjustment,
	"warehouse-transfers": shared.RefWarehouseTransfer,
	"expenses":            shared.RefExpense,
	"revenues":            shared.RefRevenue,
	"fixed-assets":        shared.RefFixedAsset,
}

// MountRoutes registers posting routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/documents/{kind}/{id}", h.getDocument)
	r.Post("/documents/{kind}/{id}/post", h.postDocument)
	r.Post("/documents/{kind}/{id}/payments", h.recordPayment)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) (shared.RefKind, int64, bool) {
	kind, ok := kindSlugs[chi.URLParam(r, "kind")]
	if !ok {
		httpx.Problem(w, http.StatusNotFound, "Unknown Document Kind", chi.URLParam(r, "kind"))
		return "", 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "document id must be an integer")
		return "", 0, false
	}
	return kind, id, true
}

// claimKey reserves the Idempotency-Key header, if present. The returned
// release drops the reservation so a failed request can be retried.
func (h *Handler) claimKey(w http.ResponseWriter, r *http.Request) (release func(), ok bool) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" || h.idempotency == nil {
		return func() {}, true
	}
	if err := h.idempotency.CheckAndInsert(r.Context(), key, "posting"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			httpx.Problem(w, http.StatusConflict, "Duplicate Request", "idempotency key already processed")
			return nil, false
		}
		h.logger.Error("idempotency check failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return nil, false
	}
	return func() {
		if err := h.idempotency.Delete(r.Context(), key); err != nil {
			h.logger.Warn("idempotency rollback failed", slog.Any("error", err))
		}
	}, true
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.resolve(w, r)
	if !ok {
		return
	}
	doc, err := h.service.GetDocument(r.Context(), kind, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, documentResponse(doc))
}

type postRequest struct {
	ActorID int64 `json:"actor_id"`
}

func (h *Handler) postDocument(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var req postRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
			return
		}
	}
	release, ok := h.claimKey(w, r)
	if !ok {
		return
	}
	doc, err := h.service.Post(r.Context(), kind, id, req.ActorID)
	if err != nil {
		release()
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, documentResponse(doc))
}

type paymentRequest struct {
	Amount     string `json:"amount" validate:"required"`
	Discount   string `json:"discount"`
	TreasuryID int64  `json:"treasury_id" validate:"required"`
	Note       string `json:"note"`
	ActorID    int64  `json:"actor_id"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var req paymentRequest
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
	discount := decimal.Zero
	if req.Discount != "" {
		if discount, err = decimal.NewFromString(req.Discount); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "discount must be a decimal string")
			return
		}
	}
	release, ok := h.claimKey(w, r)
	if !ok {
		return
	}
	doc, err := h.service.RecordInvoicePayment(r.Context(), PaymentInput{
		Kind:       kind,
		DocumentID: id,
		Amount:     amount,
		Discount:   discount,
		TreasuryID: req.TreasuryID,
		Note:       req.Note,
		ActorID:    req.ActorID,
	})
	if err != nil {
		release()
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, documentResponse(doc))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var insufficientStock *inventory.InsufficientStockError
	var insufficientFunds *treasury.InsufficientFundsError
	switch {
	case errors.Is(err, ErrAlreadyPosted):
		httpx.Problem(w, http.StatusConflict, "Already Posted", err.Error())
	case errors.As(err, &insufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", insufficientStock.Error())
	case errors.As(err, &insufficientFunds):
		httpx.Problem(w, http.StatusConflict, "Insufficient Funds", insufficientFunds.Error())
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrKindMismatch):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrNotPosted), errors.Is(err, ErrMissingOriginal), errors.Is(err, ErrUnsupportedKind):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, inventory.ErrOriginalMovementNotFound):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("posting request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func documentResponse(doc Document) map[string]any {
	lines := make([]map[string]any, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		lines = append(lines, map[string]any{
			"id":         line.ID,
			"product_id": line.ProductID,
			"qty":        line.Qty,
			"unit":       string(line.Unit),
			"unit_price": line.UnitPrice.StringFixed(4),
			"discount":   line.Discount.StringFixed(4),
		})
	}
	out := map[string]any{
		"id":               doc.ID,
		"kind":             string(doc.Kind),
		"status":           string(doc.Status),
		"partner_id":       doc.PartnerID,
		"warehouse_id":     doc.WarehouseID,
		"treasury_id":      doc.TreasuryID,
		"subtotal":         doc.Subtotal.StringFixed(4),
		"discount":         doc.Discount.StringFixed(4),
		"total":            doc.Total.StringFixed(4),
		"paid_amount":      doc.PaidAmount.StringFixed(4),
		"remaining_amount": doc.RemainingAmount.StringFixed(4),
		"occurred_at":      doc.OccurredAt,
		"lines":            lines,
	}
	if doc.DestWarehouseID != 0 {
		out["dest_warehouse_id"] = doc.DestWarehouseID
	}
	if doc.OriginalDocID != 0 {
		out["original_doc_id"] = doc.OriginalDocID
	}
	if doc.InstallmentMonths > 0 {
		out["installment_months"] = doc.InstallmentMonths
		out["installment_start"] = doc.InstallmentStart
	}
	if !doc.PostedAt.IsZero() {
		out["posted_at"] = doc.PostedAt
	}
	return out
}
