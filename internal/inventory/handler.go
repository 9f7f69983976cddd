package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/tradecore-erp/tradecore/internal/platform/httpx"
	"github.com/tradecore-erp/tradecore/internal/shared"
)

// Handler manages stock ledger endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock", h.currentStock)
	r.Get("/card", h.stockCard)
	r.Get("/products/{id}", h.getProduct)
	r.Post("/movements", h.recordMovement)
}

type recordMovementRequest struct {
	WarehouseID int64  `json:"warehouse_id" validate:"required"`
	ProductID   int64  `json:"product_id" validate:"required"`
	Qty         int64  `json:"qty" validate:"required"`
	CostAtTime  string `json:"cost_at_time"`
	Type        string `json:"type" validate:"required"`
	RefKind     string `json:"ref_kind"`
	RefID       int64  `json:"ref_id"`
	ActorID     int64  `json:"actor_id"`
}

func (h *Handler) recordMovement(w http.ResponseWriter, r *http.Request) {
	var req recordMovementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	cost := decimal.Zero
	if req.CostAtTime != "" {
		var err error
		if cost, err = decimal.NewFromString(req.CostAtTime); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "cost_at_time must be a decimal string")
			return
		}
	}
	movement, err := h.service.RecordMovement(r.Context(), MovementInput{
		WarehouseID: req.WarehouseID,
		ProductID:   req.ProductID,
		Qty:         req.Qty,
		CostAtTime:  cost,
		Type:        MovementType(req.Type),
		Ref:         shared.DocRef{Kind: shared.RefKind(req.RefKind), ID: req.RefID},
	}, req.ActorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movementResponse(movement))
}

func (h *Handler) currentStock(w http.ResponseWriter, r *http.Request) {
	warehouseID, _ := strconv.ParseInt(r.URL.Query().Get("warehouse_id"), 10, 64)
	productID, _ := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	qty, err := h.service.CurrentStock(r.Context(), warehouseID, productID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"warehouse_id": warehouseID,
		"product_id":   productID,
		"qty":          qty,
	})
}

func (h *Handler) stockCard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	warehouseID, _ := strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	productID, _ := strconv.ParseInt(q.Get("product_id"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	filter := MovementFilter{WarehouseID: warehouseID, ProductID: productID, Limit: limit}
	if from := q.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.From = t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = t
		}
	}
	movements, err := h.service.StockCard(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(movements))
	for _, m := range movements {
		out = append(out, movementResponse(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": out})
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "product id must be an integer")
		return
	}
	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":          product.ID,
		"sku":         product.SKU,
		"name":        product.Name,
		"small_unit":  product.SmallUnit,
		"large_unit":  product.LargeUnit,
		"factor":      product.Factor,
		"avg_cost":    product.AvgCost.String(),
		"small_price": product.SmallPrice.String(),
		"large_price": product.LargePrice.String(),
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case isNotFound(err):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case isConflict(err):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case isValidation(err):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("inventory request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func movementResponse(m Movement) map[string]any {
	return map[string]any{
		"id":           m.ID,
		"warehouse_id": m.WarehouseID,
		"product_id":   m.ProductID,
		"qty":          m.Qty,
		"cost_at_time": m.CostAtTime.String(),
		"type":         string(m.Type),
		"ref":          m.Ref.String(),
		"occurred_at":  m.OccurredAt,
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrOriginalMovementNotFound) ||
		errors.Is(err, shared.ErrNotFound)
}

func isConflict(err error) bool {
	return errors.Is(err, ErrInsufficientStock)
}

func isValidation(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) || errors.Is(err, ErrInvalidUnitCost)
}
