/*
handlers.go - HTTP API handlers for the sale engine

PURPOSE:
  Exposes the sale engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the sale.Coordinator.

ENDPOINTS:
  Health:
    GET    /api/health                 Liveness probe

  Products (catalog stand-in):
    GET    /api/products               List products
    POST   /api/products               Create or replace a product
    GET    /api/products/{id}          Get one product

  Sales:
    GET    /api/sales                  List sales (?status=&cashier_id=&limit=)
    POST   /api/sales                  Create a sale
    GET    /api/sales/{id}             Get a sale with its items
    PUT    /api/sales/{id}/void        Void a completed sale

  Scenarios:
    GET    /api/scenarios              List demo scenarios
    POST   /api/scenarios/load         Load a demo scenario

IDENTITY:
  Authentication happens upstream. The gateway forwards the authenticated
  principal as X-Cashier-ID and its role as X-Role. Creating a sale needs a
  cashier; voiding needs the admin or manager role.

ERROR HANDLING:
  Errors are returned as {error, code, details}. The code is the engine's
  stable machine-readable code; the HTTP status is derived from it:
  - 400: Validation errors, invalid input
  - 401: No authenticated principal
  - 403: Principal lacks the required role
  - 404: Product or sale not found
  - 409: Insufficient stock, invalid status transition
  - 500: Persistence failures

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/warp/sale-engine/sale"
	"go.uber.org/zap"
)

const (
	HeaderCashierID = "X-Cashier-ID"
	HeaderRole      = "X-Role"

	// CodeInvalidRequest covers malformed bodies and query parameters.
	CodeInvalidRequest = "invalid_request"

	maxListLimit = 500
)

// voidRoles may call VoidSale.
var voidRoles = map[string]bool{"admin": true, "manager": true}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// CatalogStore is the catalog plus the reset hook used by scenarios.
type CatalogStore interface {
	sale.Catalog
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Coordinator *sale.Coordinator
	Catalog     CatalogStore
	logger      *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(coordinator *sale.Coordinator, catalog CatalogStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Coordinator: coordinator,
		Catalog:     catalog,
		logger:      logger.Named("api"),
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts returns the whole catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Catalog.ListProducts(r.Context())
	if err != nil {
		h.writeDomainError(w, &sale.PersistenceError{Op: "list products", Err: err})
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetProduct returns a single product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := sale.ProductID(chi.URLParam(r, "id"))

	p, err := h.Catalog.GetProduct(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, &sale.PersistenceError{Op: "load product", Err: err})
		return
	}
	if p == nil {
		h.writeDomainError(w, &sale.ProductNotFoundError{ProductID: id})
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

// SaveProduct creates or replaces a product.
func (h *Handler) SaveProduct(w http.ResponseWriter, r *http.Request) {
	var req SaveProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body", err)
		return
	}

	var problems []string
	if strings.TrimSpace(req.ID) == "" {
		problems = append(problems, "id is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		problems = append(problems, "name is required")
	}
	if !req.UnitPrice.IsPositive() {
		problems = append(problems, "unitPrice must be positive")
	} else if !sale.IsCurrencyAmount(req.UnitPrice) {
		problems = append(problems, "unitPrice must have at most 2 decimal places")
	}
	if req.QuantityOnHand < 0 {
		problems = append(problems, "quantityOnHand must not be negative")
	}
	if len(problems) > 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid product", problems)
		return
	}

	p := sale.Product{
		ID:             sale.ProductID(req.ID),
		Name:           req.Name,
		UnitPrice:      req.UnitPrice,
		QuantityOnHand: req.QuantityOnHand,
		IsActive:       req.IsActive == nil || *req.IsActive,
	}
	if err := h.Catalog.SaveProduct(r.Context(), p); err != nil {
		h.writeDomainError(w, &sale.PersistenceError{Op: "save product", Err: err})
		return
	}

	writeJSON(w, http.StatusCreated, toProductDTO(p))
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

// CreateSale validates, prices and commits a sale for the calling cashier.
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	cashier := strings.TrimSpace(r.Header.Get(HeaderCashierID))
	if cashier == "" {
		writeError(w, http.StatusUnauthorized, sale.CodeUnauthorized, "Missing cashier identity", nil)
		return
	}

	var req CreateSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body", err)
		return
	}

	created, err := h.Coordinator.CreateSale(r.Context(), req.toDomain(sale.CashierID(cashier)))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSaleDTO(created))
}

// GetSale returns a sale with its items.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	id := sale.SaleID(chi.URLParam(r, "id"))

	s, err := h.Coordinator.GetSale(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(s))
}

// ListSales returns sales, most recent first.
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter sale.SaleFilter
	if v := q.Get("status"); v != "" {
		status, err := sale.ParseStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid status filter", err)
			return
		}
		filter.Status = status
	}
	filter.CashierID = sale.CashierID(q.Get("cashier_id"))
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 || limit > maxListLimit {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "limit must be between 1 and 500", nil)
			return
		}
		filter.Limit = limit
	}

	sales, err := h.Coordinator.ListSales(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dtos := make([]SaleDTO, len(sales))
	for i := range sales {
		dtos[i] = toSaleDTO(&sales[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// VoidSale voids a completed sale. Restricted to elevated roles.
func (h *Handler) VoidSale(w http.ResponseWriter, r *http.Request) {
	role := strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderRole)))
	if role == "" {
		writeError(w, http.StatusUnauthorized, sale.CodeUnauthorized, "Missing role", nil)
		return
	}
	if !voidRoles[role] {
		writeError(w, http.StatusForbidden, sale.CodeUnauthorized, "Voiding a sale requires the admin or manager role", nil)
		return
	}

	id := sale.SaleID(chi.URLParam(r, "id"))
	if err := h.Coordinator.VoidSale(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

// statusForCode maps an engine error code to an HTTP status.
func statusForCode(code string) int {
	switch code {
	case sale.CodeEmptyOrder, sale.CodeInvalidDiscount, sale.CodeInvalidQuantity, CodeInvalidRequest:
		return http.StatusBadRequest
	case sale.CodeUnauthorized:
		return http.StatusForbidden
	case sale.CodeProductNotFound, sale.CodeSaleNotFound:
		return http.StatusNotFound
	case sale.CodeInsufficientStock, sale.CodeInvalidStateTransition:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// errorDetails exposes the identifiers carried by structured errors.
func errorDetails(err error) any {
	var (
		stock      *sale.InsufficientStockError
		notFound   *sale.ProductNotFoundError
		discount   *sale.InvalidDiscountError
		quantity   *sale.InvalidQuantityError
		transition *sale.InvalidStateTransitionError
		missing    *sale.SaleNotFoundError
	)
	switch {
	case errors.As(err, &stock):
		return map[string]any{"productId": stock.ProductID, "available": stock.Available, "requested": stock.Requested}
	case errors.As(err, &notFound):
		return map[string]any{"productId": notFound.ProductID, "inactive": notFound.Inactive}
	case errors.As(err, &discount):
		d := map[string]any{"discount": money(discount.Discount), "limit": money(discount.Limit)}
		if discount.Line > 0 {
			d["line"] = discount.Line
		}
		return d
	case errors.As(err, &quantity):
		return map[string]any{"productId": quantity.ProductID, "quantity": quantity.Quantity}
	case errors.As(err, &transition):
		return map[string]any{"saleId": transition.SaleID, "currentStatus": transition.Current, "targetStatus": transition.Target}
	case errors.As(err, &missing):
		return map[string]any{"saleId": missing.SaleID}
	}
	return nil
}

// writeDomainError writes err with its stable code. Storage details are
// logged, not returned.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	code := sale.Code(err)
	status := statusForCode(code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("code", code), zap.Error(err))
		writeError(w, status, code, "Internal error", nil)
		return
	}
	writeError(w, status, code, err.Error(), errorDetails(err))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	resp := ErrorResponse{Error: message, Code: code}
	if err, ok := details.(error); ok {
		resp.Details = err.Error()
	} else if details != nil {
		resp.Details = details
	}
	writeJSON(w, status, resp)
}
