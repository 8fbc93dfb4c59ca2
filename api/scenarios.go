/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built catalogs (and, for some, sale history) that put the
	register into a known state for demos and manual testing.

AVAILABLE SCENARIOS:

	single-product: One product, 5 in stock at 10.00
	grocery:        A small grocery catalog with healthy stock
	low-stock:      Last units and an inactive product, for rejection paths
	busy-day:       Grocery catalog plus completed and voided sales

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Save the catalog
 3. Optionally run sales through the Coordinator

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "grocery"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/sale-engine/sale"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-product",
		Name:        "Single Product",
		Description: "One product with 5 units at 10.00",
	},
	{
		ID:          "grocery",
		Name:        "Grocery",
		Description: "Small grocery catalog with healthy stock",
	},
	{
		ID:          "low-stock",
		Name:        "Low Stock",
		Description: "Last units on hand and a discontinued product",
	},
	{
		ID:          "busy-day",
		Name:        "Busy Day",
		Description: "Grocery catalog with completed and voided sales",
	},
}

type scenarioLoader func(ctx context.Context, h *Handler) error

var scenarioLoaders = map[string]scenarioLoader{
	"single-product": loadSingleProductScenario,
	"grocery":        loadGroceryScenario,
	"low-stock":      loadLowStockScenario,
	"busy-day":       loadBusyDayScenario,
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns all available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario id.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"scenarioId": current})
}

// LoadScenario resets the database and loads a demo scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body", err)
		return
	}

	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Unknown scenario", req.ScenarioID)
		return
	}

	ctx := r.Context()
	if err := h.Catalog.Reset(ctx); err != nil {
		h.writeDomainError(w, &sale.PersistenceError{Op: "reset", Err: err})
		return
	}
	if err := load(ctx, h); err != nil {
		h.logger.Error("scenario load failed", zap.String("scenario", req.ScenarioID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, sale.CodeInternal, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenarioId": req.ScenarioID})
}

// =============================================================================
// LOADERS
// =============================================================================

func saveProducts(ctx context.Context, h *Handler, products ...sale.Product) error {
	for _, p := range products {
		if err := h.Catalog.SaveProduct(ctx, p); err != nil {
			return fmt.Errorf("save product %s: %w", p.ID, err)
		}
	}
	return nil
}

func product(id, name, price string, qty int) sale.Product {
	return sale.Product{
		ID:             sale.ProductID(id),
		Name:           name,
		UnitPrice:      decimal.RequireFromString(price),
		QuantityOnHand: qty,
		IsActive:       true,
	}
}

func groceryCatalog() []sale.Product {
	return []sale.Product{
		product("apple", "Apple", "0.45", 200),
		product("bread", "Sourdough Bread", "4.20", 30),
		product("coffee", "Ground Coffee 500g", "8.99", 40),
		product("milk", "Whole Milk 1L", "1.15", 60),
		product("eggs", "Eggs (dozen)", "3.80", 25),
	}
}

func loadSingleProductScenario(ctx context.Context, h *Handler) error {
	return saveProducts(ctx, h, product("P", "Demo Product", "10.00", 5))
}

func loadGroceryScenario(ctx context.Context, h *Handler) error {
	return saveProducts(ctx, h, groceryCatalog()...)
}

func loadLowStockScenario(ctx context.Context, h *Handler) error {
	discontinued := product("tea", "Loose Leaf Tea", "6.50", 12)
	discontinued.IsActive = false
	return saveProducts(ctx, h,
		product("last-one", "Display Model Kettle", "39.00", 1),
		product("sold-out", "Limited Mug", "12.00", 0),
		product("pair", "Coasters (pair)", "5.00", 2),
		discontinued,
	)
}

func loadBusyDayScenario(ctx context.Context, h *Handler) error {
	if err := saveProducts(ctx, h, groceryCatalog()...); err != nil {
		return err
	}

	orders := []sale.CreateSaleRequest{
		{
			CashierID: "cashier-ana",
			Lines: []sale.LineRequest{
				{ProductID: "apple", Quantity: 6},
				{ProductID: "milk", Quantity: 2},
			},
		},
		{
			CashierID:     "cashier-ben",
			PaymentMethod: "Card",
			Lines: []sale.LineRequest{
				{ProductID: "coffee", Quantity: 1, Discount: decimal.RequireFromString("1.00")},
				{ProductID: "bread", Quantity: 1},
			},
			Notes: "loyalty discount on coffee",
		},
		{
			CashierID: "cashier-ana",
			Lines:     []sale.LineRequest{{ProductID: "eggs", Quantity: 2}},
			Discount:  decimal.RequireFromString("0.50"),
		},
	}

	var created []*sale.Sale
	for _, o := range orders {
		s, err := h.Coordinator.CreateSale(ctx, o)
		if err != nil {
			return err
		}
		created = append(created, s)
	}

	// The last sale was rung up by mistake.
	return h.Coordinator.VoidSale(ctx, created[len(created)-1].ID)
}
