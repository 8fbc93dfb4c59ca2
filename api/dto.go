/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the sale engine's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts go out as strings with exactly two decimal places ("33.00").
  Requests accept either a JSON string or a JSON number; decimal.Decimal
  parses both without float rounding.

FIELD NAMES:
  camelCase, matching the sale contract consumed by the POS clients.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/sale-engine/sale"
)

// =============================================================================
// SALES
// =============================================================================

// SaleLineRequest is one line of CreateSaleRequest.
type SaleLineRequest struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Discount  decimal.Decimal `json:"discount"`
}

// CreateSaleRequest is the body of POST /api/sales. The cashier comes from
// the X-Cashier-ID header, never from the body.
type CreateSaleRequest struct {
	Items            []SaleLineRequest `json:"items"`
	PaymentMethod    string            `json:"paymentMethod"`
	PaymentReference string            `json:"paymentReference,omitempty"`
	SaleDiscount     decimal.Decimal   `json:"saleDiscount"`
	Notes            string            `json:"notes,omitempty"`
}

type SaleItemDTO struct {
	ID              string `json:"id"`
	ProductID       string `json:"productId"`
	Quantity        int    `json:"quantity"`
	UnitPriceAtSale string `json:"unitPriceAtSale"`
	Discount        string `json:"discount"`
	LineTotal       string `json:"lineTotal"`
}

type SaleDTO struct {
	ID               string        `json:"id"`
	SaleDate         string        `json:"saleDate"`
	Subtotal         string        `json:"subtotal"`
	Tax              string        `json:"tax"`
	Discount         string        `json:"discount"`
	GrandTotal       string        `json:"grandTotal"`
	PaymentMethod    string        `json:"paymentMethod"`
	PaymentReference string        `json:"paymentReference"`
	CashierID        string        `json:"cashierId"`
	Status           string        `json:"status"`
	Items            []SaleItemDTO `json:"items"`
	Notes            string        `json:"notes"`
}

// =============================================================================
// PRODUCTS
// =============================================================================

type ProductDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	UnitPrice      string `json:"unitPrice"`
	QuantityOnHand int    `json:"quantityOnHand"`
	IsActive       bool   `json:"isActive"`
	UpdatedAt      string `json:"updatedAt,omitempty"`
}

// SaveProductRequest is the body of POST /api/products. IsActive defaults
// to true when omitted.
type SaveProductRequest struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	QuantityOnHand int             `json:"quantityOnHand"`
	IsActive       *bool           `json:"isActive,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func money(d decimal.Decimal) string {
	return d.StringFixedBank(sale.CurrencyPlaces)
}

func toSaleDTO(s *sale.Sale) SaleDTO {
	items := make([]SaleItemDTO, len(s.Items))
	for i, it := range s.Items {
		items[i] = SaleItemDTO{
			ID:              it.ID,
			ProductID:       string(it.ProductID),
			Quantity:        it.Quantity,
			UnitPriceAtSale: money(it.UnitPriceAtSale),
			Discount:        money(it.Discount),
			LineTotal:       money(it.LineTotal),
		}
	}
	return SaleDTO{
		ID:               string(s.ID),
		SaleDate:         s.SaleDate.UTC().Format(time.RFC3339),
		Subtotal:         money(s.Subtotal),
		Tax:              money(s.Tax),
		Discount:         money(s.Discount),
		GrandTotal:       money(s.GrandTotal()),
		PaymentMethod:    s.PaymentMethod,
		PaymentReference: s.PaymentReference,
		CashierID:        string(s.CashierID),
		Status:           s.Status.String(),
		Items:            items,
		Notes:            s.Notes,
	}
}

func toProductDTO(p sale.Product) ProductDTO {
	dto := ProductDTO{
		ID:             string(p.ID),
		Name:           p.Name,
		UnitPrice:      money(p.UnitPrice),
		QuantityOnHand: p.QuantityOnHand,
		IsActive:       p.IsActive,
	}
	if !p.UpdatedAt.IsZero() {
		dto.UpdatedAt = p.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

func (r CreateSaleRequest) toDomain(cashier sale.CashierID) sale.CreateSaleRequest {
	lines := make([]sale.LineRequest, len(r.Items))
	for i, it := range r.Items {
		lines[i] = sale.LineRequest{
			ProductID: sale.ProductID(it.ProductID),
			Quantity:  it.Quantity,
			Discount:  it.Discount,
		}
	}
	return sale.CreateSaleRequest{
		CashierID:        cashier,
		Lines:            lines,
		PaymentMethod:    r.PaymentMethod,
		PaymentReference: r.PaymentReference,
		Discount:         r.SaleDiscount,
		Notes:            r.Notes,
	}
}
