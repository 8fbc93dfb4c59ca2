/*
Package sale provides the point-of-sale transaction engine.

PURPOSE:
  This package owns the one part of the POS backend with real invariants:
  validating a multi-item order against live stock, pricing it, committing
  the stock decrements and the sale record as one unit, and voiding a sale
  by exactly reversing its stock effects.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product:     Catalog entry whose QuantityOnHand is mutated only by the ledger
  - LineRequest: One requested line of an order (ephemeral input)
  - Sale:        Aggregate root, owns its SaleItems
  - SaleItem:    Immutable line captured at commit time
  - Status:      Closed enumeration {Completed, Voided}

DESIGN PRINCIPLES:
  1. Precision: all money is decimal.Decimal, rounded to CurrencyPlaces
  2. Derived totals: GrandTotal is computed from its components, never stored
  3. Price capture: UnitPriceAtSale is copied at commit so history never drifts
  4. Type safety: distinct ID types for products, sales and cashiers

SEE ALSO:
  - pricing.go:     Line and sale totals
  - ledger.go:      Stock reservation and release
  - coordinator.go: CreateSale / VoidSale orchestration
  - store.go:       Persistence interfaces
*/
package sale

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type SaleID string
type CashierID string

// =============================================================================
// PRODUCT - Owned by the catalog, referenced by the engine
// =============================================================================

// Product is the catalog view the engine needs. QuantityOnHand is the only
// field the engine mutates, and only through an InventoryLedger.
type Product struct {
	ID             ProductID
	Name           string
	UnitPrice      decimal.Decimal
	QuantityOnHand int
	IsActive       bool
	UpdatedAt      time.Time
}

// =============================================================================
// ORDER INPUT
// =============================================================================

// LineRequest is one requested line of an order.
type LineRequest struct {
	ProductID ProductID
	Quantity  int
	Discount  decimal.Decimal
}

// DefaultPaymentMethod is used when the caller does not name one.
const DefaultPaymentMethod = "Cash"

// CreateSaleRequest carries everything CreateSale needs. CashierID is
// supplied by the identity collaborator and trusted as-is.
type CreateSaleRequest struct {
	CashierID        CashierID
	Lines            []LineRequest
	PaymentMethod    string
	PaymentReference string
	Discount         decimal.Decimal
	Notes            string
}

// =============================================================================
// STATUS - Closed enumeration with a single transition
// =============================================================================

type Status string

const (
	StatusCompleted Status = "Completed"
	StatusVoided    Status = "Voided"
)

// ParseStatus converts a stored or user-supplied value to a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusCompleted:
		return StatusCompleted, nil
	case StatusVoided:
		return StatusVoided, nil
	}
	return "", fmt.Errorf("unknown sale status %q", s)
}

// CanTransitionTo reports whether next is reachable from s.
// Completed -> Voided is the only edge; Voided is terminal.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusCompleted && next == StatusVoided
}

func (s Status) IsTerminal() bool { return s == StatusVoided }

func (s Status) String() string { return string(s) }

// =============================================================================
// SALE AGGREGATE
// =============================================================================

// SaleItem is a committed line. Immutable once its Sale is persisted.
type SaleItem struct {
	ID              string
	SaleID          SaleID
	ProductID       ProductID
	Quantity        int
	UnitPriceAtSale decimal.Decimal
	Discount        decimal.Decimal
	LineTotal       decimal.Decimal
}

// Sale is the aggregate root. It exclusively owns Items, in insertion order.
type Sale struct {
	ID               SaleID
	SaleDate         time.Time
	Subtotal         decimal.Decimal
	Tax              decimal.Decimal
	Discount         decimal.Decimal
	PaymentMethod    string
	PaymentReference string
	CashierID        CashierID
	Status           Status
	Items            []SaleItem
	Notes            string
}

// GrandTotal is always derived: Subtotal + Tax - Discount.
func (s *Sale) GrandTotal() decimal.Decimal {
	return s.Subtotal.Add(s.Tax).Sub(s.Discount)
}

// Void moves the sale to StatusVoided. It is the only way a Sale changes
// after commit.
func (s *Sale) Void() error {
	if !s.Status.CanTransitionTo(StatusVoided) {
		return &InvalidStateTransitionError{SaleID: s.ID, Current: s.Status, Target: StatusVoided}
	}
	s.Status = StatusVoided
	return nil
}

// Verify checks that Subtotal equals the sum of the line totals.
func (s *Sale) Verify() error {
	sum := decimal.Zero
	for _, it := range s.Items {
		sum = sum.Add(it.LineTotal)
	}
	if !sum.Equal(s.Subtotal) {
		return fmt.Errorf("sale %s: subtotal %s does not match line totals %s", s.ID, s.Subtotal, sum)
	}
	return nil
}

// SaleFilter narrows ListSales. Zero values mean "any".
type SaleFilter struct {
	Status    Status
	CashierID CashierID
	Limit     int
}

// Matches reports whether s passes the filter (ignores Limit).
func (f SaleFilter) Matches(s *Sale) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.CashierID != "" && s.CashierID != f.CashierID {
		return false
	}
	return true
}
