/*
errors.go - Error taxonomy for the sale engine

PURPOSE:
  Every failure the engine can report has a sentinel (for errors.Is), a
  structured type carrying the offending identifiers (for errors.As), and
  a stable machine-readable code (for API clients).

ERROR CATEGORIES:
  1. Validation: empty order, bad quantity, bad discount
  2. Lookup:     product or sale not found
  3. Inventory:  insufficient stock
  4. State:      invalid status transition
  5. Storage:    persistence failure, failed rollback

PROPAGATION:
  Validation errors are detected before any durable write and abort the
  unit of work with zero side effects. Storage errors are wrapped in
  PersistenceError. A rollback that itself fails is additionally marked
  with ErrReconciliationRequired and must never be swallowed.

SEE ALSO:
  - coordinator.go: Where these are raised
  - api/handlers.go: Code -> HTTP status mapping
*/
package sale

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrProductNotFound        = errors.New("product not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidDiscount        = errors.New("invalid discount")
	ErrEmptyOrder             = errors.New("order has no lines")
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrSaleNotFound           = errors.New("sale not found")
	ErrInvalidStateTransition = errors.New("invalid sale status transition")
	ErrPersistence            = errors.New("persistence failure")

	// ErrUnauthorized is raised by the identity collaborator, never by the
	// engine itself. It lives here so the taxonomy has one home.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConcurrentModification is returned by a store when a conditional
	// update finds the row in an unexpected state.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrReconciliationRequired marks a failed rollback. Data may be
	// inconsistent and needs manual reconciliation.
	ErrReconciliationRequired = errors.New("rollback failed: manual reconciliation required")
)

// Stable codes exposed to callers.
const (
	CodeProductNotFound        = "product_not_found"
	CodeInsufficientStock      = "insufficient_stock"
	CodeInvalidDiscount        = "invalid_discount"
	CodeEmptyOrder             = "empty_order"
	CodeInvalidQuantity        = "invalid_quantity"
	CodeSaleNotFound           = "sale_not_found"
	CodeInvalidStateTransition = "invalid_state_transition"
	CodePersistenceFailure     = "persistence_failure"
	CodeUnauthorized           = "unauthorized"
	CodeInternal               = "internal"
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type ProductNotFoundError struct {
	ProductID ProductID
	Inactive  bool // exists in the catalog but is not sellable
}

func (e *ProductNotFoundError) Error() string {
	if e.Inactive {
		return fmt.Sprintf("product %s is inactive", e.ProductID)
	}
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error { return ErrProductNotFound }

type InsufficientStockError struct {
	ProductID ProductID
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InvalidDiscountError reports a discount that is negative, finer than a
// cent, or larger than the amount it applies to. Line is the 1-based line number, 0 for the
// sale-level discount.
type InvalidDiscountError struct {
	Line     int
	Discount decimal.Decimal
	Limit    decimal.Decimal
}

func (e *InvalidDiscountError) Error() string {
	scope := "sale"
	if e.Line > 0 {
		scope = fmt.Sprintf("line %d", e.Line)
	}
	if e.Discount.IsNegative() {
		return fmt.Sprintf("invalid discount on %s: %s is negative", scope, e.Discount.StringFixed(CurrencyPlaces))
	}
	if !IsCurrencyAmount(e.Discount) {
		return fmt.Sprintf("invalid discount on %s: %s has more than %d decimal places", scope, e.Discount, CurrencyPlaces)
	}
	return fmt.Sprintf("invalid discount on %s: %s exceeds %s", scope,
		e.Discount.StringFixed(CurrencyPlaces), e.Limit.StringFixed(CurrencyPlaces))
}

func (e *InvalidDiscountError) Unwrap() error { return ErrInvalidDiscount }

type InvalidQuantityError struct {
	ProductID ProductID
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d for product %s: must be positive", e.Quantity, e.ProductID)
}

func (e *InvalidQuantityError) Unwrap() error { return ErrInvalidQuantity }

type SaleNotFoundError struct {
	SaleID SaleID
}

func (e *SaleNotFoundError) Error() string { return fmt.Sprintf("sale %s not found", e.SaleID) }

func (e *SaleNotFoundError) Unwrap() error { return ErrSaleNotFound }

type InvalidStateTransitionError struct {
	SaleID  SaleID
	Current Status
	Target  Status
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("cannot move sale %s from %s to %s", e.SaleID, e.Current, e.Target)
}

func (e *InvalidStateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// PersistenceError wraps a storage-layer fault (including context
// cancellation) that occurred after logical validation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrPersistence, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// ReconciliationError is returned by a TxStore when rolling back a failed
// unit of work also failed.
type ReconciliationError struct {
	Cause       error // why the unit of work was aborted
	RollbackErr error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("%v (aborted by: %v; rollback error: %v)", ErrReconciliationRequired, e.Cause, e.RollbackErr)
}

func (e *ReconciliationError) Unwrap() []error {
	return []error{ErrReconciliationRequired, e.Cause, e.RollbackErr}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// Code returns the stable machine-readable code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrReconciliationRequired), errors.Is(err, ErrPersistence):
		return CodePersistenceFailure
	case errors.Is(err, ErrProductNotFound):
		return CodeProductNotFound
	case errors.Is(err, ErrInsufficientStock):
		return CodeInsufficientStock
	case errors.Is(err, ErrInvalidDiscount):
		return CodeInvalidDiscount
	case errors.Is(err, ErrEmptyOrder):
		return CodeEmptyOrder
	case errors.Is(err, ErrInvalidQuantity):
		return CodeInvalidQuantity
	case errors.Is(err, ErrSaleNotFound):
		return CodeSaleNotFound
	case errors.Is(err, ErrInvalidStateTransition):
		return CodeInvalidStateTransition
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	}
	return CodeInternal
}

// IsClientError returns true if the error is due to invalid client input
// or a state the client can react to.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidDiscount) ||
		errors.Is(err, ErrEmptyOrder) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidStateTransition)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrSaleNotFound)
}
