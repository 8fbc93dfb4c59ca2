/*
ledger.go - Inventory ledger

PURPOSE:
  The ledger is the only component allowed to change a product's stock.
  It exposes exactly two operations: TryReserve (decrement) and Release
  (increment). Both run against the unit-of-work Store they were built
  from, so nothing they do commits on its own.

CRITICAL INVARIANTS:
  1. NON-NEGATIVE: quantity_on_hand >= 0 after every committed operation
  2. NO SIDE EFFECT ON FAILURE: a rejected reservation changes nothing
  3. SERIALIZED: concurrent reservations on one product never oversell

CONCURRENCY:
  The ledger holds no locks. The check and the decrement are a single
  conditional AdjustStock call, and the store serializes writers:
  - SQLite: BEGIN IMMEDIATE + UPDATE ... WHERE quantity_on_hand >= ?
  - Memory: the TxStore write lock is held for the whole unit of work

RELEASE IS NOT IDEMPOTENT:
  The ledger does not remember reservations. Calling Release twice for one
  reservation restores stock twice; the Coordinator guards against that
  with the sale's status transition.
*/
package sale

import (
	"context"
	"fmt"
)

// InventoryLedger owns stock mutation.
type InventoryLedger interface {
	// TryReserve decrements stock by quantity if the product exists, is
	// active and has enough on hand. ok=false means nothing changed;
	// current is the quantity on hand after the call.
	TryReserve(ctx context.Context, id ProductID, quantity int) (ok bool, current int, err error)

	// Release increments stock by quantity.
	Release(ctx context.Context, id ProductID, quantity int) error
}

// StockLedger implements InventoryLedger over a Catalog.
type StockLedger struct {
	catalog Catalog
}

func NewStockLedger(catalog Catalog) *StockLedger {
	return &StockLedger{catalog: catalog}
}

func (l *StockLedger) TryReserve(ctx context.Context, id ProductID, quantity int) (bool, int, error) {
	if quantity <= 0 {
		return false, 0, &InvalidQuantityError{ProductID: id, Quantity: quantity}
	}
	applied, current, err := l.catalog.AdjustStock(ctx, id, -quantity)
	if err != nil {
		return false, 0, fmt.Errorf("reserve %d of %s: %w", quantity, id, err)
	}
	return applied, current, nil
}

func (l *StockLedger) Release(ctx context.Context, id ProductID, quantity int) error {
	if quantity <= 0 {
		return &InvalidQuantityError{ProductID: id, Quantity: quantity}
	}
	applied, _, err := l.catalog.AdjustStock(ctx, id, quantity)
	if err != nil {
		return fmt.Errorf("release %d of %s: %w", quantity, id, err)
	}
	if !applied {
		return &ProductNotFoundError{ProductID: id}
	}
	return nil
}
