/*
store.go - Persistence interfaces for the sale engine

PURPOSE:
  Defines the boundary between the engine and durable storage. The
  Coordinator never talks to a database directly: it receives a TxStore
  and does all of its work through the Store view handed to WithTx.

KEY INTERFACES:
  Catalog:        Product lookups plus the single stock mutation primitive
  SaleRepository: Sale aggregates and their outbox events
  Store:          Catalog + SaleRepository (a unit-of-work view)
  TxStore:        Store + WithTx (atomic scope)
  Outbox:         Read side for the event publisher

ATOMIC SCOPE:
  WithTx(fn) commits only if fn returns nil. Any error, including context
  cancellation, rolls back every write made through the Store passed to fn.
  If the rollback itself fails the store returns a *ReconciliationError.

NOT FOUND CONVENTION:
  GetProduct and GetSale return (nil, nil) for a missing row.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - sale/store/memory.go:   In-memory for testing

SEE ALSO:
  - ledger.go: The only caller of AdjustStock
*/
package sale

import (
	"context"
	"time"
)

// =============================================================================
// CATALOG - Product collaborator
// =============================================================================

type Catalog interface {
	GetProduct(ctx context.Context, id ProductID) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)

	// SaveProduct inserts or replaces a catalog entry.
	SaveProduct(ctx context.Context, p Product) error

	// AdjustStock adds delta to QuantityOnHand. A negative delta is applied
	// only if the product is active and the result stays >= 0. Returns
	// whether it was applied and the quantity after the call (unchanged if
	// not applied, 0 if the product does not exist).
	AdjustStock(ctx context.Context, id ProductID, delta int) (applied bool, current int, err error)
}

// =============================================================================
// SALE REPOSITORY
// =============================================================================

type SaleRepository interface {
	// InsertSale writes the sale and all of its items.
	InsertSale(ctx context.Context, s *Sale) error

	// GetSale loads a sale with its items in insertion order.
	GetSale(ctx context.Context, id SaleID) (*Sale, error)

	// ListSales returns matching sales, most recent first.
	ListSales(ctx context.Context, filter SaleFilter) ([]Sale, error)

	// UpdateSaleStatus moves a sale from one status to another. Returns
	// ErrConcurrentModification if the sale is not currently in from.
	UpdateSaleStatus(ctx context.Context, id SaleID, from, to Status) error

	// AppendEvent records an outbox event in the same unit of work.
	AppendEvent(ctx context.Context, e Event) error
}

type Store interface {
	Catalog
	SaleRepository
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// OUTBOX - Read side for the publisher
// =============================================================================

type Outbox interface {
	PendingEvents(ctx context.Context, limit int) ([]Event, error)
	MarkEventPublished(ctx context.Context, id string, at time.Time) error
}
