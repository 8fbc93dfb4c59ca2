/*
coordinator.go - Sale transaction coordinator

PURPOSE:
  Orchestrates the two state-changing operations of the engine:

    CreateSale: validate lines -> reserve stock -> price -> persist sale
    VoidSale:   load sale -> check status -> release stock -> mark voided

  Each operation runs inside exactly one TxStore.WithTx scope. Every error
  path returns an error from the scope, which aborts it, so no partial
  state (stock decremented without a sale, a sale without its items, a
  voided sale whose stock was not restored) is ever observable.

STATE MACHINES:
  Creation: Pending -> Committed | Aborted   (Pending/Aborted never persisted)
  Sale:     Completed -> Voided              (terminal)

ORDERING:
  Lines are processed in the order given. The first failing line decides
  the error returned.

LOCKING:
  The coordinator holds no in-process locks. Serialization of concurrent
  stock updates is the store's job.

FAILED ROLLBACK:
  If the store reports a failed rollback, it is logged at error level with
  every identifier we have and returned as a persistence failure that also
  matches ErrReconciliationRequired.
*/
package sale

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/warp/sale-engine/sale"

// Config holds the coordinator's injected settings.
type Config struct {
	TaxRate decimal.Decimal
	Logger  *zap.Logger
	Clock   func() time.Time
}

// DefaultConfig uses DefaultTaxRate, a no-op logger and the wall clock.
func DefaultConfig() Config {
	return Config{TaxRate: DefaultTaxRate}
}

type Coordinator struct {
	store  TxStore
	calc   *Calculator
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func NewCoordinator(store TxStore, cfg Config) (*Coordinator, error) {
	calc, err := NewCalculator(cfg.TaxRate)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Coordinator{
		store:  store,
		calc:   calc,
		logger: logger.Named("sale"),
		tracer: otel.Tracer(tracerName),
		now:    clock,
	}, nil
}

// Calculator exposes the pricing configuration in use.
func (c *Coordinator) Calculator() *Calculator { return c.calc }

// =============================================================================
// CREATE
// =============================================================================

// CreateSale validates, prices and commits a sale as one unit.
func (c *Coordinator) CreateSale(ctx context.Context, req CreateSaleRequest) (*Sale, error) {
	ctx, span := c.tracer.Start(ctx, "sale.CreateSale", trace.WithAttributes(
		attribute.String("cashier.id", string(req.CashierID)),
		attribute.Int("sale.lines", len(req.Lines)),
	))
	defer span.End()

	if len(req.Lines) == 0 {
		return nil, c.abort(span, "create sale", ErrEmptyOrder, zap.String("cashier_id", string(req.CashierID)))
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = DefaultPaymentMethod
	}

	var created *Sale
	err := c.store.WithTx(ctx, func(tx Store) error {
		s, err := c.buildSale(ctx, tx, req)
		if err != nil {
			return err
		}
		if err := tx.InsertSale(ctx, s); err != nil {
			return &PersistenceError{Op: "insert sale", Err: err}
		}
		if err := c.appendEvent(ctx, tx, EventSaleCompleted, s); err != nil {
			return err
		}
		created = s
		return nil
	})
	if err != nil {
		return nil, c.abort(span, "create sale", err, zap.String("cashier_id", string(req.CashierID)))
	}

	span.SetAttributes(attribute.String("sale.id", string(created.ID)))
	c.logger.Info("sale created",
		zap.String("sale_id", string(created.ID)),
		zap.String("cashier_id", string(created.CashierID)),
		zap.Int("items", len(created.Items)),
		zap.String("grand_total", created.GrandTotal().StringFixed(CurrencyPlaces)),
	)
	return created, nil
}

// buildSale reserves stock for every line and prices the result. Runs
// inside the caller's unit of work.
func (c *Coordinator) buildSale(ctx context.Context, tx Store, req CreateSaleRequest) (*Sale, error) {
	ledger := NewStockLedger(tx)
	saleID := SaleID(uuid.NewString())

	items := make([]SaleItem, 0, len(req.Lines))
	lineTotals := make([]decimal.Decimal, 0, len(req.Lines))

	for i, line := range req.Lines {
		if line.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: line.ProductID, Quantity: line.Quantity}
		}

		p, err := tx.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, &PersistenceError{Op: "load product", Err: err}
		}
		if p == nil || !p.IsActive {
			return nil, &ProductNotFoundError{ProductID: line.ProductID, Inactive: p != nil}
		}

		ok, current, err := ledger.TryReserve(ctx, p.ID, line.Quantity)
		if err != nil {
			return nil, &PersistenceError{Op: "reserve stock", Err: err}
		}
		if !ok {
			return nil, &InsufficientStockError{ProductID: p.ID, Available: current, Requested: line.Quantity}
		}

		lineTotal, err := c.calc.LineTotal(p.UnitPrice, line.Quantity, line.Discount)
		if err != nil {
			var de *InvalidDiscountError
			if errors.As(err, &de) {
				de.Line = i + 1
			}
			return nil, err
		}

		items = append(items, SaleItem{
			ID:              uuid.NewString(),
			SaleID:          saleID,
			ProductID:       p.ID,
			Quantity:        line.Quantity,
			UnitPriceAtSale: p.UnitPrice,
			Discount:        line.Discount,
			LineTotal:       lineTotal,
		})
		lineTotals = append(lineTotals, lineTotal)
	}

	totals, err := c.calc.SaleTotals(lineTotals, req.Discount)
	if err != nil {
		return nil, err
	}

	return &Sale{
		ID:               saleID,
		SaleDate:         c.now().UTC(),
		Subtotal:         totals.Subtotal,
		Tax:              totals.Tax,
		Discount:         totals.Discount,
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: req.PaymentReference,
		CashierID:        req.CashierID,
		Status:           StatusCompleted,
		Items:            items,
		Notes:            req.Notes,
	}, nil
}

// =============================================================================
// VOID
// =============================================================================

// VoidSale marks a completed sale as voided and restores its stock. The
// sale and its items are kept for audit.
func (c *Coordinator) VoidSale(ctx context.Context, id SaleID) error {
	ctx, span := c.tracer.Start(ctx, "sale.VoidSale", trace.WithAttributes(
		attribute.String("sale.id", string(id)),
	))
	defer span.End()

	var voided *Sale
	err := c.store.WithTx(ctx, func(tx Store) error {
		s, err := tx.GetSale(ctx, id)
		if err != nil {
			return &PersistenceError{Op: "load sale", Err: err}
		}
		if s == nil {
			return &SaleNotFoundError{SaleID: id}
		}
		if err := s.Void(); err != nil {
			return err
		}

		ledger := NewStockLedger(tx)
		for _, it := range s.Items {
			if err := ledger.Release(ctx, it.ProductID, it.Quantity); err != nil {
				if IsNotFound(err) {
					return err
				}
				return &PersistenceError{Op: "release stock", Err: err}
			}
		}

		if err := tx.UpdateSaleStatus(ctx, id, StatusCompleted, StatusVoided); err != nil {
			return &PersistenceError{Op: "update sale status", Err: err}
		}
		if err := c.appendEvent(ctx, tx, EventSaleVoided, s); err != nil {
			return err
		}
		voided = s
		return nil
	})
	if err != nil {
		return c.abort(span, "void sale", err, zap.String("sale_id", string(id)))
	}

	c.logger.Info("sale voided",
		zap.String("sale_id", string(id)),
		zap.Int("items_released", len(voided.Items)),
	)
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (c *Coordinator) GetSale(ctx context.Context, id SaleID) (*Sale, error) {
	s, err := c.store.GetSale(ctx, id)
	if err != nil {
		return nil, &PersistenceError{Op: "load sale", Err: err}
	}
	if s == nil {
		return nil, &SaleNotFoundError{SaleID: id}
	}
	return s, nil
}

func (c *Coordinator) ListSales(ctx context.Context, filter SaleFilter) ([]Sale, error) {
	sales, err := c.store.ListSales(ctx, filter)
	if err != nil {
		return nil, &PersistenceError{Op: "list sales", Err: err}
	}
	return sales, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Coordinator) appendEvent(ctx context.Context, tx Store, t EventType, s *Sale) error {
	ev, err := NewEvent(t, s, c.now().UTC())
	if err != nil {
		return &PersistenceError{Op: "encode event", Err: err}
	}
	if err := tx.AppendEvent(ctx, ev); err != nil {
		return &PersistenceError{Op: "append event", Err: err}
	}
	return nil
}

// abort normalizes an error leaving a unit of work, records it on the span
// and logs it. Anything that is not a domain error becomes a
// PersistenceError.
func (c *Coordinator) abort(span trace.Span, op string, err error, fields ...zap.Field) error {
	fields = append(fields, zap.String("op", op), zap.String("code", Code(err)), zap.Error(err))

	switch {
	case errors.Is(err, ErrReconciliationRequired):
		if !errors.Is(err, ErrPersistence) {
			err = &PersistenceError{Op: op, Err: err}
		}
		c.logger.Error("rollback failed, manual reconciliation required", fields...)
	case errors.Is(err, ErrPersistence):
		c.logger.Error("sale operation aborted", fields...)
	case IsClientError(err) || IsNotFound(err):
		c.logger.Info("sale operation rejected", fields...)
	default:
		// begin/commit failures and context cancellation land here
		err = &PersistenceError{Op: op, Err: err}
		c.logger.Error("sale operation aborted", fields...)
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, Code(err))
	return err
}
