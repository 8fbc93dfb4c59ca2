/*
coordinator_test.go - Behavioural tests for CreateSale and VoidSale

Every test runs against both the in-memory store and SQLite so the two
TxStore implementations are held to the same contract.
*/
package sale_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sale-engine/sale"
	"github.com/warp/sale-engine/sale/store"
	"github.com/warp/sale-engine/store/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// =============================================================================
// FIXTURES
// =============================================================================

var backends = map[string]func(t *testing.T) sale.TxStore{
	"memory": func(t *testing.T) sale.TxStore {
		return store.NewMemory()
	},
	"sqlite": func(t *testing.T) sale.TxStore {
		s, err := sqlite.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, st sale.TxStore)) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, newStore(t))
		})
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newCoordinator(t *testing.T, st sale.TxStore) *sale.Coordinator {
	t.Helper()
	c, err := sale.NewCoordinator(st, sale.Config{
		TaxRate: sale.DefaultTaxRate,
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return c
}

func seed(t *testing.T, st sale.Catalog, id, price string, qty int) {
	t.Helper()
	require.NoError(t, st.SaveProduct(context.Background(), sale.Product{
		ID:             sale.ProductID(id),
		Name:           "Product " + id,
		UnitPrice:      dec(price),
		QuantityOnHand: qty,
		IsActive:       true,
	}))
}

func stock(t *testing.T, st sale.Catalog, id string) int {
	t.Helper()
	p, err := st.GetProduct(context.Background(), sale.ProductID(id))
	require.NoError(t, err)
	require.NotNil(t, p, "product %s", id)
	return p.QuantityOnHand
}

func order(lines ...sale.LineRequest) sale.CreateSaleRequest {
	return sale.CreateSaleRequest{CashierID: "cashier-1", Lines: lines}
}

func line(id string, qty int, discount string) sale.LineRequest {
	return sale.LineRequest{ProductID: sale.ProductID(id), Quantity: qty, Discount: dec(discount)}
}

func countSales(t *testing.T, st sale.TxStore) int {
	t.Helper()
	sales, err := st.ListSales(context.Background(), sale.SaleFilter{})
	require.NoError(t, err)
	return len(sales)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestCreateSale_SingleLine(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st sale.TxStore) {
		// GIVEN: P has stock 5 at 10.00
		seed(t, st, "P", "10.00", 5)
		c := newCoordinator(t, st)

		// WHEN: 3 units are sold
		s, err := c.CreateSale(context.Background(), order(line("P", 3, "0")))

		// THEN: totals are priced with 10% tax and stock is 2
		require.NoError(t, err)
		assert.Equal(t, "30.00", s.Subtotal.StringFixed(2))
		assert.Equal(t, "3.00", s.Tax.StringFixed(2))
		assert.Equal(t, "33.00", s.GrandTotal().StringFixed(2))
		assert.Equal(t, sale.StatusCompleted, s.Status)
		assert.Equal(t, sale.DefaultPaymentMethod, s.PaymentMethod)
		require.Len(t, s.Items, 1)
		assert.Equal(t, "10.00", s.Items[0].UnitPriceAtSale.StringFixed(2))
		assert.Equal(t, 2, stock(t, st, "P"))

		// AND: the persisted sale matches what was returned
		got, err := c.GetSale(context.Background(), s.ID)
		require.NoError(t, err)
		assert.Equal(t, s.ID, got.ID)
		assert.True(t, s.Subtotal.Equal(got.Subtotal))
		assert.True(t, s.Tax.Equal(got.Tax))
		require.Len(t, got.Items, 1)
		assert.Equal(t, s.Items[0].ID, got.Items[0].ID)
		assert.NoError(t, got.Verify())
	})
}

func TestCreateSale_InsufficientStockAfterEarlierSale(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st sale.TxStore) {
		// GIVEN: P has 2 left after selling 3 of 5
		seed(t, st, "P", "10.00", 5)
		c := newCoordinator(t, st)
		_, err := c.CreateSale(context.Background(), order(line("P", 3, "0")))
		require.NoError(t, err)

		// WHEN: 3 more are requested
		_, err = c.CreateSale(context.Background(), order(line("P", 3, "0")))

		// THEN: InsufficientStock(available=2, requested=3), stock stays 2
		require.Error(t, err)
		var se *sale.InsufficientStockError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, sale.ProductID("P"), se.ProductID)
		assert.Equal(t, 2, se.Available)
		assert.Equal(t, 3, se.Requested)
		assert.Equal(t, sale.CodeInsufficientStock, sale.Code(err))
		assert.Equal(t, 2, stock(t, st, "P"))
		assert.Equal(t, 1, countSales(t, st))
	})
}

func TestVoidSale_RestoresStock(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st sale.TxStore) {
		seed(t, st, "P", "10.00", 5)
		c := newCoordinator(t, st)
		s, err := c.CreateSale(context.Background(), order(line("P", 3, "0")))
		require.NoError(t, err)

		// WHEN: the sale is voided
		require.NoError(t, c.VoidSale(context.Background(), s.ID))

		// THEN: status is Voided and P is back to 5
		got, err := c.GetSale(context.Background(), s.ID)
		require.NoError(t, err)
		assert.Equal(t, sale.StatusVoided, got.Status)
		assert.Len(t, got.Items, 1, "items are kept for audit")
		assert.Equal(t, 5, stock(t, st, "P"))
	})
}

func TestCreateSale_DiscountAboveLineGross(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st sale.TxStore) {
		seed(t, st, "P", "10.00", 5)
		c := newCoordinator(t, st)

		// WHEN: discount 25.00 on a 20.00 line
		_, err := c.CreateSale(context.Background(), order(line("P", 2, "25.00")))

		// THEN: InvalidDiscount, no stock change, no sale
		require.Error(t, err)
		assert.True(t, errors.Is(err, sale.ErrInvalidDiscount))
		var de *sale.InvalidDiscountError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, 1, de.Line)
		assert.Equal(t, 5, stock(t, st, "P"))
		assert.Equal(t, 0, countSales(t, st))
	})
}

func TestVoidSale_Twice(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st sale.TxStore) {
		seed(t, st, "P", "10.00", 5)
		c := newCoordinator(t, st)
		s, err := c.CreateSale(context.Background(), order(line("P", 3, "0")))
		require.NoError(t, err)
		require.NoError(t, c.VoidSale(context.Background(), s.ID))

		// WHEN: voided again
		err = c.VoidSale(context.Background(), s.ID)

		// THEN: InvalidStateTransition, stock not restored twice
		require.Error(t, err)
		var te *sale.InvalidStateTransitionError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, sale.StatusVoided, te.Current)
		assert.Equal(t, sale.StatusVoided, te.Target)
		assert.Equal(t, 5, stock(t, st, "P"))
	})
}

// =============================================================================
// VALIDATION AND ATOMICITY
// =============================================================================

func TestCreateSale_EmptyOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st sale.TxStore) {
		c := newCoordinator(t, st)

		_, err := c.CreateSale(context.Background(), order())

		assert.True(t, errors.Is(err, sale.ErrEmptyOrder))
		assert.Equal(t, sale.CodeEmptyOrder, sale.Code(err))
	})
}

func TestCreateSale_ProductNotFoundOrInactive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st sale.TxStore) {
		seed(t, st, "A", "1.00", 10)
		require.NoError(t, st.SaveProduct(context.Background(), sale.Product{
			ID: "old", Name: "Discontinued", UnitPrice: dec("2.00"), QuantityOnHand: 4, IsActive: false,
		}))
		c := newCoordinator(t, st)

		_, err := c.CreateSale(context.Background(), order(line("A", 1, "0"), line("missing", 1, "0")))
		var nf *sale.ProductNotFoundError
		require.True(t, errors.As(err, &nf))
		assert.Equal(t, sale.ProductID("missing"), nf.ProductID)
		assert.False(t, nf.Inactive)

		_, err = c.CreateSale(context.Background(), order(line("A", 1, "0"), line("old", 1, "0")))
		require.True(t, errors.As(err, &nf))
		assert.True(t, nf.Inactive)

		// Line 1 was rolled back both times
		assert.Equal(t, 10, stock(t, st, "A"))
		assert.Equal(t, 4, stock(t, st, "old"))
	})
}

func TestCreateSale_NonPositiveQuantity(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st sale.TxStore) {
		seed(t, st, "P", "10.00", 5)
		c := newCoordinator(t, st)

		for _, qty := range []int{0, -2} {
			_, err := c.CreateSale(context.Background(), order(line("P", qty, "0")))
			assert.True(t, errors.Is(err, sale.ErrInvalidQuantity), "qty %d", qty)
		}
		assert.Equal(t, 5, stock(t, st, "P"))
	})
}

func TestCreateSale_FailureOnLaterLineLeavesEarlierLinesUntouched(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st sale.TxStore) {
		// GIVEN: A and B are plentiful, C has 1
		seed(t, st, "A", "2.00", 10)
		seed(t, st, "B", "3.00", 10)
		seed(t, st, "C", "4.00", 1)
		c := newCoordinator(t, st)

		// WHEN: line 3 asks for 2 of C
		_, err := c.CreateSale(context.Background(), order(
			line("A", 4, "0"),
			line("B", 5, "0"),
			line("C", 2, "0"),
		))

		// THEN: nothing from lines 1..2 persists
		require.True(t, errors.Is(err, sale.ErrInsufficientStock))
		assert.Equal(t, 10, stock(t, st, "A"))
		assert.Equal(t, 10, stock(t, st, "B"))
		assert.Equal(t, 1, stock(t, st, "C"))
		assert.Equal(t, 0, countSales(t, st))
	})
}

func TestCreateSale_StockBoundary(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st sale.TxStore) {
		seed(t, st, "X", "1.00", 7)
		seed(t, st, "Y", "1.00", 7)
		c := newCoordinator(t, st)

		// Exactly quantity on hand succeeds and leaves 0
		_, err := c.CreateSale(context.Background(), order(line("X", 7, "0")))
		require.NoError(t, err)
		assert.Equal(t, 0, stock(t, st, "X"))

		// One more than on hand fails and leaves stock unchanged
		_, err = c.CreateSale(context.Background(), order(line("Y", 8, "0")))
		require.True(t, errors.Is(err, sale.ErrInsufficientStock))
		assert.Equal(t, 7, stock(t, st, "Y"))
	})
}

func TestCreateSale_SameProductOnTwoLines(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st sale.TxStore) {
		seed(t, st, "P", "10.00", 5)
		c := newCoordinator(t, st)

		// 3 + 3 exceeds 5: the second line sees what the first reserved
		_, err := c.CreateSale(context.Background(), order(line("P", 3, "0"), line("P", 3, "0")))
		var se *sale.InsufficientStockError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, 2, se.Available)
		assert.Equal(t, 5, stock(t, st, "P"))

		s, err := c.CreateSale(context.Background(), order(line("P", 3, "0"), line("P", 2, "0")))
		require.NoError(t, err)
		assert.Len(t, s.Items, 2)
		assert.Equal(t, 0, stock(t, st, "P"))

		require.NoError(t, c.VoidSale(context.Background(), s.ID))
		assert.Equal(t, 5, stock(t, st, "P"))
	})
}

func TestCreateSale_SaleDiscountAndPaymentDetails(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st sale.TxStore) {
		seed(t, st, "A", "10.00", 5)
		seed(t, st, "B", "2.75", 5)
		c := newCoordinator(t, st)

		req := order(line("A", 3, "0"), line("B", 2, "0.50"))
		req.Discount = dec("2.05")
		req.PaymentMethod = "Card"
		req.PaymentReference = "auth-7781"
		req.Notes = "regular customer"

		s, err := c.CreateSale(context.Background(), req)
		require.NoError(t, err)

		// Lines: 30.00 + 5.00, tax 3.50
		assert.Equal(t, "35.00", s.Subtotal.StringFixed(2))
		assert.Equal(t, "3.50", s.Tax.StringFixed(2))
		assert.Equal(t, "2.05", s.Discount.StringFixed(2))
		assert.Equal(t, "36.45", s.GrandTotal().StringFixed(2))

		got, err := c.GetSale(context.Background(), s.ID)
		require.NoError(t, err)
		assert.Equal(t, "Card", got.PaymentMethod)
		assert.Equal(t, "auth-7781", got.PaymentReference)
		assert.Equal(t, "regular customer", got.Notes)
		assert.Equal(t, sale.CashierID("cashier-1"), got.CashierID)
		require.Len(t, got.Items, 2)
		assert.Equal(t, sale.ProductID("A"), got.Items[0].ProductID)
		assert.Equal(t, sale.ProductID("B"), got.Items[1].ProductID)
		assert.Equal(t, "4.50", got.Items[1].LineTotal.StringFixed(2))
		assert.NoError(t, got.Verify())
	})
}

func TestCreateSale_PriceCapturedAtSale(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st sale.TxStore) {
		seed(t, st, "P", "10.00", 5)
		c := newCoordinator(t, st)
		s, err := c.CreateSale(context.Background(), order(line("P", 1, "0")))
		require.NoError(t, err)

		// Catalog price changes afterwards
		seed(t, st, "P", "12.00", 4)

		got, err := c.GetSale(context.Background(), s.ID)
		require.NoError(t, err)
		assert.Equal(t, "10.00", got.Items[0].UnitPriceAtSale.StringFixed(2))
	})
}

func TestVoidSale_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st sale.TxStore) {
		c := newCoordinator(t, st)

		err := c.VoidSale(context.Background(), "nope")

		var nf *sale.SaleNotFoundError
		require.True(t, errors.As(err, &nf))
		assert.Equal(t, sale.SaleID("nope"), nf.SaleID)
		assert.Equal(t, sale.CodeSaleNotFound, sale.Code(err))
	})
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestCreateThenVoid_RestoresEveryProduct(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st sale.TxStore) {
		ids := []string{"a", "b", "c", "d", "e"}
		for i, id := range ids {
			seed(t, st, id, fmt.Sprintf("%d.99", i+1), 20)
		}
		c := newCoordinator(t, st)
		rng := rand.New(rand.NewSource(42))

		for round := 0; round < 25; round++ {
			before := map[string]int{}
			for _, id := range ids {
				before[id] = stock(t, st, id)
			}

			var lines []sale.LineRequest
			for n := 1 + rng.Intn(4); n > 0; n-- {
				lines = append(lines, line(ids[rng.Intn(len(ids))], 1+rng.Intn(3), "0"))
			}

			s, err := c.CreateSale(context.Background(), order(lines...))
			require.NoError(t, err, "round %d", round)
			require.NoError(t, s.Verify())
			assert.True(t, s.GrandTotal().Equal(s.Subtotal.Add(s.Tax).Sub(s.Discount)))

			require.NoError(t, c.VoidSale(context.Background(), s.ID))
			for _, id := range ids {
				assert.Equal(t, before[id], stock(t, st, id), "round %d product %s", round, id)
			}
		}
	})
}

func TestStockNeverNegative_UnderRandomTraffic(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st sale.TxStore) {
		ids := []string{"a", "b", "c"}
		for _, id := range ids {
			seed(t, st, id, "1.00", 6)
		}
		c := newCoordinator(t, st)
		rng := rand.New(rand.NewSource(7))

		var completed []sale.SaleID
		for i := 0; i < 60; i++ {
			if len(completed) > 0 && rng.Intn(3) == 0 {
				k := rng.Intn(len(completed))
				require.NoError(t, c.VoidSale(context.Background(), completed[k]))
				completed = append(completed[:k], completed[k+1:]...)
			} else {
				s, err := c.CreateSale(context.Background(), order(line(ids[rng.Intn(len(ids))], 1+rng.Intn(4), "0")))
				if err != nil {
					require.True(t, errors.Is(err, sale.ErrInsufficientStock), "%v", err)
				} else {
					completed = append(completed, s.ID)
				}
			}
			for _, id := range ids {
				assert.GreaterOrEqual(t, stock(t, st, id), 0)
			}
		}
	})
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestCreateSale_ConcurrentBuyersOfLastUnit(t *testing.T) {
	fileBackend := func(t *testing.T) sale.TxStore {
		s, err := sqlite.New(filepath.Join(t.TempDir(), "pos.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}
	stores := map[string]func(t *testing.T) sale.TxStore{
		"memory":      backends["memory"],
		"sqlite-file": fileBackend,
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			st := newStore(t)
			seed(t, st, "last", "5.00", 3)
			c := newCoordinator(t, st)

			const buyers = 12
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				ok, fail int
			)
			for i := 0; i < buyers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := c.CreateSale(context.Background(), order(line("last", 1, "0")))
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						ok++
					} else if errors.Is(err, sale.ErrInsufficientStock) {
						fail++
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 3, ok)
			assert.Equal(t, buyers-3, fail)
			assert.Equal(t, 0, stock(t, st, "last"))
			assert.Equal(t, 3, countSales(t, st))
		})
	}
}

func TestVoidSale_ConcurrentVoidsRestoreOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st sale.TxStore) {
		seed(t, st, "P", "10.00", 5)
		c := newCoordinator(t, st)
		s, err := c.CreateSale(context.Background(), order(line("P", 3, "0")))
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for i := 0; i < 6; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if c.VoidSale(context.Background(), s.ID) == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, 5, stock(t, st, "P"))
	})
}

// =============================================================================
// STORAGE FAILURES
// =============================================================================

// faultyStore injects failures into the unit of work of a memory store.
type faultyStore struct {
	*store.Memory
	insertErr   error
	statusErr   error
	rollbackErr error
}

type faultyView struct {
	sale.Store
	f *faultyStore
}

func (f *faultyStore) WithTx(ctx context.Context, fn func(sale.Store) error) error {
	err := f.Memory.WithTx(ctx, func(tx sale.Store) error {
		return fn(&faultyView{Store: tx, f: f})
	})
	if err != nil && f.rollbackErr != nil {
		return &sale.ReconciliationError{Cause: err, RollbackErr: f.rollbackErr}
	}
	return err
}

func (v *faultyView) InsertSale(ctx context.Context, s *sale.Sale) error {
	if v.f.insertErr != nil {
		return v.f.insertErr
	}
	return v.Store.InsertSale(ctx, s)
}

func (v *faultyView) UpdateSaleStatus(ctx context.Context, id sale.SaleID, from, to sale.Status) error {
	if v.f.statusErr != nil {
		return v.f.statusErr
	}
	return v.Store.UpdateSaleStatus(ctx, id, from, to)
}

func TestCreateSale_PersistenceFailureRollsBackReservations(t *testing.T) {
	// GIVEN: validation passes but writing the sale fails
	st := &faultyStore{Memory: store.NewMemory(), insertErr: errors.New("disk I/O error")}
	seed(t, st, "A", "1.00", 5)
	seed(t, st, "B", "2.00", 5)
	c := newCoordinator(t, st)

	// WHEN
	_, err := c.CreateSale(context.Background(), order(line("A", 2, "0"), line("B", 1, "0")))

	// THEN: PersistenceFailure and every reservation is undone
	require.Error(t, err)
	assert.True(t, errors.Is(err, sale.ErrPersistence))
	assert.Equal(t, sale.CodePersistenceFailure, sale.Code(err))
	assert.Equal(t, 5, stock(t, st, "A"))
	assert.Equal(t, 5, stock(t, st, "B"))
	assert.Empty(t, st.Events())
}

func TestVoidSale_PersistenceFailureKeepsSaleCompleted(t *testing.T) {
	st := &faultyStore{Memory: store.NewMemory()}
	seed(t, st, "P", "10.00", 5)
	c := newCoordinator(t, st)
	s, err := c.CreateSale(context.Background(), order(line("P", 3, "0")))
	require.NoError(t, err)

	st.statusErr = errors.New("database is locked")
	err = c.VoidSale(context.Background(), s.ID)

	assert.True(t, errors.Is(err, sale.ErrPersistence))
	got, err := c.GetSale(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.StatusCompleted, got.Status)
	assert.Equal(t, 2, stock(t, st, "P"), "released stock is rolled back")
}

func TestCreateSale_FailedRollbackIsReportedLoudly(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	st := &faultyStore{
		Memory:      store.NewMemory(),
		insertErr:   errors.New("disk I/O error"),
		rollbackErr: errors.New("connection lost"),
	}
	seed(t, st, "P", "10.00", 5)
	c, err := sale.NewCoordinator(st, sale.Config{TaxRate: sale.DefaultTaxRate, Logger: zap.New(core)})
	require.NoError(t, err)

	_, err = c.CreateSale(context.Background(), order(line("P", 1, "0")))

	require.Error(t, err)
	assert.True(t, errors.Is(err, sale.ErrPersistence))
	assert.True(t, errors.Is(err, sale.ErrReconciliationRequired))
	assert.Equal(t, sale.CodePersistenceFailure, sale.Code(err))

	entries := logs.FilterMessage("rollback failed, manual reconciliation required").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "create sale", entries[0].ContextMap()["op"])
}

func TestCreateSale_CancelledContext(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st sale.TxStore) {
		seed(t, st, "P", "10.00", 5)
		c := newCoordinator(t, st)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.CreateSale(ctx, order(line("P", 1, "0")))

		require.Error(t, err)
		assert.True(t, errors.Is(err, sale.ErrPersistence))
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Equal(t, 5, stock(t, st, "P"))
		assert.Equal(t, 0, countSales(t, st))
	})
}

func TestCreateSale_ExpiredDeadline(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st sale.TxStore) {
		seed(t, st, "P", "10.00", 5)
		c := newCoordinator(t, st)

		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		defer cancel()

		_, err := c.CreateSale(ctx, order(line("P", 1, "0")))

		assert.True(t, errors.Is(err, context.DeadlineExceeded))
		assert.Equal(t, sale.CodePersistenceFailure, sale.Code(err))
		assert.Equal(t, 5, stock(t, st, "P"))
	})
}

// =============================================================================
// EVENTS AND QUERIES
// =============================================================================

func TestCoordinator_RecordsOutboxEvents(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, "P", "10.00", 5)
	c := newCoordinator(t, st)

	s, err := c.CreateSale(context.Background(), order(line("P", 3, "0")))
	require.NoError(t, err)
	_, err = c.CreateSale(context.Background(), order(line("P", 9, "0")))
	require.Error(t, err)
	require.NoError(t, c.VoidSale(context.Background(), s.ID))

	events := st.Events()
	require.Len(t, events, 2, "failed sales record nothing")
	assert.Equal(t, sale.EventSaleCompleted, events[0].Type)
	assert.Equal(t, sale.EventSaleVoided, events[1].Type)
	assert.Equal(t, s.ID, events[1].SaleID)
	assert.JSONEq(t, fmt.Sprintf(`{
		"saleId": %q,
		"type": "sale.voided",
		"cashierId": "cashier-1",
		"status": "Voided",
		"grandTotal": "33.00",
		"items": [{"productId": "P", "quantity": 3}],
		"occurredAt": %q
	}`, s.ID, events[1].CreatedAt.Format(time.RFC3339Nano)), string(events[1].Payload))
}

func TestListSales_FilterAndOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st sale.TxStore) {
		seed(t, st, "P", "1.00", 100)
		now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
		c, err := sale.NewCoordinator(st, sale.Config{
			TaxRate: sale.DefaultTaxRate,
			Logger:  zaptest.NewLogger(t),
			Clock: func() time.Time {
				now = now.Add(time.Minute)
				return now
			},
		})
		require.NoError(t, err)

		var ids []sale.SaleID
		for _, cashier := range []sale.CashierID{"ana", "ben", "ana", "cy"} {
			req := order(line("P", 1, "0"))
			req.CashierID = cashier
			s, err := c.CreateSale(context.Background(), req)
			require.NoError(t, err)
			ids = append(ids, s.ID)
		}
		require.NoError(t, c.VoidSale(context.Background(), ids[2]))

		all, err := c.ListSales(context.Background(), sale.SaleFilter{})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, ids[3], all[0].ID, "most recent first")
		assert.Equal(t, ids[0], all[3].ID)

		ana, err := c.ListSales(context.Background(), sale.SaleFilter{CashierID: "ana"})
		require.NoError(t, err)
		assert.Len(t, ana, 2)

		voided, err := c.ListSales(context.Background(), sale.SaleFilter{Status: sale.StatusVoided})
		require.NoError(t, err)
		require.Len(t, voided, 1)
		assert.Equal(t, ids[2], voided[0].ID)

		top, err := c.ListSales(context.Background(), sale.SaleFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, top, 2)
		assert.Equal(t, ids[3], top[0].ID)
		assert.Equal(t, ids[2], top[1].ID)
	})
}

func TestNewCoordinator_RejectsNegativeTaxRate(t *testing.T) {
	_, err := sale.NewCoordinator(store.NewMemory(), sale.Config{TaxRate: dec("-0.1")})
	assert.Error(t, err)
}
