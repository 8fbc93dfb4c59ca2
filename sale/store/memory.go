// Package store provides in-memory sale.TxStore implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/sale-engine/sale"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	products map[sale.ProductID]sale.Product
	sales    map[sale.SaleID]*sale.Sale
	seq      map[sale.SaleID]int // insertion order, for stable listing
	events   []sale.Event
}

func NewMemory() *Memory {
	return &Memory{
		products: make(map[sale.ProductID]sale.Product),
		sales:    make(map[sale.SaleID]*sale.Sale),
		seq:      make(map[sale.SaleID]int),
	}
}

// -----------------------------------------------------------------------------
// Catalog
// -----------------------------------------------------------------------------

func (m *Memory) GetProduct(_ context.Context, id sale.ProductID) (*sale.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getProductLocked(id), nil
}

func (m *Memory) getProductLocked(id sale.ProductID) *sale.Product {
	p, ok := m.products[id]
	if !ok {
		return nil
	}
	return &p
}

func (m *Memory) ListProducts(_ context.Context) ([]sale.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listProductsLocked(), nil
}

func (m *Memory) listProductsLocked() []sale.Product {
	result := make([]sale.Product, 0, len(m.products))
	for _, p := range m.products {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (m *Memory) SaveProduct(_ context.Context, p sale.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveProductLocked(p)
	return nil
}

func (m *Memory) saveProductLocked(p sale.Product) {
	p.UpdatedAt = time.Now().UTC()
	m.products[p.ID] = p
}

func (m *Memory) AdjustStock(_ context.Context, id sale.ProductID, delta int) (bool, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	applied, current := m.adjustStockLocked(id, delta)
	return applied, current, nil
}

func (m *Memory) adjustStockLocked(id sale.ProductID, delta int) (bool, int) {
	p, ok := m.products[id]
	if !ok {
		return false, 0
	}
	if delta < 0 && (!p.IsActive || p.QuantityOnHand+delta < 0) {
		return false, p.QuantityOnHand
	}
	p.QuantityOnHand += delta
	p.UpdatedAt = time.Now().UTC()
	m.products[id] = p
	return true, p.QuantityOnHand
}

// -----------------------------------------------------------------------------
// Sale repository
// -----------------------------------------------------------------------------

func (m *Memory) InsertSale(_ context.Context, s *sale.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertSaleLocked(s)
	return nil
}

func (m *Memory) insertSaleLocked(s *sale.Sale) {
	m.sales[s.ID] = copySale(s)
	m.seq[s.ID] = len(m.seq)
}

func (m *Memory) GetSale(_ context.Context, id sale.SaleID) (*sale.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSaleLocked(id), nil
}

func (m *Memory) getSaleLocked(id sale.SaleID) *sale.Sale {
	s, ok := m.sales[id]
	if !ok {
		return nil
	}
	return copySale(s)
}

func (m *Memory) ListSales(_ context.Context, filter sale.SaleFilter) ([]sale.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSalesLocked(filter), nil
}

func (m *Memory) listSalesLocked(filter sale.SaleFilter) []sale.Sale {
	result := make([]sale.Sale, 0, len(m.sales))
	for _, s := range m.sales {
		if filter.Matches(s) {
			result = append(result, *copySale(s))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].SaleDate.Equal(result[j].SaleDate) {
			return result[i].SaleDate.After(result[j].SaleDate)
		}
		return m.seq[result[i].ID] > m.seq[result[j].ID]
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result
}

func (m *Memory) UpdateSaleStatus(_ context.Context, id sale.SaleID, from, to sale.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateSaleStatusLocked(id, from, to)
}

func (m *Memory) updateSaleStatusLocked(id sale.SaleID, from, to sale.Status) error {
	s, ok := m.sales[id]
	if !ok || s.Status != from {
		return sale.ErrConcurrentModification
	}
	s.Status = to
	return nil
}

func (m *Memory) AppendEvent(_ context.Context, e sale.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// -----------------------------------------------------------------------------
// Outbox
// -----------------------------------------------------------------------------

func (m *Memory) PendingEvents(_ context.Context, limit int) ([]sale.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []sale.Event
	for _, e := range m.events {
		if e.PublishedAt != nil {
			continue
		}
		result = append(result, e)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *Memory) MarkEventPublished(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.events {
		if m.events[i].ID == id {
			t := at
			m.events[i].PublishedAt = &t
			return nil
		}
	}
	return nil
}

// Events returns every recorded event, published or not.
func (m *Memory) Events() []sale.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]sale.Event{}, m.events...)
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, which serializes units of
// work the same way a database write lock would.
func (m *Memory) WithTx(ctx context.Context, fn func(sale.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()

	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	// A deadline that passed while fn ran aborts before commit.
	if err := ctx.Err(); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	products map[sale.ProductID]sale.Product
	sales    map[sale.SaleID]*sale.Sale
	seq      map[sale.SaleID]int
	events   []sale.Event
}

func (m *Memory) snapshot() memorySnapshot {
	products := make(map[sale.ProductID]sale.Product, len(m.products))
	for k, v := range m.products {
		products[k] = v
	}
	sales := make(map[sale.SaleID]*sale.Sale, len(m.sales))
	for k, v := range m.sales {
		sales[k] = copySale(v)
	}
	seq := make(map[sale.SaleID]int, len(m.seq))
	for k, v := range m.seq {
		seq[k] = v
	}
	return memorySnapshot{
		products: products,
		sales:    sales,
		seq:      seq,
		events:   append([]sale.Event{}, m.events...),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.products = s.products
	m.sales = s.sales
	m.seq = s.seq
	m.events = s.events
}

// txMemoryView is the Store handed to WithTx callbacks. The parent lock is
// already held, so it calls the *Locked helpers directly.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) GetProduct(ctx context.Context, id sale.ProductID) (*sale.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return tv.parent.getProductLocked(id), nil
}

func (tv *txMemoryView) ListProducts(_ context.Context) ([]sale.Product, error) {
	return tv.parent.listProductsLocked(), nil
}

func (tv *txMemoryView) SaveProduct(_ context.Context, p sale.Product) error {
	tv.parent.saveProductLocked(p)
	return nil
}

func (tv *txMemoryView) AdjustStock(ctx context.Context, id sale.ProductID, delta int) (bool, int, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}
	applied, current := tv.parent.adjustStockLocked(id, delta)
	return applied, current, nil
}

func (tv *txMemoryView) InsertSale(ctx context.Context, s *sale.Sale) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tv.parent.insertSaleLocked(s)
	return nil
}

func (tv *txMemoryView) GetSale(_ context.Context, id sale.SaleID) (*sale.Sale, error) {
	return tv.parent.getSaleLocked(id), nil
}

func (tv *txMemoryView) ListSales(_ context.Context, filter sale.SaleFilter) ([]sale.Sale, error) {
	return tv.parent.listSalesLocked(filter), nil
}

func (tv *txMemoryView) UpdateSaleStatus(_ context.Context, id sale.SaleID, from, to sale.Status) error {
	return tv.parent.updateSaleStatusLocked(id, from, to)
}

func (tv *txMemoryView) AppendEvent(_ context.Context, e sale.Event) error {
	tv.parent.events = append(tv.parent.events, e)
	return nil
}

func copySale(s *sale.Sale) *sale.Sale {
	c := *s
	c.Items = append([]sale.SaleItem(nil), s.Items...)
	return &c
}
