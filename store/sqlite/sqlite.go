/*
Package sqlite provides a SQLite-backed implementation of the sale storage interfaces.

PURPOSE:
  Implements sale.TxStore (catalog, sale repository, unit of work) and
  sale.Outbox on SQLite. The same SQL works on PostgreSQL with minor dialect
  changes (SELECT ... FOR UPDATE instead of BEGIN IMMEDIATE).

INTERFACES IMPLEMENTED:
  sale.TxStore: Catalog + SaleRepository + WithTx
  sale.Outbox:  Pending event reads for the publisher

KEY TABLES:
  products:    Catalog with quantity_on_hand CHECK (>= 0)
  sales:       Sale headers (grand total is derived, not stored)
  sale_items:  Lines, ON DELETE CASCADE from sales, ordered by line_no
  sale_events: Transactional outbox

CONCURRENCY:
  Write transactions start with BEGIN IMMEDIATE (_txlock=immediate), which
  takes the database write lock up front. Two units of work that touch the
  same product are therefore serialized, and the conditional
  "quantity_on_hand + ? >= 0" decrement can never oversell. _busy_timeout
  makes a waiting writer block instead of failing with SQLITE_BUSY.

IN-MEMORY DATABASES:
  Every connection to ":memory:" is a separate database, so the pool is
  limited to one connection. Nothing inside WithTx may use s.db directly.

MIGRATION:
  Schema is versioned under migrations/ and applied with golang-migrate on
  New().

USAGE:
  store, err := sqlite.New("./data/pos.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  coordinator, err := sale.NewCoordinator(store, sale.DefaultConfig())
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/sale-engine/sale"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements sale.Store against any querier. Store embeds it with
// the pool; WithTx hands out one bound to the transaction.
type queries struct {
	q querier
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	queries
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{queries: queries{q: db}, db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// TRANSACTIONAL STORE (sale.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. If rollback
// fails after fn returned an error, a *sale.ReconciliationError is returned.
func (s *Store) WithTx(ctx context.Context, fn func(sale.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&queries{q: sqlTx}); err != nil {
		// A cancelled context has already rolled the tx back (ErrTxDone).
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return &sale.ReconciliationError{Cause: err, RollbackErr: rbErr}
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Reset deletes all data. Development and demo scenarios only.
func (s *Store) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(st sale.Store) error {
		q := st.(*queries)
		for _, table := range []string{"sale_events", "sale_items", "sales", "products"} {
			if _, err := q.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// CATALOG (sale.Catalog interface)
// =============================================================================

const productColumns = `id, name, unit_price, quantity_on_hand, is_active, updated_at`

func (s *queries) GetProduct(ctx context.Context, id sale.ProductID) (*sale.Product, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = ?", id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *queries) ListProducts(ctx context.Context) ([]sale.Product, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+productColumns+" FROM products ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []sale.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// SaveProduct upserts a catalog entry.
func (s *queries) SaveProduct(ctx context.Context, p sale.Product) error {
	query := `
		INSERT INTO products (id, name, unit_price, quantity_on_hand, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			unit_price = excluded.unit_price,
			quantity_on_hand = excluded.quantity_on_hand,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`
	_, err := s.q.ExecContext(ctx, query,
		p.ID, p.Name, p.UnitPrice.String(), p.QuantityOnHand, p.IsActive, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save product %s: %w", p.ID, err)
	}
	return nil
}

// AdjustStock applies delta with a single conditional UPDATE so the check
// and the write cannot be separated.
func (s *queries) AdjustStock(ctx context.Context, id sale.ProductID, delta int) (bool, int, error) {
	query := `UPDATE products SET quantity_on_hand = quantity_on_hand + ?, updated_at = ? WHERE id = ?`
	args := []any{delta, formatTime(time.Now()), id}
	if delta < 0 {
		query += ` AND is_active = 1 AND quantity_on_hand + ? >= 0`
		args = append(args, delta)
	}

	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, 0, fmt.Errorf("failed to adjust stock for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, 0, err
	}

	var current int
	err = s.q.QueryRowContext(ctx, "SELECT quantity_on_hand FROM products WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	return n == 1, current, nil
}

// =============================================================================
// SALE REPOSITORY (sale.SaleRepository interface)
// =============================================================================

const saleColumns = `id, sale_date, subtotal, tax, discount, payment_method,
	payment_reference, cashier_id, status, notes`

func (s *queries) InsertSale(ctx context.Context, sl *sale.Sale) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sl.ID,
		formatTime(sl.SaleDate),
		sl.Subtotal.String(),
		sl.Tax.String(),
		sl.Discount.String(),
		sl.PaymentMethod,
		nullString(sl.PaymentReference),
		sl.CashierID,
		sl.Status,
		nullString(sl.Notes),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sale %s: %w", sl.ID, err)
	}

	for i, it := range sl.Items {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO sale_items
			(id, sale_id, line_no, product_id, quantity, unit_price_at_sale, discount, line_total)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			it.ID, sl.ID, i+1, it.ProductID, it.Quantity,
			it.UnitPriceAtSale.String(), it.Discount.String(), it.LineTotal.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert sale item %d of %s: %w", i+1, sl.ID, err)
		}
	}
	return nil
}

func (s *queries) GetSale(ctx context.Context, id sale.SaleID) (*sale.Sale, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+saleColumns+" FROM sales WHERE id = ?", id)
	sl, err := scanSale(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if sl.Items, err = s.loadItems(ctx, sl.ID); err != nil {
		return nil, err
	}
	return &sl, nil
}

func (s *queries) ListSales(ctx context.Context, filter sale.SaleFilter) ([]sale.Sale, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.CashierID != "" {
		where = append(where, "cashier_id = ?")
		args = append(args, filter.CashierID)
	}

	query := "SELECT " + saleColumns + " FROM sales"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY sale_date DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	var sales []sale.Sale
	for rows.Next() {
		sl, err := scanSale(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		sales = append(sales, sl)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Items are loaded after the cursor is closed: an in-memory database
	// has a single connection.
	for i := range sales {
		if sales[i].Items, err = s.loadItems(ctx, sales[i].ID); err != nil {
			return nil, err
		}
	}
	return sales, nil
}

func (s *queries) loadItems(ctx context.Context, id sale.SaleID) ([]sale.SaleItem, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, sale_id, product_id, quantity, unit_price_at_sale, discount, line_total
		FROM sale_items
		WHERE sale_id = ?
		ORDER BY line_no ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query sale items: %w", err)
	}
	defer rows.Close()

	var items []sale.SaleItem
	for rows.Next() {
		var (
			it                         sale.SaleItem
			unitPrice, discount, total string
		)
		if err := rows.Scan(&it.ID, &it.SaleID, &it.ProductID, &it.Quantity, &unitPrice, &discount, &total); err != nil {
			return nil, fmt.Errorf("failed to scan sale item: %w", err)
		}
		if err := parseDecimals(
			decimalField{unitPrice, &it.UnitPriceAtSale},
			decimalField{discount, &it.Discount},
			decimalField{total, &it.LineTotal},
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *queries) UpdateSaleStatus(ctx context.Context, id sale.SaleID, from, to sale.Status) error {
	res, err := s.q.ExecContext(ctx, "UPDATE sales SET status = ? WHERE id = ? AND status = ?", to, id, from)
	if err != nil {
		return fmt.Errorf("failed to update sale status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return sale.ErrConcurrentModification
	}
	return nil
}

// =============================================================================
// OUTBOX
// =============================================================================

func (s *queries) AppendEvent(ctx context.Context, e sale.Event) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO sale_events (id, sale_id, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.SaleID, e.Type, string(e.Payload), formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (s *queries) PendingEvents(ctx context.Context, limit int) ([]sale.Event, error) {
	query := `
		SELECT id, sale_id, event_type, payload, created_at
		FROM sale_events
		WHERE published_at IS NULL
		ORDER BY created_at ASC, rowid ASC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []sale.Event
	for rows.Next() {
		var (
			e         sale.Event
			payload   string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.SaleID, &e.Type, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Payload = []byte(payload)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *queries) MarkEventPublished(ctx context.Context, id string, at time.Time) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE sale_events SET published_at = ? WHERE id = ? AND published_at IS NULL",
		formatTime(at), id,
	)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(sc scanner) (sale.Product, error) {
	var (
		p         sale.Product
		unitPrice string
		updatedAt string
	)
	if err := sc.Scan(&p.ID, &p.Name, &unitPrice, &p.QuantityOnHand, &p.IsActive, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan product: %w", err)
	}
	if err := parseDecimals(decimalField{unitPrice, &p.UnitPrice}); err != nil {
		return p, err
	}
	var err error
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return p, err
	}
	return p, nil
}

func scanSale(sc scanner) (sale.Sale, error) {
	var (
		sl                      sale.Sale
		saleDate                string
		subtotal, tax, discount string
		status                  string
		paymentReference, notes sql.NullString
	)
	err := sc.Scan(&sl.ID, &saleDate, &subtotal, &tax, &discount, &sl.PaymentMethod,
		&paymentReference, &sl.CashierID, &status, &notes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sl, err
		}
		return sl, fmt.Errorf("failed to scan sale: %w", err)
	}

	if err := parseDecimals(
		decimalField{subtotal, &sl.Subtotal},
		decimalField{tax, &sl.Tax},
		decimalField{discount, &sl.Discount},
	); err != nil {
		return sl, err
	}
	if sl.Status, err = sale.ParseStatus(status); err != nil {
		return sl, err
	}
	if sl.SaleDate, err = parseTime(saleDate); err != nil {
		return sl, err
	}
	sl.PaymentReference = paymentReference.String
	sl.Notes = notes.String
	return sl, nil
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", raw, err)
	}
	return t, nil
}

type decimalField struct {
	raw string
	dst *decimal.Decimal
}

func parseDecimals(fields ...decimalField) error {
	for _, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return fmt.Errorf("invalid stored amount %q: %w", f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
