// Package sqlstore implements the inventory ledger on SQLite through sqlx. Each movement is one
// conditional UPDATE, so the availability check and the decrement cannot interleave.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/repositories"
)

const schema = `
CREATE TABLE IF NOT EXISTS inventory(
  product_id TEXT NOT NULL,
  color      TEXT NOT NULL,
  size       TEXT NOT NULL,
  available  INTEGER NOT NULL DEFAULT 0 CHECK (available >= 0),
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (product_id, color, size)
);
`

type stockRow struct {
	ProductID string `db:"product_id"`
	Color     string `db:"color"`
	Size      string `db:"size"`
	Available int    `db:"available"`
	UpdatedAt int64  `db:"updated_at"` // unix milliseconds
}

func (r stockRow) toDomain() domain.InventoryStock {
	return domain.InventoryStock{
		Key:       domain.VariantKey{ProductID: r.ProductID, Color: r.Color, Size: r.Size},
		Available: r.Available,
		UpdatedAt: time.UnixMilli(r.UpdatedAt).UTC(),
	}
}

// Ledger is a repositories.InventoryRepository backed by SQLite.
type Ledger struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ repositories.InventoryRepository = (*Ledger)(nil)

// Open connects to dsn with the pure-Go sqlite driver and applies the schema.
func Open(ctx context.Context, dsn string) (*Ledger, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	// One writer keeps :memory: databases shared and avoids SQLITE_BUSY on file databases.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}
	ledger := NewLedger(db)
	if err := ledger.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ledger, nil
}

// NewLedger wraps an existing connection. Call Migrate before use.
func NewLedger(db *sqlx.DB) *Ledger {
	return &Ledger{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate creates the inventory table when missing.
func (l *Ledger) Migrate(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return nil
}

// Ping verifies the connection for readiness checks.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close releases the connection pool.
func (l *Ledger) Close(context.Context) error {
	return l.db.Close()
}

// Reserve decrements stock iff at least quantity units remain.
func (l *Ledger) Reserve(ctx context.Context, key domain.VariantKey, quantity int) (domain.InventoryStock, error) {
	const op = "inventory.reserve"
	if quantity <= 0 {
		return domain.InventoryStock{}, repositories.NewInventoryError(op, repositories.InventoryErrorInvalidQuantity, fmt.Sprintf("quantity must be positive, got %d", quantity), nil)
	}
	key = key.Normalize()

	var row stockRow
	err := l.db.GetContext(ctx, &row, `
		UPDATE inventory
		SET available = available - ?, updated_at = ?
		WHERE product_id = ? AND color = ? AND size = ? AND available >= ?
		RETURNING product_id, color, size, available, updated_at
	`, quantity, l.now().UnixMilli(), key.ProductID, key.Color, key.Size, quantity)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := l.Get(ctx, key)
		if getErr != nil {
			return domain.InventoryStock{}, getErr
		}
		return domain.InventoryStock{}, repositories.NewInventoryError(op, repositories.InventoryErrorInsufficientStock, fmt.Sprintf("requested %d of %s, %d available", quantity, key, current.Available), nil)
	}
	if err != nil {
		return domain.InventoryStock{}, repositories.NewUnavailableError(op, err)
	}
	return row.toDomain(), nil
}

// Release adds quantity units back.
func (l *Ledger) Release(ctx context.Context, key domain.VariantKey, quantity int) (domain.InventoryStock, error) {
	const op = "inventory.release"
	if quantity <= 0 {
		return domain.InventoryStock{}, repositories.NewInventoryError(op, repositories.InventoryErrorInvalidQuantity, fmt.Sprintf("quantity must be positive, got %d", quantity), nil)
	}
	key = key.Normalize()

	var row stockRow
	err := l.db.GetContext(ctx, &row, `
		UPDATE inventory
		SET available = available + ?, updated_at = ?
		WHERE product_id = ? AND color = ? AND size = ?
		RETURNING product_id, color, size, available, updated_at
	`, quantity, l.now().UnixMilli(), key.ProductID, key.Color, key.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.InventoryStock{}, repositories.NewInventoryError(op, repositories.InventoryErrorStockNotFound, fmt.Sprintf("no stock recorded for %s", key), err)
	}
	if err != nil {
		return domain.InventoryStock{}, repositories.NewUnavailableError(op, err)
	}
	return row.toDomain(), nil
}

// Get reads the stock row for key.
func (l *Ledger) Get(ctx context.Context, key domain.VariantKey) (domain.InventoryStock, error) {
	key = key.Normalize()
	var row stockRow
	err := l.db.GetContext(ctx, &row, `
		SELECT product_id, color, size, available, updated_at
		FROM inventory
		WHERE product_id = ? AND color = ? AND size = ?
	`, key.ProductID, key.Color, key.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.InventoryStock{}, repositories.NewInventoryError("inventory.get", repositories.InventoryErrorStockNotFound, fmt.Sprintf("no stock recorded for %s", key), err)
	}
	if err != nil {
		return domain.InventoryStock{}, repositories.NewUnavailableError("inventory.get", err)
	}
	return row.toDomain(), nil
}

// SetStock upserts the available quantity for key.
func (l *Ledger) SetStock(ctx context.Context, key domain.VariantKey, available int) error {
	if !key.Valid() || available < 0 {
		return repositories.NewInventoryError("inventory.set", repositories.InventoryErrorInvalidQuantity, "variant key and non-negative quantity are required", nil)
	}
	key = key.Normalize()
	_, err := l.db.NamedExecContext(ctx, `
		INSERT INTO inventory(product_id, color, size, available, updated_at)
		VALUES (:product_id, :color, :size, :available, :updated_at)
		ON CONFLICT(product_id, color, size) DO UPDATE SET available = excluded.available, updated_at = excluded.updated_at
	`, stockRow{ProductID: key.ProductID, Color: key.Color, Size: key.Size, Available: available, UpdatedAt: l.now().UnixMilli()})
	if err != nil {
		return repositories.NewUnavailableError("inventory.set", err)
	}
	return nil
}
