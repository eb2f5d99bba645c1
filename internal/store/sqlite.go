package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ordergate/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ OrderStore = (*SQLiteStore)(nil)
var _ PositionStore = (*SQLiteStore)(nil)

// Decimals are stored as TEXT so values round-trip exactly.
const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id             TEXT PRIMARY KEY,
	symbol         TEXT NOT NULL,
	side           TEXT NOT NULL,
	price          TEXT NOT NULL,
	quantity       TEXT NOT NULL,
	status         TEXT NOT NULL,
	strategy_id    TEXT NOT NULL DEFAULT '',
	exchange       TEXT NOT NULL DEFAULT '',
	executed_price TEXT NOT NULL DEFAULT '0',
	commission     TEXT NOT NULL DEFAULT '0',
	cancel_reason  TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);

CREATE TABLE IF NOT EXISTS positions (
	symbol          TEXT PRIMARY KEY,
	quantity        TEXT NOT NULL,
	avg_entry_price TEXT NOT NULL,
	mark_price      TEXT NOT NULL,
	realized_pnl    TEXT NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);
`

// SQLiteStore implements OrderStore and PositionStore backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

// SaveOrder inserts a new order. Inserting an existing ID is an error.
func (s *SQLiteStore) SaveOrder(ctx context.Context, order *domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders
			(id, symbol, side, price, quantity, status, strategy_id, exchange,
			 executed_price, commission, cancel_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.Symbol, string(order.Side),
		order.Price.String(), order.Quantity.String(), string(order.Status),
		order.StrategyID, order.Exchange,
		order.ExecutedPrice.String(), order.Commission.String(),
		order.CancelReason, order.CreatedAt.UTC(), order.UpdatedAt.UTC())
	return err
}

// GetOrder retrieves a single order by its ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, side, price, quantity, status, strategy_id, exchange,
		       executed_price, commission, cancel_reason, created_at, updated_at
		FROM orders WHERE id = ?`, id)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders returns orders in the given status, or all orders when status
// is empty, ordered by creation time.
func (s *SQLiteStore) ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	query := `
		SELECT id, symbol, side, price, quantity, status, strategy_id, exchange,
		       executed_price, commission, cancel_reason, created_at, updated_at
		FROM orders`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

// UpdateOrder persists changes to an existing order.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, order *domain.Order) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			status = ?, executed_price = ?, commission = ?, cancel_reason = ?, updated_at = ?
		WHERE id = ?`,
		string(order.Status), order.ExecutedPrice.String(), order.Commission.String(),
		order.CancelReason, order.UpdatedAt.UTC(), order.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                                      domain.Order
		side, status                           string
		price, quantity, execPrice, commission string
	)
	err := row.Scan(&o.ID, &o.Symbol, &side, &price, &quantity, &status,
		&o.StrategyID, &o.Exchange, &execPrice, &commission, &o.CancelReason,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Side = domain.Side(side)
	o.Status = domain.OrderStatus(status)
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("order %s price: %w", o.ID, err)
	}
	if o.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("order %s quantity: %w", o.ID, err)
	}
	if o.ExecutedPrice, err = decimal.NewFromString(execPrice); err != nil {
		return nil, fmt.Errorf("order %s executed_price: %w", o.ID, err)
	}
	if o.Commission, err = decimal.NewFromString(commission); err != nil {
		return nil, fmt.Errorf("order %s commission: %w", o.ID, err)
	}
	return &o, nil
}

// ---------------------------------------------------------------------------
// PositionStore implementation
// ---------------------------------------------------------------------------

// SavePosition inserts or updates the position for a symbol.
func (s *SQLiteStore) SavePosition(ctx context.Context, pos *domain.Position) error {
	updatedAt := pos.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (symbol, quantity, avg_entry_price, mark_price, realized_pnl, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			quantity = excluded.quantity,
			avg_entry_price = excluded.avg_entry_price,
			mark_price = excluded.mark_price,
			realized_pnl = excluded.realized_pnl,
			updated_at = excluded.updated_at`,
		pos.Symbol, pos.Quantity.String(), pos.AvgEntryPrice.String(),
		pos.MarkPrice.String(), pos.RealizedPnL.String(), updatedAt.UTC())
	return err
}

// GetPosition retrieves the current position for a symbol.
func (s *SQLiteStore) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol, quantity, avg_entry_price, mark_price, realized_pnl, updated_at
		FROM positions WHERE symbol = ?`, symbol)
	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return pos, nil
}

// ListPositions returns all stored positions.
func (s *SQLiteStore) ListPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, quantity, avg_entry_price, mark_price, realized_pnl, updated_at
		FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *pos)
	}
	return positions, rows.Err()
}

// DeletePosition removes the position for a symbol.
func (s *SQLiteStore) DeletePosition(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, symbol)
	return err
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var (
		p                                      domain.Position
		quantity, avgEntry, mark, realizedPnL string
	)
	err := row.Scan(&p.Symbol, &quantity, &avgEntry, &mark, &realizedPnL, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if p.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("position %s quantity: %w", p.Symbol, err)
	}
	if p.AvgEntryPrice, err = decimal.NewFromString(avgEntry); err != nil {
		return nil, fmt.Errorf("position %s avg_entry_price: %w", p.Symbol, err)
	}
	if p.MarkPrice, err = decimal.NewFromString(mark); err != nil {
		return nil, fmt.Errorf("position %s mark_price: %w", p.Symbol, err)
	}
	if p.RealizedPnL, err = decimal.NewFromString(realizedPnL); err != nil {
		return nil, fmt.Errorf("position %s realized_pnl: %w", p.Symbol, err)
	}
	return &p, nil
}
