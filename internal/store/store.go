// Package store persists the admission controller's durable state: order
// records and positions in SQLite, and an append-only fill audit log in
// Parquet.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ordergate/internal/domain"
	"ordergate/internal/util"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// OrderStore persists and retrieves order records.
type OrderStore interface {
	// SaveOrder inserts a new order.
	SaveOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves a single order by its ID.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// ListOrders returns orders in the given status, or all orders when
	// status is empty, ordered by creation time.
	ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)

	// UpdateOrder persists changes to an existing order.
	UpdateOrder(ctx context.Context, order *domain.Order) error
}

// PositionStore persists and retrieves position records.
type PositionStore interface {
	// SavePosition inserts or updates the position for a symbol.
	SavePosition(ctx context.Context, pos *domain.Position) error

	// GetPosition retrieves the current position for a symbol.
	GetPosition(ctx context.Context, symbol string) (*domain.Position, error)

	// ListPositions returns all stored positions.
	ListPositions(ctx context.Context) ([]domain.Position, error)

	// DeletePosition removes the position for a symbol.
	DeletePosition(ctx context.Context, symbol string) error
}

// ---------------------------------------------------------------------------
// Lifecycle wiring
// ---------------------------------------------------------------------------

const (
	persistAttempts = 3
	persistBackoff  = 50 * time.Millisecond
)

// TransitionSink persists lifecycle transitions: the PENDING transition
// inserts the order, terminal transitions update it, and EXECUTED
// additionally lands in the fill audit log. Writes retry with backoff; a
// write that still fails is reported to the caller, which logs it without
// rolling the transition back.
type TransitionSink struct {
	log    *slog.Logger
	orders OrderStore
	fills  *FillLog
}

// NewTransitionSink creates a sink over the given order store. fills may be
// nil to disable the audit log.
func NewTransitionSink(log *slog.Logger, orders OrderStore, fills *FillLog) *TransitionSink {
	return &TransitionSink{log: log, orders: orders, fills: fills}
}

// OnTransition implements lifecycle.Listener.
func (s *TransitionSink) OnTransition(order domain.Order, from, to domain.OrderStatus) error {
	ctx := context.Background()

	var err error
	if to == domain.StatusPending {
		err = util.Retry(ctx, persistAttempts, persistBackoff, func() error {
			return s.orders.SaveOrder(ctx, &order)
		})
	} else {
		err = util.Retry(ctx, persistAttempts, persistBackoff, func() error {
			return s.orders.UpdateOrder(ctx, &order)
		})
	}
	if err != nil {
		return fmt.Errorf("persist order %s (%s): %w", order.ID, to, err)
	}

	if to == domain.StatusExecuted && s.fills != nil {
		if err := s.fills.Append(order); err != nil {
			return fmt.Errorf("append fill %s: %w", order.ID, err)
		}
	}
	return nil
}

// PositionRecorder persists position snapshots with retry. It is wired into
// the risk book's position hook so every settled fill lands in storage.
type PositionRecorder struct {
	log       *slog.Logger
	positions PositionStore
}

// NewPositionRecorder creates a recorder over the given position store.
func NewPositionRecorder(log *slog.Logger, positions PositionStore) *PositionRecorder {
	return &PositionRecorder{log: log, positions: positions}
}

// Record persists the position, logging on failure rather than blocking the
// settlement path.
func (r *PositionRecorder) Record(pos domain.Position) {
	ctx := context.Background()
	err := util.Retry(ctx, persistAttempts, persistBackoff, func() error {
		return r.positions.SavePosition(ctx, &pos)
	})
	if err != nil {
		r.log.Error("persist position", "symbol", pos.Symbol, "error", err)
	}
}
