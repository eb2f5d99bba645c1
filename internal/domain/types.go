// Package domain defines the core types shared across the ordergate
// platform: orders, fills, positions, and their closed enumerations.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is a member of the closed Side enumeration.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Sign returns +1 for BUY and -1 for SELL.
func (s Side) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// OrderStatus is the lifecycle state of an order.
//
// PENDING is the only non-terminal state; EXECUTED and CANCELED orders are
// retained for audit and never re-enter PENDING.
type OrderStatus string

const (
	StatusPending  OrderStatus = "PENDING"
	StatusExecuted OrderStatus = "EXECUTED"
	StatusCanceled OrderStatus = "CANCELED"
)

// Valid reports whether st is a member of the closed OrderStatus enumeration.
func (st OrderStatus) Valid() bool {
	return st == StatusPending || st == StatusExecuted || st == StatusCanceled
}

// Terminal reports whether st is a terminal lifecycle state.
func (st OrderStatus) Terminal() bool {
	return st == StatusExecuted || st == StatusCanceled
}

// Order is the persisted order record. Price and Quantity are exact
// decimals; ExecutedPrice and Commission are zero until the order reaches
// EXECUTED.
type Order struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	Status        OrderStatus     `json:"status"`
	StrategyID    string          `json:"strategy_id,omitempty"`
	Exchange      string          `json:"exchange,omitempty"`
	ExecutedPrice decimal.Decimal `json:"executed_price"`
	Commission    decimal.Decimal `json:"commission"`
	CancelReason  string          `json:"cancel_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Notional returns price × quantity, the monetary value of the order.
func (o *Order) Notional() decimal.Decimal {
	return o.Price.Mul(o.Quantity)
}

// SignedQuantity returns the position delta the order represents:
// +quantity for BUY, -quantity for SELL.
func (o *Order) SignedQuantity() decimal.Decimal {
	return o.Quantity.Mul(o.Side.Sign())
}

// Validate checks the structural invariants of a candidate order: a known
// side, a positive price, and a positive quantity.
func (o *Order) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("order: empty symbol")
	}
	if !o.Side.Valid() {
		return fmt.Errorf("order: invalid side %q", o.Side)
	}
	if !o.Price.IsPositive() {
		return fmt.Errorf("order: price must be > 0, got %s", o.Price)
	}
	if !o.Quantity.IsPositive() {
		return fmt.Errorf("order: quantity must be > 0, got %s", o.Quantity)
	}
	return nil
}

// AdjustedFill is the result of applying the cost model to an execution:
// the slippage-adjusted price and the commission charged.
type AdjustedFill struct {
	ExecutedPrice decimal.Decimal `json:"executed_price"`
	Commission    decimal.Decimal `json:"commission"`
}
