// Package engine is the admission controller: it runs every inbound order
// through rate limiting and the layered risk checks, owns the lifecycle
// machine, and settles executions through the cost model into the position
// book.
package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ordergate/internal/cost"
	"ordergate/internal/domain"
	"ordergate/internal/lifecycle"
	"ordergate/internal/metrics"
	"ordergate/internal/ratelimit"
	"ordergate/internal/risk"
)

// reasoner is implemented by every admission rejection error.
type reasoner interface {
	Reason() string
}

// reasonOf maps an error to its metrics label, "internal" when the error
// carries no reason.
func reasonOf(err error) string {
	var re reasoner
	if errors.As(err, &re) {
		return re.Reason()
	}
	return "internal"
}

// Engine wires the admission layers together. All methods are safe for
// concurrent use.
type Engine struct {
	log      *slog.Logger
	limiter  *ratelimit.Limiter
	registry *risk.Registry
	costs    *cost.Model
	machine  *lifecycle.Machine
	metrics  *metrics.Set
}

// New creates an Engine from its wired dependencies.
func New(
	log *slog.Logger,
	limiter *ratelimit.Limiter,
	registry *risk.Registry,
	costs *cost.Model,
	machine *lifecycle.Machine,
	m *metrics.Set,
) *Engine {
	return &Engine{
		log:      log,
		limiter:  limiter,
		registry: registry,
		costs:    costs,
		machine:  machine,
		metrics:  m,
	}
}

// Lifecycle exposes the underlying machine so callers can register
// transition listeners before traffic starts.
func (e *Engine) Lifecycle() *lifecycle.Machine { return e.machine }

// SubmitOrder runs the full admission pipeline: structural validation, the
// per-exchange order rate limit, then the risk layers. An admitted order
// enters the lifecycle as PENDING with its quantity and notional reserved
// against the limits. The rejection error identifies the layer that failed.
func (e *Engine) SubmitOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if err := order.Validate(); err != nil {
		e.metrics.OrderRejected("invalid_order")
		return nil, err
	}
	if order.ID == "" {
		order.ID = uuid.NewString()
	}

	if err := e.limiter.TryAcquire(order.Exchange, ratelimit.KindOrder); err != nil {
		e.metrics.OrderRejected(reasonOf(err))
		e.log.Warn("order throttled", "order_id", order.ID, "exchange", order.Exchange, "error", err)
		return nil, err
	}

	if err := e.registry.Check(order); err != nil {
		e.metrics.OrderRejected(reasonOf(err))
		return nil, err
	}

	if err := e.machine.Submit(order); err != nil {
		// The reservation must not outlive a failed registration.
		if relErr := e.registry.Release(order.ID); relErr != nil {
			e.log.Error("release after failed submit", "order_id", order.ID, "error", relErr)
		}
		e.metrics.OrderRejected(reasonOf(err))
		return nil, err
	}

	e.metrics.OrderAdmitted()
	e.log.Info("order admitted",
		"order_id", order.ID, "symbol", order.Symbol, "side", order.Side,
		"price", order.Price, "quantity", order.Quantity, "strategy_id", order.StrategyID)
	return order, nil
}

// ExecuteOrder fills a PENDING order at fillPrice. The cost model adjusts
// the price for slippage and computes the commission; the lifecycle moves to
// EXECUTED and the reservation settles into the position book.
func (e *Engine) ExecuteOrder(ctx context.Context, orderID string, fillPrice decimal.Decimal) (domain.Order, error) {
	order, ok := e.machine.Get(orderID)
	if !ok {
		return domain.Order{}, &lifecycle.NotFoundError{OrderID: orderID}
	}
	if !fillPrice.IsPositive() {
		return domain.Order{}, errors.New("engine: fill price must be > 0")
	}

	fill := e.costs.Apply(&order, fillPrice)

	executed, err := e.machine.Execute(orderID, fill)
	if err != nil {
		return executed, err
	}

	pos, err := e.registry.Commit(orderID, fill)
	if err != nil {
		// The lifecycle committed but the book did not; surface loudly,
		// operators reconcile from the audit trail.
		e.log.Error("position commit failed after execute", "order_id", orderID, "error", err)
		return executed, err
	}

	e.observePortfolio()
	e.log.Info("order executed",
		"order_id", orderID, "symbol", executed.Symbol,
		"executed_price", executed.ExecutedPrice, "commission", executed.Commission,
		"position", pos.Quantity)
	return executed, nil
}

// CancelOrder cancels a PENDING order and releases its reservation.
func (e *Engine) CancelOrder(ctx context.Context, orderID, reason string) (domain.Order, error) {
	canceled, err := e.machine.Cancel(orderID, reason)
	if err != nil {
		return canceled, err
	}

	if relErr := e.registry.Release(orderID); relErr != nil {
		e.log.Error("release after cancel", "order_id", orderID, "error", relErr)
	}

	e.log.Info("order canceled", "order_id", orderID, "reason", reason)
	return canceled, nil
}

// GetOrder returns a snapshot of the order with the given ID.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	order, ok := e.machine.Get(orderID)
	if !ok {
		return domain.Order{}, &lifecycle.NotFoundError{OrderID: orderID}
	}
	return order, nil
}

// ListOrders returns all orders in the given status; empty status means all.
func (e *Engine) ListOrders(ctx context.Context, status domain.OrderStatus) []domain.Order {
	return e.machine.List(status)
}

// Positions returns every non-empty position in the book.
func (e *Engine) Positions(ctx context.Context) []domain.Position {
	return e.registry.Positions()
}

// Position returns the position for one symbol.
func (e *Engine) Position(ctx context.Context, symbol string) (domain.Position, bool) {
	return e.registry.Position(symbol)
}

// RiskSummary returns the portfolio-wide risk snapshot.
func (e *Engine) RiskSummary(ctx context.Context) risk.Summary {
	return e.registry.Summary()
}

// UpdateMark feeds a mark price into the risk book and refreshes the
// portfolio gauges.
func (e *Engine) UpdateMark(symbol string, price decimal.Decimal) {
	e.registry.UpdateMark(symbol, price)
	e.observePortfolio()
}

// RecordPnL folds an externally settled P&L amount (funding, fees, manual
// adjustments) into the risk book and refreshes the portfolio gauges.
func (e *Engine) RecordPnL(amount decimal.Decimal) {
	e.registry.RecordPnL(amount)
	e.observePortfolio()
	e.log.Info("pnl adjustment recorded", "amount", amount)
}

// StrategyExposure returns the committed plus reserved notional for a
// strategy.
func (e *Engine) StrategyExposure(strategyID string) decimal.Decimal {
	return e.registry.StrategyExposure(strategyID)
}

// AcquireQuery draws from the per-exchange query bucket. Callers proxying
// read traffic to an exchange gate on this before issuing the request.
func (e *Engine) AcquireQuery(exchange string) error {
	return e.limiter.TryAcquire(exchange, ratelimit.KindQuery)
}

func (e *Engine) observePortfolio() {
	s := e.registry.Summary()
	e.metrics.ObservePortfolio(
		s.PortfolioValue.InexactFloat64(),
		s.DrawdownPct.InexactFloat64(),
		s.DailyRealized.InexactFloat64(),
	)
}
