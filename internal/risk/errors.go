package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Each rejection error identifies the limit that failed together with its
// threshold and the observed values, so callers can log and assert on the
// exact reason. All implement Reason() for metrics labels.

// MaxOrderQuantityError rejects an order larger than the per-instrument
// (or default) quantity ceiling.
type MaxOrderQuantityError struct {
	Symbol    string
	Limit     decimal.Decimal
	Requested decimal.Decimal
}

func (e *MaxOrderQuantityError) Error() string {
	return fmt.Sprintf("order quantity %s exceeds maximum %s for %s",
		e.Requested, e.Limit, e.Symbol)
}

func (e *MaxOrderQuantityError) Reason() string { return "max_order_quantity" }

// PositionLimitError rejects an order that would push the absolute position
// past the configured cap.
type PositionLimitError struct {
	Symbol    string
	Limit     decimal.Decimal
	Current   decimal.Decimal
	Requested decimal.Decimal
}

func (e *PositionLimitError) Error() string {
	return fmt.Sprintf("order for %s of %s would exceed position limit %s (current position %s)",
		e.Symbol, e.Requested, e.Limit, e.Current)
}

func (e *PositionLimitError) Reason() string { return "position_limit" }

// PortfolioValueLimitError rejects an order that would concentrate too much
// of the portfolio's mark-to-market value in a single instrument.
type PortfolioValueLimitError struct {
	Symbol      string
	LimitPct    decimal.Decimal
	ObservedPct decimal.Decimal
}

func (e *PortfolioValueLimitError) Error() string {
	return fmt.Sprintf("position in %s would be %s%% of portfolio value, limit is %s%%",
		e.Symbol, e.ObservedPct.StringFixed(2), e.LimitPct)
}

func (e *PortfolioValueLimitError) Reason() string { return "portfolio_value_pct" }

// DrawdownError rejects all new orders while the portfolio drawdown exceeds
// its cap within the rolling window (circuit-breaker behaviour).
type DrawdownError struct {
	LimitPct    decimal.Decimal
	ObservedPct decimal.Decimal
}

func (e *DrawdownError) Error() string {
	return fmt.Sprintf("current drawdown %s%% exceeds limit %s%%; all new orders rejected",
		e.ObservedPct.StringFixed(2), e.LimitPct)
}

func (e *DrawdownError) Reason() string { return "drawdown" }

// DailyLossError rejects all new orders once the day's realized loss has
// breached max_daily_loss. Resets at the configured day boundary.
type DailyLossError struct {
	Limit    decimal.Decimal
	Observed decimal.Decimal
}

func (e *DailyLossError) Error() string {
	return fmt.Sprintf("daily realized loss %s has breached limit %s; all new orders rejected",
		e.Observed, e.Limit)
}

func (e *DailyLossError) Reason() string { return "daily_loss" }

// StrategyExposureError rejects an order that would push a strategy's
// notional exposure past its cap.
type StrategyExposureError struct {
	StrategyID string
	Limit      decimal.Decimal
	Current    decimal.Decimal
	Requested  decimal.Decimal
}

func (e *StrategyExposureError) Error() string {
	return fmt.Sprintf("order notional %s would exceed exposure limit %s for strategy %s (current exposure %s)",
		e.Requested, e.Limit, e.StrategyID, e.Current)
}

func (e *StrategyExposureError) Reason() string { return "strategy_exposure" }
