// Package cost computes deterministic slippage and commission adjustments
// for executed fills.
package cost

import (
	"fmt"

	"github.com/shopspring/decimal"

	"ordergate/internal/config"
	"ordergate/internal/domain"
)

var bpsDivisor = decimal.NewFromInt(10000)

// Model applies a fixed-bps slippage adjustment and a commission schedule to
// fills. It holds no mutable state; Apply is safe to call concurrently.
type Model struct {
	slippageBps       decimal.Decimal
	commissionRate    decimal.Decimal
	minimumCommission decimal.Decimal
}

// New creates a Model from validated cost configuration.
func New(cfg config.CostConfig) (*Model, error) {
	if cfg.SlippageType != config.SlippageFixedBps {
		return nil, fmt.Errorf("cost: unsupported slippage type %q", cfg.SlippageType)
	}
	return &Model{
		slippageBps:       decimal.NewFromFloat(cfg.SlippageValue),
		commissionRate:    decimal.NewFromFloat(cfg.CommissionRate),
		minimumCommission: decimal.NewFromFloat(cfg.MinimumCommission),
	}, nil
}

// Apply returns the slippage-adjusted execution price and commission for
// filling the order at fillPrice. BUY orders pay the slippage, SELL orders
// receive less:
//
//	executedPrice = fillPrice × (1 ± slippageBps/10000)
//	commission    = max(minimumCommission, commissionRate × executedPrice × quantity)
func (m *Model) Apply(order *domain.Order, fillPrice decimal.Decimal) domain.AdjustedFill {
	adj := m.slippageBps.Div(bpsDivisor)
	if order.Side == domain.SideSell {
		adj = adj.Neg()
	}
	executed := fillPrice.Mul(decimal.NewFromInt(1).Add(adj))

	commission := m.commissionRate.Mul(executed).Mul(order.Quantity)
	if commission.LessThan(m.minimumCommission) {
		commission = m.minimumCommission
	}

	return domain.AdjustedFill{
		ExecutedPrice: executed,
		Commission:    commission,
	}
}
