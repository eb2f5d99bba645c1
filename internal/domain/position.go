package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the aggregate signed position for a single instrument.
// Quantity is positive for a net long and negative for a net short.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ApplyFill folds an executed fill into the position and returns the
// realized P&L delta the fill produced (zero when the fill only opens or
// increases the position).
//
// Reducing fills realize P&L against the average entry price. A fill that
// crosses through zero realizes the entire old position and re-opens the
// remainder at the fill price. Increasing fills re-average the entry price.
func (p *Position) ApplyFill(side Side, quantity, price decimal.Decimal) decimal.Decimal {
	tradeQty := quantity.Mul(side.Sign())
	oldQty := p.Quantity
	realized := decimal.Zero

	reducing := (oldQty.IsPositive() && tradeQty.IsNegative()) ||
		(oldQty.IsNegative() && tradeQty.IsPositive())

	if reducing {
		if tradeQty.Abs().LessThanOrEqual(oldQty.Abs()) {
			// Partial or exact close.
			closeQty := tradeQty.Abs()
			if oldQty.IsPositive() {
				realized = closeQty.Mul(price.Sub(p.AvgEntryPrice))
			} else {
				realized = closeQty.Mul(p.AvgEntryPrice.Sub(price))
			}
			p.Quantity = oldQty.Add(tradeQty)
			if p.Quantity.IsZero() {
				p.AvgEntryPrice = decimal.Zero
			}
		} else {
			// Crossing zero: realize the whole old position, flip the rest.
			if oldQty.IsPositive() {
				realized = oldQty.Mul(price.Sub(p.AvgEntryPrice))
			} else {
				realized = oldQty.Abs().Mul(p.AvgEntryPrice.Sub(price))
			}
			p.Quantity = oldQty.Add(tradeQty)
			p.AvgEntryPrice = price
		}
	} else {
		// Opening or increasing: re-average the entry price.
		newQty := oldQty.Add(tradeQty)
		if !newQty.IsZero() {
			oldCost := oldQty.Abs().Mul(p.AvgEntryPrice)
			addCost := tradeQty.Abs().Mul(price)
			p.AvgEntryPrice = oldCost.Add(addCost).Div(newQty.Abs())
		}
		p.Quantity = newQty
	}

	p.RealizedPnL = p.RealizedPnL.Add(realized)
	p.MarkPrice = price
	p.UpdatedAt = time.Now()
	return realized
}

// UnrealizedPnL returns the open P&L of the position against the current
// mark price, or zero when flat or unmarked.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	if p.Quantity.IsZero() || p.MarkPrice.IsZero() {
		return decimal.Zero
	}
	if p.Quantity.IsPositive() {
		return p.Quantity.Mul(p.MarkPrice.Sub(p.AvgEntryPrice))
	}
	return p.Quantity.Abs().Mul(p.AvgEntryPrice.Sub(p.MarkPrice))
}

// MarketValue returns quantity × mark price (signed).
func (p *Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.MarkPrice)
}
