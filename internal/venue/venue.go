// Package venue abstracts the execution side: something that can quote a
// fill price and a mark for an instrument. The simulated venue drives paper
// trading and the demo loop.
package venue

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"

	"ordergate/internal/domain"
)

// Venue quotes prices for fills and marks.
type Venue interface {
	// Name returns the venue identifier, e.g. "sim".
	Name() string

	// FillPrice returns the price at which the venue would fill the order
	// right now.
	FillPrice(ctx context.Context, order *domain.Order) (decimal.Decimal, error)

	// Mark returns the venue's current mark for a symbol.
	Mark(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Compile-time interface check.
var _ Venue = (*SimVenue)(nil)

// SimVenue quotes random-walk prices per symbol. A fixed seed makes a run
// reproducible.
type SimVenue struct {
	mu         sync.Mutex
	rng        *rand.Rand
	volatility float64
	prices     map[string]decimal.Decimal
}

// NewSimVenue creates a simulated venue with the given starting prices.
// volatility is the maximum fractional move per step, e.g. 0.001 for 10 bps.
func NewSimVenue(seed int64, volatility float64, initial map[string]decimal.Decimal) *SimVenue {
	prices := make(map[string]decimal.Decimal, len(initial))
	for sym, p := range initial {
		prices[sym] = p
	}
	return &SimVenue{
		rng:        rand.New(rand.NewSource(seed)),
		volatility: volatility,
		prices:     prices,
	}
}

// Name returns "sim".
func (v *SimVenue) Name() string { return "sim" }

// Step advances the random walk for a symbol and returns the new price.
func (v *SimVenue) Step(symbol string) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	price, ok := v.prices[symbol]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("venue: unknown symbol %s", symbol)
	}
	move := (v.rng.Float64()*2 - 1) * v.volatility
	price = price.Mul(decimal.NewFromFloat(1 + move))
	v.prices[symbol] = price
	return price, nil
}

// FillPrice quotes the current price for the order's symbol.
func (v *SimVenue) FillPrice(_ context.Context, order *domain.Order) (decimal.Decimal, error) {
	return v.current(order.Symbol)
}

// Mark quotes the current mark for a symbol.
func (v *SimVenue) Mark(_ context.Context, symbol string) (decimal.Decimal, error) {
	return v.current(symbol)
}

// Symbols returns the instruments the venue quotes.
func (v *SimVenue) Symbols() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, 0, len(v.prices))
	for sym := range v.prices {
		out = append(out, sym)
	}
	return out
}

func (v *SimVenue) current(symbol string) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	price, ok := v.prices[symbol]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("venue: unknown symbol %s", symbol)
	}
	return price, nil
}
