package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordergate/internal/config"
	"ordergate/internal/domain"
)

func newTestRegistry(t *testing.T, cfg config.RiskConfig) (*Registry, *time.Time) {
	t.Helper()
	if cfg.DayBoundaryTZ == "" {
		cfg.DayBoundaryTZ = "UTC"
	}
	if cfg.DrawdownWindowDays == 0 {
		cfg.DrawdownWindowDays = 1
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := NewRegistry(cfg, log)
	require.NoError(t, err)

	now := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	r.SetNow(func() time.Time { return now })
	return r, &now
}

func ord(id, symbol string, side domain.Side, price, qty float64) *domain.Order {
	return &domain.Order{
		ID:       id,
		Symbol:   symbol,
		Side:     side,
		Price:    decimal.NewFromFloat(price),
		Quantity: decimal.NewFromFloat(qty),
		Status:   domain.StatusPending,
	}
}

func commit(t *testing.T, r *Registry, o *domain.Order, fillPrice float64) domain.Position {
	t.Helper()
	require.NoError(t, r.Check(o))
	pos, err := r.Commit(o.ID, domain.AdjustedFill{
		ExecutedPrice: decimal.NewFromFloat(fillPrice),
	})
	require.NoError(t, err)
	return pos
}

func TestPositionLimit(t *testing.T) {
	r, _ := newTestRegistry(t, config.RiskConfig{
		PositionLimits: map[string]float64{"BTC-USD": 10},
	})

	commit(t, r, ord("o1", "BTC-USD", domain.SideBuy, 100, 8), 100)

	// 8 + 3 > 10: rejected with the limit and observed values.
	err := r.Check(ord("o2", "BTC-USD", domain.SideBuy, 100, 3))
	var posErr *PositionLimitError
	require.ErrorAs(t, err, &posErr)
	assert.True(t, posErr.Limit.Equal(decimal.NewFromInt(10)))
	assert.True(t, posErr.Current.Equal(decimal.NewFromInt(8)))

	// 8 + 2 = 10 is still within the cap.
	require.NoError(t, r.Check(ord("o3", "BTC-USD", domain.SideBuy, 100, 2)))

	// A SELL reduces the projection and is admitted even at the cap.
	require.NoError(t, r.Check(ord("o4", "BTC-USD", domain.SideSell, 100, 5)))
}

func TestMaxOrderQuantity(t *testing.T) {
	r, _ := newTestRegistry(t, config.RiskConfig{
		MaxOrderQuantity:        map[string]float64{"BTC-USD": 5},
		DefaultMaxOrderQuantity: 100,
	})

	var qtyErr *MaxOrderQuantityError
	require.ErrorAs(t, r.Check(ord("o1", "BTC-USD", domain.SideBuy, 100, 6)), &qtyErr)
	assert.True(t, qtyErr.Limit.Equal(decimal.NewFromInt(5)))

	// Symbols without an entry fall back to the default ceiling.
	require.NoError(t, r.Check(ord("o2", "ETH-USD", domain.SideBuy, 100, 99)))
	require.ErrorAs(t, r.Check(ord("o3", "ETH-USD", domain.SideBuy, 100, 101)), &qtyErr)
}

func TestReservationPreventsDoubleAdmit(t *testing.T) {
	r, _ := newTestRegistry(t, config.RiskConfig{
		PositionLimits: map[string]float64{"BTC-USD": 10},
	})

	// Two pending orders of 6 cannot both be admitted against a cap of 10,
	// even though neither has settled yet.
	require.NoError(t, r.Check(ord("o1", "BTC-USD", domain.SideBuy, 100, 6)))

	var posErr *PositionLimitError
	require.ErrorAs(t, r.Check(ord("o2", "BTC-USD", domain.SideBuy, 100, 6)), &posErr)
}

func TestReleaseRestoresHeadroom(t *testing.T) {
	r, _ := newTestRegistry(t, config.RiskConfig{
		PositionLimits: map[string]float64{"BTC-USD": 10},
	})

	require.NoError(t, r.Check(ord("o1", "BTC-USD", domain.SideBuy, 100, 6)))
	require.Error(t, r.Check(ord("o2", "BTC-USD", domain.SideBuy, 100, 6)))

	require.NoError(t, r.Release("o1"))
	require.NoError(t, r.Check(ord("o2", "BTC-USD", domain.SideBuy, 100, 6)))
}

func TestRejectionLeavesNoReservation(t *testing.T) {
	r, _ := newTestRegistry(t, config.RiskConfig{
		PositionLimits: map[string]float64{"BTC-USD": 10},
	})

	require.Error(t, r.Check(ord("o1", "BTC-USD", domain.SideBuy, 100, 11)))
	require.Error(t, r.Release("o1"), "rejected order must not hold a reservation")

	// Headroom is fully intact after the rejection.
	require.NoError(t, r.Check(ord("o2", "BTC-USD", domain.SideBuy, 100, 10)))
}

func TestCommitUpdatesPosition(t *testing.T) {
	r, _ := newTestRegistry(t, config.RiskConfig{})

	pos := commit(t, r, ord("o1", "BTC-USD", domain.SideBuy, 100, 2), 100)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(2)))
	assert.True(t, pos.AvgEntryPrice.Equal(decimal.NewFromInt(100)))

	// Selling 1 at 110 realizes 10.
	pos = commit(t, r, ord("o2", "BTC-USD", domain.SideSell, 110, 1), 110)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(1)))
	assert.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(10)))

	sum := r.Summary()
	assert.True(t, sum.DailyRealized.Equal(decimal.NewFromInt(10)))
}

func TestCommitWithoutReservation(t *testing.T) {
	r, _ := newTestRegistry(t, config.RiskConfig{})
	_, err := r.Commit("missing", domain.AdjustedFill{ExecutedPrice: decimal.NewFromInt(100)})
	require.Error(t, err)
}

func TestCheckOrderShortCircuits(t *testing.T) {
	r, _ := newTestRegistry(t, config.RiskConfig{
		MaxOrderQuantity: map[string]float64{"BTC-USD": 5},
		PositionLimits:   map[string]float64{"BTC-USD": 3},
	})

	// The order violates both the quantity ceiling and the position cap;
	// the quantity layer runs first and wins.
	err := r.Check(ord("o1", "BTC-USD", domain.SideBuy, 100, 6))
	var qtyErr *MaxOrderQuantityError
	require.ErrorAs(t, err, &qtyErr)
}

func TestPortfolioConcentration(t *testing.T) {
	r, _ := newTestRegistry(t, config.RiskConfig{
		MaxPositionValuePct: 50,
	})

	// Establish 100 of BTC value so the concentration check engages.
	commit(t, r, ord("o1", "BTC-USD", domain.SideBuy, 100, 1), 100)

	// 300 of ETH against 100 of BTC would be 75% of the portfolio.
	err := r.Check(ord("o2", "ETH-USD", domain.SideBuy, 10, 30))
	var valErr *PortfolioValueLimitError
	require.ErrorAs(t, err, &valErr)
	assert.True(t, valErr.ObservedPct.Equal(decimal.NewFromInt(75)), "pct = %s", valErr.ObservedPct)

	// 50 of ETH is a third of the projected portfolio.
	require.NoError(t, r.Check(ord("o3", "ETH-USD", domain.SideBuy, 10, 5)))
}

func TestConcentrationSkippedForFirstPosition(t *testing.T) {
	r, _ := newTestRegistry(t, config.RiskConfig{
		MaxPositionValuePct: 25,
	})

	// The very first position is by definition 100% of the portfolio; the
	// check must not deadlock an empty book.
	require.NoError(t, r.Check(ord("o1", "BTC-USD", domain.SideBuy, 100, 1)))
}

func TestDailyLossCircuitBreaker(t *testing.T) {
	r, now := newTestRegistry(t, config.RiskConfig{
		MaxDailyLoss: 100,
	})

	// Buy 2 at 200, sell 2 at 125: realized -150 breaches the 100 limit.
	commit(t, r, ord("o1", "BTC-USD", domain.SideBuy, 200, 2), 200)
	commit(t, r, ord("o2", "BTC-USD", domain.SideSell, 125, 2), 125)

	err := r.Check(ord("o3", "ETH-USD", domain.SideBuy, 10, 1))
	var dlErr *DailyLossError
	require.ErrorAs(t, err, &dlErr)
	assert.True(t, dlErr.Observed.Equal(decimal.NewFromInt(150)))

	// The breaker clears at the next day boundary.
	*now = now.Add(15 * time.Hour)
	require.NoError(t, r.Check(ord("o4", "ETH-USD", domain.SideBuy, 10, 1)))
}

func TestDrawdownCircuitBreaker(t *testing.T) {
	r, now := newTestRegistry(t, config.RiskConfig{
		MaxDrawdownPct: 10,
	})

	commit(t, r, ord("o1", "BTC-USD", domain.SideBuy, 100, 1), 100)

	// Mark to 200: portfolio value 100. The next admitted check records it
	// as the peak.
	r.UpdateMark("BTC-USD", decimal.NewFromInt(200))
	require.NoError(t, r.Check(ord("o2", "ETH-USD", domain.SideBuy, 10, 1)))
	require.NoError(t, r.Release("o2"))

	// Mark back to 150: value 50, a 50% drawdown from the peak. Every new
	// order is rejected, regardless of instrument.
	r.UpdateMark("BTC-USD", decimal.NewFromInt(150))
	var ddErr *DrawdownError
	require.ErrorAs(t, r.Check(ord("o3", "ETH-USD", domain.SideBuy, 10, 1)), &ddErr)
	assert.True(t, ddErr.ObservedPct.Equal(decimal.NewFromInt(50)), "dd = %s", ddErr.ObservedPct)
	require.ErrorAs(t, r.Check(ord("o4", "BTC-USD", domain.SideSell, 150, 1)), &ddErr)

	// Rolling past the window re-anchors the peak at the current value.
	*now = now.Add(25 * time.Hour)
	require.NoError(t, r.Check(ord("o5", "ETH-USD", domain.SideBuy, 10, 1)))
}

func TestStrategyExposureLimit(t *testing.T) {
	r, _ := newTestRegistry(t, config.RiskConfig{
		StrategyExposureLimits: map[string]float64{"alpha": 1000},
	})

	o1 := ord("o1", "BTC-USD", domain.SideBuy, 100, 6)
	o1.StrategyID = "alpha"
	require.NoError(t, r.Check(o1))

	// 600 reserved + 600 requested exceeds the 1000 cap.
	o2 := ord("o2", "ETH-USD", domain.SideBuy, 100, 6)
	o2.StrategyID = "alpha"
	var expErr *StrategyExposureError
	require.ErrorAs(t, r.Check(o2), &expErr)
	assert.Equal(t, "alpha", expErr.StrategyID)

	// A different strategy is unaffected.
	o3 := ord("o3", "ETH-USD", domain.SideBuy, 100, 6)
	o3.StrategyID = "beta"
	require.NoError(t, r.Check(o3))

	// Releasing the first reservation restores alpha's headroom.
	require.NoError(t, r.Release("o1"))
	require.NoError(t, r.Check(o2))
}

func TestRecordPnLCountsTowardDailyLoss(t *testing.T) {
	r, _ := newTestRegistry(t, config.RiskConfig{
		MaxDailyLoss: 100,
	})

	// External adjustments feed the same accumulator as fills.
	r.RecordPnL(decimal.NewFromInt(-150))

	err := r.Check(ord("o1", "BTC-USD", domain.SideBuy, 100, 1))
	var dlErr *DailyLossError
	require.ErrorAs(t, err, &dlErr)
	assert.True(t, dlErr.Observed.Equal(decimal.NewFromInt(150)))

	sum := r.Summary()
	assert.True(t, sum.DailyRealized.Equal(decimal.NewFromInt(-150)))
}

func TestStrategyExposureAccounting(t *testing.T) {
	r, _ := newTestRegistry(t, config.RiskConfig{
		StrategyExposureLimits: map[string]float64{"alpha": 10000},
	})

	o1 := ord("o1", "BTC-USD", domain.SideBuy, 100, 6)
	o1.StrategyID = "alpha"
	require.NoError(t, r.Check(o1))
	assert.True(t, r.StrategyExposure("alpha").Equal(decimal.NewFromInt(600)),
		"reserved notional counts toward exposure")

	// Committing at 110 converts the reservation into 660 of committed
	// exposure.
	_, err := r.Commit("o1", domain.AdjustedFill{ExecutedPrice: decimal.NewFromInt(110)})
	require.NoError(t, err)
	assert.True(t, r.StrategyExposure("alpha").Equal(decimal.NewFromInt(660)))

	// A released order leaves no trace.
	o2 := ord("o2", "ETH-USD", domain.SideBuy, 100, 1)
	o2.StrategyID = "alpha"
	require.NoError(t, r.Check(o2))
	require.NoError(t, r.Release("o2"))
	assert.True(t, r.StrategyExposure("alpha").Equal(decimal.NewFromInt(660)))

	assert.True(t, r.StrategyExposure("unknown").IsZero())
}

func TestViolationCounters(t *testing.T) {
	r, _ := newTestRegistry(t, config.RiskConfig{
		PositionLimits: map[string]float64{"BTC-USD": 1},
	})

	require.Error(t, r.Check(ord("o1", "BTC-USD", domain.SideBuy, 100, 2)))
	require.Error(t, r.Check(ord("o2", "BTC-USD", domain.SideBuy, 100, 3)))

	v := r.Violations()
	assert.Equal(t, int64(2), v["position_limit"])
}
