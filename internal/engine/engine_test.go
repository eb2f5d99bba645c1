package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordergate/internal/config"
	"ordergate/internal/cost"
	"ordergate/internal/domain"
	"ordergate/internal/lifecycle"
	"ordergate/internal/metrics"
	"ordergate/internal/ratelimit"
	"ordergate/internal/risk"
)

type fixture struct {
	engine  *Engine
	limiter *ratelimit.Limiter
}

func newFixture(t *testing.T, exchanges map[string]config.ExchangeLimits, riskCfg config.RiskConfig) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	if riskCfg.DayBoundaryTZ == "" {
		riskCfg.DayBoundaryTZ = "UTC"
	}
	if riskCfg.DrawdownWindowDays == 0 {
		riskCfg.DrawdownWindowDays = 1
	}
	registry, err := risk.NewRegistry(riskCfg, log)
	require.NoError(t, err)

	costs, err := cost.New(config.CostConfig{
		SlippageType:      config.SlippageFixedBps,
		SlippageValue:     5.0,
		CommissionRate:    0.001,
		MinimumCommission: 1.0,
	})
	require.NoError(t, err)

	limiter := ratelimit.New(exchanges)
	machine := lifecycle.NewMachine(log)
	set := metrics.NewSet(prometheus.NewRegistry())
	machine.AddListener(set)

	return &fixture{
		engine:  New(log, limiter, registry, costs, machine, set),
		limiter: limiter,
	}
}

func order(symbol string, side domain.Side, price, qty float64) *domain.Order {
	return &domain.Order{
		Symbol:   symbol,
		Side:     side,
		Price:    decimal.NewFromFloat(price),
		Quantity: decimal.NewFromFloat(qty),
		Exchange: "sim",
	}
}

func TestSubmitExecuteFlow(t *testing.T) {
	f := newFixture(t,
		map[string]config.ExchangeLimits{"sim": {OrdersPerSecond: 100, QueriesPerMinute: 600}},
		config.RiskConfig{PositionLimits: map[string]float64{"BTC-USD": 10}})
	ctx := context.Background()

	submitted, err := f.engine.SubmitOrder(ctx, order("BTC-USD", domain.SideBuy, 100, 1))
	require.NoError(t, err)
	assert.NotEmpty(t, submitted.ID, "engine assigns an ID")
	assert.Equal(t, domain.StatusPending, submitted.Status)

	executed, err := f.engine.ExecuteOrder(ctx, submitted.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExecuted, executed.Status)
	// 5 bps on a BUY: 100 × 1.0005.
	assert.True(t, executed.ExecutedPrice.Equal(decimal.NewFromFloat(100.05)),
		"executed price = %s", executed.ExecutedPrice)
	assert.True(t, executed.Commission.Equal(decimal.NewFromInt(1)))

	pos, ok := f.engine.Position(ctx, "BTC-USD")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(1)))
	assert.True(t, pos.AvgEntryPrice.Equal(decimal.NewFromFloat(100.05)))
}

func TestSubmitRateLimited(t *testing.T) {
	f := newFixture(t,
		map[string]config.ExchangeLimits{"sim": {OrdersPerSecond: 1, QueriesPerMinute: 600}},
		config.RiskConfig{})
	ctx := context.Background()

	now := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	f.limiter.SetNow(func() time.Time { return now })

	_, err := f.engine.SubmitOrder(ctx, order("BTC-USD", domain.SideBuy, 100, 1))
	require.NoError(t, err)

	_, err = f.engine.SubmitOrder(ctx, order("BTC-USD", domain.SideBuy, 100, 1))
	var rlErr *ratelimit.Error
	require.ErrorAs(t, err, &rlErr)
	assert.Greater(t, rlErr.RetryAfter, time.Duration(0))
}

func TestSubmitRiskRejected(t *testing.T) {
	f := newFixture(t,
		map[string]config.ExchangeLimits{"sim": {OrdersPerSecond: 100, QueriesPerMinute: 600}},
		config.RiskConfig{PositionLimits: map[string]float64{"BTC-USD": 5}})
	ctx := context.Background()

	o := order("BTC-USD", domain.SideBuy, 100, 6)
	_, err := f.engine.SubmitOrder(ctx, o)
	var posErr *risk.PositionLimitError
	require.ErrorAs(t, err, &posErr)

	// A rejected order never enters the lifecycle.
	_, err = f.engine.GetOrder(ctx, o.ID)
	var nfErr *lifecycle.NotFoundError
	require.ErrorAs(t, err, &nfErr)
}

func TestCancelReleasesReservation(t *testing.T) {
	f := newFixture(t,
		map[string]config.ExchangeLimits{"sim": {OrdersPerSecond: 100, QueriesPerMinute: 600}},
		config.RiskConfig{PositionLimits: map[string]float64{"BTC-USD": 1}})
	ctx := context.Background()

	first, err := f.engine.SubmitOrder(ctx, order("BTC-USD", domain.SideBuy, 100, 1))
	require.NoError(t, err)

	// The cap is fully reserved.
	_, err = f.engine.SubmitOrder(ctx, order("BTC-USD", domain.SideBuy, 100, 1))
	require.Error(t, err)

	canceled, err := f.engine.CancelOrder(ctx, first.ID, "user requested")
	require.NoError(t, err)
	assert.Equal(t, "user requested", canceled.CancelReason)

	// Headroom is back.
	_, err = f.engine.SubmitOrder(ctx, order("BTC-USD", domain.SideBuy, 100, 1))
	require.NoError(t, err)
}

func TestExecuteThenCancelRejected(t *testing.T) {
	f := newFixture(t,
		map[string]config.ExchangeLimits{"sim": {OrdersPerSecond: 100, QueriesPerMinute: 600}},
		config.RiskConfig{})
	ctx := context.Background()

	o, err := f.engine.SubmitOrder(ctx, order("BTC-USD", domain.SideBuy, 100, 1))
	require.NoError(t, err)
	_, err = f.engine.ExecuteOrder(ctx, o.ID, decimal.NewFromInt(100))
	require.NoError(t, err)

	var invErr *lifecycle.InvalidTransitionError
	_, err = f.engine.CancelOrder(ctx, o.ID, "too late")
	require.ErrorAs(t, err, &invErr)

	_, err = f.engine.ExecuteOrder(ctx, o.ID, decimal.NewFromInt(100))
	require.ErrorAs(t, err, &invErr)
}

func TestCancelThenExecuteRejected(t *testing.T) {
	f := newFixture(t,
		map[string]config.ExchangeLimits{"sim": {OrdersPerSecond: 100, QueriesPerMinute: 600}},
		config.RiskConfig{})
	ctx := context.Background()

	o, err := f.engine.SubmitOrder(ctx, order("BTC-USD", domain.SideBuy, 100, 1))
	require.NoError(t, err)
	_, err = f.engine.CancelOrder(ctx, o.ID, "cleanup")
	require.NoError(t, err)

	var invErr *lifecycle.InvalidTransitionError
	_, err = f.engine.ExecuteOrder(ctx, o.ID, decimal.NewFromInt(100))
	require.ErrorAs(t, err, &invErr)

	// The canceled order's quantity no longer counts against the book.
	pos, ok := f.engine.Position(context.Background(), "BTC-USD")
	if ok {
		assert.True(t, pos.Quantity.IsZero())
	}
}

func TestSubmitInvalidOrder(t *testing.T) {
	f := newFixture(t,
		map[string]config.ExchangeLimits{"sim": {OrdersPerSecond: 100, QueriesPerMinute: 600}},
		config.RiskConfig{})

	_, err := f.engine.SubmitOrder(context.Background(), &domain.Order{
		Symbol: "BTC-USD",
		Side:   "HOLD",
	})
	require.Error(t, err)
}

func TestExecuteUnknownOrder(t *testing.T) {
	f := newFixture(t,
		map[string]config.ExchangeLimits{"sim": {OrdersPerSecond: 100, QueriesPerMinute: 600}},
		config.RiskConfig{})

	var nfErr *lifecycle.NotFoundError
	_, err := f.engine.ExecuteOrder(context.Background(), "missing", decimal.NewFromInt(100))
	require.ErrorAs(t, err, &nfErr)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t,
		map[string]config.ExchangeLimits{"sim": {OrdersPerSecond: 100, QueriesPerMinute: 600}},
		config.RiskConfig{})
	ctx := context.Background()

	a, err := f.engine.SubmitOrder(ctx, order("BTC-USD", domain.SideBuy, 100, 1))
	require.NoError(t, err)
	b, err := f.engine.SubmitOrder(ctx, order("ETH-USD", domain.SideSell, 10, 2))
	require.NoError(t, err)

	_, err = f.engine.ExecuteOrder(ctx, a.ID, decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.Len(t, f.engine.ListOrders(ctx, ""), 2)

	pendingOrders := f.engine.ListOrders(ctx, domain.StatusPending)
	require.Len(t, pendingOrders, 1)
	assert.Equal(t, b.ID, pendingOrders[0].ID)
}

func TestRecordPnLAndStrategyExposure(t *testing.T) {
	f := newFixture(t,
		map[string]config.ExchangeLimits{"sim": {OrdersPerSecond: 100, QueriesPerMinute: 600}},
		config.RiskConfig{StrategyExposureLimits: map[string]float64{"alpha": 10000}})
	ctx := context.Background()

	o := order("BTC-USD", domain.SideBuy, 100, 2)
	o.StrategyID = "alpha"
	submitted, err := f.engine.SubmitOrder(ctx, o)
	require.NoError(t, err)
	assert.True(t, f.engine.StrategyExposure("alpha").Equal(decimal.NewFromInt(200)))

	_, err = f.engine.ExecuteOrder(ctx, submitted.ID, decimal.NewFromInt(100))
	require.NoError(t, err)

	f.engine.RecordPnL(decimal.NewFromInt(-40))
	sum := f.engine.RiskSummary(ctx)
	assert.True(t, sum.DailyRealized.LessThan(decimal.Zero))
}
