package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestApplyFillOpensAndAverages(t *testing.T) {
	p := &Position{Symbol: "BTC-USD"}

	realized := p.ApplyFill(SideBuy, d("2"), d("100"))
	assert.True(t, realized.IsZero())
	assert.True(t, p.Quantity.Equal(d("2")))
	assert.True(t, p.AvgEntryPrice.Equal(d("100")))

	// Increase at a higher price re-averages the entry.
	realized = p.ApplyFill(SideBuy, d("2"), d("110"))
	assert.True(t, realized.IsZero())
	assert.True(t, p.Quantity.Equal(d("4")))
	assert.True(t, p.AvgEntryPrice.Equal(d("105")))
}

func TestApplyFillRealizesOnReduce(t *testing.T) {
	p := &Position{Symbol: "ETH-USD"}
	p.ApplyFill(SideBuy, d("10"), d("50"))

	realized := p.ApplyFill(SideSell, d("4"), d("60"))
	require.True(t, realized.Equal(d("40")), "realized = %s", realized)
	assert.True(t, p.Quantity.Equal(d("6")))
	assert.True(t, p.AvgEntryPrice.Equal(d("50")))
	assert.True(t, p.RealizedPnL.Equal(d("40")))
}

func TestApplyFillExactClose(t *testing.T) {
	p := &Position{Symbol: "ETH-USD"}
	p.ApplyFill(SideSell, d("3"), d("200"))

	realized := p.ApplyFill(SideBuy, d("3"), d("190"))
	require.True(t, realized.Equal(d("30")), "realized = %s", realized)
	assert.True(t, p.Quantity.IsZero())
	assert.True(t, p.AvgEntryPrice.IsZero())
}

func TestApplyFillCrossesZero(t *testing.T) {
	p := &Position{Symbol: "BTC-USD"}
	p.ApplyFill(SideBuy, d("2"), d("100"))

	// Sell 5 at 120: realize 2×20 on the long, flip short 3 at 120.
	realized := p.ApplyFill(SideSell, d("5"), d("120"))
	require.True(t, realized.Equal(d("40")), "realized = %s", realized)
	assert.True(t, p.Quantity.Equal(d("-3")))
	assert.True(t, p.AvgEntryPrice.Equal(d("120")))
}

func TestUnrealizedPnL(t *testing.T) {
	p := &Position{Symbol: "BTC-USD"}
	p.ApplyFill(SideBuy, d("2"), d("100"))
	p.MarkPrice = d("130")
	assert.True(t, p.UnrealizedPnL().Equal(d("60")))

	short := &Position{Symbol: "ETH-USD"}
	short.ApplyFill(SideSell, d("4"), d("50"))
	short.MarkPrice = d("45")
	assert.True(t, short.UnrealizedPnL().Equal(d("20")))
}

func TestMarketValue(t *testing.T) {
	p := &Position{Symbol: "BTC-USD"}
	p.ApplyFill(SideBuy, d("2"), d("100"))
	p.MarkPrice = d("150")
	assert.True(t, p.MarketValue().Equal(d("300")))

	// A short carries negative market value.
	short := &Position{Symbol: "ETH-USD"}
	short.ApplyFill(SideSell, d("4"), d("50"))
	short.MarkPrice = d("60")
	assert.True(t, short.MarketValue().Equal(d("-240")))
}
