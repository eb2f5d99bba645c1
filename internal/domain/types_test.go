package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSideValid(t *testing.T) {
	if !SideBuy.Valid() || !SideSell.Valid() {
		t.Error("expected BUY and SELL to be valid sides")
	}
	if Side("HOLD").Valid() {
		t.Error("expected HOLD to be invalid")
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusPending.Terminal() {
		t.Error("PENDING must not be terminal")
	}
	if !StatusExecuted.Terminal() || !StatusCanceled.Terminal() {
		t.Error("EXECUTED and CANCELED must be terminal")
	}
}

func TestOrderValidate(t *testing.T) {
	ok := Order{
		Symbol:   "BTC-USD",
		Side:     SideBuy,
		Price:    decimal.NewFromInt(100),
		Quantity: decimal.NewFromInt(1),
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() returned unexpected error: %v", err)
	}

	cases := []Order{
		{Side: SideBuy, Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1)},
		{Symbol: "BTC-USD", Side: "SHORT", Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1)},
		{Symbol: "BTC-USD", Side: SideBuy, Quantity: decimal.NewFromInt(1)},
		{Symbol: "BTC-USD", Side: SideBuy, Price: decimal.NewFromInt(100)},
		{Symbol: "BTC-USD", Side: SideSell, Price: decimal.NewFromInt(-1), Quantity: decimal.NewFromInt(1)},
	}
	for i, c := range cases {
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: expected validation error, got nil", i)
		}
	}
}

func TestOrderNotionalAndSignedQuantity(t *testing.T) {
	o := Order{
		Symbol:   "ETH-USD",
		Side:     SideSell,
		Price:    decimal.NewFromInt(2000),
		Quantity: decimal.NewFromFloat(1.5),
	}
	if !o.Notional().Equal(decimal.NewFromInt(3000)) {
		t.Errorf("Notional() = %s, want 3000", o.Notional())
	}
	if !o.SignedQuantity().Equal(decimal.NewFromFloat(-1.5)) {
		t.Errorf("SignedQuantity() = %s, want -1.5", o.SignedQuantity())
	}
}
