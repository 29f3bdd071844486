package exchange

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestValidateOrderParams(t *testing.T) {
	valid := OrderParams{
		Symbol:    "BTCUSDT",
		Side:      SideBuy,
		Type:      OrderTypeStopMarket,
		Quantity:  dec("0.01"),
		StopPrice: dec("100"),
	}
	if err := ValidateOrderParams(valid); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*OrderParams)
	}{
		{"missing symbol", func(p *OrderParams) { p.Symbol = "" }},
		{"invalid side", func(p *OrderParams) { p.Side = "HOLD" }},
		{"invalid type", func(p *OrderParams) { p.Type = "TRAILING" }},
		{"stop market without stopPrice", func(p *OrderParams) { p.StopPrice = decimal.Zero }},
		{"missing quantity", func(p *OrderParams) { p.Quantity = decimal.Zero }},
		{"invalid timeInForce", func(p *OrderParams) { p.TimeInForce = "FOREVER" }},
		{"invalid workingType", func(p *OrderParams) { p.WorkingType = "LAST_PRICE" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := valid
			tc.mutate(&p)
			if err := ValidateOrderParams(p); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	t.Run("limit requires price and tif", func(t *testing.T) {
		p := valid
		p.Type = OrderTypeLimit
		if err := ValidateOrderParams(p); err == nil {
			t.Error("LIMIT without price/timeInForce must fail")
		}
		p.Price = dec("100")
		p.TimeInForce = TimeInForceGTC
		if err := ValidateOrderParams(p); err != nil {
			t.Errorf("valid LIMIT rejected: %v", err)
		}
	})

	t.Run("take profit limit requires all three", func(t *testing.T) {
		p := valid
		p.Type = OrderTypeTakeProfitLimit
		p.Price = dec("101")
		if err := ValidateOrderParams(p); err == nil {
			t.Error("TAKE_PROFIT_LIMIT without timeInForce must fail")
		}
		p.TimeInForce = TimeInForceGTC
		if err := ValidateOrderParams(p); err != nil {
			t.Errorf("valid TAKE_PROFIT_LIMIT rejected: %v", err)
		}
	})

	t.Run("closePosition waives quantity", func(t *testing.T) {
		p := valid
		p.Quantity = decimal.Zero
		p.ClosePosition = true
		if err := ValidateOrderParams(p); err != nil {
			t.Errorf("closePosition STOP_MARKET without quantity rejected: %v", err)
		}
	})
}

func TestMockClientLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMockClient()

	ack, err := m.PlaceOrder(ctx, OrderParams{
		Symbol: "BTCUSDT", Side: SideBuy, Type: OrderTypeStopMarket,
		Quantity: dec("0.01"), StopPrice: dec("100"),
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	open, err := m.OpenOrders(ctx, "BTCUSDT")
	if err != nil || len(open) != 1 {
		t.Fatalf("open orders = %v (%v), want 1 order", open, err)
	}

	if err := m.CancelOrder(ctx, "BTCUSDT", ack.OrderID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := m.CancelOrder(ctx, "BTCUSDT", ack.OrderID); err != ErrOrderNotFound {
		t.Fatalf("second cancel = %v, want ErrOrderNotFound", err)
	}

	open, _ = m.OpenOrders(ctx, "BTCUSDT")
	if len(open) != 0 {
		t.Errorf("open orders after cancel = %v, want none", open)
	}
}

func TestMockClientFailAfter(t *testing.T) {
	ctx := context.Background()
	m := NewMockClient()
	m.FailAfter = 1

	params := OrderParams{
		Symbol: "BTCUSDT", Side: SideBuy, Type: OrderTypeStopMarket,
		Quantity: dec("0.01"), StopPrice: dec("100"),
	}
	if _, err := m.PlaceOrder(ctx, params); err != nil {
		t.Fatalf("first place: %v", err)
	}
	if _, err := m.PlaceOrder(ctx, params); err == nil {
		t.Fatal("second place should fail")
	}
	if m.PlacedCount() != 1 {
		t.Errorf("placed = %d, want 1", m.PlacedCount())
	}
}
