package broker

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRiskChecker_Check(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name      string
		setup     func(p *Paper)
		config    RiskConfig
		req       OrderRequest
		allowed   bool
		reasonHas string
	}{
		{
			name:    "within limits",
			config:  DefaultRiskConfig(),
			req:     OrderRequest{Symbol: "X", Side: OrderSideBuy, Quantity: d("5")},
			allowed: true,
		},
		{
			name:      "position too large",
			config:    DefaultRiskConfig(),
			req:       OrderRequest{Symbol: "X", Side: OrderSideBuy, Quantity: d("20")},
			reasonHas: "position size too large",
		},
		{
			name: "max open positions",
			setup: func(p *Paper) {
				p.PlaceOrder(ctx, OrderRequest{Symbol: "Y", Side: OrderSideBuy, Type: OrderTypeMarket, Quantity: d("1")})
			},
			config:    RiskConfig{MaxPositionPct: 100, MaxDailyLossPct: 100, MaxOpenPositions: 1},
			req:       OrderRequest{Symbol: "X", Side: OrderSideBuy, Quantity: d("1")},
			reasonHas: "max open positions",
		},
		{
			name: "adding to a held symbol ignores the position cap",
			setup: func(p *Paper) {
				p.PlaceOrder(ctx, OrderRequest{Symbol: "X", Side: OrderSideBuy, Type: OrderTypeMarket, Quantity: d("1")})
			},
			config:  RiskConfig{MaxPositionPct: 100, MaxDailyLossPct: 100, MaxOpenPositions: 1},
			req:     OrderRequest{Symbol: "X", Side: OrderSideBuy, Quantity: d("1")},
			allowed: true,
		},
		{
			name: "daily loss limit",
			setup: func(p *Paper) {
				p.PlaceOrder(ctx, OrderRequest{Symbol: "Y", Side: OrderSideBuy, Type: OrderTypeMarket, Quantity: d("50")})
				p.UpdatePrice(candle("Y", day1.Add(time.Hour), "80", "80", "80"))
				p.PlaceOrder(ctx, OrderRequest{Symbol: "Y", Side: OrderSideSell, Type: OrderTypeMarket, Quantity: d("50")})
			},
			config:    RiskConfig{MaxPositionPct: 100, MaxDailyLossPct: 5, MaxOpenPositions: 10},
			req:       OrderRequest{Symbol: "X", Side: OrderSideBuy, Quantity: d("1")},
			reasonHas: "daily loss limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPaper(t, func(c *Config) { c.CommissionRate = 0 })
			p.UpdatePrice(candle("X", day1, "100", "100", "100"))
			p.UpdatePrice(candle("Y", day1, "100", "100", "100"))
			if tt.setup != nil {
				tt.setup(p)
			}

			res := NewRiskChecker(tt.config, p).Check(ctx, tt.req, d("100"))
			if res.Allowed != tt.allowed {
				t.Fatalf("allowed = %v, want %v (reason %q)", res.Allowed, tt.allowed, res.Reason)
			}
			if tt.reasonHas != "" && !strings.Contains(res.Reason, tt.reasonHas) {
				t.Errorf("reason %q should mention %q", res.Reason, tt.reasonHas)
			}
		})
	}
}
