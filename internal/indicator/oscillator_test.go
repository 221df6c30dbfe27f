package indicator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/newthinker/tradecore/internal/core"
)

func TestRSI(t *testing.T) {
	rising := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	rsi := RSI(rising, 3)
	if len(rsi) != 5 {
		t.Fatalf("expected 5 values, got %d", len(rsi))
	}
	for i, v := range rsi {
		if v != 100 {
			t.Errorf("rsi[%d] = %f, want 100 for a strictly rising series", i, v)
		}
	}

	flat := []float64{5, 5, 5, 5, 5}
	if v, _ := Last(RSI(flat, 3)); v != 50 {
		t.Errorf("flat RSI = %f, want 50", v)
	}

	// gains 1, losses 1 alternating -> balanced
	zigzag := []float64{10, 11, 10, 11, 10, 11, 10}
	v, _ := Last(RSI(zigzag, 2))
	if v <= 0 || v >= 100 {
		t.Errorf("zigzag RSI out of range: %f", v)
	}

	if got := RSI([]float64{1, 2}, 3); len(got) != 0 {
		t.Errorf("expected empty slice, got %v", got)
	}
}

func TestStdDevAndBollinger(t *testing.T) {
	prices := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	sd := StdDev(prices, 8)
	if len(sd) != 1 || !almostEqual(sd[0], 2, 1e-9) {
		t.Fatalf("StdDev = %v, want [2]", sd)
	}

	b := Bollinger(prices, 8, 2)
	if !almostEqual(b.Middle[0], 5, 1e-9) || !almostEqual(b.Upper[0], 9, 1e-9) || !almostEqual(b.Lower[0], 1, 1e-9) {
		t.Errorf("unexpected bands: %+v", b)
	}
}

func TestHighestLowest(t *testing.T) {
	prices := []float64{5, 1, 9, 3, 4}
	if h := Highest(prices, 2); h != 4 {
		t.Errorf("Highest(2) = %f, want 4", h)
	}
	if h := Highest(prices, 10); h != 9 {
		t.Errorf("Highest(10) = %f, want 9", h)
	}
	if l := Lowest(prices, 3); l != 3 {
		t.Errorf("Lowest(3) = %f, want 3", l)
	}
	if Highest(nil, 3) != 0 || Lowest(nil, 3) != 0 {
		t.Error("empty input should return 0")
	}
}

func TestCloses(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := []core.OHLCV{
		{Close: decimal.NewFromFloat(1.5), Time: ts},
		{Close: decimal.NewFromInt(2), Time: ts.Add(time.Hour)},
	}
	got := Closes(candles)
	if len(got) != 2 || got[0] != 1.5 || got[1] != 2 {
		t.Errorf("Closes = %v", got)
	}
}
