package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/newthinker/tradecore/internal/core"
)

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) < tolerance
}

func TestMovingAverages(t *testing.T) {
	rising := []float64{10, 11, 12, 13, 14, 15}
	tests := []struct {
		name   string
		fn     func([]float64, int) []float64
		prices []float64
		period int
		want   []float64
	}{
		{"sma rising", SMA, rising, 3, []float64{11, 12, 13, 14}},
		{"sma full window", SMA, rising, 6, []float64{12.5}},
		{"sma short input", SMA, []float64{10, 11}, 5, []float64{}},
		{"sma zero period", SMA, rising, 0, []float64{}},
		{"ema rising", EMA, rising, 3, []float64{11, 12, 13, 14}},
		{"ema choppy", EMA, []float64{10, 12, 11, 13}, 2, []float64{11, 11, 12.3333}},
		{"ema short input", EMA, []float64{10, 11}, 5, []float64{}},
		{"ema negative period", EMA, rising, -1, []float64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.fn(tt.prices, tt.period)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if !almostEqual(got[i], tt.want[i], 1e-4) {
					t.Errorf("[%d] = %f, want %f", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLast(t *testing.T) {
	if _, ok := Last(nil); ok {
		t.Error("empty series should report false")
	}
	if v, ok := Last(SMA([]float64{1, 2, 3, 4}, 2)); !ok || v != 3.5 {
		t.Errorf("Last = %v,%v want 3.5,true", v, ok)
	}
}

func TestCandleSeries(t *testing.T) {
	d := decimal.RequireFromString
	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	candles := []core.OHLCV{
		{Symbol: "X", High: d("11"), Low: d("9"), Close: d("10"), Time: at},
		{Symbol: "X", High: d("12.5"), Low: d("10"), Close: d("12"), Time: at.AddDate(0, 0, 1)},
	}
	if h := Highs(candles); h[0] != 11 || h[1] != 12.5 {
		t.Errorf("Highs = %v", h)
	}
	if l := Lows(candles); l[0] != 9 || l[1] != 10 {
		t.Errorf("Lows = %v", l)
	}
}
