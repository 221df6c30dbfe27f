// Package collector defines candle sources for backtests and the live loop.
package collector

import (
	"context"
	"time"

	"github.com/newthinker/tradecore/internal/core"
)

// Collector loads historical candles
type Collector interface {
	Name() string

	// FetchHistory returns the candles of symbol whose open time lies in
	// [start, end], oldest first. Zero bounds are open.
	FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]core.OHLCV, error)
}
