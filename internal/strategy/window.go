package strategy

import "github.com/newthinker/tradecore/internal/core"

// Window keeps the most recent candles per symbol
type Window struct {
	size int
	bars map[string][]core.OHLCV
}

// NewWindow keeps up to size candles per symbol
func NewWindow(size int) *Window {
	return &Window{size: max(size, 1), bars: make(map[string][]core.OHLCV)}
}

// Push appends c and returns the symbol's window, oldest first. The
// returned slice is only valid until the next Push.
func (w *Window) Push(c core.OHLCV) []core.OHLCV {
	b := append(w.bars[c.Symbol], c)
	if len(b) > 2*w.size {
		b = append(b[:0:0], b[len(b)-w.size:]...)
	}
	w.bars[c.Symbol] = b
	if len(b) > w.size {
		return b[len(b)-w.size:]
	}
	return b
}

// Len returns how many candles are held for symbol, capped at the size
func (w *Window) Len(symbol string) int {
	return min(len(w.bars[symbol]), w.size)
}

// Resize changes the capacity, keeping the newest candles
func (w *Window) Resize(size int) {
	w.size = max(size, 1)
}
