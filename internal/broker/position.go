package broker

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PositionBook tracks positions and P&L from order fills.
type PositionBook struct {
	positions map[string]*Position // symbol -> position
	mu        sync.RWMutex
}

// NewPositionBook creates an empty book.
func NewPositionBook() *PositionBook {
	return &PositionBook{positions: make(map[string]*Position)}
}

// Get returns the position for a symbol. Unknown symbols return a flat
// position.
func (b *PositionBook) Get(symbol string) Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if pos, ok := b.positions[symbol]; ok {
		return *pos
	}
	return Position{Symbol: symbol}
}

// All returns every open position.
func (b *PositionBook) All() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, *pos)
	}
	return out
}

// Len returns the number of open positions.
func (b *PositionBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// Apply books a fill and returns the profit or loss it realized.
// Adding to a position moves the average cost; reducing it realizes
// (price - avg) per unit for longs and the opposite for shorts. A fill
// larger than the position flips it and the remainder opens at price.
func (b *PositionBook) Apply(symbol string, side OrderSide, qty, price decimal.Decimal, at time.Time) decimal.Decimal {
	if !qty.IsPositive() {
		return decimal.Zero
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol}
		b.positions[symbol] = pos
	}

	delta := qty
	if side == OrderSideSell {
		delta = qty.Neg()
	}

	realized := decimal.Zero
	held := pos.Quantity.Abs()
	switch {
	case pos.Quantity.IsZero() || pos.Quantity.Sign() == delta.Sign():
		cost := held.Mul(pos.AverageCost).Add(qty.Mul(price))
		pos.AverageCost = cost.Div(held.Add(qty))
	default:
		closed := decimal.Min(qty, held)
		per := price.Sub(pos.AverageCost)
		if pos.IsShort() {
			per = per.Neg()
		}
		realized = per.Mul(closed)
		pos.RealizedPL = pos.RealizedPL.Add(realized)
		if qty.GreaterThan(held) {
			pos.AverageCost = price
		}
	}
	pos.Quantity = pos.Quantity.Add(delta)
	pos.UpdatedAt = at

	if pos.Quantity.IsZero() {
		delete(b.positions, symbol)
		return realized
	}
	b.mark(pos, price)
	return realized
}

// Mark revalues the position of symbol at price.
func (b *PositionBook) Mark(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pos, ok := b.positions[symbol]; ok {
		b.mark(pos, price)
	}
}

func (b *PositionBook) mark(pos *Position, price decimal.Decimal) {
	pos.CurrentPrice = price
	pos.MarketValue = pos.Quantity.Mul(price)
	pos.UnrealizedPL = price.Sub(pos.AverageCost).Mul(pos.Quantity)
}

// MarketValue sums the signed market value of every position.
func (b *PositionBook) MarketValue() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := decimal.Zero
	for _, pos := range b.positions {
		total = total.Add(pos.MarketValue)
	}
	return total
}

// TotalUnrealizedPL returns the sum of unrealized P&L across all positions.
func (b *PositionBook) TotalUnrealizedPL() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := decimal.Zero
	for _, pos := range b.positions {
		total = total.Add(pos.UnrealizedPL)
	}
	return total
}
