package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/newthinker/tradecore/internal/core"
)

// Holdings tracks the strategy's own open positions per symbol. Embed it to
// get OnPositionUpdate (simulation) and OnOrderFilled (live fills).
type Holdings struct {
	pos map[string]core.Position
}

// OnPositionUpdate records the latest state of a position
func (h *Holdings) OnPositionUpdate(p core.Position) {
	if h.pos == nil {
		h.pos = make(map[string]core.Position)
	}
	if p.IsOpen() {
		h.pos[p.Symbol] = p
		return
	}
	delete(h.pos, p.Symbol)
}

// OnOrderFilled applies a live fill to the tracked position. A fill against
// the position reduces it; the excess of a larger entry or adjust fill opens
// the other side. Exit fills never open a position.
func (h *Holdings) OnOrderFilled(f Fill) {
	if h.pos == nil {
		h.pos = make(map[string]core.Position)
	}
	side := core.SideFor(f.Action)
	qty := f.Quantity
	p, ok := h.pos[f.Symbol]

	switch {
	case ok && p.Side == side && f.Kind != core.SignalExit:
		cost := p.EntryPrice.Mul(p.Quantity).Add(f.Price.Mul(qty))
		p.Quantity = p.Quantity.Add(qty)
		p.EntryPrice = cost.Div(p.Quantity)
		p.CurrentPrice = f.Price
		h.pos[f.Symbol] = p
		return
	case ok && p.Side == side:
		return
	case ok && qty.LessThan(p.Quantity):
		p.Quantity = p.Quantity.Sub(qty)
		p.CurrentPrice = f.Price
		h.pos[f.Symbol] = p
		return
	case ok:
		qty = qty.Sub(p.Quantity)
		delete(h.pos, f.Symbol)
	}

	if f.Kind == core.SignalExit || !qty.IsPositive() {
		return
	}
	h.pos[f.Symbol] = core.Position{
		Symbol:       f.Symbol,
		Side:         side,
		Quantity:     qty,
		EntryPrice:   f.Price,
		CurrentPrice: f.Price,
		OpenedAt:     f.Time,
	}
}

// Position returns the tracked position for symbol
func (h *Holdings) Position(symbol string) (core.Position, bool) {
	p, ok := h.pos[symbol]
	return p, ok
}

// Holding reports whether a position is open in symbol
func (h *Holdings) Holding(symbol string) bool {
	_, ok := h.pos[symbol]
	return ok
}

// Quantity returns the open quantity in symbol, zero when flat
func (h *Holdings) Quantity(symbol string) decimal.Decimal {
	return h.pos[symbol].Quantity
}

// HeldSymbols returns the number of open positions
func (h *Holdings) HeldSymbols() int {
	return len(h.pos)
}
