package backtest

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/newthinker/tradecore/internal/core"
)

var hundred = decimal.NewFromInt(100)

// book accumulates one round trip until the position is flat again
type book struct {
	pos        core.Position
	entryValue decimal.Decimal
	entryQty   decimal.Decimal
	exitValue  decimal.Decimal
	exitQty    decimal.Decimal
	gross      decimal.Decimal
	commission decimal.Decimal
}

// Portfolio is the cash and position book of one simulation. It is not
// safe for concurrent use; each run owns its own.
type Portfolio struct {
	p      params
	cash   decimal.Decimal
	books  map[string]*book
	trades []Trade
}

func newPortfolio(p params) *Portfolio {
	return &Portfolio{
		p:     p,
		cash:  p.capital,
		books: make(map[string]*book),
	}
}

// Cash returns available cash
func (pf *Portfolio) Cash() decimal.Decimal {
	return pf.cash
}

// Equity is cash plus the mark-to-market value of open positions
func (pf *Portfolio) Equity() decimal.Decimal {
	eq := pf.cash
	for _, b := range pf.books {
		eq = eq.Add(b.pos.MarketValue())
	}
	return eq
}

// Trades returns the closed trade log
func (pf *Portfolio) Trades() []Trade {
	return pf.trades
}

// Position returns a copy of the open position in symbol
func (pf *Portfolio) Position(symbol string) (core.Position, bool) {
	b, ok := pf.books[symbol]
	if !ok {
		return core.Position{}, false
	}
	return b.pos, true
}

// live returns the open position for in-place updates by the evaluator
func (pf *Portfolio) live(symbol string) *core.Position {
	if b, ok := pf.books[symbol]; ok {
		return &b.pos
	}
	return nil
}

// OpenPositions returns copies of all open positions sorted by symbol
func (pf *Portfolio) OpenPositions() []core.Position {
	symbols := make([]string, 0, len(pf.books))
	for s := range pf.books {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	out := make([]core.Position, len(symbols))
	for i, s := range symbols {
		out[i] = pf.books[s].pos
	}
	return out
}

// Mark updates the open position in symbol to price
func (pf *Portfolio) Mark(symbol string, price decimal.Decimal) {
	if b, ok := pf.books[symbol]; ok {
		b.pos.MarkToMarket(price)
	}
}

// FillPrice applies slippage against the trader
func (pf *Portfolio) FillPrice(action core.Action, price decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if action == core.ActionBuy {
		return price.Mul(one.Add(pf.p.slippage))
	}
	return price.Mul(one.Sub(pf.p.slippage))
}

// Commission is fill price x quantity x commission rate
func (pf *Portfolio) Commission(fill, qty decimal.Decimal) decimal.Decimal {
	return fill.Mul(qty).Mul(pf.p.commission)
}

// Open enters or adds to a position at the requested price. The whole
// notional plus commission must be covered by cash for either side.
func (pf *Portfolio) Open(symbol string, side core.Side, qty, price decimal.Decimal, at time.Time) (core.Position, error) {
	if !qty.IsPositive() {
		return core.Position{}, core.Errorf(core.ErrFillRejected, "%s: quantity %s must be positive", symbol, qty)
	}
	b, held := pf.books[symbol]
	if held && b.pos.Side != side {
		return core.Position{}, core.Errorf(core.ErrFillRejected, "%s: %s position open, cannot add %s", symbol, b.pos.Side, side)
	}

	action := core.ActionBuy
	if side == core.SideShort {
		action = core.ActionSell
	}
	fill := pf.FillPrice(action, price)
	notional := fill.Mul(qty)
	fee := pf.Commission(fill, qty)
	if notional.Add(fee).GreaterThan(pf.cash) {
		return core.Position{}, core.Errorf(core.ErrFillRejected, "%s: need %s, cash %s",
			symbol, notional.Add(fee).StringFixed(2), pf.cash.StringFixed(2))
	}

	if side == core.SideShort {
		pf.cash = pf.cash.Add(notional).Sub(fee)
	} else {
		pf.cash = pf.cash.Sub(notional).Sub(fee)
	}

	if !held {
		b = &book{pos: core.Position{Symbol: symbol, Side: side, OpenedAt: at}}
		pf.books[symbol] = b
	}
	cost := b.pos.EntryPrice.Mul(b.pos.Quantity).Add(notional)
	b.pos.Quantity = b.pos.Quantity.Add(qty)
	b.pos.EntryPrice = cost.Div(b.pos.Quantity)
	b.entryValue = b.entryValue.Add(notional)
	b.entryQty = b.entryQty.Add(qty)
	b.commission = b.commission.Add(fee)
	b.pos.RealizedPnL = b.gross.Sub(b.commission)
	b.pos.MarkToMarket(price)
	return b.pos, nil
}

// Reduce exits qty of the position in symbol at the requested price. A
// quantity of zero or above the open quantity closes the position, in
// which case the Trade is appended and returned.
func (pf *Portfolio) Reduce(symbol string, qty, price decimal.Decimal, at time.Time, reason string) (core.Position, *Trade, error) {
	b, ok := pf.books[symbol]
	if !ok {
		return core.Position{}, nil, core.Errorf(core.ErrFillRejected, "%s: no open position", symbol)
	}
	if !qty.IsPositive() || qty.GreaterThan(b.pos.Quantity) {
		qty = b.pos.Quantity
	}

	fill := pf.FillPrice(b.pos.Side.Opposite(), price)
	notional := fill.Mul(qty)
	fee := pf.Commission(fill, qty)

	diff := fill.Sub(b.pos.EntryPrice)
	if b.pos.Side == core.SideShort {
		pf.cash = pf.cash.Sub(notional).Sub(fee)
		diff = diff.Neg()
	} else {
		pf.cash = pf.cash.Add(notional).Sub(fee)
	}

	b.gross = b.gross.Add(diff.Mul(qty))
	b.commission = b.commission.Add(fee)
	b.exitValue = b.exitValue.Add(notional)
	b.exitQty = b.exitQty.Add(qty)
	b.pos.Quantity = b.pos.Quantity.Sub(qty)
	b.pos.RealizedPnL = b.gross.Sub(b.commission)
	b.pos.MarkToMarket(price)

	if b.pos.Quantity.IsPositive() {
		return b.pos, nil, nil
	}

	closed := at
	b.pos.ClosedAt = &closed
	b.pos.UnrealizedPnL = decimal.Zero
	delete(pf.books, symbol)

	t := Trade{
		ID:         fmt.Sprintf("T%05d", len(pf.trades)+1),
		Symbol:     symbol,
		Side:       b.pos.Side,
		EntryPrice: b.entryValue.Div(b.entryQty),
		ExitPrice:  b.exitValue.Div(b.exitQty),
		Quantity:   b.exitQty,
		EntryTime:  b.pos.OpenedAt,
		ExitTime:   at,
		PnL:        b.pos.RealizedPnL,
		Commission: b.commission,
		ExitReason: reason,
	}
	if b.entryValue.IsPositive() {
		t.ReturnPct = t.PnL.Div(b.entryValue).Mul(hundred)
	}
	pf.trades = append(pf.trades, t)
	return b.pos, &t, nil
}
