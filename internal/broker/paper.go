package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/newthinker/tradecore/internal/core"
)

// FillHandler observes every fill a broker books.
type FillHandler func(order Order)

// Paper is an in-memory broker account. Market orders fill at the last
// close adjusted by slippage; limit orders that are not marketable rest
// until a later candle trades through their price.
type Paper struct {
	commission decimal.Decimal
	slippage   decimal.Decimal
	allowShort bool
	now        func() time.Time

	mu      sync.Mutex
	cash    decimal.Decimal
	book    *PositionBook
	quotes  map[string]core.OHLCV
	orders  map[string]*Order
	history []string
	day     time.Time
	dailyPL decimal.Decimal
	onFill  FillHandler
}

// NewPaper opens a paper account funded with cfg.InitialCash.
func NewPaper(cfg Config) *Paper {
	return &Paper{
		commission: decimal.NewFromFloat(cfg.CommissionRate),
		slippage:   decimal.NewFromFloat(cfg.SlippageRate),
		allowShort: cfg.AllowShort,
		now:        time.Now,
		cash:       decimal.NewFromFloat(cfg.InitialCash),
		book:       NewPositionBook(),
		quotes:     make(map[string]core.OHLCV),
		orders:     make(map[string]*Order),
	}
}

// Name returns the broker name.
func (p *Paper) Name() string {
	return "paper"
}

// SetFillHandler registers the callback run after each fill.
func (p *Paper) SetFillHandler(fn FillHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFill = fn
}

// UpdatePrice records a candle as the latest quote of its symbol, marks
// the position and fills resting limit orders the candle traded through.
func (p *Paper) UpdatePrice(c core.OHLCV) {
	p.mu.Lock()
	p.quotes[c.Symbol] = c
	p.book.Mark(c.Symbol, c.Close)

	var filled []Order
	for _, id := range p.history {
		o := p.orders[id]
		if o.Status != OrderStatusPending || o.Symbol != c.Symbol {
			continue
		}
		crossed := (o.Side == OrderSideBuy && c.Low.LessThanOrEqual(o.Price)) ||
			(o.Side == OrderSideSell && c.High.GreaterThanOrEqual(o.Price))
		if !crossed {
			continue
		}
		if err := p.fill(o, o.Price, c.Time); err != nil {
			continue
		}
		filled = append(filled, *o)
	}
	fn := p.onFill
	p.mu.Unlock()

	if fn != nil {
		for _, o := range filled {
			fn(o)
		}
	}
}

// Quote returns the last close seen for symbol.
func (p *Paper) Quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.quotes[symbol]
	if !ok {
		return decimal.Zero, core.WrapError(core.ErrNotFound, ErrNoQuote)
	}
	return c.Close, nil
}

// PlaceOrder validates and books an order. Rejected orders stay in the
// order history and the error wraps the rejection reason.
func (p *Paper) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := req.Validate(); err != nil {
		return nil, core.WrapError(core.ErrInvalidInput, err)
	}

	p.mu.Lock()
	c, ok := p.quotes[req.Symbol]
	if !ok {
		p.mu.Unlock()
		return nil, core.WrapError(core.ErrNotFound, ErrNoQuote)
	}

	o := &Order{
		OrderID:        uuid.NewString(),
		ClientOrderID:  req.ClientOrderID,
		StrategyID:     req.StrategyID,
		Kind:           req.Kind,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Quantity:       req.Quantity,
		Price:          req.Price,
		Status:         OrderStatusPending,
		FilledQuantity: decimal.Zero,
		CreatedAt:      p.now(),
	}
	p.orders[o.OrderID] = o
	p.history = append(p.history, o.OrderID)

	var fillErr error
	switch {
	case req.Type == OrderTypeMarket:
		fillErr = p.fill(o, p.slipped(req.Side, c.Close), c.Time)
	case req.Side == OrderSideBuy && c.Close.LessThanOrEqual(req.Price),
		req.Side == OrderSideSell && c.Close.GreaterThanOrEqual(req.Price):
		fillErr = p.fill(o, c.Close, c.Time)
	}
	out := *o
	fn := p.onFill
	p.mu.Unlock()

	if fillErr != nil {
		return &out, core.WrapError(core.ErrFillRejected, fillErr)
	}
	if out.IsFilled() && fn != nil {
		fn(out)
	}
	return &out, nil
}

func (p *Paper) slipped(side OrderSide, price decimal.Decimal) decimal.Decimal {
	if side == OrderSideBuy {
		return price.Mul(decimal.NewFromInt(1).Add(p.slippage))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(p.slippage))
}

// fill books o at price. Callers hold p.mu.
func (p *Paper) fill(o *Order, price decimal.Decimal, at time.Time) error {
	notional := o.Quantity.Mul(price)
	commission := notional.Mul(p.commission)

	switch o.Side {
	case OrderSideBuy:
		if notional.Add(commission).GreaterThan(p.cash) {
			p.reject(o, ErrInsufficientFunds)
			return ErrInsufficientFunds
		}
		p.cash = p.cash.Sub(notional).Sub(commission)
	case OrderSideSell:
		held := p.book.Get(o.Symbol).Quantity
		if !p.allowShort && o.Quantity.GreaterThan(held) {
			p.reject(o, ErrInsufficientPosition)
			return ErrInsufficientPosition
		}
		p.cash = p.cash.Add(notional).Sub(commission)
	}

	realized := p.book.Apply(o.Symbol, o.Side, o.Quantity, price, at)
	p.book.Mark(o.Symbol, p.quotes[o.Symbol].Close)

	day := at.Truncate(24 * time.Hour)
	if !day.Equal(p.day) {
		p.day = day
		p.dailyPL = decimal.Zero
	}
	p.dailyPL = p.dailyPL.Add(realized).Sub(commission)

	o.Status = OrderStatusFilled
	o.FilledQuantity = o.Quantity
	o.AverageFillPrice = price
	o.Commission = commission
	filledAt := at
	o.FilledAt = &filledAt
	return nil
}

func (p *Paper) reject(o *Order, reason error) {
	o.Status = OrderStatusRejected
	o.RejectionReason = reason.Error()
}

// CancelOrder cancels a resting limit order.
func (p *Paper) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return core.WrapError(core.ErrNotFound, ErrOrderNotFound)
	}
	if o.IsTerminal() {
		return core.WrapError(core.ErrInvalidInput, ErrOrderNotCancellable)
	}
	o.Status = OrderStatusCancelled
	return nil
}

// GetOrder returns one order.
func (p *Paper) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return nil, core.WrapError(core.ErrNotFound, ErrOrderNotFound)
	}
	out := *o
	return &out, nil
}

// GetOrders returns every order in placement order.
func (p *Paper) GetOrders(ctx context.Context) ([]Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Order, 0, len(p.history))
	for _, id := range p.history {
		out = append(out, *p.orders[id])
	}
	return out, nil
}

// GetPositions returns the open positions.
func (p *Paper) GetPositions(ctx context.Context) ([]Position, error) {
	return p.book.All(), nil
}

// GetPosition returns the position of symbol, flat when none is open.
func (p *Paper) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	pos := p.book.Get(symbol)
	return &pos, nil
}

// GetBalance returns cash, account value and the day's realized P&L.
func (p *Paper) GetBalance(ctx context.Context) (*Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &Balance{
		Cash:       p.cash,
		TotalValue: p.cash.Add(p.book.MarketValue()),
		DailyPL:    p.dailyPL,
		UpdatedAt:  p.now(),
	}, nil
}
