package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MarketType represents the market a strategy can trade
type MarketType string

const (
	MarketKR     MarketType = "KR"
	MarketUS     MarketType = "US"
	MarketCrypto MarketType = "CRYPTO"
)

// AllMarkets lists every supported market type
var AllMarkets = []MarketType{MarketKR, MarketUS, MarketCrypto}

// OHLCV represents a candlestick/bar
type OHLCV struct {
	Symbol   string          `json:"symbol"`
	Interval string          `json:"interval"` // "1m", "15m", "1d"
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
	Time     time.Time       `json:"time"` // open time
}

// IsValid checks the bar is internally consistent
func (c OHLCV) IsValid() bool {
	if c.Time.IsZero() || !c.Close.IsPositive() {
		return false
	}
	if c.High.LessThan(c.Low) {
		return false
	}
	return !c.Volume.IsNegative()
}

// ValidateSeries checks that candles are non-empty, valid and ordered in
// time. Several symbols may share a timestamp, but within one symbol
// timestamps must strictly increase; duplicates are rejected.
func ValidateSeries(candles []OHLCV) error {
	if len(candles) == 0 {
		return ErrEmptyInput
	}
	last := make(map[string]time.Time)
	for i, c := range candles {
		if !c.IsValid() {
			return Errorf(ErrInvalidInput, "candle %d (%s) is malformed", i, c.Time.Format(time.RFC3339))
		}
		if i > 0 && c.Time.Before(candles[i-1].Time) {
			return Errorf(ErrInvalidInput, "candle %d at %s is before %s",
				i, c.Time.Format(time.RFC3339), candles[i-1].Time.Format(time.RFC3339))
		}
		if prev, ok := last[c.Symbol]; ok && !c.Time.After(prev) {
			return Errorf(ErrInvalidInput, "candle %d duplicates %s at %s", i, c.Symbol, c.Time.Format(time.RFC3339))
		}
		last[c.Symbol] = c.Time
	}
	return nil
}

// Action represents a trading signal direction
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// SignalKind tells the executor what a signal wants done with the position
type SignalKind string

const (
	SignalEntry  SignalKind = "entry"
	SignalExit   SignalKind = "exit"
	SignalAdjust SignalKind = "adjust"
)

// Signal represents a trading signal from a strategy
type Signal struct {
	ID          string          `json:"id,omitempty"`
	Symbol      string          `json:"symbol"`
	Kind        SignalKind      `json:"kind"`
	Action      Action          `json:"action"`
	Price       decimal.Decimal `json:"price"`    // zero means the bar close
	Quantity    decimal.Decimal `json:"quantity"` // zero lets the executor size the order
	Strength    float64         `json:"strength"`
	Reason      string          `json:"reason,omitempty"`
	Strategy    string          `json:"strategy,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	GeneratedAt time.Time       `json:"generated_at"`
}

func (s Signal) String() string {
	return fmt.Sprintf("%s %s %s", s.Kind, s.Action, s.Symbol)
}

// Side is the direction of an open position
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// SideFor returns the position side opened by an action
func SideFor(a Action) Side {
	if a == ActionSell {
		return SideShort
	}
	return SideLong
}

// Opposite returns the action that reduces a position of the given side
func (s Side) Opposite() Action {
	if s == SideShort {
		return ActionBuy
	}
	return ActionSell
}

// Position is open exposure in one symbol
type Position struct {
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	EntryPrice    decimal.Decimal `json:"entry_price"` // average, slippage included
	CurrentPrice  decimal.Decimal `json:"current_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	// BestReturnPct is the high-water mark of unrealized return used by the
	// trailing stop. It is only ever raised.
	BestReturnPct decimal.Decimal `json:"best_return_pct"`
	OpenedAt      time.Time       `json:"opened_at"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
}

// IsOpen returns true until the position is fully closed
func (p *Position) IsOpen() bool {
	return p.ClosedAt == nil && p.Quantity.IsPositive()
}

// ReturnPctAt is the unrealized return in percent at the given price
func (p *Position) ReturnPctAt(price decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	diff := price.Sub(p.EntryPrice)
	if p.Side == SideShort {
		diff = diff.Neg()
	}
	return diff.Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
}

// MarkToMarket updates the current price and unrealized PnL
func (p *Position) MarkToMarket(price decimal.Decimal) {
	p.CurrentPrice = price
	diff := price.Sub(p.EntryPrice)
	if p.Side == SideShort {
		diff = diff.Neg()
	}
	p.UnrealizedPnL = diff.Mul(p.Quantity)
}

// MarketValue is the signed mark-to-market value contributed to equity
func (p *Position) MarketValue() decimal.Decimal {
	v := p.Quantity.Mul(p.CurrentPrice)
	if p.Side == SideShort {
		return v.Neg()
	}
	return v
}
