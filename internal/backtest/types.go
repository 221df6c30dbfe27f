package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/risk"
)

// State is the terminal outcome of a simulation run
type State string

const (
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Trade is a closed round trip. Partial exits are folded into one record
// written when the position is flat again.
type Trade struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Side       core.Side       `json:"side"`
	EntryPrice decimal.Decimal `json:"entry_price"` // average fill, slippage included
	ExitPrice  decimal.Decimal `json:"exit_price"`  // average fill, slippage included
	Quantity   decimal.Decimal `json:"quantity"`
	EntryTime  time.Time       `json:"entry_time"`
	ExitTime   time.Time       `json:"exit_time"`
	PnL        decimal.Decimal `json:"pnl"` // net of commissions
	ReturnPct  decimal.Decimal `json:"return_pct"`
	Commission decimal.Decimal `json:"commission"`
	ExitReason string          `json:"exit_reason,omitempty"`
}

// IsWin returns true if the trade was profitable
func (t Trade) IsWin() bool {
	return t.PnL.IsPositive()
}

// EquityPoint is one sample of the equity curve
type EquityPoint struct {
	Time        time.Time       `json:"time"`
	Equity      decimal.Decimal `json:"equity"`
	DrawdownPct decimal.Decimal `json:"drawdown_pct"`
}

// Metrics holds performance statistics
type Metrics struct {
	TotalReturnPct      decimal.Decimal `json:"total_return_pct"`
	AnnualizedReturnPct decimal.Decimal `json:"annualized_return_pct"`
	NetProfit           decimal.Decimal `json:"net_profit"`
	TotalTrades         int             `json:"total_trades"`
	WinningTrades       int             `json:"winning_trades"`
	LosingTrades        int             `json:"losing_trades"`
	WinRatePct          decimal.Decimal `json:"win_rate_pct"`
	ProfitFactor        decimal.Decimal `json:"profit_factor"`
	SharpeRatio         decimal.Decimal `json:"sharpe_ratio"`
	MaxDrawdownPct      decimal.Decimal `json:"max_drawdown_pct"`
	TotalCommission     decimal.Decimal `json:"total_commission"`
}

// Report is the immutable result of a completed run
type Report struct {
	Strategy         string          `json:"strategy"`
	StrategyVersion  string          `json:"strategy_version"`
	Symbols          []string        `json:"symbols"`
	Start            time.Time       `json:"start"`
	End              time.Time       `json:"end"`
	Candles          int             `json:"candles"`
	Config           Config          `json:"config"`
	ExitConfig       risk.ExitConfig `json:"exit_config"`
	EquityCurve      []EquityPoint   `json:"equity_curve"`
	Trades           []Trade         `json:"trades"`
	OpenPositions    []core.Position `json:"open_positions,omitempty"`
	Metrics          Metrics         `json:"metrics"`
	SignalsGenerated int             `json:"signals_generated"`
	SignalsRejected  int             `json:"signals_rejected"`
	ForcedExits      map[string]int  `json:"forced_exits,omitempty"`
}

// FinalEquity is the last point of the equity curve
func (r *Report) FinalEquity() decimal.Decimal {
	if len(r.EquityCurve) == 0 {
		return decimal.Zero
	}
	return r.EquityCurve[len(r.EquityCurve)-1].Equity
}
