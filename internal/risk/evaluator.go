package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/newthinker/tradecore/internal/core"
)

// Action is the outcome of an exit evaluation.
type Action string

const (
	NoAction           Action = "none"
	ExitAtStop         Action = "stop_loss"
	ExitAtTakeProfit   Action = "take_profit"
	ExitAtTrailingStop Action = "trailing_stop"
)

// Decision is returned by Evaluate. Price is only meaningful when Action is
// not NoAction.
type Decision struct {
	Action Action
	Price  decimal.Decimal
	Reason string
}

// ShouldExit reports whether the position must be closed.
func (d Decision) ShouldExit() bool {
	return d.Action != NoAction
}

var hundred = decimal.NewFromInt(100)

// Evaluator applies ExitConfig rules to open positions.
type Evaluator struct{}

// NewEvaluator creates a new Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate checks a single position against one candle.
//
// Rules run in a fixed order: stop-loss, take-profit, trailing stop. The
// stop-loss wins when one bar touches both the stop and the target.
// Disabled rules are skipped. The trailing stop arms once the position's
// best-seen return (from earlier bars) reaches the trigger; this bar's
// favorable extreme is folded into the high-water mark only after the
// checks, so a single bar can never both arm and fire the trailing stop.
//
// Exit prices are the rule's level, or the bar open when the bar gapped
// through the level.
func (e *Evaluator) Evaluate(pos *core.Position, c core.OHLCV, cfg ExitConfig) Decision {
	if pos == nil || !pos.IsOpen() || pos.EntryPrice.IsZero() {
		return Decision{Action: NoAction}
	}

	long := pos.Side != core.SideShort
	adverse, favorable := c.Low, c.High
	if !long {
		adverse, favorable = c.High, c.Low
	}

	if cfg.StopLossEnabled {
		level := priceAtReturn(pos, -cfg.StopLossPct)
		if crossedAgainst(long, adverse, level) {
			return Decision{
				Action: ExitAtStop,
				Price:  gapFill(long, true, c.Open, level),
				Reason: fmt.Sprintf("stop-loss %.2f%% hit at %s", cfg.StopLossPct, level.StringFixed(4)),
			}
		}
	}

	if cfg.TakeProfitEnabled {
		level := priceAtReturn(pos, cfg.TakeProfitPct)
		if crossedFor(long, favorable, level) {
			return Decision{
				Action: ExitAtTakeProfit,
				Price:  gapFill(long, false, c.Open, level),
				Reason: fmt.Sprintf("take-profit %.2f%% hit at %s", cfg.TakeProfitPct, level.StringFixed(4)),
			}
		}
	}

	if cfg.TrailingStopEnabled {
		trigger := decimal.NewFromFloat(cfg.TrailingTriggerPct)
		if pos.BestReturnPct.GreaterThanOrEqual(trigger) {
			floor := pos.BestReturnPct.Sub(decimal.NewFromFloat(cfg.TrailingStopPct))
			level := priceAtReturn(pos, floor.InexactFloat64())
			if crossedAgainst(long, adverse, level) {
				return Decision{
					Action: ExitAtTrailingStop,
					Price:  gapFill(long, true, c.Open, level),
					Reason: fmt.Sprintf("trailing stop: best %s%%, floor %s%%",
						pos.BestReturnPct.StringFixed(2), floor.StringFixed(2)),
				}
			}
		}
	}

	if r := pos.ReturnPctAt(favorable); r.GreaterThan(pos.BestReturnPct) {
		pos.BestReturnPct = r
	}

	return Decision{Action: NoAction}
}

// priceAtReturn converts a return in percent to a price for the position.
func priceAtReturn(pos *core.Position, pct float64) decimal.Decimal {
	move := decimal.NewFromFloat(pct).Div(hundred)
	if pos.Side == core.SideShort {
		move = move.Neg()
	}
	return pos.EntryPrice.Mul(decimal.NewFromInt(1).Add(move))
}

// crossedAgainst reports whether the adverse extreme reached a protective level.
func crossedAgainst(long bool, adverse, level decimal.Decimal) bool {
	if long {
		return adverse.LessThanOrEqual(level)
	}
	return adverse.GreaterThanOrEqual(level)
}

// crossedFor reports whether the favorable extreme reached a profit level.
func crossedFor(long bool, favorable, level decimal.Decimal) bool {
	if long {
		return favorable.GreaterThanOrEqual(level)
	}
	return favorable.LessThanOrEqual(level)
}

// gapFill returns the open when the bar opened beyond the level.
func gapFill(long, protective bool, open, level decimal.Decimal) decimal.Decimal {
	if open.IsZero() {
		return level
	}
	// A long stop gapped down, or a short target gapped down: open is below level.
	belowFill := (long && protective) || (!long && !protective)
	if belowFill && open.LessThan(level) {
		return open
	}
	if !belowFill && open.GreaterThan(level) {
		return open
	}
	return level
}
