package backtest

import (
	"math"

	"github.com/shopspring/decimal"
)

// profitFactorCap stands in for an infinite profit factor (profit, no loss)
var profitFactorCap = decimal.NewFromInt(999)

// calculateMetrics aggregates the trade log and equity curve
func calculateMetrics(cfg Config, curve []EquityPoint, trades []Trade) Metrics {
	capital := decimal.NewFromFloat(cfg.InitialCapital)
	m := Metrics{}
	if len(curve) == 0 || !capital.IsPositive() {
		return m
	}

	final := curve[len(curve)-1].Equity
	m.NetProfit = final.Sub(capital)
	m.TotalReturnPct = final.Div(capital).Sub(decimal.NewFromInt(1)).Mul(hundred)
	m.AnnualizedReturnPct = annualize(final.Div(capital), curve)

	var grossProfit, grossLoss decimal.Decimal
	for _, t := range trades {
		m.TotalCommission = m.TotalCommission.Add(t.Commission)
		switch {
		case t.IsWin():
			m.WinningTrades++
			grossProfit = grossProfit.Add(t.PnL)
		case t.PnL.IsNegative():
			m.LosingTrades++
			grossLoss = grossLoss.Add(t.PnL.Neg())
		default:
			m.LosingTrades++ // break-even counts against the win rate
		}
	}
	m.TotalTrades = len(trades)
	if m.TotalTrades > 0 {
		m.WinRatePct = decimal.NewFromInt(int64(m.WinningTrades)).
			Div(decimal.NewFromInt(int64(m.TotalTrades))).Mul(hundred)
	}

	switch {
	case grossLoss.IsPositive():
		m.ProfitFactor = decimal.Min(grossProfit.Div(grossLoss), profitFactorCap)
	case grossProfit.IsPositive():
		m.ProfitFactor = profitFactorCap
	}

	m.MaxDrawdownPct = calculateMaxDrawdown(curve)
	m.SharpeRatio = decimal.NewFromFloat(
		calculateSharpeRatio(periodReturns(capital, curve), cfg.PeriodsPerYear, cfg.RiskFreeRate)).Round(6)
	return m
}

// annualize compounds the growth factor over the curve's calendar span
func annualize(growth decimal.Decimal, curve []EquityPoint) decimal.Decimal {
	days := curve[len(curve)-1].Time.Sub(curve[0].Time).Hours() / 24
	if days <= 0 {
		return decimal.Zero
	}
	g := growth.InexactFloat64()
	if g <= 0 {
		return decimal.NewFromInt(-100)
	}
	return decimal.NewFromFloat((math.Pow(g, 365/days) - 1) * 100).Round(6)
}

// calculateMaxDrawdown returns the largest drawdown on the curve in percent
func calculateMaxDrawdown(curve []EquityPoint) decimal.Decimal {
	maxDD := decimal.Zero
	for _, p := range curve {
		if p.DrawdownPct.GreaterThan(maxDD) {
			maxDD = p.DrawdownPct
		}
	}
	return maxDD
}

// periodReturns converts the equity curve to simple per-period returns,
// the first measured from the initial capital
func periodReturns(capital decimal.Decimal, curve []EquityPoint) []float64 {
	returns := make([]float64, 0, len(curve))
	prev := capital
	for _, p := range curve {
		if prev.IsPositive() {
			returns = append(returns, p.Equity.Div(prev).Sub(decimal.NewFromInt(1)).InexactFloat64())
		}
		prev = p.Equity
	}
	return returns
}

// calculateSharpeRatio annualizes the mean excess return over its sample
// standard deviation
func calculateSharpeRatio(returns []float64, periodsPerYear int, riskFree float64) float64 {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return 0
	}

	rf := riskFree / float64(periodsPerYear)
	var sum float64
	for _, r := range returns {
		sum += r - rf
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - rf - mean
		variance += d * d
	}
	stdDev := math.Sqrt(variance / float64(len(returns)-1))
	if stdDev < 1e-12 {
		return 0
	}
	return mean / stdDev * math.Sqrt(float64(periodsPerYear))
}
