package broker

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// RiskConfig defines risk management parameters.
type RiskConfig struct {
	// MaxPositionPct is the maximum percentage of account value allowed in
	// a single order.
	MaxPositionPct float64 `mapstructure:"max_position_pct" validate:"gt=0,lte=100"`
	// MaxDailyLossPct is the realized daily loss at which new exposure is
	// refused.
	MaxDailyLossPct float64 `mapstructure:"max_daily_loss_pct" validate:"gt=0,lte=100"`
	// MaxOpenPositions is the maximum number of concurrent positions.
	MaxOpenPositions int `mapstructure:"max_open_positions" validate:"gt=0"`
}

// DefaultRiskConfig returns a RiskConfig with sensible default values.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxPositionPct:   10.0,
		MaxDailyLossPct:  5.0,
		MaxOpenPositions: 20,
	}
}

// RiskCheckResult represents the outcome of a risk check.
type RiskCheckResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// RiskChecker validates orders that open or add exposure.
type RiskChecker struct {
	config RiskConfig
	broker Broker
}

// NewRiskChecker creates a new RiskChecker with the given configuration and broker.
func NewRiskChecker(config RiskConfig, broker Broker) *RiskChecker {
	return &RiskChecker{
		config: config,
		broker: broker,
	}
}

// Check validates an order request priced at price.
func (r *RiskChecker) Check(ctx context.Context, req OrderRequest, price decimal.Decimal) RiskCheckResult {
	balance, err := r.broker.GetBalance(ctx)
	if err != nil {
		return RiskCheckResult{Reason: fmt.Sprintf("failed to get balance: %v", err)}
	}
	positions, err := r.broker.GetPositions(ctx)
	if err != nil {
		return RiskCheckResult{Reason: fmt.Sprintf("failed to get positions: %v", err)}
	}

	if balance.TotalValue.IsPositive() && balance.DailyPL.IsNegative() {
		lossPct := balance.DailyPL.Neg().Div(balance.TotalValue).Mul(decimal.NewFromInt(100))
		if lossPct.GreaterThanOrEqual(decimal.NewFromFloat(r.config.MaxDailyLossPct)) {
			return RiskCheckResult{
				Reason: fmt.Sprintf("daily loss limit reached: %s%% >= %.2f%%", lossPct.StringFixed(2), r.config.MaxDailyLossPct),
			}
		}
	}

	held := false
	for _, p := range positions {
		if p.Symbol == req.Symbol {
			held = true
			break
		}
	}
	if !held && len(positions) >= r.config.MaxOpenPositions {
		return RiskCheckResult{
			Reason: fmt.Sprintf("max open positions reached: %d >= %d", len(positions), r.config.MaxOpenPositions),
		}
	}

	if balance.TotalValue.IsPositive() {
		sizePct := req.Quantity.Mul(price).Div(balance.TotalValue).Mul(decimal.NewFromInt(100))
		if sizePct.GreaterThan(decimal.NewFromFloat(r.config.MaxPositionPct)) {
			return RiskCheckResult{
				Reason: fmt.Sprintf("position size too large: %s%% > %.2f%%", sizePct.StringFixed(2), r.config.MaxPositionPct),
			}
		}
	}

	return RiskCheckResult{Allowed: true}
}
