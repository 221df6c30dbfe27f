// Package risk implements position exit rules that run independently of
// strategy signals.
package risk

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"github.com/newthinker/tradecore/internal/core"
)

// Profile names a trading style that has its own exit preset.
type Profile string

const (
	ProfileDefault       Profile = "default"
	ProfileDayTrading    Profile = "day_trading"
	ProfileMeanReversion Profile = "mean_reversion"
	ProfileGrid          Profile = "grid"
	ProfileRebalancing   Profile = "rebalancing"
	ProfileLeverage      Profile = "leverage"
	ProfileMomentum      Profile = "momentum"
)

// ExitConfig defines stop-loss, take-profit and trailing-stop parameters.
// All percentages are expressed in percent (2.0 means 2%).
type ExitConfig struct {
	StopLossEnabled bool    `mapstructure:"stop_loss_enabled" json:"stop_loss_enabled"`
	StopLossPct     float64 `mapstructure:"stop_loss_pct" json:"stop_loss_pct" validate:"gte=0,lt=100"`

	TakeProfitEnabled bool    `mapstructure:"take_profit_enabled" json:"take_profit_enabled"`
	TakeProfitPct     float64 `mapstructure:"take_profit_pct" json:"take_profit_pct" validate:"gte=0"`

	TrailingStopEnabled bool    `mapstructure:"trailing_stop_enabled" json:"trailing_stop_enabled"`
	TrailingTriggerPct  float64 `mapstructure:"trailing_trigger_pct" json:"trailing_trigger_pct" validate:"gte=0"`
	TrailingStopPct     float64 `mapstructure:"trailing_stop_pct" json:"trailing_stop_pct" validate:"gte=0"`

	ExitOnOppositeSignal bool `mapstructure:"exit_on_opposite_signal" json:"exit_on_opposite_signal"`
}

var validate = validator.New()

// DefaultExitConfig returns the preset used when a strategy declares no style.
func DefaultExitConfig() ExitConfig {
	return ExitConfig{
		StopLossEnabled:      true,
		StopLossPct:          2.0,
		TakeProfitEnabled:    true,
		TakeProfitPct:        4.0,
		TrailingStopEnabled:  false,
		TrailingTriggerPct:   2.0,
		TrailingStopPct:      1.0,
		ExitOnOppositeSignal: true,
	}
}

// PresetFor returns the exit preset for a trading style.
//
// Grid and rebalancing styles disable the stop-loss: drawdown there is
// handled by adding to the position or by the next rebalance, not by exiting.
func PresetFor(p Profile) ExitConfig {
	switch p {
	case ProfileDayTrading:
		return DefaultExitConfig()
	case ProfileMeanReversion:
		return ExitConfig{
			StopLossEnabled:      true,
			StopLossPct:          3.0,
			TakeProfitEnabled:    true,
			TakeProfitPct:        6.0,
			TrailingTriggerPct:   3.0,
			TrailingStopPct:      1.5,
			ExitOnOppositeSignal: true,
		}
	case ProfileGrid:
		return ExitConfig{
			StopLossEnabled:    false,
			StopLossPct:        10.0,
			TakeProfitEnabled:  true,
			TakeProfitPct:      3.0,
			TrailingTriggerPct: 2.0,
			TrailingStopPct:    1.0,
		}
	case ProfileRebalancing:
		return ExitConfig{
			StopLossPct:        15.0,
			TakeProfitPct:      30.0,
			TrailingTriggerPct: 5.0,
			TrailingStopPct:    2.0,
		}
	case ProfileLeverage:
		return ExitConfig{
			StopLossEnabled:      true,
			StopLossPct:          5.0,
			TakeProfitEnabled:    true,
			TakeProfitPct:        10.0,
			TrailingStopEnabled:  true,
			TrailingTriggerPct:   5.0,
			TrailingStopPct:      2.0,
			ExitOnOppositeSignal: true,
		}
	case ProfileMomentum:
		return ExitConfig{
			StopLossEnabled:      true,
			StopLossPct:          5.0,
			TakeProfitEnabled:    true,
			TakeProfitPct:        15.0,
			TrailingStopEnabled:  true,
			TrailingTriggerPct:   8.0,
			TrailingStopPct:      3.0,
			ExitOnOppositeSignal: true,
		}
	default:
		return DefaultExitConfig()
	}
}

// Validate checks the percentages are in range.
func (c ExitConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return core.WrapError(core.ErrConfigInvalid, err)
	}
	if c.TrailingStopEnabled && c.TrailingStopPct <= 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("trailing_stop_pct must be positive when the trailing stop is enabled"))
	}
	return nil
}

// Merge returns a copy of c with the keys present in overrides applied.
// Unknown keys are rejected.
func (c ExitConfig) Merge(overrides map[string]any) (ExitConfig, error) {
	out := c
	if len(overrides) == 0 {
		return out, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return c, core.WrapError(core.ErrInternal, err)
	}
	if err := dec.Decode(overrides); err != nil {
		return c, core.WrapError(core.ErrConfigInvalid, err)
	}
	if err := out.Validate(); err != nil {
		return c, err
	}
	return out, nil
}

// ToMap renders the config as a flat map, the inverse of Merge.
func (c ExitConfig) ToMap() map[string]any {
	return map[string]any{
		"stop_loss_enabled":       c.StopLossEnabled,
		"stop_loss_pct":           c.StopLossPct,
		"take_profit_enabled":     c.TakeProfitEnabled,
		"take_profit_pct":         c.TakeProfitPct,
		"trailing_stop_enabled":   c.TrailingStopEnabled,
		"trailing_trigger_pct":    c.TrailingTriggerPct,
		"trailing_stop_pct":       c.TrailingStopPct,
		"exit_on_opposite_signal": c.ExitOnOppositeSignal,
	}
}
