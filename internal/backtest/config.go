package backtest

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/newthinker/tradecore/internal/core"
)

// Config holds the simulation parameters. It is immutable for a run.
type Config struct {
	InitialCapital float64 `mapstructure:"initial_capital" json:"initial_capital" yaml:"initial_capital" validate:"gt=0"`
	CommissionRate float64 `mapstructure:"commission_rate" json:"commission_rate" yaml:"commission_rate" validate:"gte=0,lt=1"`
	SlippageRate   float64 `mapstructure:"slippage_rate" json:"slippage_rate" yaml:"slippage_rate" validate:"gte=0,lt=1"`
	AllowShort     bool    `mapstructure:"allow_short" json:"allow_short" yaml:"allow_short"`

	// PositionSizePct is the share of equity committed by a signal that
	// leaves the quantity to the executor.
	PositionSizePct    float64 `mapstructure:"position_size_pct" json:"position_size_pct" yaml:"position_size_pct" validate:"gt=0,lte=100"`
	FractionalQuantity bool    `mapstructure:"fractional_quantity" json:"fractional_quantity" yaml:"fractional_quantity"`

	PeriodsPerYear int     `mapstructure:"periods_per_year" json:"periods_per_year" yaml:"periods_per_year" validate:"gt=0"`
	RiskFreeRate   float64 `mapstructure:"risk_free_rate" json:"risk_free_rate" yaml:"risk_free_rate" validate:"gte=0,lt=1"`

	// Timeout bounds a run submitted to the Runner. Zero means no limit.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout" validate:"gte=0"`
}

// DefaultConfig returns the KRX-style defaults
func DefaultConfig() Config {
	return Config{
		InitialCapital:  10_000_000,
		CommissionRate:  0.00015,
		SlippageRate:    0.0005,
		PositionSizePct: 10,
		PeriodsPerYear:  252,
		Timeout:         5 * time.Minute,
	}
}

var validate = validator.New()

// Validate checks the config
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return core.WrapError(core.ErrConfigInvalid, err)
	}
	return nil
}

// params is the decimal form used by the simulation
type params struct {
	capital    decimal.Decimal
	commission decimal.Decimal
	slippage   decimal.Decimal
	sizePct    decimal.Decimal
}

func (c Config) decimals() params {
	return params{
		capital:    decimal.NewFromFloat(c.InitialCapital),
		commission: decimal.NewFromFloat(c.CommissionRate),
		slippage:   decimal.NewFromFloat(c.SlippageRate),
		sizePct:    decimal.NewFromFloat(c.PositionSizePct),
	}
}
