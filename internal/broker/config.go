package broker

import (
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/newthinker/tradecore/internal/core"
)

// ExecutionMode determines how orders are processed.
type ExecutionMode string

const (
	// ExecutionAuto executes orders immediately.
	ExecutionAuto ExecutionMode = "auto"
	// ExecutionConfirm requires manual confirmation before execution.
	ExecutionConfirm ExecutionMode = "confirm"
)

// Config holds the live execution settings: the paper account, how
// signals are sized and the risk limits applied to new exposure.
type Config struct {
	Enabled bool          `mapstructure:"enabled"`
	Mode    ExecutionMode `mapstructure:"mode" validate:"oneof=auto confirm"`

	InitialCash    float64 `mapstructure:"initial_cash" validate:"gt=0"`
	CommissionRate float64 `mapstructure:"commission_rate" validate:"gte=0,lt=1"`
	SlippageRate   float64 `mapstructure:"slippage_rate" validate:"gte=0,lt=1"`
	AllowShort     bool    `mapstructure:"allow_short"`

	// SizePct is the share of account value committed by an entry signal
	// that leaves the quantity open.
	SizePct            float64 `mapstructure:"size_pct" validate:"gt=0,lte=100"`
	FractionalQuantity bool    `mapstructure:"fractional_quantity"`

	Risk RiskConfig `mapstructure:"risk"`
}

// DefaultConfig returns a disabled paper account with KRX-style costs.
func DefaultConfig() Config {
	return Config{
		Mode:           ExecutionAuto,
		InitialCash:    10_000_000,
		CommissionRate: 0.00015,
		SlippageRate:   0.0005,
		SizePct:        5,
		Risk:           DefaultRiskConfig(),
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

func pct(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Div(decimal.NewFromInt(100))
}
