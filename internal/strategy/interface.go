package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	stratctx "github.com/newthinker/tradecore/internal/context"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/risk"
)

// Status is what a strategy instance reports about itself
type Status struct {
	Name             string         `json:"name"`
	Version          string         `json:"version"`
	Initialized      bool           `json:"initialized"`
	ContextBound     bool           `json:"context_bound"` // context attached before Initialize
	Symbols          []string       `json:"symbols,omitempty"`
	SignalsGenerated int64          `json:"signals_generated"`
	LastSignalAt     *time.Time     `json:"last_signal_at,omitempty"`
	Details          map[string]any `json:"details,omitempty"`
}

// Strategy defines the capability set every strategy kind implements.
//
// SetContext must be called before Initialize. Callers serialize calls into
// one instance; implementations need no locking of their own.
type Strategy interface {
	Name() string
	Version() string
	Description() string
	SetContext(ctx *stratctx.Context)
	Context() *stratctx.Context
	Initialize(cfg Config) error
	OnCandle(candle core.OHLCV) ([]core.Signal, error)
	Status() Status
	Config() Config
	ExitConfig() risk.ExitConfig
}

// Fill describes an executed order reported back to a strategy
type Fill struct {
	Symbol   string
	Action   core.Action
	Kind     core.SignalKind
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Time     time.Time
}

// FillListener is implemented by strategies that track their own exposure
type FillListener interface {
	OnOrderFilled(fill Fill)
}

// PositionListener is implemented by strategies that want position updates,
// including exits forced by the risk evaluator.
type PositionListener interface {
	OnPositionUpdate(pos core.Position)
}
