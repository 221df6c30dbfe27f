package strategy

import (
	"time"

	stratctx "github.com/newthinker/tradecore/internal/context"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/risk"
)

// Base carries the bookkeeping shared by all strategy kinds. Embed it and
// call Setup from Initialize.
type Base struct {
	ctx          *stratctx.Context
	boundCtx     *stratctx.Context
	cfg          Config
	exit         risk.ExitConfig
	symbols      []string
	initialized  bool
	signals      int64
	lastSignalAt *time.Time
}

// SetContext attaches the shared analytics context
func (b *Base) SetContext(ctx *stratctx.Context) {
	b.ctx = ctx
}

// Context returns the attached context, nil if none
func (b *Base) Context() *stratctx.Context {
	return b.ctx
}

// Setup decodes cfg into params, resolves exit rules for profile and marks
// the strategy initialized. On error the previous state is kept.
func (b *Base) Setup(cfg Config, profile risk.Profile, params any) error {
	if params != nil {
		if err := cfg.Decode(params); err != nil {
			return err
		}
	}
	exit, err := cfg.ExitConfig(profile)
	if err != nil {
		return err
	}
	b.cfg = cfg.Clone()
	b.exit = exit
	b.symbols = cfg.Symbols()
	b.boundCtx = b.ctx
	b.initialized = true
	return nil
}

// Config returns a copy of the document passed to the last successful Setup
func (b *Base) Config() Config {
	return b.cfg.Clone()
}

// ExitConfig returns the exit rules resolved at Setup
func (b *Base) ExitConfig() risk.ExitConfig {
	return b.exit
}

// Initialized reports whether Setup succeeded at least once
func (b *Base) Initialized() bool {
	return b.initialized
}

// Symbols returns the configured symbols; empty means every symbol
func (b *Base) Symbols() []string {
	return b.symbols
}

// Accepts reports whether the strategy trades symbol
func (b *Base) Accepts(symbol string) bool {
	if len(b.symbols) == 0 {
		return true
	}
	for _, s := range b.symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Emit stamps signals with the strategy name and counts them
func (b *Base) Emit(name string, at time.Time, signals ...core.Signal) []core.Signal {
	if len(signals) == 0 {
		return nil
	}
	for i := range signals {
		signals[i].Strategy = name
		if signals[i].GeneratedAt.IsZero() {
			signals[i].GeneratedAt = at
		}
	}
	b.signals += int64(len(signals))
	t := at
	b.lastSignalAt = &t
	return signals
}

// BaseStatus fills the common Status fields
func (b *Base) BaseStatus(name, version string) Status {
	return Status{
		Name:             name,
		Version:          version,
		Initialized:      b.initialized,
		ContextBound:     b.initialized && b.boundCtx != nil && b.boundCtx == b.ctx,
		Symbols:          b.symbols,
		SignalsGenerated: b.signals,
		LastSignalAt:     b.lastSignalAt,
	}
}
