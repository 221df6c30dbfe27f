// Package catalog wires every built-in strategy into a registry.
package catalog

import (
	"github.com/newthinker/tradecore/internal/strategy"
	"github.com/newthinker/tradecore/internal/strategy/breakout"
	"github.com/newthinker/tradecore/internal/strategy/grid"
	"github.com/newthinker/tradecore/internal/strategy/rotation"
	"github.com/newthinker/tradecore/internal/strategy/rsi"
	"github.com/newthinker/tradecore/internal/strategy/sma"
)

// Metas returns the metadata of every built-in strategy
func Metas() []strategy.Meta {
	return []strategy.Meta{
		sma.Meta(),
		rsi.Meta(),
		grid.Meta(),
		rotation.Meta(),
		breakout.Meta(),
	}
}

// Registry returns a registry of the built-in strategies
func Registry() *strategy.Registry {
	return strategy.MustRegistry(Metas()...)
}
