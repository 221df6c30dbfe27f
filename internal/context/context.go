// Package context holds the shared analytics snapshot read by strategies.
//
// Every field is replaced as a whole through its Update method; readers load
// the current pointer and never see a half-written value. The maps returned
// by the getters are shared and must be treated as read-only.
package context

import (
	"maps"
	"sync/atomic"
)

// Context is safe for concurrent use by many readers and a few refreshers.
type Context struct {
	globalScores atomic.Pointer[map[string]GlobalScore]
	routeStates  atomic.Pointer[map[string]RouteState]
	regimes      atomic.Pointer[map[string]MarketRegime]
	features     atomic.Pointer[map[string]StructuralFeatures]
	macro        atomic.Pointer[MacroEnvironment]
	breadth      atomic.Pointer[MarketBreadth]
	version      atomic.Uint64
}

// New returns an empty context.
func New() *Context {
	return &Context{}
}

// Snapshot is a point-in-time copy of the field pointers. Each field is
// internally consistent; fields may come from different refresh rounds.
type Snapshot struct {
	GlobalScores map[string]GlobalScore        `json:"global_scores" yaml:"global_scores"`
	RouteStates  map[string]RouteState         `json:"route_states" yaml:"route_states"`
	Regimes      map[string]MarketRegime       `json:"market_regimes" yaml:"market_regimes"`
	Features     map[string]StructuralFeatures `json:"structural_features" yaml:"structural_features"`
	Macro        *MacroEnvironment             `json:"macro_environment,omitempty" yaml:"macro_environment,omitempty"`
	Breadth      *MarketBreadth                `json:"market_breadth,omitempty" yaml:"market_breadth,omitempty"`
	Version      uint64                        `json:"version" yaml:"-"`
}

// UpdateGlobalScores replaces all global scores.
func (c *Context) UpdateGlobalScores(scores map[string]GlobalScore) {
	m := make(map[string]GlobalScore, len(scores))
	for k, v := range scores {
		v.Components = maps.Clone(v.Components)
		m[k] = v
	}
	c.globalScores.Store(&m)
	c.version.Add(1)
}

// UpdateRouteStates replaces all route states.
func (c *Context) UpdateRouteStates(states map[string]RouteState) {
	m := maps.Clone(states)
	c.routeStates.Store(&m)
	c.version.Add(1)
}

// UpdateMarketRegimes replaces all market regimes.
func (c *Context) UpdateMarketRegimes(regimes map[string]MarketRegime) {
	m := maps.Clone(regimes)
	c.regimes.Store(&m)
	c.version.Add(1)
}

// UpdateStructuralFeatures replaces all structural features.
func (c *Context) UpdateStructuralFeatures(features map[string]StructuralFeatures) {
	m := maps.Clone(features)
	c.features.Store(&m)
	c.version.Add(1)
}

// UpdateMacroEnvironment replaces the macro record.
func (c *Context) UpdateMacroEnvironment(env MacroEnvironment) {
	c.macro.Store(&env)
	c.version.Add(1)
}

// UpdateMarketBreadth replaces the breadth record.
func (c *Context) UpdateMarketBreadth(b MarketBreadth) {
	c.breadth.Store(&b)
	c.version.Add(1)
}

// GlobalScores returns the current score map, nil if never set.
func (c *Context) GlobalScores() map[string]GlobalScore {
	if p := c.globalScores.Load(); p != nil {
		return *p
	}
	return nil
}

// RouteStates returns the current route state map.
func (c *Context) RouteStates() map[string]RouteState {
	if p := c.routeStates.Load(); p != nil {
		return *p
	}
	return nil
}

// MarketRegimes returns the current regime map.
func (c *Context) MarketRegimes() map[string]MarketRegime {
	if p := c.regimes.Load(); p != nil {
		return *p
	}
	return nil
}

// StructuralFeatures returns the current feature map.
func (c *Context) StructuralFeatures() map[string]StructuralFeatures {
	if p := c.features.Load(); p != nil {
		return *p
	}
	return nil
}

// MacroEnvironment returns the macro record and whether one was set.
func (c *Context) MacroEnvironment() (MacroEnvironment, bool) {
	if p := c.macro.Load(); p != nil {
		return *p, true
	}
	return MacroEnvironment{}, false
}

// MarketBreadth returns the breadth record and whether one was set.
func (c *Context) MarketBreadth() (MarketBreadth, bool) {
	if p := c.breadth.Load(); p != nil {
		return *p, true
	}
	return MarketBreadth{}, false
}

// GlobalScore looks up one ticker.
func (c *Context) GlobalScore(ticker string) (GlobalScore, bool) {
	s, ok := c.GlobalScores()[ticker]
	return s, ok
}

// RouteState looks up one ticker.
func (c *Context) RouteState(ticker string) (RouteState, bool) {
	s, ok := c.RouteStates()[ticker]
	return s, ok
}

// MarketRegime looks up one ticker.
func (c *Context) MarketRegime(ticker string) (MarketRegime, bool) {
	r, ok := c.MarketRegimes()[ticker]
	return r, ok
}

// Features looks up one ticker.
func (c *Context) Features(ticker string) (StructuralFeatures, bool) {
	f, ok := c.StructuralFeatures()[ticker]
	return f, ok
}

// Version increases on every update. Strategies may use it to skip
// recomputation when nothing changed.
func (c *Context) Version() uint64 {
	return c.version.Load()
}

// Snapshot returns the current value of every field.
func (c *Context) Snapshot() Snapshot {
	s := Snapshot{
		GlobalScores: c.GlobalScores(),
		RouteStates:  c.RouteStates(),
		Regimes:      c.MarketRegimes(),
		Features:     c.StructuralFeatures(),
		Version:      c.Version(),
	}
	if m, ok := c.MacroEnvironment(); ok {
		s.Macro = &m
	}
	if b, ok := c.MarketBreadth(); ok {
		s.Breadth = &b
	}
	return s
}

// Apply loads every non-empty field of s into the context.
func (c *Context) Apply(s Snapshot) {
	if s.GlobalScores != nil {
		c.UpdateGlobalScores(s.GlobalScores)
	}
	if s.RouteStates != nil {
		c.UpdateRouteStates(s.RouteStates)
	}
	if s.Regimes != nil {
		c.UpdateMarketRegimes(s.Regimes)
	}
	if s.Features != nil {
		c.UpdateStructuralFeatures(s.Features)
	}
	if s.Macro != nil {
		c.UpdateMacroEnvironment(*s.Macro)
	}
	if s.Breadth != nil {
		c.UpdateMarketBreadth(*s.Breadth)
	}
}
