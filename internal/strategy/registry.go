package strategy

import (
	"fmt"
	"slices"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/go-viper/mapstructure/v2"
	"github.com/invopop/jsonschema"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/risk"
)

// Category is the execution cadence of a strategy
type Category string

const (
	CategoryRealtime Category = "realtime"
	CategoryIntraday Category = "intraday"
	CategoryDaily    Category = "daily"
	CategoryMonthly  Category = "monthly"
)

// Meta describes one strategy kind. Each strategy package exports a Meta()
// function; the catalog package collects them at startup.
type Meta struct {
	ID                  string            `json:"id"`
	Aliases             []string          `json:"aliases,omitempty"`
	Name                string            `json:"name"`
	Description         string            `json:"description"`
	Version             string            `json:"version"`
	Timeframe           string            `json:"timeframe"`
	SecondaryTimeframes []string          `json:"secondary_timeframes,omitempty"`
	DefaultSymbols      []string          `json:"default_symbols,omitempty"`
	Category            Category          `json:"category"`
	Markets             []core.MarketType `json:"markets"`
	Profile             risk.Profile      `json:"risk_profile"`

	// Params returns a params struct populated with defaults. It is used for
	// the JSON schema and the default configuration document.
	Params  func() any      `json:"-"`
	Factory func() Strategy `json:"-"`
}

// SupportsMarket reports whether the strategy can trade m
func (m Meta) SupportsMarket(mt core.MarketType) bool {
	return slices.Contains(m.Markets, mt)
}

// Registry is the immutable catalog of strategy kinds
type Registry struct {
	metas []Meta
	index map[string]int // id and aliases -> position in metas
}

// NewRegistry builds a catalog. Ids and aliases must be unique across all
// entries and every version must be valid semver.
func NewRegistry(metas ...Meta) (*Registry, error) {
	r := &Registry{
		metas: make([]Meta, 0, len(metas)),
		index: make(map[string]int, len(metas)*2),
	}
	for _, m := range metas {
		if m.ID == "" {
			return nil, core.Errorf(core.ErrConfigInvalid, "strategy meta without id")
		}
		if m.Factory == nil {
			return nil, core.Errorf(core.ErrConfigInvalid, "strategy %q has no factory", m.ID)
		}
		if _, err := semver.NewVersion(m.Version); err != nil {
			return nil, core.Errorf(core.ErrConfigInvalid, "strategy %q version %q: %v", m.ID, m.Version, err)
		}
		pos := len(r.metas)
		for _, key := range append([]string{m.ID}, m.Aliases...) {
			if prev, dup := r.index[key]; dup {
				return nil, core.Errorf(core.ErrConfigInvalid,
					"strategy key %q of %q already used by %q", key, m.ID, r.metas[prev].ID)
			}
			r.index[key] = pos
		}
		m.Aliases = slices.Clone(m.Aliases)
		m.Markets = slices.Clone(m.Markets)
		m.DefaultSymbols = slices.Clone(m.DefaultSymbols)
		m.SecondaryTimeframes = slices.Clone(m.SecondaryTimeframes)
		r.metas = append(r.metas, m)
	}
	return r, nil
}

// MustRegistry is NewRegistry that panics on error
func MustRegistry(metas ...Meta) *Registry {
	r, err := NewRegistry(metas...)
	if err != nil {
		panic(err)
	}
	return r
}

// ListIDs returns the canonical ids, sorted
func (r *Registry) ListIDs() []string {
	ids := make([]string, len(r.metas))
	for i, m := range r.metas {
		ids[i] = m.ID
	}
	sort.Strings(ids)
	return ids
}

// All returns every entry in declaration order
func (r *Registry) All() []Meta {
	return slices.Clone(r.metas)
}

// Find resolves an id or alias
func (r *Registry) Find(idOrAlias string) (Meta, bool) {
	pos, ok := r.index[idOrAlias]
	if !ok {
		return Meta{}, false
	}
	return r.metas[pos], true
}

// CreateInstance returns a new, uninitialized strategy
func (r *Registry) CreateInstance(idOrAlias string) (Strategy, error) {
	m, ok := r.Find(idOrAlias)
	if !ok {
		return nil, core.Errorf(core.ErrStrategyNotFound, "unknown strategy type %q", idOrAlias)
	}
	return m.Factory(), nil
}

// DefaultConfig returns the default params of a strategy kind as a
// configuration document, with the default symbols filled in.
func (r *Registry) DefaultConfig(idOrAlias string) (Config, error) {
	m, ok := r.Find(idOrAlias)
	if !ok {
		return nil, core.Errorf(core.ErrStrategyNotFound, "unknown strategy type %q", idOrAlias)
	}
	cfg := Config{}
	if m.Params != nil {
		var out map[string]any
		if err := mapstructure.Decode(m.Params(), &out); err != nil {
			return nil, core.WrapError(core.ErrInternal, err)
		}
		for k, v := range out {
			cfg[k] = v
		}
	}
	if len(m.DefaultSymbols) > 0 {
		cfg[KeySymbols] = slices.Clone(m.DefaultSymbols)
	}
	return cfg, nil
}

// Schema returns the JSON schema of a strategy's params
func (r *Registry) Schema(idOrAlias string) (*jsonschema.Schema, error) {
	m, ok := r.Find(idOrAlias)
	if !ok {
		return nil, core.Errorf(core.ErrStrategyNotFound, "unknown strategy type %q", idOrAlias)
	}
	if m.Params == nil {
		return nil, core.Errorf(core.ErrNotFound, "strategy %q declares no params", m.ID)
	}
	reflector := &jsonschema.Reflector{
		DoNotReference:             true,
		AllowAdditionalProperties:  true,
		RequiredFromJSONSchemaTags: true,
	}
	s := reflector.Reflect(m.Params())
	s.Title = m.Name
	s.Description = m.Description
	s.ID = jsonschema.ID(fmt.Sprintf("urn:tradecore:strategy:%s", m.ID))
	return s, nil
}
