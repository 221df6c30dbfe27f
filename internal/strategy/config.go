package strategy

import (
	"fmt"
	"maps"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/risk"
)

// Reserved configuration keys shared by every strategy
const (
	KeySymbols = "symbols"
	KeyExit    = "exit"
)

// Config is the structured key/value document handed to Initialize
type Config map[string]any

var validate = validator.New()

// Clone returns a copy that shares no maps with c
func (c Config) Clone() Config {
	if c == nil {
		return Config{}
	}
	out := make(Config, len(c))
	for k, v := range c {
		if m, ok := v.(map[string]any); ok {
			v = maps.Clone(m)
		}
		out[k] = v
	}
	return out
}

// Merge returns a copy of c with overrides applied key by key.
// Nested values such as the exit block are replaced, not merged.
func (c Config) Merge(overrides Config) Config {
	out := c.Clone()
	for k, v := range overrides.Clone() {
		out[k] = v
	}
	return out
}

// Decode fills target (a pointer to a params struct with mapstructure tags)
// from the document. Keys the target does not declare are ignored; the
// target's existing field values act as defaults.
func (c Config) Decode(target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return core.WrapError(core.ErrInternal, err)
	}
	if err := dec.Decode(map[string]any(c)); err != nil {
		return core.WrapError(core.ErrConfigInvalid, err)
	}
	if err := validate.Struct(target); err != nil {
		return core.WrapError(core.ErrConfigInvalid, err)
	}
	return nil
}

// Symbols returns the configured symbol list. Accepts a list or a
// comma-separated string.
func (c Config) Symbols() []string {
	switch v := c[KeySymbols].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			out = append(out, fmt.Sprint(s))
		}
		return out
	case string:
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ExitConfig resolves the exit rules: the preset for profile overlaid with
// the document's exit block.
func (c Config) ExitConfig(profile risk.Profile) (risk.ExitConfig, error) {
	base := risk.PresetFor(profile)
	raw, ok := c[KeyExit]
	if !ok || raw == nil {
		return base, nil
	}
	switch v := raw.(type) {
	case map[string]any:
		return base.Merge(v)
	case risk.ExitConfig:
		return v, v.Validate()
	case *risk.ExitConfig:
		return *v, v.Validate()
	default:
		return base, core.Errorf(core.ErrConfigInvalid, "exit must be a mapping, got %T", raw)
	}
}
