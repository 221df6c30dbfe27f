// internal/context/types.go
package context

import "time"

// MarketRegime represents a symbol's trend regime as classified upstream.
type MarketRegime string

const (
	RegimeStrongUptrend MarketRegime = "strong_uptrend"
	RegimeCorrection    MarketRegime = "correction"
	RegimeSideways      MarketRegime = "sideways"
	RegimeBottomBounce  MarketRegime = "bottom_bounce"
	RegimeDowntrend     MarketRegime = "downtrend"
)

// RouteState is the trade phase classification of a symbol.
type RouteState string

const (
	RouteAttack   RouteState = "attack"
	RouteArmed    RouteState = "armed"
	RouteWait     RouteState = "wait"
	RouteOverheat RouteState = "overheat"
	RouteNeutral  RouteState = "neutral"
)

// Tradable reports whether new entries are allowed in this phase.
func (r RouteState) Tradable() bool {
	return r == RouteAttack || r == RouteArmed
}

// GlobalScore is a composite cross-sectional ranking score for one symbol.
type GlobalScore struct {
	Ticker     string             `json:"ticker" yaml:"ticker"`
	Score      float64            `json:"score" yaml:"score"` // 0-100
	Grade      string             `json:"grade,omitempty" yaml:"grade,omitempty"`
	Components map[string]float64 `json:"components,omitempty" yaml:"components,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at" yaml:"updated_at"`
}

// StructuralFeatures describes the price structure of one symbol.
type StructuralFeatures struct {
	LowTrend      float64 `json:"low_trend" yaml:"low_trend"`
	VolumeQuality float64 `json:"vol_quality" yaml:"vol_quality"`
	RangePosition float64 `json:"range_pos" yaml:"range_pos"` // 0 = range low, 1 = range high
	DistanceMA20  float64 `json:"dist_ma20" yaml:"dist_ma20"` // percent
	BBWidth       float64 `json:"bb_width" yaml:"bb_width"`   // percent
	RSI           float64 `json:"rsi" yaml:"rsi"`
}

// MacroRisk grades the macro environment.
type MacroRisk string

const (
	MacroNormal   MacroRisk = "normal"
	MacroCaution  MacroRisk = "caution"
	MacroCritical MacroRisk = "critical"
)

// MacroEnvironment is the single global macro record.
type MacroEnvironment struct {
	Risk            MacroRisk `json:"risk" yaml:"risk"`
	USDKRW          float64   `json:"usd_krw" yaml:"usd_krw"`
	NasdaqChangePct float64   `json:"nasdaq_change_pct" yaml:"nasdaq_change_pct"`
	VIX             float64   `json:"vix" yaml:"vix"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"updated_at"`
}

// MarketTemperature summarizes breadth.
type MarketTemperature string

const (
	TemperatureOverheat MarketTemperature = "overheat"
	TemperatureNeutral  MarketTemperature = "neutral"
	TemperatureCold     MarketTemperature = "cold"
)

// MarketBreadth is the single global breadth record.
type MarketBreadth struct {
	AboveMA20Ratio float64           `json:"above_ma20_ratio" yaml:"above_ma20_ratio"` // 0-1
	AdvanceDecline float64           `json:"advance_decline" yaml:"advance_decline"`
	Temperature    MarketTemperature `json:"temperature" yaml:"temperature"`
	UpdatedAt      time.Time         `json:"updated_at" yaml:"updated_at"`
}
