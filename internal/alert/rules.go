package alert

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/tradecore/internal/core"
)

// Rule is a threshold on one operational metric, e.g.
// "execution_failed > 3". It fires once the condition has held for For.
type Rule struct {
	Name     string        `mapstructure:"name" json:"name" validate:"required"`
	Expr     string        `mapstructure:"expr" json:"expr" validate:"required"`
	For      time.Duration `mapstructure:"for" json:"for"`
	Severity string        `mapstructure:"severity" json:"severity" validate:"omitempty,oneof=info warning critical"`
	Message  string        `mapstructure:"message" json:"message"`

	metric    string
	op        string
	threshold float64
}

var exprPattern = regexp.MustCompile(`^(\w+)\s*(>=|<=|==|!=|>|<)\s*(-?[\d.]+)$`)

// Compile parses Expr.
func (r *Rule) Compile() error {
	m := exprPattern.FindStringSubmatch(strings.TrimSpace(r.Expr))
	if len(m) != 4 {
		return core.Errorf(core.ErrConfigInvalid, "alert %q: cannot parse %q", r.Name, r.Expr)
	}
	threshold, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("alert %q: %w", r.Name, err))
	}
	r.metric, r.op, r.threshold = m[1], m[2], threshold
	if r.Severity == "" {
		r.Severity = "warning"
	}
	return nil
}

// Holds reports whether the condition is true and the metric value it
// saw. A metric missing from the snapshot never holds.
func (r *Rule) Holds(metrics map[string]float64) (bool, float64) {
	v, ok := metrics[r.metric]
	if !ok {
		return false, 0
	}
	switch r.op {
	case ">":
		return v > r.threshold, v
	case "<":
		return v < r.threshold, v
	case ">=":
		return v >= r.threshold, v
	case "<=":
		return v <= r.threshold, v
	case "==":
		return v == r.threshold, v
	case "!=":
		return v != r.threshold, v
	}
	return false, v
}

func (r *Rule) message(value float64) string {
	msg := r.Message
	if msg == "" {
		msg = r.Expr
	}
	return fmt.Sprintf("[%s] %s: %s (%s = %g)", strings.ToUpper(r.Severity), r.Name, msg, r.metric, value)
}
