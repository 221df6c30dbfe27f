// Package alert fires operational alerts when metric thresholds hold.
package alert

import (
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/newthinker/tradecore/internal/core"
)

// DefaultCooldown is the minimum gap between two firings of one rule.
const DefaultCooldown = 5 * time.Minute

var validate = validator.New()

// Evaluator checks rules against metric snapshots and publishes an
// EventAlert for every rule that fires.
type Evaluator struct {
	rules    []Rule
	sink     core.EventSink
	cooldown time.Duration

	mu        sync.Mutex
	pending   map[string]time.Time // condition first seen
	lastFired map[string]time.Time
	now       func() time.Time
}

// NewEvaluator validates and compiles rules. A non-positive cooldown
// selects DefaultCooldown.
func NewEvaluator(rules []Rule, sink core.EventSink, cooldown time.Duration) (*Evaluator, error) {
	compiled := make([]Rule, len(rules))
	for i, r := range rules {
		if err := validate.Struct(r); err != nil {
			return nil, core.WrapError(core.ErrConfigInvalid, err)
		}
		if err := r.Compile(); err != nil {
			return nil, err
		}
		compiled[i] = r
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Evaluator{
		rules:     compiled,
		sink:      sink,
		cooldown:  cooldown,
		pending:   make(map[string]time.Time),
		lastFired: make(map[string]time.Time),
		now:       time.Now,
	}, nil
}

// Rules returns the compiled rules.
func (e *Evaluator) Rules() []Rule {
	return e.rules
}

// Evaluate checks every rule against metrics and returns the alerts it
// published.
func (e *Evaluator) Evaluate(metrics map[string]float64) []core.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var fired []core.Event
	for i := range e.rules {
		r := &e.rules[i]
		holds, value := r.Holds(metrics)
		if !holds {
			delete(e.pending, r.Name)
			continue
		}

		if r.For > 0 {
			since, ok := e.pending[r.Name]
			if !ok {
				e.pending[r.Name] = now
				continue
			}
			if now.Sub(since) < r.For {
				continue
			}
		}
		if last, ok := e.lastFired[r.Name]; ok && now.Sub(last) < e.cooldown {
			continue
		}

		event := core.Event{
			ID:   uuid.NewString(),
			Type: core.EventAlert,
			Name: r.Name,
			Data: map[string]any{
				"severity": r.Severity,
				"expr":     r.Expr,
				"value":    value,
				"message":  r.message(value),
			},
			Timestamp: now,
		}
		if e.sink != nil {
			e.sink.Publish(event)
		}
		fired = append(fired, event)
		e.lastFired[r.Name] = now
		delete(e.pending, r.Name)
	}
	return fired
}
