// Package notifier fans live signals and strategy lifecycle events out to
// external channels.
package notifier

import (
	"context"

	"github.com/newthinker/tradecore/internal/core"
)

// Config holds notifier configuration
type Config struct {
	Type   string         `mapstructure:"type" validate:"required,oneof=webhook telegram websocket"`
	Params map[string]any `mapstructure:"params"`
}

// Notifier defines the interface for signal and event notification
type Notifier interface {
	// Name returns the unique identifier for this notifier
	Name() string

	// Init initializes the notifier with configuration
	Init(cfg Config) error

	// Send sends a single signal notification
	Send(ctx context.Context, signal core.Signal) error

	// SendBatch sends multiple signal notifications
	SendBatch(ctx context.Context, signals []core.Signal) error

	// SendEvent forwards a strategy lifecycle event
	SendEvent(ctx context.Context, event core.Event) error
}

// SignalPayload is the JSON shape shared by the push notifiers
func SignalPayload(s core.Signal) map[string]any {
	return map[string]any{
		"type":         "signal",
		"id":           s.ID,
		"symbol":       s.Symbol,
		"kind":         s.Kind,
		"action":       s.Action,
		"strength":     s.Strength,
		"price":        s.Price.String(),
		"quantity":     s.Quantity.String(),
		"reason":       s.Reason,
		"strategy":     s.Strategy,
		"metadata":     s.Metadata,
		"generated_at": s.GeneratedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// EventPayload is the JSON shape of a lifecycle event
func EventPayload(e core.Event) map[string]any {
	return map[string]any{
		"type":        "event",
		"id":          e.ID,
		"event":       e.Type,
		"strategy_id": e.StrategyID,
		"name":        e.Name,
		"running":     e.Running,
		"data":        e.Data,
		"timestamp":   e.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
	}
}
