package core

import "time"

// EventType names a strategy lifecycle transition or an operational alert
type EventType string

const (
	EventCreated       EventType = "created"
	EventStarted       EventType = "started"
	EventStopped       EventType = "stopped"
	EventConfigUpdated EventType = "config_updated"
	EventRiskUpdated   EventType = "risk_updated"
	EventCloned        EventType = "cloned"
	EventDeleted       EventType = "deleted"
	EventAlert         EventType = "alert"
)

// Event is emitted whenever a strategy changes lifecycle state or an alert
// rule fires
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"event"`
	StrategyID string         `json:"strategy_id"`
	Name       string         `json:"name"`
	Running    bool           `json:"running"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// EventSink receives lifecycle events. Implementations must not block for long.
type EventSink interface {
	Publish(event Event)
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(Event)

// Publish calls f(event)
func (f EventSinkFunc) Publish(event Event) { f(event) }

// NopSink discards events
type NopSink struct{}

// Publish does nothing
func (NopSink) Publish(Event) {}
