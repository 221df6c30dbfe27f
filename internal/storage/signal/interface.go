// Package signal journals the live signals the router accepted.
package signal

import (
	"context"
	"time"

	"github.com/newthinker/tradecore/internal/core"
)

// Entry is one routed signal together with the instance that produced it
type Entry struct {
	ID         string      `json:"id"`
	StrategyID string      `json:"strategy_id"`
	Signal     core.Signal `json:"signal"`
	RoutedAt   time.Time   `json:"routed_at"`
}

// Store defines the interface for the signal journal.
type Store interface {
	// Save appends an entry and returns its ID. An entry without an ID is
	// given one.
	Save(ctx context.Context, entry Entry) (string, error)

	// GetByID retrieves an entry by its ID.
	GetByID(ctx context.Context, id string) (*Entry, error)

	// List retrieves entries matching the filter, oldest first.
	List(ctx context.Context, filter ListFilter) ([]Entry, error)

	// Count returns the number of entries matching the filter.
	Count(ctx context.Context, filter ListFilter) (int, error)
}

// ListFilter defines criteria for listing entries.
type ListFilter struct {
	StrategyID string
	Symbol     string
	Kind       core.SignalKind
	Action     core.Action
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}
