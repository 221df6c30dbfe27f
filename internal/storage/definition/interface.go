// Package definition persists strategy definitions so a restarted process
// can restore the strategies it was running.
package definition

import (
	"context"
	"time"
)

// Record is one persisted strategy definition. Params is the full
// configuration document, exit overrides included.
type Record struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Name      string         `json:"name"`
	Params    map[string]any `json:"params"`
	Running   bool           `json:"running"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Store defines the interface for strategy definition persistence.
type Store interface {
	// Save inserts or replaces a record.
	Save(ctx context.Context, r Record) error

	// Get retrieves a record by id.
	Get(ctx context.Context, id string) (*Record, error)

	// Delete removes a record. Deleting a missing record is NOT_FOUND.
	Delete(ctx context.Context, id string) error

	// List returns every record ordered by creation time.
	List(ctx context.Context) ([]Record, error)
}
