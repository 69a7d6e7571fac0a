package statemanager

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("state not found")

// State is one journal record for a resource, e.g. the last reconciliation
// of a package on a host.
type State struct {
	ID          string                 `json:"id"`
	ResourceID  string                 `json:"resource_id"` // host/package
	Version     int                    `json:"version"`     // incremented on every Save
	Timestamp   time.Time              `json:"timestamp"`
	Data        map[string]interface{} `json:"data"`
	ChangedBy   string                 `json:"changed_by"`
	Description string                 `json:"description"`
}

// StateManager stores journal records. It is write-mostly: nothing in the
// reconcile path reads a record back.
type StateManager interface {
	// Save stores the state and returns the ID of the stored record.
	Save(ctx context.Context, state State) (string, error)

	// Get returns the latest record for resourceID.
	Get(ctx context.Context, resourceID string) (State, error)

	// List returns every latest record, ordered by resource ID.
	List(ctx context.Context) ([]State, error)

	Delete(ctx context.Context, resourceID string) error

	Exists(ctx context.Context, resourceID string) (bool, error)
}
