// Package persistence defines the PersistenceAdapter contract shared by
// the JSON-file and relational drivers (§6): idempotent upserts keyed by
// simulation id, tolerant of unknown fields on load.
package persistence

import (
	"context"

	"github.com/aristath/marketsim/internal/domain"
)

// Adapter is implemented by every persistence driver.
type Adapter interface {
	// Save upserts the snapshot for id. Writes are idempotent: saving the
	// same id twice overwrites rather than duplicates.
	Save(ctx context.Context, id string, snapshot domain.SimulationSnapshot) error
	// Load returns the most recently saved snapshot for id. A missing
	// snapshot is reported via marketsimerr.KindNotFound, not a generic
	// error, so callers can distinguish "nothing saved yet" from a real
	// failure.
	Load(ctx context.Context, id string) (domain.SimulationSnapshot, error)
	// Close releases any held resources (file handles, connection pools).
	Close() error
}
