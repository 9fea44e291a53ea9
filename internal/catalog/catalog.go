// Package catalog is the client of the external event/pick catalog.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/seisworks/dlrepick/internal/model"
)

// ErrNotFound is returned when an object does not exist in the catalog.
var ErrNotFound = errors.New("catalog: not found")

// Catalog is the access contract of the external catalog service. The
// catalog guarantees atomic object creation; PublishPicks is atomic for
// the whole batch.
type Catalog interface {
	// LoadEvent retrieves the event envelope by ID.
	LoadEvent(ctx context.Context, id string) (model.Event, error)

	// LoadOrigin retrieves an origin, optionally with its arrivals.
	LoadOrigin(ctx context.Context, id string, withArrivals bool) (model.Origin, error)

	// PicksForOrigin retrieves the picks associated with an origin.
	PicksForOrigin(ctx context.Context, originID string) ([]model.Pick, error)

	// PicksForTimeRange retrieves all picks in [t0, t1).
	PicksForTimeRange(ctx context.Context, t0, t1 time.Time) ([]model.Pick, error)

	// PublishPicks creates the given picks. All or none are created.
	PublishPicks(ctx context.Context, picks []model.Pick) error

	// PublishOrigin creates an origin with its arrivals and references
	// it from its event.
	PublishOrigin(ctx context.Context, eventID string, origin model.Origin) error

	// Ping validates the catalog is reachable.
	Ping(ctx context.Context) error
}
