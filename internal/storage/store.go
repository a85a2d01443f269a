package storage

import (
	"context"
	"errors"
	"time"

	"github.com/mhealthlab/collector/internal/observer"
	"github.com/mhealthlab/collector/internal/rollup"
)

// ErrObserverNotFound is returned when an observer lookup finds no matching row.
var ErrObserverNotFound = errors.New("observer not found")

// ErrStreamNotFound is returned when a stream definition lookup finds no matching row.
var ErrStreamNotFound = errors.New("stream not found")

// ResponseQuery filters the flat survey response rows fetched for a read
// request. Zero-valued fields are not applied. Limit bounds the number of
// flat rows; zero means the store default.
type ResponseQuery struct {
	SurveyIDs []string
	Usernames []string
	StartAt   time.Time
	EndAt     time.Time
	Limit     int
}

// Store is the persistence interface for the collection service.
type Store interface {
	// SaveObserver persists an observer definition version and its stream
	// definitions. Stream rows carrying an already-stored version are left
	// untouched.
	SaveObserver(ctx context.Context, o *observer.Observer) error

	// Observer returns the observer definition at its greatest version.
	Observer(ctx context.Context, id string) (*observer.Observer, error)

	// ObserverAt returns the observer definition at an exact version.
	ObserverAt(ctx context.Context, id string, version int64) (*observer.Observer, error)

	// GreatestObserverVersion returns the highest stored version for an
	// observer ID, or 0 when none exists.
	GreatestObserverVersion(ctx context.Context, id string) (int64, error)

	// GreatestStreamVersion returns the highest stored version of a stream
	// across all observer versions. The bool is false when the stream has
	// never been stored.
	GreatestStreamVersion(ctx context.Context, observerID, streamID string) (int64, bool, error)

	// StreamDefinition returns the stored stream definition at an exact version.
	StreamDefinition(ctx context.Context, observerID, streamID string, version int64) (*observer.Stream, error)

	// DuplicateIDs returns the subset of ids already persisted for
	// (username, observer, stream) at the given stream version.
	DuplicateIDs(ctx context.Context, username, observerID, streamID string, streamVersion int64, ids []string) ([]string, error)

	// StorePoints persists validated data points for a user.
	StorePoints(ctx context.Context, username, observerID string, points []observer.DataPoint) error

	// StoreInvalidPoints writes rejected points to the invalid-data sink.
	StoreInvalidPoints(ctx context.Context, username, observerID string, observerVersion int64, points []observer.InvalidPoint) error

	// InvalidPoints reads back a user's rejected points for an observer,
	// oldest first.
	InvalidPoints(ctx context.Context, username, observerID string, limit int) ([]observer.InvalidPoint, error)

	// StoreResponseRows persists flat survey response rows.
	StoreResponseRows(ctx context.Context, rows []rollup.Row) error

	// ResponseRows fetches the flat rows matching a read query, ordered by
	// insertion.
	ResponseRows(ctx context.Context, q ResponseQuery) ([]rollup.Row, error)
}
