// Package ingest implements the upload half of the collection pipeline:
// incoming batches are validated against the observer's stream definitions,
// pruned of points already persisted, and stored, with rejected points
// written to the invalid-data sink.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mhealthlab/collector/internal/metrics"
	"github.com/mhealthlab/collector/internal/observer"
	"github.com/mhealthlab/collector/internal/storage"
)

// ErrBatchTooLarge is returned when an upload exceeds the configured batch cap.
var ErrBatchTooLarge = errors.New("batch exceeds the maximum number of points")

// ErrObserverExists is returned when creating an observer whose ID is taken.
var ErrObserverExists = errors.New("observer already exists")

// Service runs the ingestion pipeline against a Store.
type Service struct {
	store    storage.Store
	logger   *slog.Logger
	maxBatch int
}

func NewService(store storage.Store, logger *slog.Logger, maxBatch int) *Service {
	return &Service{store: store, logger: logger, maxBatch: maxBatch}
}

// Receipt reports what happened to each part of an upload batch.
type Receipt struct {
	// Accepted counts the points persisted.
	Accepted int `json:"accepted"`
	// Duplicates counts the points dropped because their ID was already
	// stored. Dropping a duplicate is not a failure.
	Duplicates int `json:"duplicates"`
	// Invalid lists the rejected points with their reasons.
	Invalid []observer.InvalidPoint `json:"invalid,omitempty"`
}

// Upload validates, deduplicates, and persists one batch of data points for
// the observer's latest definition. Validation runs best-effort: a bad point
// is recorded and the rest of the batch continues. A payload that is not a
// JSON array fails the whole batch.
func (s *Service) Upload(ctx context.Context, username, observerID string, raw []byte) (*Receipt, error) {
	obs, err := s.store.Observer(ctx, observerID)
	if err != nil {
		return nil, err
	}

	points, invalid, err := obs.ValidateData(raw, true)
	if err != nil {
		return nil, err
	}
	if len(points)+len(invalid) > s.maxBatch {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(points)+len(invalid), s.maxBatch)
	}
	for _, p := range invalid {
		s.logger.Warn("invalid point",
			"observer_id", obs.ID,
			"observer_version", obs.Version,
			"index", p.Index,
			"reason", p.Reason,
		)
	}

	surviving, dropped, err := s.filterDuplicates(ctx, username, obs.ID, points)
	if err != nil {
		return nil, err
	}

	if err := s.store.StorePoints(ctx, username, obs.ID, surviving); err != nil {
		return nil, err
	}
	if err := s.store.StoreInvalidPoints(ctx, username, obs.ID, obs.Version, invalid); err != nil {
		return nil, err
	}

	metrics.PointsValidated.WithLabelValues("accepted").Add(float64(len(surviving)))
	metrics.PointsValidated.WithLabelValues("rejected").Add(float64(len(invalid)))
	metrics.PointsDuplicate.Add(float64(dropped))

	return &Receipt{
		Accepted:   len(surviving),
		Duplicates: dropped,
		Invalid:    invalid,
	}, nil
}

// filterDuplicates removes points whose client-supplied ID is already
// persisted for (username, observer, stream, stream version). Points without
// an ID are always kept, and two points sharing an ID within the same batch
// are both kept: only persisted history is consulted.
func (s *Service) filterDuplicates(ctx context.Context, username, observerID string, points []observer.DataPoint) ([]observer.DataPoint, int, error) {
	type streamKey struct {
		id      string
		version int64
	}

	uploadIDs := make(map[streamKey][]string)
	for _, p := range points {
		if p.PointID == "" {
			continue
		}
		k := streamKey{p.StreamID, p.StreamVersion}
		uploadIDs[k] = append(uploadIDs[k], p.PointID)
	}
	if len(uploadIDs) == 0 {
		return points, 0, nil
	}

	existing := make(map[streamKey]map[string]bool, len(uploadIDs))
	for k, ids := range uploadIDs {
		duplicates, err := s.store.DuplicateIDs(ctx, username, observerID, k.id, k.version, ids)
		if err != nil {
			return nil, 0, err
		}
		set := make(map[string]bool, len(duplicates))
		for _, id := range duplicates {
			set[id] = true
		}
		existing[k] = set
	}

	surviving := points[:0]
	dropped := 0
	for _, p := range points {
		if p.PointID != "" && existing[streamKey{p.StreamID, p.StreamVersion}][p.PointID] {
			dropped++
			continue
		}
		surviving = append(surviving, p)
	}
	return surviving, dropped, nil
}

// InvalidData returns a user's rejected points for an observer, oldest first.
func (s *Service) InvalidData(ctx context.Context, username, observerID string, limit int) ([]observer.InvalidPoint, error) {
	return s.store.InvalidPoints(ctx, username, observerID, limit)
}
