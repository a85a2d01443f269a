package ingest

import (
	"context"
	"fmt"

	"github.com/mhealthlab/collector/internal/observer"
	"github.com/mhealthlab/collector/internal/storage"
)

// CreateObserver parses, checks, and persists a brand-new observer
// definition. The ID must not already be stored at any version.
func (s *Service) CreateObserver(ctx context.Context, raw []byte) (*observer.Observer, error) {
	obs, err := observer.Parse(raw)
	if err != nil {
		return nil, err
	}

	current, err := s.store.GreatestObserverVersion(ctx, obs.ID)
	if err != nil {
		return nil, err
	}
	if current != 0 {
		return nil, fmt.Errorf("%w: %q at version %d", ErrObserverExists, obs.ID, current)
	}

	if err := s.store.SaveObserver(ctx, obs); err != nil {
		return nil, err
	}
	s.logger.Info("observer created", "observer_id", obs.ID, "version", obs.Version)
	return obs, nil
}

// UpdateObserver persists a new version of an existing observer. The new
// observer version must strictly increase, no stream version may decrease,
// and a stream whose version is unchanged must keep a byte-for-byte
// identical definition.
func (s *Service) UpdateObserver(ctx context.Context, observerID string, raw []byte) (*observer.Observer, error) {
	obs, err := observer.Parse(raw)
	if err != nil {
		return nil, err
	}
	if obs.ID != observerID {
		return nil, fmt.Errorf("definition id %q does not match %q", obs.ID, observerID)
	}

	current, err := s.store.GreatestObserverVersion(ctx, obs.ID)
	if err != nil {
		return nil, err
	}
	if current == 0 {
		return nil, fmt.Errorf("observer %q: %w", obs.ID, storage.ErrObserverNotFound)
	}

	currentStreams := make(map[string]int64, len(obs.Streams))
	for id := range obs.Streams {
		version, ok, err := s.store.GreatestStreamVersion(ctx, obs.ID, id)
		if err != nil {
			return nil, err
		}
		if ok {
			currentStreams[id] = version
		}
	}

	unchanged, err := observer.VerifyUpdate(obs, current, currentStreams)
	if err != nil {
		return nil, err
	}
	for id, version := range unchanged {
		stored, err := s.store.StreamDefinition(ctx, obs.ID, id, version)
		if err != nil {
			return nil, err
		}
		same, err := observer.SameDefinition(obs.Streams[id], stored)
		if err != nil {
			return nil, err
		}
		if !same {
			return nil, fmt.Errorf(
				"%w: stream %q changed its definition without a version bump",
				observer.ErrInvalidVersion, id)
		}
	}

	if err := s.store.SaveObserver(ctx, obs); err != nil {
		return nil, err
	}
	s.logger.Info("observer updated", "observer_id", obs.ID, "version", obs.Version)
	return obs, nil
}

// GetObserver returns an observer definition, at an exact version when
// version is non-zero, otherwise at the latest.
func (s *Service) GetObserver(ctx context.Context, id string, version int64) (*observer.Observer, error) {
	if version > 0 {
		return s.store.ObserverAt(ctx, id, version)
	}
	return s.store.Observer(ctx, id)
}
