package observer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidVersion is returned when an observer update does not strictly
// increase the observer version, or decreases a contained stream's version.
var ErrInvalidVersion = errors.New("invalid version transition")

// VerifyUpdate checks that updated is a legal successor of the currently
// stored definition. The observer version must strictly increase, and no
// stream keyed by an existing ID may decrease its version.
//
// It returns the IDs of streams whose version is unchanged, mapped to that
// version. The caller must verify that those streams' definitions are
// byte-for-byte identical to the stored ones (see SameDefinition); streams
// with an increased version get a new definition row and streams absent from
// currentStreams are new.
func VerifyUpdate(updated *Observer, currentVersion int64, currentStreams map[string]int64) (map[string]int64, error) {
	if updated.Version <= currentVersion {
		return nil, fmt.Errorf(
			"%w: observer version must increase: %d <= %d",
			ErrInvalidVersion, updated.Version, currentVersion)
	}

	unchanged := make(map[string]int64)
	for id, s := range updated.Streams {
		stored, ok := currentStreams[id]
		if !ok {
			continue
		}
		switch {
		case s.Version < stored:
			return nil, fmt.Errorf(
				"%w: stream %q version must not decrease: %d < %d",
				ErrInvalidVersion, id, s.Version, stored)
		case s.Version == stored:
			unchanged[id] = stored
		}
	}
	return unchanged, nil
}

// SameDefinition reports whether two streams have byte-for-byte identical
// canonical definitions. Used for streams whose version did not change across
// an observer update.
func SameDefinition(a, b *Stream) (bool, error) {
	ab, err := json.Marshal(a)
	if err != nil {
		return false, fmt.Errorf("marshal stream %q: %w", a.ID, err)
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false, fmt.Errorf("marshal stream %q: %w", b.ID, err)
	}
	return bytes.Equal(ab, bb), nil
}
