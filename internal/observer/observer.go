package observer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidDefinition indicates an observer definition that is structurally
// ill-formed, independent of any version transition.
var ErrInvalidDefinition = errors.New("invalid observer definition")

// Observer is a versioned bundle of stream definitions owned by a single user.
// Definitions are immutable once published; updates create a new version.
type Observer struct {
	ID      string             `json:"id"`
	Version int64              `json:"version"`
	Streams map[string]*Stream `json:"streams"`
}

// Stream describes the shape of one kind of uploaded data point.
type Stream struct {
	ID      string             `json:"id"`
	Version int64              `json:"version"`
	Prompts []PromptDefinition `json:"prompts"`
}

// PromptType enumerates the supported prompt/field types.
type PromptType string

const (
	TypeNumber             PromptType = "number"
	TypeText               PromptType = "text"
	TypeTimestamp          PromptType = "timestamp"
	TypeBoolean            PromptType = "boolean"
	TypeSingleChoice       PromptType = "single_choice"
	TypeMultiChoice        PromptType = "multi_choice"
	TypeSingleChoiceCustom PromptType = "single_choice_custom"
	TypeMultiChoiceCustom  PromptType = "multi_choice_custom"
)

// IsCustomChoice reports whether responses of this type carry an embedded
// custom-choice catalog.
func (t PromptType) IsCustomChoice() bool {
	return t == TypeSingleChoiceCustom || t == TypeMultiChoiceCustom
}

func (t PromptType) valid() bool {
	switch t {
	case TypeNumber, TypeText, TypeTimestamp, TypeBoolean,
		TypeSingleChoice, TypeMultiChoice,
		TypeSingleChoiceCustom, TypeMultiChoiceCustom:
		return true
	}
	return false
}

// PromptDefinition is one typed field within a stream definition.
type PromptDefinition struct {
	ID   string     `json:"id"`
	Type PromptType `json:"type"`

	// Number constraints.
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`

	// Text constraint.
	MaxLength *int `json:"max_length,omitempty"`

	// Fixed choice catalog for the choice types. For the custom-choice types
	// this lists only the global choices; user-added choices arrive inline
	// with each response.
	Choices []Choice `json:"choices,omitempty"`
}

// Choice is one entry in a prompt's fixed choice catalog.
type Choice struct {
	Key   int    `json:"key"`
	Label string `json:"label"`
}

// Parse decodes an observer definition and checks its structural invariants.
func Parse(data []byte) (*Observer, error) {
	var o Observer
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if err := o.Check(); err != nil {
		return nil, err
	}
	return &o, nil
}

// Check verifies that the definition itself is well-formed: non-empty
// identifiers, positive versions, known prompt types, unique prompt IDs.
func (o *Observer) Check() error {
	if o.ID == "" {
		return fmt.Errorf("%w: observer id is required", ErrInvalidDefinition)
	}
	if o.Version <= 0 {
		return fmt.Errorf("%w: observer %q: version must be positive", ErrInvalidDefinition, o.ID)
	}
	if len(o.Streams) == 0 {
		return fmt.Errorf("%w: observer %q: at least one stream is required", ErrInvalidDefinition, o.ID)
	}
	for id, s := range o.Streams {
		if s == nil || s.ID != id {
			return fmt.Errorf("%w: observer %q: stream key %q does not match its definition", ErrInvalidDefinition, o.ID, id)
		}
		if s.Version <= 0 {
			return fmt.Errorf("%w: stream %q: version must be positive", ErrInvalidDefinition, s.ID)
		}
		if len(s.Prompts) == 0 {
			return fmt.Errorf("%w: stream %q: at least one prompt is required", ErrInvalidDefinition, s.ID)
		}
		seen := make(map[string]bool, len(s.Prompts))
		for _, p := range s.Prompts {
			if p.ID == "" {
				return fmt.Errorf("%w: stream %q: prompt id is required", ErrInvalidDefinition, s.ID)
			}
			if seen[p.ID] {
				return fmt.Errorf("%w: stream %q: duplicate prompt id %q", ErrInvalidDefinition, s.ID, p.ID)
			}
			seen[p.ID] = true
			if !p.Type.valid() {
				return fmt.Errorf("%w: stream %q: prompt %q: unknown type %q", ErrInvalidDefinition, s.ID, p.ID, p.Type)
			}
		}
	}
	return nil
}

// Stream returns the stream with the given ID and version, or nil if the
// observer does not define it at that version.
func (o *Observer) Stream(id string, version int64) *Stream {
	s, ok := o.Streams[id]
	if !ok || s.Version != version {
		return nil
	}
	return s
}

// StreamIDs returns the observer's stream IDs in lexical order.
func (o *Observer) StreamIDs() []string {
	ids := make([]string, 0, len(o.Streams))
	for id := range o.Streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Prompt returns the definition for a prompt ID, or nil if the stream does
// not define it.
func (s *Stream) Prompt(id string) *PromptDefinition {
	for i := range s.Prompts {
		if s.Prompts[i].ID == id {
			return &s.Prompts[i]
		}
	}
	return nil
}

// DataPoint is a validated, normalized upload record ready for persistence.
type DataPoint struct {
	// PointID is the client-supplied unique identifier, empty when the
	// client did not send one. Points without an ID are never treated as
	// duplicates.
	PointID string

	StreamID      string
	StreamVersion int64
	Timestamp     time.Time

	// Responses maps prompt ID to its normalized value.
	Responses map[string]any
}

// InvalidPoint records a single rejected upload record. It is terminal:
// written to the invalid-data sink and never re-validated.
type InvalidPoint struct {
	// Index is the point's position within the upload batch.
	Index int `json:"index"`
	// Data is the raw point as text.
	Data string `json:"data"`
	// Reason is a human-readable explanation of the rejection.
	Reason string `json:"reason"`
	// Cause is the underlying error, when one exists. Not serialized.
	Cause error `json:"-"`
}
