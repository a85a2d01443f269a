package observer

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedInput indicates the upload payload was not parseable as JSON.
var ErrMalformedInput = errors.New("malformed input")

// ValidationError describes a value that violates its prompt's declared type
// or domain constraints.
type ValidationError struct {
	PromptID string
	Expected PromptType
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.PromptID == "" {
		return e.Reason
	}
	return fmt.Sprintf("prompt %q (%s): %s", e.PromptID, e.Expected, e.Reason)
}

// Response sentinels for prompts the participant did not answer. They pass
// validation for every prompt type and are carried through to the read path
// untouched.
const (
	Skipped      = "SKIPPED"
	NotDisplayed = "NOT_DISPLAYED"
)

// rawPoint is the wire shape of one uploaded data point.
type rawPoint struct {
	StreamID      string          `json:"stream_id"`
	StreamVersion int64           `json:"stream_version"`
	Metadata      *rawMetadata    `json:"metadata"`
	Data          json.RawMessage `json:"data"`
}

type rawMetadata struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
}

// customChoiceResponse is the wire shape of a custom-choice answer.
type customChoiceResponse struct {
	Value         json.RawMessage `json:"value"`
	CustomChoices []struct {
		ChoiceID    int    `json:"choice_id"`
		ChoiceValue string `json:"choice_value"`
	} `json:"custom_choices"`
}

// ValidateData checks a batch of raw data points against this observer's
// stream definitions. In strict mode (bestEffort false) the first violation
// aborts the batch. In best-effort mode violations are collected as
// InvalidPoints and the surviving points are returned.
//
// A payload that is not a JSON array fails the whole batch in either mode.
func (o *Observer) ValidateData(raw []byte, bestEffort bool) ([]DataPoint, []InvalidPoint, error) {
	var nodes []json.RawMessage
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}

	points := make([]DataPoint, 0, len(nodes))
	var invalid []InvalidPoint
	for i, node := range nodes {
		p, err := o.ValidatePoint(node)
		if err != nil {
			if !bestEffort {
				return nil, nil, fmt.Errorf("point %d: %w", i, err)
			}
			invalid = append(invalid, InvalidPoint{
				Index:  i,
				Data:   string(node),
				Reason: err.Error(),
				Cause:  err,
			})
			continue
		}
		points = append(points, *p)
	}
	return points, invalid, nil
}

// ValidatePoint validates a single raw data point and returns its normalized
// form. The returned error is ErrMalformedInput when the point is not JSON,
// or a *ValidationError when a value violates its prompt definition.
func (o *Observer) ValidatePoint(raw []byte) (*DataPoint, error) {
	var rp rawPoint
	if err := json.Unmarshal(raw, &rp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}

	stream := o.Stream(rp.StreamID, rp.StreamVersion)
	if stream == nil {
		return nil, &ValidationError{
			Reason: fmt.Sprintf("no stream %q at version %d", rp.StreamID, rp.StreamVersion),
		}
	}

	if rp.Metadata == nil || rp.Metadata.Timestamp == "" {
		return nil, &ValidationError{Reason: "metadata.timestamp is required"}
	}
	ts, err := time.Parse(time.RFC3339, rp.Metadata.Timestamp)
	if err != nil {
		return nil, &ValidationError{
			Reason: fmt.Sprintf("metadata.timestamp is not RFC 3339: %v", err),
		}
	}

	var data map[string]json.RawMessage
	if err := json.Unmarshal(rp.Data, &data); err != nil {
		return nil, &ValidationError{Reason: "data must be a JSON object"}
	}

	responses := make(map[string]any, len(data))
	for promptID, value := range data {
		def := stream.Prompt(promptID)
		if def == nil {
			return nil, &ValidationError{
				PromptID: promptID,
				Reason:   "not defined by the stream",
			}
		}
		v, err := validateValue(def, value)
		if err != nil {
			return nil, err
		}
		responses[promptID] = v
	}

	return &DataPoint{
		PointID:       rp.Metadata.ID,
		StreamID:      stream.ID,
		StreamVersion: stream.Version,
		Timestamp:     ts,
		Responses:     responses,
	}, nil
}

// validateValue checks one response value against its prompt definition and
// returns the normalized value.
func validateValue(def *PromptDefinition, raw json.RawMessage) (any, error) {
	// Unanswered prompts pass for every type.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && (s == Skipped || s == NotDisplayed) {
		return s, nil
	}

	switch def.Type {
	case TypeNumber:
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, mismatch(def, "not a number")
		}
		if def.Min != nil && n < *def.Min {
			return nil, mismatch(def, fmt.Sprintf("%v is below the minimum %v", n, *def.Min))
		}
		if def.Max != nil && n > *def.Max {
			return nil, mismatch(def, fmt.Sprintf("%v is above the maximum %v", n, *def.Max))
		}
		return n, nil

	case TypeText:
		var t string
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, mismatch(def, "not a string")
		}
		if def.MaxLength != nil && len(t) > *def.MaxLength {
			return nil, mismatch(def, fmt.Sprintf("length %d exceeds maximum %d", len(t), *def.MaxLength))
		}
		return t, nil

	case TypeTimestamp:
		var t string
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, mismatch(def, "not a string")
		}
		if _, err := time.Parse(time.RFC3339, t); err != nil {
			return nil, mismatch(def, "not an RFC 3339 timestamp")
		}
		return t, nil

	case TypeBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, mismatch(def, "not a boolean")
		}
		return b, nil

	case TypeSingleChoice:
		key, err := choiceKey(raw)
		if err != nil {
			return nil, mismatch(def, "not an integer choice key")
		}
		if !def.hasChoice(key) {
			return nil, mismatch(def, fmt.Sprintf("%d is not a defined choice", key))
		}
		return key, nil

	case TypeMultiChoice:
		keys, err := choiceKeys(raw)
		if err != nil {
			return nil, mismatch(def, "not an array of integer choice keys")
		}
		for _, k := range keys {
			if !def.hasChoice(k) {
				return nil, mismatch(def, fmt.Sprintf("%d is not a defined choice", k))
			}
		}
		return keys, nil

	case TypeSingleChoiceCustom, TypeMultiChoiceCustom:
		return validateCustomChoice(def, raw)

	default:
		// Unknown types are caught at definition time; a response referencing
		// one is treated the same as any other schema mismatch.
		return nil, mismatch(def, "unknown prompt type")
	}
}

// validateCustomChoice checks the {value, custom_choices} envelope carried by
// the custom-choice types. The raw envelope is preserved as the normalized
// value; the read path strips the catalog during glossary construction.
func validateCustomChoice(def *PromptDefinition, raw json.RawMessage) (any, error) {
	var resp customChoiceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, mismatch(def, "not a custom-choice object")
	}
	if len(resp.Value) == 0 {
		return nil, mismatch(def, "missing value")
	}

	allowed := make(map[int]bool, len(def.Choices)+len(resp.CustomChoices))
	for _, c := range def.Choices {
		allowed[c.Key] = true
	}
	for _, c := range resp.CustomChoices {
		if c.ChoiceValue == "" {
			return nil, mismatch(def, "custom choice with empty value")
		}
		allowed[c.ChoiceID] = true
	}

	var keys []int
	if def.Type == TypeSingleChoiceCustom {
		key, err := choiceKey(resp.Value)
		if err != nil {
			return nil, mismatch(def, "value is not an integer choice key")
		}
		keys = []int{key}
	} else {
		var err error
		keys, err = choiceKeys(resp.Value)
		if err != nil {
			return nil, mismatch(def, "value is not an array of integer choice keys")
		}
	}
	for _, k := range keys {
		if !allowed[k] {
			return nil, mismatch(def, fmt.Sprintf("%d is neither a global nor a listed custom choice", k))
		}
	}

	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, mismatch(def, "not a custom-choice object")
	}
	return v, nil
}

func (d *PromptDefinition) hasChoice(key int) bool {
	for _, c := range d.Choices {
		if c.Key == key {
			return true
		}
	}
	return false
}

func choiceKey(raw json.RawMessage) (int, error) {
	var k int
	if err := json.Unmarshal(raw, &k); err != nil {
		return 0, err
	}
	return k, nil
}

func choiceKeys(raw json.RawMessage) ([]int, error) {
	var ks []int
	if err := json.Unmarshal(raw, &ks); err != nil {
		return nil, err
	}
	return ks, nil
}

func mismatch(def *PromptDefinition, reason string) *ValidationError {
	return &ValidationError{PromptID: def.ID, Expected: def.Type, Reason: reason}
}
