// Package rollup merges flat per-prompt survey response rows into one
// aggregate per survey submission. The storage layer returns one row per
// prompt per submission, interleaved in whatever order the query produced;
// the engine groups rows sharing a submission key and collects their prompt
// responses side by side.
package rollup

import "time"

// Row is one flat survey response row: a single prompt's response plus the
// composite key identifying the submission it belongs to.
type Row struct {
	Username  string
	Timestamp time.Time
	SurveyID  string

	// RepeatableSetID and RepeatableSetIteration are nil for prompts outside
	// a repeatable set.
	RepeatableSetID        *string
	RepeatableSetIteration *int

	PromptID string
	Response string
	Metadata PromptMetadata
}

// PromptMetadata carries the per-prompt display information stored alongside
// each response row.
type PromptMetadata struct {
	PromptType   string `json:"prompt_type"`
	DisplayLabel string `json:"display_label,omitempty"`
	Unit         string `json:"unit,omitempty"`
}

// Key is the comparable grouping key for one survey submission. The nullable
// repeatable-set fields are flattened into value+flag pairs so that a nil
// field never compares equal to a zero value.
type Key struct {
	Username  string
	Timestamp time.Time
	SurveyID  string

	RepeatableSetID    string
	HasRepeatableSetID bool

	RepeatableSetIteration    int
	HasRepeatableSetIteration bool
}

// KeyOf builds the grouping key for a row.
func KeyOf(r Row) Key {
	k := Key{
		Username:  r.Username,
		Timestamp: r.Timestamp,
		SurveyID:  r.SurveyID,
	}
	if r.RepeatableSetID != nil {
		k.RepeatableSetID = *r.RepeatableSetID
		k.HasRepeatableSetID = true
	}
	if r.RepeatableSetIteration != nil {
		k.RepeatableSetIteration = *r.RepeatableSetIteration
		k.HasRepeatableSetIteration = true
	}
	return k
}

// IndexedResult is the roll-up aggregate for one survey submission: the
// grouping key plus every prompt response that shares it.
type IndexedResult struct {
	Key Key

	// Responses maps prompt ID to its response value. Values start as the
	// stored text and may be replaced by structured values during
	// custom-choice normalization.
	Responses map[string]any

	// Metadata maps prompt ID to its display metadata.
	Metadata map[string]PromptMetadata

	// PromptIDs lists the prompt IDs in first-seen order. It drives every
	// later pass over the result so iteration is deterministic.
	PromptIDs []string
}

// add records one prompt response on the result. A repeated prompt ID
// overwrites the earlier value and keeps its original position: the roll-up
// is last-write-wins per (key, prompt).
func (r *IndexedResult) add(row Row) {
	if _, ok := r.Responses[row.PromptID]; !ok {
		r.PromptIDs = append(r.PromptIDs, row.PromptID)
	}
	r.Responses[row.PromptID] = row.Response
	r.Metadata[row.PromptID] = row.Metadata
}

// RollUp groups flat rows into indexed results. Results are emitted in order
// of first appearance of each distinct key. Rows are grouped through a keyed
// map, so the pass is linear in the number of rows.
func RollUp(rows []Row) []*IndexedResult {
	byKey := make(map[Key]*IndexedResult)
	var ordered []*IndexedResult

	for _, row := range rows {
		k := KeyOf(row)
		res, ok := byKey[k]
		if !ok {
			res = &IndexedResult{
				Key:       k,
				Responses: make(map[string]any),
				Metadata:  make(map[string]PromptMetadata),
			}
			byKey[k] = res
			ordered = append(ordered, res)
		}
		res.add(row)
	}
	return ordered
}
