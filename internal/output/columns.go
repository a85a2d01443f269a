package output

import "github.com/mhealthlab/collector/internal/rollup"

// Column URNs for the survey response read API.
const (
	ColumnUserID                 = "urn:ohmage:user:id"
	ColumnTimestamp              = "urn:ohmage:context:timestamp"
	ColumnSurveyID               = "urn:ohmage:survey:id"
	ColumnRepeatableSetID        = "urn:ohmage:repeatable_set:id"
	ColumnRepeatableSetIteration = "urn:ohmage:repeatable_set:iteration"

	// ColumnPromptResponse expands to one concrete column per prompt ID
	// present in the result set and never appears in output itself.
	ColumnPromptResponse = "urn:ohmage:prompt:response"

	// ColumnAll expands to the full catalog plus every prompt column.
	ColumnAll = "urn:ohmage:special:all"

	// PromptColumnPrefix prefixes the per-prompt columns, e.g.
	// "urn:ohmage:prompt:id:slept_well".
	PromptColumnPrefix = "urn:ohmage:prompt:id:"
)

// Catalog is the full set of declared (non-prompt) columns, in output order.
var Catalog = []string{
	ColumnUserID,
	ColumnTimestamp,
	ColumnSurveyID,
	ColumnRepeatableSetID,
	ColumnRepeatableSetIteration,
	ColumnPromptResponse,
}

// ExpandColumns resolves the requested column list against the result set.
// A leading ColumnAll expands to the whole catalog. ColumnPromptResponse (or
// ColumnAll) pulls in one column per distinct prompt ID, in order of first
// appearance across the results, and the ColumnPromptResponse literal itself
// is removed since the prompt columns replace it.
func ExpandColumns(requested []string, results []*rollup.IndexedResult) []string {
	all := len(requested) > 0 && requested[0] == ColumnAll

	var columns []string
	if all {
		columns = append(columns, Catalog...)
	} else {
		columns = append(columns, requested...)
	}

	wantPrompts := all
	for _, c := range requested {
		if c == ColumnPromptResponse {
			wantPrompts = true
		}
	}
	if wantPrompts {
		seen := make(map[string]bool)
		for _, res := range results {
			for _, promptID := range res.PromptIDs {
				if !seen[promptID] {
					seen[promptID] = true
					columns = append(columns, PromptColumnPrefix+promptID)
				}
			}
		}
	}

	// Drop the literal now that concrete prompt columns stand in for it.
	out := columns[:0]
	for _, c := range columns {
		if c != ColumnPromptResponse {
			out = append(out, c)
		}
	}
	return out
}

// timestampLayout is the wire format for the context timestamp column.
const timestampLayout = "2006-01-02 15:04:05"

// columnValue extracts one column's value from a result. Unknown columns and
// prompt columns absent from the result yield nil.
func columnValue(column string, res *rollup.IndexedResult) any {
	switch column {
	case ColumnUserID:
		return res.Key.Username
	case ColumnTimestamp:
		return res.Key.Timestamp.Format(timestampLayout)
	case ColumnSurveyID:
		return res.Key.SurveyID
	case ColumnRepeatableSetID:
		if !res.Key.HasRepeatableSetID {
			return nil
		}
		return res.Key.RepeatableSetID
	case ColumnRepeatableSetIteration:
		if !res.Key.HasRepeatableSetIteration {
			return nil
		}
		return res.Key.RepeatableSetIteration
	}
	if len(column) > len(PromptColumnPrefix) && column[:len(PromptColumnPrefix)] == PromptColumnPrefix {
		if v, ok := res.Responses[column[len(PromptColumnPrefix):]]; ok {
			return v
		}
	}
	return nil
}
