package output

import (
	"encoding/json"
	"fmt"

	"github.com/mhealthlab/collector/internal/glossary"
	"github.com/mhealthlab/collector/internal/rollup"
)

// columnJSONEncoder emits a column-major payload: one array per output
// column, aligned by row index, plus a metadata section carrying the result
// counts and, when any exists, the custom-choice glossary keyed by prompt ID.
type columnJSONEncoder struct{}

type columnJSONPayload struct {
	Result   string             `json:"result"`
	Metadata columnJSONMetadata `json:"metadata"`
	Data     map[string][]any   `json:"data"`
}

type columnJSONMetadata struct {
	Metadata
	Items          []string                   `json:"items"`
	ChoiceGlossary map[string][]glossary.Item `json:"choice_glossary,omitempty"`
}

func (columnJSONEncoder) Build(meta Metadata, columns []string, results []*rollup.IndexedResult, gloss glossary.Glossary) (string, error) {
	data := make(map[string][]any, len(columns))
	for _, col := range columns {
		values := make([]any, len(results))
		for i, res := range results {
			values[i] = columnValue(col, res)
		}
		data[col] = values
	}

	md := columnJSONMetadata{Metadata: meta, Items: columns}
	if len(gloss) > 0 {
		md.ChoiceGlossary = gloss
	}

	payload := columnJSONPayload{Result: "success", Metadata: md, Data: data}
	out, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal column output: %w", err)
	}
	return string(out), nil
}
