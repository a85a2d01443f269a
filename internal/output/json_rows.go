package output

import (
	"encoding/json"
	"fmt"

	"github.com/mhealthlab/collector/internal/glossary"
	"github.com/mhealthlab/collector/internal/rollup"
)

// rowJSONEncoder emits one JSON object per survey submission, keyed by the
// output columns.
type rowJSONEncoder struct{}

type rowJSONPayload struct {
	Result   string           `json:"result"`
	Metadata rowJSONMetadata  `json:"metadata"`
	Data     []map[string]any `json:"data"`
}

type rowJSONMetadata struct {
	Metadata
	Items []string `json:"items"`
}

func (rowJSONEncoder) Build(meta Metadata, columns []string, results []*rollup.IndexedResult, _ glossary.Glossary) (string, error) {
	data := make([]map[string]any, 0, len(results))
	for _, res := range results {
		row := make(map[string]any, len(columns))
		for _, col := range columns {
			row[col] = columnValue(col, res)
		}
		data = append(data, row)
	}

	payload := rowJSONPayload{
		Result:   "success",
		Metadata: rowJSONMetadata{Metadata: meta, Items: columns},
		Data:     data,
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal row output: %w", err)
	}
	return string(out), nil
}
