package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mhealthlab/collector/internal/glossary"
	"github.com/mhealthlab/collector/internal/rollup"
)

// MultiValueDelimiter separates the entries of a multi-value custom-choice
// answer inside a single CSV field. It is part of the export contract and
// must not change between releases.
const MultiValueDelimiter = ";"

// csvEncoder emits a header row of output columns followed by one data row
// per survey submission. A zero-result set yields the header row alone.
// Errors are never CSV-encoded; failures fall back to the JSON envelope at
// the boundary.
type csvEncoder struct{}

func (csvEncoder) Build(meta Metadata, columns []string, results []*rollup.IndexedResult, _ glossary.Glossary) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)

	if err := w.Write(columns); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(columns))
	for _, res := range results {
		for i, col := range columns {
			record[i] = csvCell(columnValue(col, res))
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return b.String(), nil
}

// csvCell renders one value into a single CSV field. Multi-value answers
// become a MultiValueDelimiter-separated sub-list; structured values that
// survive to here are serialized as JSON.
func csvCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []int:
		parts := make([]string, len(t))
		for i, n := range t {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, MultiValueDelimiter)
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = csvCell(e)
		}
		return strings.Join(parts, MultiValueDelimiter)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}
