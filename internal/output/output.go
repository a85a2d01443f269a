// Package output renders rolled-up, glossary-resolved survey responses into
// the three supported export encodings: row-based JSON, column-based JSON,
// and CSV. Failure is always signaled inside the payload: every encoder
// shares one JSON error envelope, CSV requests included.
package output

import (
	"encoding/json"
	"fmt"

	"github.com/mhealthlab/collector/internal/glossary"
	"github.com/mhealthlab/collector/internal/rollup"
)

// Format selects one of the supported output encodings.
type Format int

const (
	FormatRowJSON Format = iota
	FormatColumnJSON
	FormatCSV
)

// ParseFormat maps the wire value of output_format to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "json-rows":
		return FormatRowJSON, nil
	case "json-columns":
		return FormatColumnJSON, nil
	case "csv":
		return FormatCSV, nil
	}
	return 0, fmt.Errorf("unknown output format %q", s)
}

func (f Format) String() string {
	switch f {
	case FormatRowJSON:
		return "json-rows"
	case FormatColumnJSON:
		return "json-columns"
	case FormatCSV:
		return "csv"
	}
	return "unknown"
}

// ContentType returns the MIME type for payloads of this format.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Attachment reports whether responses of this format should carry a
// Content-Disposition attachment hint.
func (f Format) Attachment() bool {
	return f == FormatCSV
}

// Metadata summarizes a result set: the number of distinct survey
// submissions and the total number of flat prompt rows they were built from.
type Metadata struct {
	NumberOfSurveys int `json:"number_of_surveys"`
	NumberOfPrompts int `json:"number_of_prompts"`
}

// Encoder builds one complete serialized payload from a normalized result
// set. A zero-result set produces a valid empty payload, not an error.
type Encoder interface {
	Build(meta Metadata, columns []string, results []*rollup.IndexedResult, gloss glossary.Glossary) (string, error)
}

// Encoder returns the encoder implementing this format.
func (f Format) Encoder() Encoder {
	switch f {
	case FormatColumnJSON:
		return columnJSONEncoder{}
	case FormatCSV:
		return csvEncoder{}
	default:
		return rowJSONEncoder{}
	}
}

// Render runs the read pipeline over flat rows: roll-up, custom-choice
// normalization, column expansion, and encoding. The flat row slice can be
// released by the caller as soon as Render returns; only the rolled-up form
// is retained internally.
func Render(format Format, requested []string, rows []rollup.Row) (string, Metadata, error) {
	meta := Metadata{NumberOfPrompts: len(rows)}

	results := rollup.RollUp(rows)
	rows = nil
	meta.NumberOfSurveys = len(results)

	gloss, err := glossary.NewBuilder().Normalize(results)
	if err != nil {
		return "", meta, fmt.Errorf("normalize custom choices: %w", err)
	}

	columns := ExpandColumns(requested, results)
	payload, err := format.Encoder().Build(meta, columns, results, gloss)
	if err != nil {
		return "", meta, fmt.Errorf("build %s output: %w", format, err)
	}
	return payload, meta, nil
}

// ErrorEnvelope is the JSON failure payload shared by all formats. Errors are
// never CSV-encoded, even for CSV requests.
func ErrorEnvelope(code, text string) string {
	env := map[string]any{
		"result": "failure",
		"errors": []map[string]string{{"code": code, "text": text}},
	}
	data, err := json.Marshal(env)
	if err != nil {
		// The envelope is built from plain strings; this cannot fail.
		return `{"result":"failure","errors":[{"code":"0103","text":"internal error"}]}`
	}
	return string(data)
}

// GeneralErrorCode is the catch-all error code for encoding failures.
const GeneralErrorCode = "0103"
