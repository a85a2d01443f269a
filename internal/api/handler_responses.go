package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/mhealthlab/collector/internal/metrics"
	"github.com/mhealthlab/collector/internal/output"
	"github.com/mhealthlab/collector/internal/rollup"
	"github.com/mhealthlab/collector/internal/storage"
)

// ResponseHandler serves the survey response read pipeline and the flat-row
// write endpoint.
type ResponseHandler struct {
	store    storage.Store
	pageSize int
	logger   *slog.Logger
}

func NewResponseHandler(store storage.Store, pageSize int, logger *slog.Logger) *ResponseHandler {
	return &ResponseHandler{store: store, pageSize: pageSize, logger: logger}
}

// Read runs the read pipeline: fetch flat rows, roll up, normalize custom
// choices, encode. For compatibility with the clients this API replaces, the
// transport status is always 200: failure is signaled by a JSON error
// envelope in the payload, whatever format was requested.
func (h *ResponseHandler) Read(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	formatName := q.Get("output_format")
	if formatName == "" {
		formatName = "json-rows"
	}
	format, err := output.ParseFormat(formatName)
	if err != nil {
		h.writeEnvelope(w, output.ErrorEnvelope(output.GeneralErrorCode, err.Error()))
		return
	}

	columns := splitList(q.Get("columns"))
	if len(columns) == 0 {
		columns = []string{output.ColumnAll}
	}

	query := storage.ResponseQuery{
		SurveyIDs: splitList(q.Get("survey_id_list")),
		Usernames: splitList(q.Get("user_list")),
		Limit:     h.pageSize,
	}
	if v := q.Get("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeEnvelope(w, output.ErrorEnvelope(output.GeneralErrorCode, "start_date is not RFC 3339"))
			return
		}
		query.StartAt = t
	}
	if v := q.Get("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeEnvelope(w, output.ErrorEnvelope(output.GeneralErrorCode, "end_date is not RFC 3339"))
			return
		}
		query.EndAt = t
	}

	rows, err := h.store.ResponseRows(r.Context(), query)
	if err != nil {
		h.logger.Error("response row query failed", "error", err)
		metrics.EncodeFailures.WithLabelValues(format.String()).Inc()
		h.writeEnvelope(w, output.ErrorEnvelope(output.GeneralErrorCode, "failed to read survey responses"))
		return
	}

	start := time.Now()
	payload, meta, err := output.Render(format, columns, rows)
	if err != nil {
		h.logger.Error("response payload build failed", "format", format.String(), "error", err)
		metrics.EncodeFailures.WithLabelValues(format.String()).Inc()
		h.writeEnvelope(w, output.ErrorEnvelope(output.GeneralErrorCode, "failed to build survey response output"))
		return
	}
	metrics.EncodeDuration.WithLabelValues(format.String()).Observe(time.Since(start).Seconds())
	metrics.ResponsesRolledUp.Add(float64(meta.NumberOfSurveys))

	w.Header().Set("Content-Type", format.ContentType())
	if format.Attachment() {
		w.Header().Set("Content-Disposition", `attachment; filename="survey_responses.csv"`)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(payload)); err != nil {
		h.logger.Error("failed to write response payload", "error", err)
	}
}

// writeEnvelope writes the JSON error envelope. Errors are never
// CSV-encoded, so the content type is JSON regardless of the requested
// format.
func (h *ResponseHandler) writeEnvelope(w http.ResponseWriter, envelope string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(envelope)); err != nil {
		h.logger.Error("failed to write error envelope", "error", err)
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// --- Flat-row write endpoint (huma) ---

type ResponseRowBody struct {
	Username               string  `json:"username" required:"true" minLength:"1"`
	Timestamp              string  `json:"timestamp" doc:"RFC 3339 submission time" required:"true"`
	SurveyID               string  `json:"survey_id" required:"true" minLength:"1"`
	RepeatableSetID        *string `json:"repeatable_set_id,omitempty"`
	RepeatableSetIteration *int    `json:"repeatable_set_iteration,omitempty"`
	PromptID               string  `json:"prompt_id" required:"true" minLength:"1"`
	PromptType             string  `json:"prompt_type" required:"true" minLength:"1"`
	DisplayLabel           string  `json:"display_label,omitempty"`
	Unit                   string  `json:"unit,omitempty"`
	Response               string  `json:"response" required:"true"`
}

type StoreResponsesInput struct {
	Body []ResponseRowBody
}

type StoreResponsesOutput struct {
	Body struct {
		Stored int `json:"stored"`
	}
}

func registerResponseRoutes(api huma.API, h *ResponseHandler) {
	huma.Register(api, huma.Operation{
		OperationID:   "store-survey-responses",
		Method:        http.MethodPost,
		Path:          "/v1/responses",
		Summary:       "Store flat survey response rows",
		Tags:          []string{"responses"},
		DefaultStatus: http.StatusCreated,
	}, h.Store)
}

func (h *ResponseHandler) Store(ctx context.Context, input *StoreResponsesInput) (*StoreResponsesOutput, error) {
	rows := make([]rollup.Row, 0, len(input.Body))
	for _, b := range input.Body {
		ts, err := time.Parse(time.RFC3339, b.Timestamp)
		if err != nil {
			return nil, huma.Error400BadRequest("timestamp is not RFC 3339: " + b.Timestamp)
		}
		rows = append(rows, rollup.Row{
			Username:               b.Username,
			Timestamp:              ts,
			SurveyID:               b.SurveyID,
			RepeatableSetID:        b.RepeatableSetID,
			RepeatableSetIteration: b.RepeatableSetIteration,
			PromptID:               b.PromptID,
			Response:               b.Response,
			Metadata: rollup.PromptMetadata{
				PromptType:   b.PromptType,
				DisplayLabel: b.DisplayLabel,
				Unit:         b.Unit,
			},
		})
	}

	if err := h.store.StoreResponseRows(ctx, rows); err != nil {
		h.logger.Error("store response rows failed", "error", err)
		return nil, huma.Error500InternalServerError("failed to store survey responses")
	}

	out := &StoreResponsesOutput{}
	out.Body.Stored = len(rows)
	return out, nil
}
