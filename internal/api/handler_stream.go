package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/mhealthlab/collector/internal/ingest"
	"github.com/mhealthlab/collector/internal/observer"
)

// --- Huma Input/Output types ---

type UploadDataInput struct {
	ObserverID string `path:"observer_id" doc:"Observer ID"`
	Username   string `header:"X-Username" doc:"Authenticated uploader" required:"true"`
	RawBody    []byte `contentType:"application/json"`
}

type UploadDataOutput struct {
	Body ingest.Receipt
}

type InvalidDataInput struct {
	ObserverID string `path:"observer_id" doc:"Observer ID"`
	Username   string `header:"X-Username" doc:"Authenticated caller" required:"true"`
	Limit      int    `query:"limit" doc:"Maximum number of points to return" required:"false"`
}

type InvalidDataOutput struct {
	Body struct {
		Points []observer.InvalidPoint `json:"points"`
	}
}

// --- Handler ---

type StreamHandler struct {
	svc    *ingest.Service
	logger *slog.Logger
}

func NewStreamHandler(svc *ingest.Service, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{svc: svc, logger: logger}
}

func registerStreamRoutes(api huma.API, h *StreamHandler) {
	huma.Register(api, huma.Operation{
		OperationID:      "upload-stream-data",
		Method:           http.MethodPost,
		Path:             "/v1/streams/{observer_id}/data",
		Summary:          "Upload a batch of data points",
		Tags:             []string{"streams"},
		SkipValidateBody: true,
	}, h.Upload)

	huma.Register(api, huma.Operation{
		OperationID: "get-invalid-stream-data",
		Method:      http.MethodGet,
		Path:        "/v1/streams/{observer_id}/data/invalid",
		Summary:     "Read back rejected data points",
		Tags:        []string{"streams"},
	}, h.InvalidData)
}

func (h *StreamHandler) Upload(ctx context.Context, input *UploadDataInput) (*UploadDataOutput, error) {
	receipt, err := h.svc.Upload(ctx, input.Username, input.ObserverID, input.RawBody)
	if err != nil {
		return nil, mapServiceError(h.logger, "upload data", err)
	}
	return &UploadDataOutput{Body: *receipt}, nil
}

func (h *StreamHandler) InvalidData(ctx context.Context, input *InvalidDataInput) (*InvalidDataOutput, error) {
	points, err := h.svc.InvalidData(ctx, input.Username, input.ObserverID, input.Limit)
	if err != nil {
		return nil, mapServiceError(h.logger, "get invalid data", err)
	}
	out := &InvalidDataOutput{}
	out.Body.Points = points
	return out, nil
}
