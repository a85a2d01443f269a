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

type CreateObserverInput struct {
	RawBody []byte `contentType:"application/json"`
}

type UpdateObserverInput struct {
	ObserverID string `path:"observer_id" doc:"Observer ID"`
	RawBody    []byte `contentType:"application/json"`
}

type GetObserverInput struct {
	ObserverID string `path:"observer_id" doc:"Observer ID"`
	Version    int64  `query:"version" doc:"Exact definition version; latest when omitted" required:"false"`
}

type ObserverOutput struct {
	Body *observer.Observer
}

// --- Handler ---

type ObserverHandler struct {
	svc    *ingest.Service
	logger *slog.Logger
}

func NewObserverHandler(svc *ingest.Service, logger *slog.Logger) *ObserverHandler {
	return &ObserverHandler{svc: svc, logger: logger}
}

func registerObserverRoutes(api huma.API, h *ObserverHandler) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-observer",
		Method:        http.MethodPost,
		Path:          "/v1/observers",
		Summary:       "Create an observer",
		Tags:          []string{"observers"},
		DefaultStatus: http.StatusCreated,
		// RawBody is passed through to the service for validation; stop huma
		// from validating the JSON against the binary-string RawBody schema.
		SkipValidateBody: true,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID:      "update-observer",
		Method:           http.MethodPost,
		Path:             "/v1/observers/{observer_id}",
		Summary:          "Publish a new observer version",
		Tags:             []string{"observers"},
		SkipValidateBody: true,
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "get-observer",
		Method:      http.MethodGet,
		Path:        "/v1/observers/{observer_id}",
		Summary:     "Get an observer definition",
		Tags:        []string{"observers"},
	}, h.Get)
}

func (h *ObserverHandler) Create(ctx context.Context, input *CreateObserverInput) (*ObserverOutput, error) {
	obs, err := h.svc.CreateObserver(ctx, input.RawBody)
	if err != nil {
		return nil, mapServiceError(h.logger, "create observer", err)
	}
	return &ObserverOutput{Body: obs}, nil
}

func (h *ObserverHandler) Update(ctx context.Context, input *UpdateObserverInput) (*ObserverOutput, error) {
	obs, err := h.svc.UpdateObserver(ctx, input.ObserverID, input.RawBody)
	if err != nil {
		return nil, mapServiceError(h.logger, "update observer", err)
	}
	return &ObserverOutput{Body: obs}, nil
}

func (h *ObserverHandler) Get(ctx context.Context, input *GetObserverInput) (*ObserverOutput, error) {
	obs, err := h.svc.GetObserver(ctx, input.ObserverID, input.Version)
	if err != nil {
		return nil, mapServiceError(h.logger, "get observer", err)
	}
	return &ObserverOutput{Body: obs}, nil
}
