package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/mhealthlab/collector/internal/ingest"
	"github.com/mhealthlab/collector/internal/observer"
	"github.com/mhealthlab/collector/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("failed to encode JSON response", "error", err)
	}
}

// mapServiceError converts ingestion-service errors into HTTP errors for the
// typed endpoints, logging only the unexpected ones. The survey response
// read endpoint does not use this: it signals failure inside the payload.
func mapServiceError(logger *slog.Logger, op string, err error) error {
	var ve *observer.ValidationError
	switch {
	case errors.Is(err, storage.ErrObserverNotFound),
		errors.Is(err, storage.ErrStreamNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, ingest.ErrObserverExists),
		errors.Is(err, observer.ErrInvalidVersion):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, observer.ErrMalformedInput),
		errors.Is(err, observer.ErrInvalidDefinition),
		errors.Is(err, ingest.ErrBatchTooLarge),
		errors.As(err, &ve):
		return huma.Error400BadRequest(err.Error())
	}
	logger.Error(op+" failed", "error", err)
	return huma.Error500InternalServerError(op + " failed")
}
