package api

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/mhealthlab/collector/internal/ingest"
	"github.com/mhealthlab/collector/internal/metrics"
	"github.com/mhealthlab/collector/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewServer creates an HTTP server with all routes configured.
//
// The typed JSON endpoints (observers, stream data, flat-row writes) go
// through huma; the survey response read endpoint is a plain handler because
// its payload is one of three content types with payload-level error
// signaling.
func NewServer(logger *slog.Logger, svc *ingest.Service, store storage.Store, db Pinger, readPageSize int) http.Handler {
	mux := chi.NewRouter()

	mux.Use(RequestID)
	mux.Use(Logging(logger))
	mux.Use(Recovery(logger))
	mux.Use(metrics.Metrics)

	humaAPI := humachi.New(mux, huma.DefaultConfig("collector", "1.0.0"))

	responseHandler := NewResponseHandler(store, readPageSize, logger)
	registerObserverRoutes(humaAPI, NewObserverHandler(svc, logger))
	registerStreamRoutes(humaAPI, NewStreamHandler(svc, logger))
	registerResponseRoutes(humaAPI, responseHandler)

	mux.Get("/v1/responses", responseHandler.Read)

	health := NewHealthHandler(db, logger)
	mux.Get("/livez", health.Livez)
	mux.Get("/readyz", health.Readyz)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}
