// Package api assembles the HTTP router.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/kmathur/briefly/internal/api/middleware"
	"github.com/kmathur/briefly/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler          http.HandlerFunc
	CreateBatchHandler     http.HandlerFunc
	GetBatchHandler        http.HandlerFunc
	ListLogsHandler        http.HandlerFunc
	ResourceLogsHandler    http.HandlerFunc
	ResourceSummaryHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/batches", orNotImplemented(deps.CreateBatchHandler))
		r.Get("/api/v1/batches/{batchID}", orNotImplemented(deps.GetBatchHandler))

		r.Get("/api/v1/logs", orNotImplemented(deps.ListLogsHandler))
		r.Get("/api/v1/resources/{resourceID}/logs", orNotImplemented(deps.ResourceLogsHandler))
		r.Get("/api/v1/resources/{resourceID}/summary", orNotImplemented(deps.ResourceSummaryHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
