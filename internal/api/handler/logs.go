package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kmathur/briefly/internal/api/response"
	"github.com/kmathur/briefly/internal/store"
	"github.com/kmathur/briefly/pkg/models"
)

const (
	defaultLogLimit = 20
	maxLogLimit     = 100
)

// LogReader defines the interface the audit handlers depend on.
type LogReader interface {
	ListExecutionLogs(ctx context.Context, limit int) ([]*models.ExecutionLog, error)
	ListResourceLogs(ctx context.Context, resourceID uuid.UUID, limit int) ([]*models.ExecutionLog, error)
	GetContentSummary(ctx context.Context, resourceID uuid.UUID) (*models.ContentSummary, error)
}

func parseLimit(r *http.Request) int {
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	return limit
}

// NewListLogsHandler returns an http.HandlerFunc for GET /api/v1/logs.
// Rows come back most-recent-first with a bounded page size.
func NewListLogsHandler(reader LogReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logs, err := reader.ListExecutionLogs(r.Context(), parseLimit(r))
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.JSON(w, logs)
	}
}

// NewResourceLogsHandler returns an http.HandlerFunc for
// GET /api/v1/resources/{resourceID}/logs.
func NewResourceLogsHandler(reader LogReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resourceID, err := uuid.Parse(chi.URLParam(r, "resourceID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "resourceID must be a valid UUID", nil)
			return
		}

		logs, err := reader.ListResourceLogs(r.Context(), resourceID, parseLimit(r))
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.JSON(w, logs)
	}
}

// NewResourceSummaryHandler returns an http.HandlerFunc for
// GET /api/v1/resources/{resourceID}/summary.
func NewResourceSummaryHandler(reader LogReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resourceID, err := uuid.Parse(chi.URLParam(r, "resourceID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "resourceID must be a valid UUID", nil)
			return
		}

		summary, err := reader.GetContentSummary(r.Context(), resourceID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "No summary for this resource", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.JSON(w, summary)
	}
}
