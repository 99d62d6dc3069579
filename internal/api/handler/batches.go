// Package handler contains the HTTP route handlers. Each handler depends on
// a narrow interface so tests can inject fakes.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kmathur/briefly/internal/api/response"
	"github.com/kmathur/briefly/internal/pipeline"
	"github.com/kmathur/briefly/internal/store"
	"github.com/kmathur/briefly/pkg/models"
)

// BatchService defines the interface the batch handlers depend on.
type BatchService interface {
	CreateBatch(ctx context.Context, params pipeline.CreateBatchParams) (*models.BatchJob, error)
	GetBatch(ctx context.Context, id uuid.UUID) (*models.BatchJob, error)
}

type batchResponse struct {
	JobID      uuid.UUID `json:"job_id"`
	Status     string    `json:"status"`
	Progress   int       `json:"progress"`
	TotalItems int       `json:"total_items"`
}

func toBatchResponse(b *models.BatchJob) batchResponse {
	return batchResponse{
		JobID:      b.ID,
		Status:     b.Status,
		Progress:   b.Progress,
		TotalItems: b.TotalItems,
	}
}

// NewCreateBatchHandler returns an http.HandlerFunc for POST /api/v1/batches.
func NewCreateBatchHandler(svc BatchService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID    string                 `json:"user_id"`
			Resources []pipeline.NewResource `json:"resources"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.UserID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id is required", nil)
			return
		}
		if len(req.Resources) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "at least one resource is required", nil)
			return
		}
		for i, res := range req.Resources {
			if err := validateNewResource(res); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(),
					map[string]any{"index": i})
				return
			}
		}

		batch, err := svc.CreateBatch(r.Context(), pipeline.CreateBatchParams{
			UserID:    req.UserID,
			Resources: req.Resources,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to create batch", nil)
			return
		}

		response.Accepted(w, toBatchResponse(batch))
	}
}

func validateNewResource(res pipeline.NewResource) error {
	switch res.Type {
	case models.ResourceTypeArticle:
		if res.URL == "" {
			return errors.New("article resources require a url")
		}
	case models.ResourceTypeTranscript:
		if len(res.Segments) == 0 {
			return errors.New("transcript resources require segments")
		}
	case models.ResourceTypeNote:
		if res.Content == "" {
			return errors.New("note resources require content")
		}
	default:
		return errors.New("type must be one of article, transcript, note")
	}
	return nil
}

// NewGetBatchHandler returns an http.HandlerFunc for GET /api/v1/batches/{batchID}.
func NewGetBatchHandler(svc BatchService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID, err := uuid.Parse(chi.URLParam(r, "batchID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "batchID must be a valid UUID", nil)
			return
		}

		batch, err := svc.GetBatch(r.Context(), batchID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Batch not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, toBatchResponse(batch))
	}
}
