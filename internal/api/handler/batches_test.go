package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kmathur/briefly/internal/pipeline"
	"github.com/kmathur/briefly/internal/store"
	"github.com/kmathur/briefly/pkg/models"
)

// --- mock BatchService ---

type mockBatchService struct {
	createFn func(ctx context.Context, params pipeline.CreateBatchParams) (*models.BatchJob, error)
	getFn    func(ctx context.Context, id uuid.UUID) (*models.BatchJob, error)
}

func (m *mockBatchService) CreateBatch(ctx context.Context, params pipeline.CreateBatchParams) (*models.BatchJob, error) {
	return m.createFn(ctx, params)
}

func (m *mockBatchService) GetBatch(ctx context.Context, id uuid.UUID) (*models.BatchJob, error) {
	return m.getFn(ctx, id)
}

// --- helpers ---

func postBatch(t *testing.T, body any) *http.Request {
	t.Helper()
	b, _ := json.Marshal(body)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/batches", bytes.NewReader(b))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func parseErr(t *testing.T, rec *httptest.ResponseRecorder) (int, string) {
	t.Helper()
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, env.Error.Code
}

// --- create batch ---

func TestCreateBatch_Accepted(t *testing.T) {
	batchID := uuid.New()
	svc := &mockBatchService{
		createFn: func(_ context.Context, params pipeline.CreateBatchParams) (*models.BatchJob, error) {
			if params.UserID != "user-1" {
				t.Errorf("unexpected user id %q", params.UserID)
			}
			return &models.BatchJob{
				ID:         batchID,
				UserID:     params.UserID,
				Status:     models.BatchStatusPending,
				TotalItems: len(params.Resources),
			}, nil
		},
	}

	rec := httptest.NewRecorder()
	NewCreateBatchHandler(svc)(rec, postBatch(t, map[string]any{
		"user_id": "user-1",
		"resources": []map[string]any{
			{"title": "My note", "type": "note", "content": "some text"},
		},
	}))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Data batchResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Data.JobID != batchID {
		t.Errorf("expected job_id %s, got %s", batchID, env.Data.JobID)
	}
	if env.Data.Status != models.BatchStatusPending {
		t.Errorf("expected pending status, got %q", env.Data.Status)
	}
	if env.Data.TotalItems != 1 {
		t.Errorf("expected total_items 1, got %d", env.Data.TotalItems)
	}
}

func TestCreateBatch_Validation(t *testing.T) {
	svc := &mockBatchService{
		createFn: func(_ context.Context, _ pipeline.CreateBatchParams) (*models.BatchJob, error) {
			t.Fatal("CreateBatch should not be called")
			return nil, nil
		},
	}
	h := NewCreateBatchHandler(svc)

	tests := []struct {
		name string
		body any
	}{
		{"missing user id", map[string]any{
			"resources": []map[string]any{{"type": "note", "content": "x"}},
		}},
		{"no resources", map[string]any{
			"user_id": "user-1", "resources": []map[string]any{},
		}},
		{"unknown type", map[string]any{
			"user_id":   "user-1",
			"resources": []map[string]any{{"type": "podcast", "content": "x"}},
		}},
		{"article without url", map[string]any{
			"user_id":   "user-1",
			"resources": []map[string]any{{"type": "article"}},
		}},
		{"note without content", map[string]any{
			"user_id":   "user-1",
			"resources": []map[string]any{{"type": "note"}},
		}},
		{"transcript without segments", map[string]any{
			"user_id":   "user-1",
			"resources": []map[string]any{{"type": "transcript"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h(rec, postBatch(t, tt.body))
			status, code := parseErr(t, rec)
			if status != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", status)
			}
			if code != "INVALID_REQUEST" {
				t.Errorf("expected INVALID_REQUEST, got %q", code)
			}
		})
	}
}

func TestCreateBatch_InvalidJSON(t *testing.T) {
	svc := &mockBatchService{}
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/batches", bytes.NewReader([]byte("{not json")))
	NewCreateBatchHandler(svc)(rec, r)

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest || code != "INVALID_REQUEST" {
		t.Fatalf("expected 400 INVALID_REQUEST, got %d %s", status, code)
	}
}

func TestCreateBatch_ServiceError(t *testing.T) {
	svc := &mockBatchService{
		createFn: func(_ context.Context, _ pipeline.CreateBatchParams) (*models.BatchJob, error) {
			return nil, errors.New("redis down")
		},
	}
	rec := httptest.NewRecorder()
	NewCreateBatchHandler(svc)(rec, postBatch(t, map[string]any{
		"user_id":   "user-1",
		"resources": []map[string]any{{"type": "note", "content": "x"}},
	}))

	status, code := parseErr(t, rec)
	if status != http.StatusInternalServerError || code != "INTERNAL_ERROR" {
		t.Fatalf("expected 500 INTERNAL_ERROR, got %d %s", status, code)
	}
}

// --- get batch ---

func getBatchReq(t *testing.T, batchID string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/batches/"+batchID, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("batchID", batchID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestGetBatch_OK(t *testing.T) {
	batchID := uuid.New()
	svc := &mockBatchService{
		getFn: func(_ context.Context, id uuid.UUID) (*models.BatchJob, error) {
			return &models.BatchJob{
				ID:         id,
				Status:     models.BatchStatusProcessing,
				Progress:   1,
				TotalItems: 3,
			}, nil
		},
	}

	rec := httptest.NewRecorder()
	NewGetBatchHandler(svc)(rec, getBatchReq(t, batchID.String()))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Data batchResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Data.Progress != 1 || env.Data.TotalItems != 3 {
		t.Errorf("unexpected progress %d/%d", env.Data.Progress, env.Data.TotalItems)
	}
}

func TestGetBatch_NotFound(t *testing.T) {
	svc := &mockBatchService{
		getFn: func(_ context.Context, _ uuid.UUID) (*models.BatchJob, error) {
			return nil, store.ErrNotFound
		},
	}

	rec := httptest.NewRecorder()
	NewGetBatchHandler(svc)(rec, getBatchReq(t, uuid.NewString()))

	status, code := parseErr(t, rec)
	if status != http.StatusNotFound || code != "NOT_FOUND" {
		t.Fatalf("expected 404 NOT_FOUND, got %d %s", status, code)
	}
}

func TestGetBatch_InvalidUUID(t *testing.T) {
	svc := &mockBatchService{}
	rec := httptest.NewRecorder()
	NewGetBatchHandler(svc)(rec, getBatchReq(t, "not-a-uuid"))

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest || code != "INVALID_REQUEST" {
		t.Fatalf("expected 400 INVALID_REQUEST, got %d %s", status, code)
	}
}
