package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kmathur/briefly/internal/cache"
	"github.com/kmathur/briefly/internal/queue"
	"github.com/kmathur/briefly/internal/store"
	"github.com/kmathur/briefly/pkg/models"
)

const batchStatusTTL = 30 * time.Second

// NewResource describes one source in a batch submission.
type NewResource struct {
	Title    string                     `json:"title"`
	Type     string                     `json:"type"`
	URL      string                     `json:"url,omitempty"`
	Content  string                     `json:"content,omitempty"`
	Segments []models.TranscriptSegment `json:"segments,omitempty"`
}

// CreateBatchParams is one batch submission.
type CreateBatchParams struct {
	UserID    string
	Resources []NewResource
}

// BatchService creates batches and reads their status. It owns the only
// external enqueue: the ingestion job that starts the chain.
type BatchService struct {
	store          store.Store
	queue          queue.Queue
	cache          cache.Cache
	embeddingModel string
	chunkSize      int
}

func NewBatchService(st store.Store, q queue.Queue, c cache.Cache, embeddingModel string, chunkSize int) *BatchService {
	return &BatchService{
		store:          st,
		queue:          q,
		cache:          c,
		embeddingModel: embeddingModel,
		chunkSize:      chunkSize,
	}
}

// CreateBatch persists the batch and its resources, then enqueues ingestion.
// The dedupe key makes accidental double submission of the same batch a
// no-op at the queue layer.
func (s *BatchService) CreateBatch(ctx context.Context, params CreateBatchParams) (*models.BatchJob, error) {
	now := time.Now().UTC()
	batch := &models.BatchJob{
		ID:         uuid.New(),
		UserID:     params.UserID,
		Status:     models.BatchStatusPending,
		TotalItems: len(params.Resources),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateBatchJob(ctx, batch); err != nil {
		return nil, fmt.Errorf("creating batch job: %w", err)
	}

	ingest := make([]IngestResource, 0, len(params.Resources))
	for _, nr := range params.Resources {
		resource := &models.Resource{
			ID:               uuid.New(),
			BatchID:          batch.ID,
			UserID:           params.UserID,
			Title:            nr.Title,
			SourceURL:        nr.URL,
			Type:             nr.Type,
			ProcessingStatus: models.ResourceStatusPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.store.CreateResource(ctx, resource); err != nil {
			return nil, fmt.Errorf("creating resource: %w", err)
		}
		ingest = append(ingest, IngestResource{
			ID:       resource.ID,
			Title:    nr.Title,
			Type:     nr.Type,
			URL:      nr.URL,
			Content:  nr.Content,
			Segments: nr.Segments,
		})
	}

	payload := IngestionPayload{
		BatchID:   batch.ID,
		Resources: ingest,
		UserID:    params.UserID,
		Config: JobConfig{
			EmbeddingModel: s.embeddingModel,
			ChunkSize:      s.chunkSize,
		},
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	jobID, err := s.queue.Enqueue(ctx, StageIngestion, payload, TaskID(StageIngestion, batch.ID))
	if err != nil {
		return nil, fmt.Errorf("enqueueing ingestion: %w", err)
	}

	if err := s.cache.SetBatchStatus(ctx, batch.ID, batch.Status, batchStatusTTL); err != nil {
		slog.Warn("caching batch status", "error", err, "batch_id", batch.ID)
	}

	slog.Info("batch created",
		"batch_id", batch.ID,
		"job_id", jobID,
		"total_items", batch.TotalItems,
	)
	return batch, nil
}

// GetBatch returns the batch aggregate. The store is authoritative; the
// cache only keeps the last-seen status warm for polling clients.
func (s *BatchService) GetBatch(ctx context.Context, id uuid.UUID) (*models.BatchJob, error) {
	batch, err := s.store.GetBatchJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetBatchStatus(ctx, batch.ID, batch.Status, batchStatusTTL); err != nil {
		slog.Warn("caching batch status", "error", err, "batch_id", batch.ID)
	}
	return batch, nil
}
