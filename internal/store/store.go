package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kmathur/briefly/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrTaskAlreadyRunning is returned by StartTask when an execution log row for
// the same task is still open. Callers must fail closed: no work, no
// downstream enqueue.
var ErrTaskAlreadyRunning = errors.New("task already has an open execution log")

// EmbedFunc converts text into an embedding vector. PersistAnalysis calls it
// once per chunk inside the persistence transaction so that an embedding
// failure rolls back every write for the resource.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// PersistParams carries everything the persistence transaction writes.
type PersistParams struct {
	BatchID        uuid.UUID
	ResourceID     uuid.UUID
	Namespace      string
	Opinion        models.OpinionDocument
	Chunks         []string
	EmbeddingModel string
	Tags           []string
}

// Store is the data access interface. All database operations go through here.
// The relational store is the single source of truth: on queue data loss the
// system is reconstructable from execution logs, batch jobs, and resources.
type Store interface {
	Ping(ctx context.Context) error

	CreateBatchJob(ctx context.Context, batch *models.BatchJob) error
	GetBatchJob(ctx context.Context, id uuid.UUID) (*models.BatchJob, error)
	SetBatchStatus(ctx context.Context, id uuid.UUID, status string) error
	MarkBatchProcessing(ctx context.Context, id uuid.UUID) error

	CreateResource(ctx context.Context, resource *models.Resource) error
	GetResource(ctx context.Context, id uuid.UUID) (*models.Resource, error)
	StoreSanitizedContent(ctx context.Context, id uuid.UUID, content string) error
	AppendResourceMetadata(ctx context.Context, id uuid.UUID, fragment map[string]any) error

	StartTask(ctx context.Context, taskID, taskName string, resourceID *uuid.UUID, logOutput string) (uuid.UUID, error)
	CompleteTask(ctx context.Context, id uuid.UUID, logOutput string) error
	FailTask(ctx context.Context, id uuid.UUID, errorMessage string) error
	ListExecutionLogs(ctx context.Context, limit int) ([]*models.ExecutionLog, error)
	ListResourceLogs(ctx context.Context, resourceID uuid.UUID, limit int) ([]*models.ExecutionLog, error)

	GetContentSummary(ctx context.Context, resourceID uuid.UUID) (*models.ContentSummary, error)
	SimilarChunks(ctx context.Context, embedding []float32, namespace string, topK int, threshold float64) ([]*models.SimilarChunk, error)
	PersistAnalysis(ctx context.Context, params PersistParams, embed EmbedFunc) (*models.ContentSummary, *models.BatchJob, error)
}
