package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kmathur/briefly/pkg/models"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Batch jobs ---

func (s *PostgresStore) CreateBatchJob(ctx context.Context, batch *models.BatchJob) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO batch_jobs (id, user_id, status, total_items, progress, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		batch.ID, batch.UserID, batch.Status, batch.TotalItems, batch.Progress,
		batch.CreatedAt, batch.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create batch job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBatchJob(ctx context.Context, id uuid.UUID) (*models.BatchJob, error) {
	var b models.BatchJob
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, status, total_items, progress, created_at, updated_at
		 FROM batch_jobs WHERE id = $1`, id,
	).Scan(&b.ID, &b.UserID, &b.Status, &b.TotalItems, &b.Progress, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch job: %w", err)
	}
	return &b, nil
}

func (s *PostgresStore) SetBatchStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batch_jobs SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set batch status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkBatchProcessing moves a pending batch to processing. The transition is
// conditional: a batch that already reached a terminal status (a fast worker
// finished the whole chain, or a stage failed) keeps it. Writing nothing in
// that case is the correct outcome, not an error.
func (s *PostgresStore) MarkBatchProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE batch_jobs SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status = $3`,
		id, models.BatchStatusProcessing, models.BatchStatusPending)
	if err != nil {
		return fmt.Errorf("mark batch processing: %w", err)
	}
	return nil
}

// --- Resources ---

func (s *PostgresStore) CreateResource(ctx context.Context, r *models.Resource) error {
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("marshal resource metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO resources (id, batch_id, user_id, title, source_url, type, content, processing_status, metadata, tags, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12)`,
		r.ID, r.BatchID, r.UserID, r.Title, r.SourceURL, r.Type, r.Content,
		r.ProcessingStatus, string(meta), r.Tags, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create resource: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetResource(ctx context.Context, id uuid.UUID) (*models.Resource, error) {
	var r models.Resource
	var meta []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, batch_id, user_id, title, source_url, type, content, processing_status, metadata, tags, created_at, updated_at
		 FROM resources WHERE id = $1`, id,
	).Scan(&r.ID, &r.BatchID, &r.UserID, &r.Title, &r.SourceURL, &r.Type, &r.Content,
		&r.ProcessingStatus, &meta, &r.Tags, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal resource metadata: %w", err)
		}
	}
	return &r, nil
}

func (s *PostgresStore) StoreSanitizedContent(ctx context.Context, id uuid.UUID, content string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE resources SET content = $2, processing_status = $3, updated_at = NOW() WHERE id = $1`,
		id, content, models.ResourceStatusProcessing)
	if err != nil {
		return fmt.Errorf("store sanitized content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendResourceMetadata merges fragment into the resource's metadata bag.
// Keys are namespaced per stage, so the merge only ever adds; earlier stage
// output is never overwritten.
func (s *PostgresStore) AppendResourceMetadata(ctx context.Context, id uuid.UUID, fragment map[string]any) error {
	b, err := json.Marshal(fragment)
	if err != nil {
		return fmt.Errorf("marshal metadata fragment: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE resources SET metadata = metadata || $2::jsonb, updated_at = NOW() WHERE id = $1`,
		id, string(b))
	if err != nil {
		return fmt.Errorf("append resource metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Execution logs ---

// StartTask opens an execution log row for one task attempt. A partial unique
// index on (task_id) WHERE status = 'STARTED' guarantees at most one open row
// per task; a conflicting insert returns ErrTaskAlreadyRunning.
func (s *PostgresStore) StartTask(ctx context.Context, taskID, taskName string, resourceID *uuid.UUID, logOutput string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO execution_logs (id, task_id, task_name, resource_id, status, log_output, start_time)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		id, taskID, taskName, resourceID, models.TaskStatusStarted, logOutput)
	if err != nil {
		if isDuplicateKeyError(err) {
			return uuid.Nil, ErrTaskAlreadyRunning
		}
		return uuid.Nil, fmt.Errorf("start task %s: %w", taskID, err)
	}
	return id, nil
}

func (s *PostgresStore) CompleteTask(ctx context.Context, id uuid.UUID, logOutput string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE execution_logs SET status = $2, log_output = $3, end_time = NOW() WHERE id = $1`,
		id, models.TaskStatusCompleted, logOutput)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FailTask(ctx context.Context, id uuid.UUID, errorMessage string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE execution_logs SET status = $2, error_message = $3, end_time = NOW() WHERE id = $1`,
		id, models.TaskStatusFailed, errorMessage)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListExecutionLogs(ctx context.Context, limit int) ([]*models.ExecutionLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, task_name, resource_id, status, log_output, error_message, start_time, end_time
		 FROM execution_logs ORDER BY start_time DESC LIMIT $1`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list execution logs: %w", err)
	}
	defer rows.Close()
	return scanExecutionLogs(rows)
}

func (s *PostgresStore) ListResourceLogs(ctx context.Context, resourceID uuid.UUID, limit int) ([]*models.ExecutionLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, task_name, resource_id, status, log_output, error_message, start_time, end_time
		 FROM execution_logs WHERE resource_id = $1 ORDER BY start_time DESC LIMIT $2`,
		resourceID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list resource logs: %w", err)
	}
	defer rows.Close()
	return scanExecutionLogs(rows)
}

func scanExecutionLogs(rows pgx.Rows) ([]*models.ExecutionLog, error) {
	var logs []*models.ExecutionLog
	for rows.Next() {
		var l models.ExecutionLog
		if err := rows.Scan(&l.ID, &l.TaskID, &l.TaskName, &l.ResourceID, &l.Status,
			&l.LogOutput, &l.ErrorMessage, &l.StartTime, &l.EndTime); err != nil {
			return nil, fmt.Errorf("scan execution log: %w", err)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}

// --- Summaries and vector chunks ---

func (s *PostgresStore) GetContentSummary(ctx context.Context, resourceID uuid.UUID) (*models.ContentSummary, error) {
	var cs models.ContentSummary
	var metrics, tools []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, resource_id, executive_summary, key_insights, critical_warnings, immediate_actions,
		        key_metrics, tools_resources, people_companies, primary_keywords, semantic_tags,
		        question_based_tags, disclaimer, total_chunks, embedding_model, created_at
		 FROM content_summaries WHERE resource_id = $1`, resourceID,
	).Scan(&cs.ID, &cs.ResourceID, &cs.ExecutiveSummary, &cs.KeyInsights, &cs.CriticalWarnings,
		&cs.ImmediateActions, &metrics, &tools, &cs.PeopleCompanies, &cs.PrimaryKeywords,
		&cs.SemanticTags, &cs.QuestionBasedTags, &cs.Disclaimer, &cs.TotalChunks,
		&cs.EmbeddingModel, &cs.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get content summary: %w", err)
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &cs.KeyMetrics); err != nil {
			return nil, fmt.Errorf("unmarshal key metrics: %w", err)
		}
	}
	if len(tools) > 0 {
		if err := json.Unmarshal(tools, &cs.ToolsResources); err != nil {
			return nil, fmt.Errorf("unmarshal tools resources: %w", err)
		}
	}
	return &cs, nil
}

// SimilarChunks runs a nearest-neighbor query scoped to namespace. Results
// are ordered by descending cosine similarity, filtered to the threshold,
// and capped at topK.
func (s *PostgresStore) SimilarChunks(ctx context.Context, embedding []float32, namespace string, topK int, threshold float64) ([]*models.SimilarChunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT vc.id, vc.resource_id, vc.content, r.title,
		        1 - (vc.embedding <=> $1) AS similarity
		 FROM vector_chunks vc
		 JOIN resources r ON r.id = vc.resource_id
		 WHERE vc.namespace = $2
		   AND 1 - (vc.embedding <=> $1) >= $3
		 ORDER BY similarity DESC
		 LIMIT $4`,
		pgvector.NewVector(embedding), namespace, threshold, topK)
	if err != nil {
		return nil, fmt.Errorf("similar chunks query: %w", err)
	}
	defer rows.Close()

	var chunks []*models.SimilarChunk
	for rows.Next() {
		var c models.SimilarChunk
		if err := rows.Scan(&c.ChunkID, &c.ResourceID, &c.Content, &c.Title, &c.Similarity); err != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", err)
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// PersistAnalysis writes the final report for one resource inside a single
// transaction: summary row, one vector chunk per content chunk (embedded via
// embed), chunk count, resource completion, and the atomic batch progress
// increment. Any failure rolls back all of it.
func (s *PostgresStore) PersistAnalysis(ctx context.Context, params PersistParams, embed EmbedFunc) (*models.ContentSummary, *models.BatchJob, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin persistence transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	op := params.Opinion
	metrics, err := json.Marshal(orEmptyMap(op.KeyMetrics))
	if err != nil {
		return nil, nil, fmt.Errorf("marshal key metrics: %w", err)
	}
	tools, err := json.Marshal(orEmptyMap(op.ToolsResources))
	if err != nil {
		return nil, nil, fmt.Errorf("marshal tools resources: %w", err)
	}

	summary := &models.ContentSummary{
		ID:                uuid.New(),
		ResourceID:        params.ResourceID,
		ExecutiveSummary:  op.ExecutiveSummary,
		KeyInsights:       op.KeyInsights,
		CriticalWarnings:  op.CriticalWarnings,
		ImmediateActions:  op.ImmediateActions,
		KeyMetrics:        op.KeyMetrics,
		ToolsResources:    op.ToolsResources,
		PeopleCompanies:   orEmptySlice(op.PeopleCompanies),
		PrimaryKeywords:   orEmptySlice(op.PrimaryKeywords),
		SemanticTags:      orEmptySlice(op.SemanticTags),
		QuestionBasedTags: orEmptySlice(op.QuestionBasedTags),
		Disclaimer:        op.Disclaimer,
		EmbeddingModel:    params.EmbeddingModel,
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO content_summaries (id, resource_id, executive_summary, key_insights, critical_warnings,
		        immediate_actions, key_metrics, tools_resources, people_companies, primary_keywords,
		        semantic_tags, question_based_tags, disclaimer, total_chunks, embedding_model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9, $10, $11, $12, $13, 0, $14, NOW())
		 RETURNING created_at`,
		summary.ID, summary.ResourceID, summary.ExecutiveSummary, summary.KeyInsights,
		summary.CriticalWarnings, summary.ImmediateActions, string(metrics), string(tools),
		summary.PeopleCompanies, summary.PrimaryKeywords, summary.SemanticTags,
		summary.QuestionBasedTags, summary.Disclaimer, summary.EmbeddingModel,
	).Scan(&summary.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, nil, ErrDuplicateKey
		}
		return nil, nil, fmt.Errorf("insert content summary: %w", err)
	}

	for i, chunk := range params.Chunks {
		vec, err := embed(ctx, chunk)
		if err != nil {
			return nil, nil, fmt.Errorf("embed chunk %d: %w", i, err)
		}
		if len(vec) == 0 {
			return nil, nil, fmt.Errorf("embed chunk %d: empty embedding vector", i)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO vector_chunks (id, resource_id, summary_id, chunk_index, chunk_type, content,
			        embedding, vector_dimension, namespace, embedding_model, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`,
			uuid.New(), params.ResourceID, summary.ID, i, "summary", chunk,
			pgvector.NewVector(vec), len(vec), params.Namespace, params.EmbeddingModel)
		if err != nil {
			return nil, nil, fmt.Errorf("insert vector chunk %d: %w", i, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE content_summaries SET total_chunks = $2 WHERE id = $1`,
		summary.ID, len(params.Chunks)); err != nil {
		return nil, nil, fmt.Errorf("update chunk count: %w", err)
	}
	summary.TotalChunks = len(params.Chunks)

	if _, err := tx.Exec(ctx,
		`UPDATE resources SET processing_status = $2,
		        tags = ARRAY(SELECT DISTINCT t FROM unnest(tags || $3::text[]) AS t),
		        updated_at = NOW()
		 WHERE id = $1`,
		params.ResourceID, models.ResourceStatusCompleted, orEmptySlice(params.Tags)); err != nil {
		return nil, nil, fmt.Errorf("complete resource: %w", err)
	}

	// The progress increment and the completed flip happen in one statement so
	// concurrent resource completions never lose an update.
	var b models.BatchJob
	err = tx.QueryRow(ctx,
		`UPDATE batch_jobs
		 SET progress = LEAST(progress + 1, total_items),
		     status = CASE WHEN LEAST(progress + 1, total_items) >= total_items
		              THEN $2 ELSE status END,
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING id, user_id, status, total_items, progress, created_at, updated_at`,
		params.BatchID, models.BatchStatusCompleted,
	).Scan(&b.ID, &b.UserID, &b.Status, &b.TotalItems, &b.Progress, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("update batch progress: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit persistence transaction: %w", err)
	}
	return summary, &b, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// isDuplicateKeyError reports whether err is a Postgres unique violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
