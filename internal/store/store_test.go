package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kmathur/briefly/internal/config"
	"github.com/kmathur/briefly/internal/store"
	"github.com/kmathur/briefly/pkg/models"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a pgvector-enabled Postgres container, runs migrations,
// and returns a connected store.
func setupTestDB(t *testing.T) *store.PostgresStore {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("briefly_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, store.RunMigrations(connStr, migrationsDir()))

	pool, err := store.Connect(ctx, config.DatabaseConfig{
		URL:             connStr,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return store.NewPostgresStore(pool)
}

func newBatch(userID string, totalItems int) *models.BatchJob {
	now := time.Now().UTC()
	return &models.BatchJob{
		ID:         uuid.New(),
		UserID:     userID,
		Status:     models.BatchStatusPending,
		TotalItems: totalItems,
		Progress:   0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func newResource(batchID uuid.UUID, userID, title string) *models.Resource {
	now := time.Now().UTC()
	return &models.Resource{
		ID:               uuid.New(),
		BatchID:          batchID,
		UserID:           userID,
		Title:            title,
		Type:             models.ResourceTypeNote,
		Content:          "raw content",
		ProcessingStatus: models.ResourceStatusPending,
		Metadata:         map[string]any{},
		Tags:             []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// staticEmbed returns the same vector for every chunk.
func staticEmbed(vec []float32) store.EmbedFunc {
	return func(_ context.Context, _ string) ([]float32, error) {
		return vec, nil
	}
}

func opinionFixture() models.OpinionDocument {
	return models.OpinionDocument{
		ExecutiveSummary:  "A summary of the content.",
		KeyInsights:       "Insight one. Insight two.",
		ImmediateActions:  "Do the thing.",
		CriticalWarnings:  "Mind the gap.",
		KeyMetrics:        map[string]any{"growth": "12%"},
		ToolsResources:    map[string]any{"tool": "hammer"},
		PeopleCompanies:   []string{"Acme"},
		PrimaryKeywords:   []string{"growth"},
		SemanticTags:      []string{"finance"},
		QuestionBasedTags: []string{"how to grow?"},
		Disclaimer:        models.DefaultDisclaimer,
	}
}

// --- Batch jobs ---

func TestBatchJob_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestDB(t)
	ctx := context.Background()

	batch := newBatch("user-1", 3)
	require.NoError(t, s.CreateBatchJob(ctx, batch))

	got, err := s.GetBatchJob(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.ID, got.ID)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, models.BatchStatusPending, got.Status)
	assert.Equal(t, 3, got.TotalItems)
	assert.Equal(t, 0, got.Progress)
}

func TestBatchJob_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestDB(t)

	_, err := s.GetBatchJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBatchJob_SetStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestDB(t)
	ctx := context.Background()

	batch := newBatch("user-1", 1)
	require.NoError(t, s.CreateBatchJob(ctx, batch))
	require.NoError(t, s.SetBatchStatus(ctx, batch.ID, models.BatchStatusFailed))

	got, err := s.GetBatchJob(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusFailed, got.Status)

	assert.ErrorIs(t, s.SetBatchStatus(ctx, uuid.New(), models.BatchStatusFailed), store.ErrNotFound)
}

func TestMarkBatchProcessing_OnlyFromPending(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestDB(t)
	ctx := context.Background()

	batch := newBatch("user-1", 1)
	require.NoError(t, s.CreateBatchJob(ctx, batch))

	require.NoError(t, s.MarkBatchProcessing(ctx, batch.ID))
	got, err := s.GetBatchJob(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusProcessing, got.Status)

	// A terminal status is never clobbered by a late processing stamp.
	require.NoError(t, s.SetBatchStatus(ctx, batch.ID, models.BatchStatusCompleted))
	require.NoError(t, s.MarkBatchProcessing(ctx, batch.ID))
	got, err = s.GetBatchJob(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, got.Status)

	require.NoError(t, s.SetBatchStatus(ctx, batch.ID, models.BatchStatusFailed))
	require.NoError(t, s.MarkBatchProcessing(ctx, batch.ID))
	got, err = s.GetBatchJob(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusFailed, got.Status)
}

// --- Resources ---

func TestResource_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestDB(t)
	ctx := context.Background()

	batch := newBatch("user-1", 1)
	require.NoError(t, s.CreateBatchJob(ctx, batch))

	res := newResource(batch.ID, "user-1", "My Note")
	res.Tags = []string{"seed"}
	require.NoError(t, s.CreateResource(ctx, res))

	got, err := s.GetResource(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.ID, got.ID)
	assert.Equal(t, batch.ID, got.BatchID)
	assert.Equal(t, "My Note", got.Title)
	assert.Equal(t, models.ResourceStatusPending, got.ProcessingStatus)
	assert.Equal(t, []string{"seed"}, got.Tags)
}

func TestResource_StoreSanitizedContent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestDB(t)
	ctx := context.Background()

	batch := newBatch("user-1", 1)
	require.NoError(t, s.CreateBatchJob(ctx, batch))
	res := newResource(batch.ID, "user-1", "My Note")
	require.NoError(t, s.CreateResource(ctx, res))

	require.NoError(t, s.StoreSanitizedContent(ctx, res.ID, "clean content"))

	got, err := s.GetResource(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "clean content", got.Content)
	assert.Equal(t, models.ResourceStatusProcessing, got.ProcessingStatus)
}

func TestResource_AppendMetadataPreservesEarlierKeys(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestDB(t)
	ctx := context.Background()

	batch := newBatch("user-1", 1)
	require.NoError(t, s.CreateBatchJob(ctx, batch))
	res := newResource(batch.ID, "user-1", "My Note")
	require.NoError(t, s.CreateResource(ctx, res))

	require.NoError(t, s.AppendResourceMetadata(ctx, res.ID, map[string]any{
		"defensiveAnalysis": map[string]any{"findings": 2},
	}))
	require.NoError(t, s.AppendResourceMetadata(ctx, res.ID, map[string]any{
		"coherence": map[string]any{"relationship": models.RelationshipUnknown},
	}))

	got, err := s.GetResource(ctx, res.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Metadata, "defensiveAnalysis")
	assert.Contains(t, got.Metadata, "coherence")
}

// --- Execution logs ---

func TestStartTask_SecondOpenRowRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestDB(t)
	ctx := context.Background()

	taskID := "ingestion-" + uuid.NewString()
	logID, err := s.StartTask(ctx, taskID, "Ingestion Agent", nil, "starting")
	require.NoError(t, err)

	// A second attempt while the first row is still open must be rejected.
	_, err = s.StartTask(ctx, taskID, "Ingestion Agent", nil, "starting again")
	assert.ErrorIs(t, err, store.ErrTaskAlreadyRunning)

	// Closing the row frees the task for a fresh attempt.
	require.NoError(t, s.CompleteTask(ctx, logID, "done"))
	_, err = s.StartTask(ctx, taskID, "Ingestion Agent", nil, "retry")
	require.NoError(t, err)
}

func TestStartTask_FreedAfterFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestDB(t)
	ctx := context.Background()

	taskID := "synthesisOpinion-" + uuid.NewString()
	logID, err := s.StartTask(ctx, taskID, "Synthesis Agent", nil, "starting")
	require.NoError(t, err)
	require.NoError(t, s.FailTask(ctx, logID, "model call failed"))

	_, err = s.StartTask(ctx, taskID, "Synthesis Agent", nil, "retry")
	require.NoError(t, err)
}

func TestExecutionLogs_TerminalStateRecorded(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestDB(t)
	ctx := context.Background()

	batch := newBatch("user-1", 1)
	require.NoError(t, s.CreateBatchJob(ctx, batch))
	res := newResource(batch.ID, "user-1", "My Note")
	require.NoError(t, s.CreateResource(ctx, res))

	logID, err := s.StartTask(ctx, "persistence-"+res.ID.String(), "Persistence Agent", &res.ID, "starting")
	require.NoError(t, err)
	require.NoError(t, s.FailTask(ctx, logID, "deadlock detected"))

	logs, err := s.ListResourceLogs(ctx, res.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.TaskStatusFailed, logs[0].Status)
	require.NotNil(t, logs[0].ErrorMessage)
	assert.Equal(t, "deadlock detected", *logs[0].ErrorMessage)
	assert.NotNil(t, logs[0].EndTime)
}

func TestListExecutionLogs_MostRecentFirst(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := s.StartTask(ctx, "ingestion-"+uuid.NewString(), "Ingestion Agent", nil, "starting")
		require.NoError(t, err)
		require.NoError(t, s.CompleteTask(ctx, id, "done"))
		time.Sleep(10 * time.Millisecond)
	}

	logs, err := s.ListExecutionLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	for i := 1; i < len(logs); i++ {
		assert.False(t, logs[i-1].StartTime.Before(logs[i].StartTime),
			"logs must be ordered most recent first")
	}

	// Limit is respected.
	logs, err = s.ListExecutionLogs(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

// --- Vector search ---

func TestSimilarChunks_ThresholdAndNamespace(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestDB(t)
	ctx := context.Background()

	seed := func(userID string, vec []float32) uuid.UUID {
		batch := newBatch(userID, 1)
		require.NoError(t, s.CreateBatchJob(ctx, batch))
		res := newResource(batch.ID, userID, "Doc for "+userID)
		require.NoError(t, s.CreateResource(ctx, res))
		_, _, err := s.PersistAnalysis(ctx, store.PersistParams{
			BatchID:        batch.ID,
			ResourceID:     res.ID,
			Namespace:      userID,
			Opinion:        opinionFixture(),
			Chunks:         []string{"chunk for " + userID},
			EmbeddingModel: "embedding-001",
		}, staticEmbed(vec))
		require.NoError(t, err)
		return res.ID
	}

	nearID := seed("user-a", []float32{1, 0, 0})
	seed("user-a", []float32{0, 1, 0}) // orthogonal, below threshold
	seed("user-b", []float32{1, 0, 0}) // same vector, different namespace

	chunks, err := s.SimilarChunks(ctx, []float32{1, 0, 0}, "user-a", 3, 0.7)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, nearID, chunks[0].ResourceID)
	assert.InDelta(t, 1.0, chunks[0].Similarity, 0.001)
}

func TestSimilarChunks_OrderedAndCapped(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestDB(t)
	ctx := context.Background()

	batch := newBatch("user-a", 3)
	require.NoError(t, s.CreateBatchJob(ctx, batch))

	vectors := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0.8, 0.2, 0},
	}
	for i, vec := range vectors {
		res := newResource(batch.ID, "user-a", "Doc")
		require.NoError(t, s.CreateResource(ctx, res))
		_, _, err := s.PersistAnalysis(ctx, store.PersistParams{
			BatchID:        batch.ID,
			ResourceID:     res.ID,
			Namespace:      "user-a",
			Opinion:        opinionFixture(),
			Chunks:         []string{"chunk"},
			EmbeddingModel: "embedding-001",
		}, staticEmbed(vec))
		require.NoError(t, err, "seed %d", i)
	}

	chunks, err := s.SimilarChunks(ctx, []float32{1, 0, 0}, "user-a", 2, 0.5)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.GreaterOrEqual(t, chunks[0].Similarity, chunks[1].Similarity)
	assert.InDelta(t, 1.0, chunks[0].Similarity, 0.001)
}

// --- Persistence transaction ---

func TestPersistAnalysis_WritesEverything(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestDB(t)
	ctx := context.Background()

	batch := newBatch("user-1", 1)
	require.NoError(t, s.CreateBatchJob(ctx, batch))
	res := newResource(batch.ID, "user-1", "My Note")
	res.Tags = []string{"seed"}
	require.NoError(t, s.CreateResource(ctx, res))

	summary, updated, err := s.PersistAnalysis(ctx, store.PersistParams{
		BatchID:        batch.ID,
		ResourceID:     res.ID,
		Namespace:      "user-1",
		Opinion:        opinionFixture(),
		Chunks:         []string{"chunk one", "chunk two"},
		EmbeddingModel: "embedding-001",
		Tags:           []string{"finance", "seed"},
	}, staticEmbed([]float32{0.1, 0.2, 0.3}))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TotalChunks)
	assert.Equal(t, models.DefaultDisclaimer, summary.Disclaimer)
	assert.Equal(t, 1, updated.Progress)
	assert.Equal(t, models.BatchStatusCompleted, updated.Status)

	got, err := s.GetContentSummary(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "A summary of the content.", got.ExecutiveSummary)
	assert.Equal(t, 2, got.TotalChunks)
	assert.Equal(t, map[string]any{"growth": "12%"}, got.KeyMetrics)

	// Resource is completed and tags merged without duplicates.
	r, err := s.GetResource(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResourceStatusCompleted, r.ProcessingStatus)
	assert.ElementsMatch(t, []string{"seed", "finance"}, r.Tags)
}

func TestPersistAnalysis_EmbedFailureRollsBack(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestDB(t)
	ctx := context.Background()

	batch := newBatch("user-1", 1)
	require.NoError(t, s.CreateBatchJob(ctx, batch))
	res := newResource(batch.ID, "user-1", "My Note")
	require.NoError(t, s.CreateResource(ctx, res))

	embedErr := errors.New("provider unavailable")
	failOnSecond := func() store.EmbedFunc {
		calls := 0
		return func(_ context.Context, _ string) ([]float32, error) {
			calls++
			if calls > 1 {
				return nil, embedErr
			}
			return []float32{0.1, 0.2, 0.3}, nil
		}
	}()

	_, _, err := s.PersistAnalysis(ctx, store.PersistParams{
		BatchID:        batch.ID,
		ResourceID:     res.ID,
		Namespace:      "user-1",
		Opinion:        opinionFixture(),
		Chunks:         []string{"chunk one", "chunk two"},
		EmbeddingModel: "embedding-001",
	}, failOnSecond)
	require.ErrorIs(t, err, embedErr)

	// Nothing survives the rollback: no summary, no progress, resource untouched.
	_, err = s.GetContentSummary(ctx, res.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	b, err := s.GetBatchJob(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Progress)
	assert.Equal(t, models.BatchStatusPending, b.Status)

	r, err := s.GetResource(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResourceStatusPending, r.ProcessingStatus)
}

func TestPersistAnalysis_EmptyEmbeddingRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestDB(t)
	ctx := context.Background()

	batch := newBatch("user-1", 1)
	require.NoError(t, s.CreateBatchJob(ctx, batch))
	res := newResource(batch.ID, "user-1", "My Note")
	require.NoError(t, s.CreateResource(ctx, res))

	_, _, err := s.PersistAnalysis(ctx, store.PersistParams{
		BatchID:        batch.ID,
		ResourceID:     res.ID,
		Namespace:      "user-1",
		Opinion:        opinionFixture(),
		Chunks:         []string{"chunk one"},
		EmbeddingModel: "embedding-001",
	}, staticEmbed(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty embedding")
}

func TestPersistAnalysis_ConcurrentCompletionsCountBoth(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestDB(t)
	ctx := context.Background()

	batch := newBatch("user-1", 2)
	require.NoError(t, s.CreateBatchJob(ctx, batch))

	resources := make([]*models.Resource, 2)
	for i := range resources {
		res := newResource(batch.ID, "user-1", "Doc")
		require.NoError(t, s.CreateResource(ctx, res))
		resources[i] = res
	}

	var wg sync.WaitGroup
	errs := make([]error, len(resources))
	for i, res := range resources {
		wg.Add(1)
		go func(i int, resourceID uuid.UUID) {
			defer wg.Done()
			_, _, errs[i] = s.PersistAnalysis(ctx, store.PersistParams{
				BatchID:        batch.ID,
				ResourceID:     resourceID,
				Namespace:      "user-1",
				Opinion:        opinionFixture(),
				Chunks:         []string{"chunk"},
				EmbeddingModel: "embedding-001",
			}, staticEmbed([]float32{0.1, 0.2, 0.3}))
		}(i, res.ID)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "persist %d", i)
	}

	// Both increments land: no lost update under concurrency.
	b, err := s.GetBatchJob(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Progress)
	assert.Equal(t, models.BatchStatusCompleted, b.Status)
}

func TestGetContentSummary_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestDB(t)

	_, err := s.GetContentSummary(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}
