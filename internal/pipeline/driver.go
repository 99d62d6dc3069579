// Package pipeline runs the linear analysis chain. Each stage consumes a
// typed payload, records an execution log attempt, and on success enqueues
// exactly one job for the next stage, carrying forward every accumulated
// output. The relational store is the single source of truth; the queue
// only delivers work.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kmathur/briefly/internal/config"
	"github.com/kmathur/briefly/internal/fetch"
	"github.com/kmathur/briefly/internal/queue"
	"github.com/kmathur/briefly/internal/search"
	"github.com/kmathur/briefly/internal/store"
	"github.com/kmathur/briefly/pkg/models"
)

// CoherenceSearcher is the vector search dependency of the internal
// coherence stage.
type CoherenceSearcher interface {
	Search(ctx context.Context, text string, opts search.Options) ([]*models.SimilarChunk, error)
}

// Pipeline holds every stage's dependencies. Constructed once per worker
// process; all clients are injected, none are package-level.
type Pipeline struct {
	store    store.Store
	queue    queue.Queue
	provider models.Provider
	fetcher  *fetch.Fetcher
	searcher CoherenceSearcher
	policy   ContradictionPolicy
	cfg      config.PipelineConfig
}

func New(st store.Store, q queue.Queue, provider models.Provider, fetcher *fetch.Fetcher, searcher CoherenceSearcher, cfg config.PipelineConfig) *Pipeline {
	return &Pipeline{
		store:    st,
		queue:    q,
		provider: provider,
		fetcher:  fetcher,
		searcher: searcher,
		policy:   NewContradictionPolicy(cfg.ContradictionCutoff),
		cfg:      cfg,
	}
}

// Execute decodes and validates the job payload at the queue boundary, then
// dispatches to the stage function. Malformed payloads are rejected before
// any stage logic runs.
func (p *Pipeline) Execute(ctx context.Context, job *queue.Job) error {
	switch job.Stage {
	case StageIngestion:
		var pl IngestionPayload
		if err := decodePayload(job.Payload, &pl); err != nil {
			return err
		}
		return p.runIngestion(ctx, pl)
	case StageDefensiveAnalysis:
		var pl AnalysisPayload
		if err := decodePayload(job.Payload, &pl); err != nil {
			return err
		}
		return p.runDefensiveAnalysis(ctx, pl)
	case StageInternalCoherence:
		var pl CoherencePayload
		if err := decodePayload(job.Payload, &pl); err != nil {
			return err
		}
		return p.runInternalCoherence(ctx, pl)
	case StageSynthesis:
		var pl SynthesisPayload
		if err := decodePayload(job.Payload, &pl); err != nil {
			return err
		}
		return p.runSynthesis(ctx, pl)
	case StagePersistence:
		var pl PersistencePayload
		if err := decodePayload(job.Payload, &pl); err != nil {
			return err
		}
		return p.runPersistence(ctx, pl)
	default:
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidPayload, job.Stage)
	}
}

type validator interface {
	Validate() error
}

func decodePayload(raw json.RawMessage, out validator) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return out.Validate()
}

// nextJob is the downstream enqueue a successful stage attempt produces.
type nextJob struct {
	stage   string
	payload any
}

// runTask brackets one stage attempt: STARTED log row, stage function,
// terminal log row, downstream enqueue. An already-open task fails closed
// with no work and no enqueue. An enqueue failure is fatal to the stage so
// work is never silently dropped. Each attempt runs under its own deadline;
// a hung store or model call surfaces as a failed attempt instead of
// blocking the worker's handler forever.
func (p *Pipeline) runTask(ctx context.Context, stage string, batchID, resourceID uuid.UUID, startLog string, fn func(context.Context) (string, *nextJob, error)) error {
	if p.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.StageTimeout)
		defer cancel()
	}

	tid := TaskID(stage, resourceID)
	logID, err := p.store.StartTask(ctx, tid, stageTaskNames[stage], &resourceID, startLog)
	if err != nil {
		if errors.Is(err, store.ErrTaskAlreadyRunning) {
			slog.Warn("task already running, skipping", "task_id", tid)
			return nil
		}
		return fmt.Errorf("starting task %s: %w", tid, err)
	}

	doneLog, next, err := fn(ctx)
	if err != nil {
		p.failTask(ctx, logID, batchID, err)
		return fmt.Errorf("task %s: %w", tid, err)
	}

	if err := p.store.CompleteTask(ctx, logID, doneLog); err != nil {
		return fmt.Errorf("completing task %s: %w", tid, err)
	}

	if next != nil {
		if _, err := p.queue.Enqueue(ctx, next.stage, next.payload, TaskID(next.stage, resourceID)); err != nil {
			err = fmt.Errorf("enqueueing %s: %w", next.stage, err)
			p.failTask(ctx, logID, batchID, err)
			return err
		}
	}
	return nil
}

// failTask records the failure and trips the batch-level failed mark. Runs
// detached from the caller's cancellation so the audit trail is written even
// when the stage failed on a cancelled context.
func (p *Pipeline) failTask(ctx context.Context, logID uuid.UUID, batchID uuid.UUID, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := p.store.FailTask(ctx, logID, cause.Error()); err != nil {
		slog.Error("recording task failure", "error", err, "log_id", logID)
	}
	if err := p.store.SetBatchStatus(ctx, batchID, models.BatchStatusFailed); err != nil {
		slog.Error("marking batch failed", "error", err, "batch_id", batchID)
	}
}
