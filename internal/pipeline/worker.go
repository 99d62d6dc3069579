package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kmathur/briefly/internal/queue"
)

// Worker pulls jobs from the queue and runs them through the pipeline with a
// fixed number of concurrent handlers. Each handler processes one job (one
// resource, one stage) to completion before taking the next.
type Worker struct {
	queue       queue.Queue
	pipeline    *Pipeline
	concurrency int
}

func NewWorker(q queue.Queue, p *Pipeline, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{queue: q, pipeline: p, concurrency: concurrency}
}

// Run blocks until ctx is cancelled, then drains: in-flight handlers finish
// their current job before returning.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("worker starting", "concurrency", w.concurrency)

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	wg.Wait()

	slog.Info("worker stopped")
}

func (w *Worker) loop(ctx context.Context, handlerID int) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("dequeue failed", "error", err, "handler", handlerID)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if job == nil {
			continue
		}

		w.handle(ctx, job, handlerID)
	}
}

func (w *Worker) handle(ctx context.Context, job *queue.Job, handlerID int) {
	start := time.Now()
	err := w.pipeline.Execute(ctx, job)
	if err != nil {
		slog.Error("job failed",
			"job_id", job.ID,
			"stage", job.Stage,
			"attempts", job.Attempts,
			"duration", time.Since(start),
			"error", err,
		)
		if nackErr := w.queue.Nack(context.WithoutCancel(ctx), job, err); nackErr != nil {
			slog.Error("nack failed", "job_id", job.ID, "error", nackErr)
		}
		return
	}

	slog.Info("job completed",
		"job_id", job.ID,
		"stage", job.Stage,
		"duration", time.Since(start),
		"handler", handlerID,
	)
	if ackErr := w.queue.Ack(context.WithoutCancel(ctx), job); ackErr != nil {
		slog.Error("ack failed", "job_id", job.ID, "error", ackErr)
	}
}
