// Package queue implements the durable Redis-backed job queue that connects
// the pipeline stages: at-least-once delivery, exponential-backoff retries,
// dedupe keys for idempotent enqueues, and a bounded dead-letter list. The
// queue is purely a delivery mechanism and holds no authoritative state.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Job is one unit of queued work: a stage name plus its payload envelope.
type Job struct {
	ID         string          `json:"id"`
	Stage      string          `json:"stage"`
	Payload    json.RawMessage `json:"payload"`
	DedupeKey  string          `json:"dedupe_key"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// Queue is the job queue interface. Implementations must be safe for
// concurrent use by multiple worker goroutines.
type Queue interface {
	// Enqueue adds a job and returns its ID. While a job with the same
	// dedupe key is in flight (waiting, delayed, or active), a second
	// enqueue is a no-op returning the existing job's ID.
	Enqueue(ctx context.Context, stage string, payload any, dedupeKey string) (string, error)
	// Dequeue blocks up to the configured poll interval and returns the next
	// job, or (nil, nil) when none is ready.
	Dequeue(ctx context.Context) (*Job, error)
	// Ack marks the job done and removes it, releasing its dedupe key.
	Ack(ctx context.Context, job *Job) error
	// Nack records a failed attempt: the job is rescheduled with exponential
	// backoff, or moved to the bounded dead-letter list once its attempt
	// limit is reached.
	Nack(ctx context.Context, job *Job, cause error) error
	Ping(ctx context.Context) error
	Close() error
}
