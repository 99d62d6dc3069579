package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultMaxAttempts       = 3
	defaultBackoffBase       = time.Second
	defaultFailedRetention   = 1000
	defaultDequeueBlock      = 5 * time.Second
	defaultVisibilityTimeout = 5 * time.Minute
	defaultDedupeTTL         = time.Hour
	promoteBatchSize         = 128
)

// Options configures the retry and retention policy of a RedisQueue.
type Options struct {
	// Name namespaces all Redis keys for this queue.
	Name string
	// MaxAttempts is the total number of delivery attempts before a job is
	// dead-lettered.
	MaxAttempts int
	// BackoffBase is the delay before the first retry; each subsequent retry
	// doubles it.
	BackoffBase time.Duration
	// FailedRetention bounds how many dead-lettered jobs are kept for
	// postmortem inspection.
	FailedRetention int
	// DequeueBlock is how long Dequeue blocks waiting for work.
	DequeueBlock time.Duration
	// VisibilityTimeout is the lease a worker holds on a checked-out job.
	// A job still unacked when its lease expires is reclaimed onto the
	// wait list, so a crashed worker cannot strand it.
	VisibilityTimeout time.Duration
	// DedupeTTL expires an in-flight dedupe claim. A claim orphaned by a
	// crash (or a leaked job) stops blocking re-enqueues after this long.
	DedupeTTL time.Duration
}

func (o *Options) applyDefaults() {
	if o.Name == "" {
		o.Name = "pipeline"
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = defaultBackoffBase
	}
	if o.FailedRetention <= 0 {
		o.FailedRetention = defaultFailedRetention
	}
	if o.DequeueBlock <= 0 {
		o.DequeueBlock = defaultDequeueBlock
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = defaultVisibilityTimeout
	}
	if o.DedupeTTL <= 0 {
		o.DedupeTTL = defaultDedupeTTL
	}
}

// RedisQueue implements Queue on top of go-redis/v9. Jobs wait in a list,
// move to an active list while a worker holds them, and sit in a sorted set
// (scored by ready time) between retry attempts.
type RedisQueue struct {
	client *redis.Client
	opts   Options
}

// NewRedisQueue creates a RedisQueue from a Redis URL.
func NewRedisQueue(redisURL string, opts Options) (*RedisQueue, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.applyDefaults()
	return &RedisQueue{client: redis.NewClient(redisOpts), opts: opts}, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) Enqueue(ctx context.Context, stage string, payload any, dedupe string) (string, error) {
	if stage == "" {
		return "", fmt.Errorf("enqueue: stage name is required")
	}
	if dedupe == "" {
		return "", fmt.Errorf("enqueue: dedupe key is required")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: marshal payload: %w", stage, err)
	}

	job := Job{
		ID:         uuid.NewString(),
		Stage:      stage,
		Payload:    raw,
		DedupeKey:  dedupe,
		EnqueuedAt: time.Now().UTC(),
	}

	// The dedupe key is claimed first; it lives until the job reaches a
	// terminal state, so a re-enqueue while the job is in flight is a no-op.
	// The TTL is a safety valve: a claim orphaned between here and the
	// pipeline exec (or by a lost job) cannot block the task forever.
	claimed, err := q.client.SetNX(ctx, dedupeKey(q.opts.Name, dedupe), job.ID, q.opts.DedupeTTL).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue %s: claim dedupe key: %w", stage, err)
	}
	if !claimed {
		existing, err := q.client.Get(ctx, dedupeKey(q.opts.Name, dedupe)).Result()
		if err != nil && err != redis.Nil {
			return "", fmt.Errorf("enqueue %s: read dedupe key: %w", stage, err)
		}
		return existing, nil
	}

	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: marshal job: %w", stage, err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKey(q.opts.Name, job.ID), body, 0)
	pipe.LPush(ctx, waitKey(q.opts.Name), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		// Release the claim so a retry of the enqueue is possible.
		q.client.Del(context.WithoutCancel(ctx), dedupeKey(q.opts.Name, dedupe))
		return "", fmt.Errorf("enqueue %s: %w", stage, err)
	}
	return job.ID, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	if err := q.promoteDelayed(ctx); err != nil {
		return nil, err
	}
	if err := q.reclaimStalled(ctx); err != nil {
		return nil, err
	}

	id, err := q.client.BRPopLPush(ctx, waitKey(q.opts.Name), activeKey(q.opts.Name), q.opts.DequeueBlock).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	// Lease the checkout. An unacked job whose lease expires is handed
	// back to the wait list by reclaimStalled.
	leaseUntil := float64(time.Now().Add(q.opts.VisibilityTimeout).UnixMilli())
	if err := q.client.ZAdd(ctx, leaseKey(q.opts.Name), redis.Z{Score: leaseUntil, Member: id}).Err(); err != nil {
		return nil, fmt.Errorf("dequeue: lease job %s: %w", id, err)
	}

	body, err := q.client.Get(ctx, jobKey(q.opts.Name, id)).Bytes()
	if err == redis.Nil {
		// Orphaned ID without a body; drop it.
		q.dropActive(ctx, id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: load job %s: %w", id, err)
	}

	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		q.dropActive(ctx, id)
		return nil, fmt.Errorf("dequeue: unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

func (q *RedisQueue) dropActive(ctx context.Context, id string) {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, activeKey(q.opts.Name), 1, id)
	pipe.ZRem(ctx, leaseKey(q.opts.Name), id)
	pipe.Exec(ctx)
}

// promoteDelayed moves jobs whose retry backoff has elapsed back onto the
// wait list.
func (q *RedisQueue) promoteDelayed(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, delayedKey(q.opts.Name), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: promoteBatchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("promote delayed jobs: %w", err)
	}

	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, delayedKey(q.opts.Name), id).Result()
		if err != nil {
			return fmt.Errorf("promote delayed job %s: %w", id, err)
		}
		// Another worker may have promoted it already.
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, waitKey(q.opts.Name), id).Err(); err != nil {
			return fmt.Errorf("promote delayed job %s: %w", id, err)
		}
	}
	return nil
}

// reclaimStalled hands jobs with an expired lease back to the wait list.
// Redelivery keeps the job's recorded attempts: a crash is not a failed
// attempt, just a lost worker.
func (q *RedisQueue) reclaimStalled(ctx context.Context) error {
	now := time.Now().UnixMilli()
	ids, err := q.client.ZRangeByScore(ctx, leaseKey(q.opts.Name), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: promoteBatchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("reclaim stalled jobs: %w", err)
	}

	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, leaseKey(q.opts.Name), id).Result()
		if err != nil {
			return fmt.Errorf("reclaim stalled job %s: %w", id, err)
		}
		// Another worker reclaimed it, or the holder acked in the meantime.
		if removed == 0 {
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, activeKey(q.opts.Name), 1, id)
		pipe.LPush(ctx, waitKey(q.opts.Name), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("reclaim stalled job %s: %w", id, err)
		}
	}

	return q.leaseOrphanedActive(ctx)
}

// leaseOrphanedActive covers the crash window between the checkout and the
// lease write: an active entry with no lease gets one now, so it is
// reclaimed after the visibility timeout like any other stalled job.
func (q *RedisQueue) leaseOrphanedActive(ctx context.Context) error {
	ids, err := q.client.LRange(ctx, activeKey(q.opts.Name), 0, promoteBatchSize-1).Result()
	if err != nil {
		return fmt.Errorf("scan active jobs: %w", err)
	}
	leaseUntil := float64(time.Now().Add(q.opts.VisibilityTimeout).UnixMilli())
	for _, id := range ids {
		err := q.client.ZScore(ctx, leaseKey(q.opts.Name), id).Err()
		if err == redis.Nil {
			if err := q.client.ZAdd(ctx, leaseKey(q.opts.Name), redis.Z{Score: leaseUntil, Member: id}).Err(); err != nil {
				return fmt.Errorf("lease orphaned job %s: %w", id, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("check lease for job %s: %w", id, err)
		}
	}
	return nil
}

// Ack removes a completed job and releases its dedupe key and lease.
func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, activeKey(q.opts.Name), 1, job.ID)
	pipe.ZRem(ctx, leaseKey(q.opts.Name), job.ID)
	pipe.Del(ctx, jobKey(q.opts.Name, job.ID))
	pipe.Del(ctx, dedupeKey(q.opts.Name, job.DedupeKey))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack job %s: %w", job.ID, err)
	}
	return nil
}

// Nack reschedules a failed job with exponential backoff, or dead-letters it
// once the attempt limit is reached.
func (q *RedisQueue) Nack(ctx context.Context, job *Job, cause error) error {
	job.Attempts++
	if cause != nil {
		job.LastError = cause.Error()
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("nack job %s: marshal: %w", job.ID, err)
	}

	if job.Attempts >= q.opts.MaxAttempts {
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, activeKey(q.opts.Name), 1, job.ID)
		pipe.ZRem(ctx, leaseKey(q.opts.Name), job.ID)
		pipe.Del(ctx, jobKey(q.opts.Name, job.ID))
		pipe.LPush(ctx, failedKey(q.opts.Name), body)
		pipe.LTrim(ctx, failedKey(q.opts.Name), 0, int64(q.opts.FailedRetention)-1)
		pipe.Del(ctx, dedupeKey(q.opts.Name, job.DedupeKey))
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("dead-letter job %s: %w", job.ID, err)
		}
		return nil
	}

	delay := q.opts.BackoffBase << (job.Attempts - 1)
	readyAt := time.Now().Add(delay).UnixMilli()

	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, activeKey(q.opts.Name), 1, job.ID)
	pipe.ZRem(ctx, leaseKey(q.opts.Name), job.ID)
	pipe.Set(ctx, jobKey(q.opts.Name, job.ID), body, 0)
	pipe.ZAdd(ctx, delayedKey(q.opts.Name), redis.Z{Score: float64(readyAt), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reschedule job %s: %w", job.ID, err)
	}
	return nil
}

var _ Queue = (*RedisQueue)(nil)
