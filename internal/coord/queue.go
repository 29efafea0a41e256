package coord

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	lserr "github.com/lodeworks/lodestone/internal/errors"
)

// Redis key layout. Job and result queues are lists, one per priority;
// worker heartbeats are volatile string keys; claims is a hash of
// job id to the worker that popped it.
const (
	jobQueuePrefix    = "jobs:"
	resultQueuePrefix = "results:"
	workerKeyPrefix   = "worker:"
	claimsKey         = "jobs:assigned"
)

func jobQueue(p Priority) string    { return jobQueuePrefix + string(p) }
func resultQueue(p Priority) string { return resultQueuePrefix + string(p) }
func workerKey(id string) string    { return workerKeyPrefix + id }

// Queue is the Redis transport between coordinator and workers.
type Queue struct {
	client redis.UniversalClient
}

// NewQueue connects to Redis and verifies reachability.
func NewQueue(ctx context.Context, redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, lserr.Wrap(err, lserr.ErrCodeConfigInvalid, "invalid redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, lserr.Wrap(err, lserr.ErrCodeBackendUnavailable, "redis unreachable")
	}
	return &Queue{client: client}, nil
}

// NewQueueWithClient wraps an existing client, mainly for tests.
func NewQueueWithClient(client redis.UniversalClient) *Queue {
	return &Queue{client: client}
}

// PushJob enqueues a job on its priority queue.
func (q *Queue) PushJob(ctx context.Context, job *Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return lserr.Wrap(err, lserr.ErrCodeInternal, "cannot encode job")
	}
	if err := q.client.LPush(ctx, jobQueue(job.Priority), payload).Err(); err != nil {
		return lserr.Wrap(err, lserr.ErrCodeBackendUnavailable, "cannot enqueue job")
	}
	return nil
}

// PopJob dequeues the highest-priority pending job without blocking and
// records the claim under the popping worker's id, so the coordinator
// can reassign the job if the worker dies. Returns (nil, nil) when
// every queue is empty.
func (q *Queue) PopJob(ctx context.Context, workerID string) (*Job, error) {
	for _, p := range priorityOrder {
		payload, err := q.client.RPop(ctx, jobQueue(p)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, lserr.Wrap(err, lserr.ErrCodeBackendUnavailable, "cannot dequeue job")
		}
		var job Job
		if err := json.Unmarshal(payload, &job); err != nil {
			// A corrupt payload is dropped; requeueing it would wedge the
			// queue forever.
			continue
		}
		now := time.Now().UTC()
		job.WorkerID = workerID
		job.Status = JobAssigned
		job.AssignedAt = &now
		if workerID != "" {
			// The claim is advisory; a failed write only delays lost-worker
			// detection, the job itself still runs.
			_ = q.client.HSet(ctx, claimsKey, job.ID, workerID).Err()
		}
		return &job, nil
	}
	return nil, nil
}

// Claims returns the worker currently holding each claimed job.
func (q *Queue) Claims(ctx context.Context) (map[string]string, error) {
	claims, err := q.client.HGetAll(ctx, claimsKey).Result()
	if err != nil {
		return nil, lserr.Wrap(err, lserr.ErrCodeBackendUnavailable, "cannot read job claims")
	}
	return claims, nil
}

// ClearClaim drops the claim for a settled or requeued job.
func (q *Queue) ClearClaim(ctx context.Context, jobID string) error {
	if err := q.client.HDel(ctx, claimsKey, jobID).Err(); err != nil {
		return lserr.Wrap(err, lserr.ErrCodeBackendUnavailable, "cannot clear job claim")
	}
	return nil
}

// PushResult publishes a finished job's result on the priority's result
// queue.
func (q *Queue) PushResult(ctx context.Context, p Priority, result *JobResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return lserr.Wrap(err, lserr.ErrCodeInternal, "cannot encode result")
	}
	if err := q.client.LPush(ctx, resultQueue(p), payload).Err(); err != nil {
		return lserr.Wrap(err, lserr.ErrCodeBackendUnavailable, "cannot publish result")
	}
	return nil
}

// PopResult drains one result, highest priority first. Returns
// (nil, nil) when no results are pending.
func (q *Queue) PopResult(ctx context.Context) (*JobResult, error) {
	for _, p := range priorityOrder {
		payload, err := q.client.RPop(ctx, resultQueue(p)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, lserr.Wrap(err, lserr.ErrCodeBackendUnavailable, "cannot read result")
		}
		var result JobResult
		if err := json.Unmarshal(payload, &result); err != nil {
			continue
		}
		return &result, nil
	}
	return nil, nil
}

// Heartbeat publishes a worker's state with the given TTL. A worker
// whose key expires is considered lost.
func (q *Queue) Heartbeat(ctx context.Context, info *WorkerInfo, ttl time.Duration) error {
	info.LastHeartbeat = time.Now().UTC()
	payload, err := json.Marshal(info)
	if err != nil {
		return lserr.Wrap(err, lserr.ErrCodeInternal, "cannot encode heartbeat")
	}
	if err := q.client.Set(ctx, workerKey(info.ID), payload, ttl).Err(); err != nil {
		return lserr.Wrap(err, lserr.ErrCodeBackendUnavailable, "cannot publish heartbeat")
	}
	return nil
}

// Workers returns every worker with a live heartbeat key.
func (q *Queue) Workers(ctx context.Context) ([]WorkerInfo, error) {
	var out []WorkerInfo
	iter := q.client.Scan(ctx, 0, workerKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		payload, err := q.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var info WorkerInfo
		if err := json.Unmarshal(payload, &info); err != nil {
			continue
		}
		out = append(out, info)
	}
	if err := iter.Err(); err != nil {
		return nil, lserr.Wrap(err, lserr.ErrCodeBackendUnavailable, "cannot list workers")
	}
	return out, nil
}

// QueueDepths returns the pending job count per priority.
func (q *Queue) QueueDepths(ctx context.Context) (map[Priority]int64, error) {
	depths := make(map[Priority]int64, len(priorityOrder))
	for _, p := range priorityOrder {
		n, err := q.client.LLen(ctx, jobQueue(p)).Result()
		if err != nil {
			return nil, lserr.Wrap(err, lserr.ErrCodeBackendUnavailable, "cannot read queue depth")
		}
		depths[p] = n
	}
	return depths, nil
}

// PurgeJobs empties every job queue and returns the number of jobs
// discarded.
func (q *Queue) PurgeJobs(ctx context.Context) (int64, error) {
	var purged int64
	for _, p := range priorityOrder {
		n, err := q.client.LLen(ctx, jobQueue(p)).Result()
		if err != nil {
			return purged, lserr.Wrap(err, lserr.ErrCodeBackendUnavailable, "cannot read queue depth")
		}
		if err := q.client.Del(ctx, jobQueue(p)).Err(); err != nil {
			return purged, lserr.Wrap(err, lserr.ErrCodeBackendUnavailable, "cannot purge queue")
		}
		purged += n
	}
	if err := q.client.Del(ctx, claimsKey).Err(); err != nil {
		return purged, lserr.Wrap(err, lserr.ErrCodeBackendUnavailable, "cannot purge job claims")
	}
	return purged, nil
}

// Ping verifies Redis reachability.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return lserr.Wrap(err, lserr.ErrCodeBackendUnavailable, "redis unreachable")
	}
	return nil
}

// Close releases the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}
