package coord

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lodeworks/lodestone/internal/config"
	lserr "github.com/lodeworks/lodestone/internal/errors"
	"github.com/lodeworks/lodestone/internal/scanner"
)

// workerLostAfter is how long a job may go without its worker
// heartbeating before the coordinator reclaims it.
const workerLostAfter = 30 * time.Second

// Coordinator packs files into jobs, tracks them through the queue, and
// retries or reclaims failures.
type Coordinator struct {
	cfg     config.CoordinatorConfig
	queue   *Queue
	scanner *scanner.Scanner
	logger  *slog.Logger

	mu        sync.Mutex
	active    map[string]*Job
	completed map[string]*JobResult
	failed    map[string]*JobResult

	events chan JobResult

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCoordinator builds a coordinator. The queue is mandatory: without
// Redis there is no distributed mode and submissions must be refused
// upstream, not silently degraded here.
func NewCoordinator(cfg config.CoordinatorConfig, queue *Queue, logger *slog.Logger) (*Coordinator, error) {
	if queue == nil {
		return nil, lserr.New(lserr.ErrCodeBackendUnavailable,
			"distributed indexing requires a job queue", nil).
			WithSuggestion("set REDIS_URL to enable distributed mode")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:       cfg,
		queue:     queue,
		scanner:   scanner.New(),
		logger:    logger,
		active:    make(map[string]*Job),
		completed: make(map[string]*JobResult),
		failed:    make(map[string]*JobResult),
		events:    make(chan JobResult, 64),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start launches the monitor loop.
func (c *Coordinator) Start(ctx context.Context) {
	go c.monitorLoop(ctx)
}

// Events delivers terminal job results (COMPLETED or FAILED past the
// retry budget) as the monitor observes them.
func (c *Coordinator) Events() <-chan JobResult {
	return c.events
}

// SubmitRepository scans a repository, packs its files into jobs, and
// enqueues them. Returns the submitted jobs in queue order.
func (c *Coordinator) SubmitRepository(ctx context.Context, repoPath string, priority Priority) ([]*Job, error) {
	if !priority.Valid() {
		return nil, lserr.Newf(lserr.ErrCodeInvalidArgument, "unknown priority %q", priority)
	}

	files, err := c.scanner.Scan(ctx, scanner.DefaultOptions(repoPath))
	if err != nil {
		return nil, lserr.Wrap(err, lserr.ErrCodePathNotFound, "repository scan failed")
	}
	if len(files) == 0 {
		return nil, nil
	}

	// Largest files first so slow batches start early and the tail of the
	// run is short.
	sort.Slice(files, func(i, j int) bool { return files[i].Size > files[j].Size })

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.AbsPath
	}

	batches := packBatches(paths, c.cfg.BatchSize, 2*c.cfg.MaxWorkers)

	now := time.Now().UTC()
	jobs := make([]*Job, 0, len(batches))
	for _, batch := range batches {
		job := &Job{
			ID:         uuid.NewString(),
			RepoPath:   repoPath,
			Files:      batch,
			Priority:   priority,
			Status:     JobPending,
			CreatedAt:  now,
			MaxRetries: c.cfg.MaxRetries,
		}
		if err := c.queue.PushJob(ctx, job); err != nil {
			return jobs, err
		}
		c.mu.Lock()
		c.active[job.ID] = job
		c.mu.Unlock()
		jobs = append(jobs, job)
	}

	c.logger.Info("jobs_submitted",
		slog.String("repo", repoPath),
		slog.String("priority", string(priority)),
		slog.Int("files", len(paths)),
		slog.Int("jobs", len(jobs)))
	return jobs, nil
}

// packBatches splits paths into at most maxJobs batches of at most
// batchSize files each. When the file count would exceed the job cap the
// batch size grows instead.
func packBatches(paths []string, batchSize, maxJobs int) [][]string {
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxJobs <= 0 {
		maxJobs = 1
	}
	if need := (len(paths) + maxJobs - 1) / maxJobs; need > batchSize {
		batchSize = need
	}

	var batches [][]string
	for start := 0; start < len(paths); start += batchSize {
		end := start + batchSize
		if end > len(paths) {
			end = len(paths)
		}
		batches = append(batches, paths[start:end])
	}
	return batches
}

// CancelAll purges every queued job and marks tracked active jobs failed.
// Jobs already inside a worker run to completion; their late results are
// ignored.
func (c *Coordinator) CancelAll(ctx context.Context) (int64, error) {
	purged, err := c.queue.PurgeJobs(ctx)
	if err != nil {
		return purged, err
	}

	now := time.Now().UTC()
	c.mu.Lock()
	for id, job := range c.active {
		job.Status = JobFailed
		job.Error = "cancelled"
		job.CompletedAt = &now
		c.failed[id] = &JobResult{
			JobID:       id,
			Status:      JobFailed,
			Error:       "cancelled",
			CompletedAt: now,
		}
		delete(c.active, id)
	}
	c.mu.Unlock()

	c.logger.Info("jobs_cancelled", slog.Int64("purged", purged))
	return purged, nil
}

// JobStatus returns the tracked state of one job.
func (c *Coordinator) JobStatus(id string) (*Job, *JobResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if job, ok := c.active[id]; ok {
		return job, nil, true
	}
	if res, ok := c.completed[id]; ok {
		return nil, res, true
	}
	if res, ok := c.failed[id]; ok {
		return nil, res, true
	}
	return nil, nil, false
}

// Health snapshots queue depths, job counts, and live workers.
func (c *Coordinator) Health(ctx context.Context) (*Health, error) {
	depths, err := c.queue.QueueDepths(ctx)
	if err != nil {
		return nil, err
	}
	workers, err := c.queue.Workers(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	h := &Health{
		QueueDepths: depths,
		ActiveJobs:  len(c.active),
		Completed:   len(c.completed),
		Failed:      len(c.failed),
		Workers:     workers,
		Timestamp:   time.Now().UTC(),
	}
	c.mu.Unlock()
	return h, nil
}

// Stop halts the monitor loop and closes the event channel.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.doneCh
	})
}

func (c *Coordinator) monitorLoop(ctx context.Context) {
	defer close(c.doneCh)
	defer close(c.events)

	ticker := time.NewTicker(c.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.drainResults(ctx)
			c.bindClaims(ctx)
			c.reclaimLostJobs(ctx)
			c.purgeExpired()
		}
	}
}

// drainResults consumes every pending result and settles the
// corresponding jobs.
func (c *Coordinator) drainResults(ctx context.Context) {
	for {
		result, err := c.queue.PopResult(ctx)
		if err != nil {
			c.logger.Warn("result_drain_failed", slog.String("error", err.Error()))
			return
		}
		if result == nil {
			return
		}
		c.settle(ctx, result)
	}
}

func (c *Coordinator) settle(ctx context.Context, result *JobResult) {
	c.mu.Lock()
	job, tracked := c.active[result.JobID]
	c.mu.Unlock()
	if !tracked {
		// Late result for a cancelled or already-settled job.
		return
	}

	switch result.Status {
	case JobCompleted:
		now := time.Now().UTC()
		c.mu.Lock()
		job.Status = JobCompleted
		job.CompletedAt = &now
		c.completed[job.ID] = result
		delete(c.active, job.ID)
		c.mu.Unlock()
		_ = c.queue.ClearClaim(ctx, job.ID)
		c.emit(result)

	case JobFailed:
		c.retryOrFail(ctx, job, result)

	default:
		c.logger.Warn("unexpected_result_status",
			slog.String("job", result.JobID),
			slog.String("status", string(result.Status)))
	}
}

// retryOrFail requeues a failed job while retries remain, otherwise
// settles it as failed.
func (c *Coordinator) retryOrFail(ctx context.Context, job *Job, result *JobResult) {
	c.mu.Lock()
	job.RetryCount++
	retriable := job.RetryCount <= job.MaxRetries
	if retriable {
		job.Status = JobRetrying
		job.WorkerID = ""
		job.AssignedAt = nil
		job.StartedAt = nil
		job.Error = result.Error
	} else {
		now := time.Now().UTC()
		job.Status = JobFailed
		job.Error = result.Error
		job.CompletedAt = &now
		c.failed[job.ID] = result
		delete(c.active, job.ID)
	}
	c.mu.Unlock()

	// The old worker's claim must not be rebound to the requeued job.
	_ = c.queue.ClearClaim(ctx, job.ID)

	if !retriable {
		c.logger.Warn("job_failed",
			slog.String("job", job.ID),
			slog.Int("retries", job.RetryCount-1),
			slog.String("error", result.Error))
		c.emit(result)
		return
	}

	if err := c.queue.PushJob(ctx, job); err != nil {
		c.logger.Warn("job_requeue_failed",
			slog.String("job", job.ID),
			slog.String("error", err.Error()))
		return
	}
	c.logger.Info("job_retrying",
		slog.String("job", job.ID),
		slog.Int("attempt", job.RetryCount))
}

// bindClaims learns which worker holds each active job from the claims
// workers record when they pop, so lost-worker detection has a worker
// id to check heartbeats against.
func (c *Coordinator) bindClaims(ctx context.Context) {
	claims, err := c.queue.Claims(ctx)
	if err != nil {
		return
	}
	c.applyClaims(claims)
}

func (c *Coordinator) applyClaims(claims map[string]string) {
	now := time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	for jobID, workerID := range claims {
		job, ok := c.active[jobID]
		if !ok || workerID == "" {
			continue
		}
		if job.WorkerID != workerID {
			job.WorkerID = workerID
			job.Status = JobProcessing
			job.AssignedAt = &now
		}
	}
}

// reclaimLostJobs requeues jobs whose worker has not heartbeated within
// the loss window.
func (c *Coordinator) reclaimLostJobs(ctx context.Context) {
	workers, err := c.queue.Workers(ctx)
	if err != nil {
		return
	}
	alive := make(map[string]time.Time, len(workers))
	for _, w := range workers {
		alive[w.ID] = w.LastHeartbeat
	}
	c.reclaim(ctx, alive)
}

// reclaim requeues every bound job whose worker is absent from the
// alive set or whose last heartbeat predates the loss window.
func (c *Coordinator) reclaim(ctx context.Context, alive map[string]time.Time) {
	cutoff := time.Now().UTC().Add(-workerLostAfter)

	c.mu.Lock()
	var lost []*Job
	for _, job := range c.active {
		if job.WorkerID == "" || job.Status == JobPending || job.Status == JobRetrying {
			continue
		}
		last, ok := alive[job.WorkerID]
		if ok && last.After(cutoff) {
			continue
		}
		lost = append(lost, job)
	}
	c.mu.Unlock()

	for _, job := range lost {
		c.logger.Warn("worker_lost",
			slog.String("job", job.ID),
			slog.String("worker", job.WorkerID))
		c.retryOrFail(ctx, job, &JobResult{
			JobID:       job.ID,
			WorkerID:    job.WorkerID,
			Status:      JobFailed,
			Error:       "worker_lost",
			CompletedAt: time.Now().UTC(),
		})
	}
}

// purgeExpired drops settled jobs older than the result TTL.
func (c *Coordinator) purgeExpired() {
	cutoff := time.Now().UTC().Add(-c.cfg.ResultTTL)
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, res := range c.completed {
		if res.CompletedAt.Before(cutoff) {
			delete(c.completed, id)
		}
	}
	for id, res := range c.failed {
		if res.CompletedAt.Before(cutoff) {
			delete(c.failed, id)
		}
	}
}

// emit delivers a terminal result without ever blocking the monitor.
func (c *Coordinator) emit(result *JobResult) {
	select {
	case c.events <- *result:
	default:
	}
}
