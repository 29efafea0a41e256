package coord

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/lodeworks/lodestone/internal/config"
	lserr "github.com/lodeworks/lodestone/internal/errors"
	"github.com/lodeworks/lodestone/internal/plugin"
	"github.com/lodeworks/lodestone/internal/scanner"
	"github.com/lodeworks/lodestone/internal/store"
)

// heartbeatTTLFactor sizes the heartbeat key TTL relative to the
// publish interval, so one missed beat does not mark the worker lost.
const heartbeatTTLFactor = 3

// Worker pulls jobs off the priority queues and indexes their files.
type Worker struct {
	id       string
	cfg      config.CoordinatorConfig
	queue    *Queue
	registry *plugin.Registry
	indexDir string
	logger   *slog.Logger

	// mu guards info, which the job loop mutates while the heartbeat
	// goroutine reads it.
	mu     sync.Mutex
	info   WorkerInfo
	stores map[string]*store.Store
}

// NewWorker creates a worker with a generated identity.
func NewWorker(cfg config.CoordinatorConfig, queue *Queue, registry *plugin.Registry, indexDir string, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Worker{
		id:       id,
		cfg:      cfg,
		queue:    queue,
		registry: registry,
		indexDir: indexDir,
		logger:   logger.With(slog.String("worker", id)),
		info: WorkerInfo{
			ID:        id,
			State:     WorkerIdle,
			StartedAt: time.Now().UTC(),
		},
		stores: make(map[string]*store.Store),
	}
}

// ID returns the worker's identity.
func (w *Worker) ID() string {
	return w.id
}

// Run processes jobs until the context is cancelled. Queue outages are
// ridden out with capped exponential backoff rather than crashing the
// worker.
func (w *Worker) Run(ctx context.Context) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go w.heartbeatLoop(hbCtx)

	poll := backoff.NewExponentialBackOff()
	poll.InitialInterval = 200 * time.Millisecond
	poll.MaxInterval = 30 * time.Second
	poll.MaxElapsedTime = 0

	defer w.closeStores()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		job, err := w.queue.PopJob(ctx, w.id)
		if err != nil {
			w.logger.Warn("queue_unavailable", slog.String("error", err.Error()))
			if !sleepCtx(ctx, poll.NextBackOff()) {
				return ctx.Err()
			}
			continue
		}
		if job == nil {
			if !sleepCtx(ctx, poll.NextBackOff()) {
				return ctx.Err()
			}
			continue
		}
		poll.Reset()

		result := w.process(ctx, job)
		// A lost result looks like a lost worker to the coordinator, so a
		// transient queue outage gets a short retry budget before giving up.
		err = lserr.Retry(ctx, lserr.RetryConfig{
			MaxRetries:   3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
		}, func() error {
			return w.queue.PushResult(ctx, job.Priority, result)
		})
		if err != nil {
			w.logger.Warn("result_publish_failed",
				slog.String("job", job.ID),
				slog.String("error", err.Error()))
		}
	}
}

// process indexes every file in the job and reports the outcome. A job
// fails only when no file could be indexed at all; partial progress is a
// success with FailedFiles set.
func (w *Worker) process(ctx context.Context, job *Job) *JobResult {
	started := time.Now()
	now := started.UTC()
	job.WorkerID = w.id
	job.Status = JobProcessing
	job.StartedAt = &now

	w.setState(ctx, WorkerBusy, job.ID)
	defer w.setState(ctx, WorkerIdle, "")

	result := &JobResult{
		JobID:    job.ID,
		WorkerID: w.id,
	}

	st, repoID, err := w.storeFor(ctx, job.RepoPath)
	if err != nil {
		result.Status = JobFailed
		result.Error = err.Error()
		result.CompletedAt = time.Now().UTC()
		return result
	}

	for _, path := range job.Files {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := w.indexFile(ctx, st, repoID, job.RepoPath, path); err != nil {
			result.FailedFiles++
			w.logger.Debug("file_index_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		result.IndexedFiles++
	}

	result.DurationMS = time.Since(started).Milliseconds()
	result.CompletedAt = time.Now().UTC()
	if result.IndexedFiles == 0 && result.FailedFiles > 0 {
		result.Status = JobFailed
		result.Error = "all files failed"
	} else {
		result.Status = JobCompleted
	}

	if result.Status == JobCompleted {
		w.mu.Lock()
		w.info.JobsCompleted++
		w.mu.Unlock()
	}
	w.logger.Info("job_done",
		slog.String("job", job.ID),
		slog.Int("indexed", result.IndexedFiles),
		slog.Int("failed", result.FailedFiles),
		slog.Int64("duration_ms", result.DurationMS))
	return result
}

func (w *Worker) indexFile(ctx context.Context, st *store.Store, repoID int64, repoPath, absPath string) error {
	content, err := os.ReadFile(absPath)
	if err != nil {
		return err
	}
	if scanner.IsBinary(content) {
		return nil
	}

	rel, err := filepath.Rel(repoPath, absPath)
	if err != nil {
		rel = filepath.Base(absPath)
	}
	rel = filepath.ToSlash(rel)
	language := scanner.LanguageForPath(absPath)

	var symbols []store.Symbol
	if language != "" {
		if handle, herr := w.registry.Get(ctx, language); herr == nil && handle != nil {
			if shard, serr := handle.IndexFile(ctx, absPath, content); serr == nil && shard != nil {
				symbols = shard.Symbols
			}
		}
	}

	_, err = st.UpsertFile(ctx, repoID, absPath, rel, language, content, symbols, false)
	return err
}

// storeFor opens (or reuses) the index database for a repository.
func (w *Worker) storeFor(ctx context.Context, repoPath string) (*store.Store, int64, error) {
	if st, ok := w.stores[repoPath]; ok {
		repo, err := st.GetRepositoryByPath(ctx, repoPath)
		if err != nil {
			return nil, 0, err
		}
		return st, repo.ID, nil
	}

	path := filepath.Join(w.indexDir, store.RepoID(repoPath)+".db")
	st, err := store.Open(path)
	if err != nil {
		return nil, 0, err
	}
	repoID, err := st.CreateRepository(ctx, repoPath, filepath.Base(repoPath), store.RepoMetadata{
		Type: store.RepoTypeLocal,
	})
	if err != nil {
		_ = st.Close()
		return nil, 0, err
	}
	w.stores[repoPath] = st
	return st, repoID, nil
}

func (w *Worker) closeStores() {
	for _, st := range w.stores {
		_ = st.Close()
	}
	w.stores = make(map[string]*store.Store)
}

func (w *Worker) setState(ctx context.Context, state WorkerState, jobID string) {
	w.mu.Lock()
	w.info.State = state
	w.info.CurrentJob = jobID
	w.mu.Unlock()
	w.publishHeartbeat(ctx)
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	interval := w.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.publishHeartbeat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.publishHeartbeat(ctx)
		}
	}
}

func (w *Worker) publishHeartbeat(ctx context.Context) {
	interval := w.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	// Marshal a snapshot, never the live struct the job loop writes to.
	w.mu.Lock()
	snapshot := w.info
	w.mu.Unlock()
	if err := w.queue.Heartbeat(ctx, &snapshot, heartbeatTTLFactor*interval); err != nil {
		w.logger.Debug("heartbeat_failed", slog.String("error", err.Error()))
	}
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
