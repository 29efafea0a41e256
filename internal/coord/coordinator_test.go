package coord

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodeworks/lodestone/internal/config"
	lserr "github.com/lodeworks/lodestone/internal/errors"
)

func TestPriority_Valid(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent} {
		assert.True(t, p.Valid(), string(p))
	}
	assert.False(t, Priority("").Valid())
	assert.False(t, Priority("medium").Valid())
}

func TestPriorityOrder_MostUrgentFirst(t *testing.T) {
	assert.Equal(t, []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}, priorityOrder)
}

func TestQueueKeys(t *testing.T) {
	assert.Equal(t, "jobs:urgent", jobQueue(PriorityUrgent))
	assert.Equal(t, "results:low", resultQueue(PriorityLow))
	assert.Equal(t, "worker:w-1", workerKey("w-1"))
}

func TestPackBatches(t *testing.T) {
	paths := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = "f"
		}
		return out
	}

	tests := []struct {
		name      string
		files     int
		batchSize int
		maxJobs   int
		wantJobs  int
		wantFirst int
	}{
		{name: "fits under the cap", files: 250, batchSize: 100, maxJobs: 8, wantJobs: 3, wantFirst: 100},
		{name: "exact multiple", files: 200, batchSize: 100, maxJobs: 8, wantJobs: 2, wantFirst: 100},
		{name: "cap grows the batch size", files: 1000, batchSize: 100, maxJobs: 4, wantJobs: 4, wantFirst: 250},
		{name: "single small batch", files: 3, batchSize: 100, maxJobs: 8, wantJobs: 1, wantFirst: 3},
		{name: "zero batch size uses default", files: 150, batchSize: 0, maxJobs: 8, wantJobs: 2, wantFirst: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches := packBatches(paths(tt.files), tt.batchSize, tt.maxJobs)
			require.Len(t, batches, tt.wantJobs)
			assert.Len(t, batches[0], tt.wantFirst)
			assert.LessOrEqual(t, len(batches), tt.maxJobs)

			total := 0
			for _, b := range batches {
				total += len(b)
			}
			assert.Equal(t, tt.files, total, "no file may be dropped")
		})
	}
}

func TestPackBatches_Empty(t *testing.T) {
	assert.Empty(t, packBatches(nil, 100, 8))
}

func TestJob_JSONRoundTrip(t *testing.T) {
	assigned := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	job := &Job{
		ID:         "job-1",
		RepoPath:   "/src/repo",
		Files:      []string{"a.go", "b.go"},
		Priority:   PriorityHigh,
		Status:     JobAssigned,
		WorkerID:   "w-1",
		CreatedAt:  assigned.Add(-time.Minute),
		AssignedAt: &assigned,
		RetryCount: 1,
		MaxRetries: 3,
		Metadata:   map[string]string{"source": "reindex"},
	}

	payload, err := json.Marshal(job)
	require.NoError(t, err)

	// The wire format uses snake_case keys and omits unset timestamps.
	assert.Contains(t, string(payload), `"repo_path"`)
	assert.Contains(t, string(payload), `"retry_count"`)
	assert.NotContains(t, string(payload), `"completed_at"`)

	var decoded Job
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, *job, decoded)
}

func TestJobResult_JSONRoundTrip(t *testing.T) {
	result := &JobResult{
		JobID:        "job-1",
		WorkerID:     "w-1",
		Status:       JobCompleted,
		IndexedFiles: 42,
		FailedFiles:  1,
		DurationMS:   1500,
		CompletedAt:  time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
	}

	payload, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"indexed_files":42`)
	assert.NotContains(t, string(payload), `"error"`)

	var decoded JobResult
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, *result, decoded)
}

func TestNewCoordinator_RequiresQueue(t *testing.T) {
	_, err := NewCoordinator(config.Default().Coordinator, nil, nil)
	require.Error(t, err)
	assert.Equal(t, lserr.ErrCodeBackendUnavailable, lserr.CodeOf(err))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// unreachableQueue wraps a client pointed at a closed port: every
// command fails fast with a connection error instead of panicking, so
// coordinator paths that log and move on can be exercised offline.
func unreachableQueue(t *testing.T) *Queue {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })
	return NewQueueWithClient(client)
}

// newTestCoordinator builds a coordinator whose queue is unreachable,
// for exercising the settlement and reclamation paths offline.
func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	return &Coordinator{
		cfg:       config.Default().Coordinator,
		queue:     unreachableQueue(t),
		active:    make(map[string]*Job),
		completed: make(map[string]*JobResult),
		failed:    make(map[string]*JobResult),
		events:    make(chan JobResult, 64),
		logger:    discardLogger(),
	}
}

func TestSettle_CompletedJob(t *testing.T) {
	c := newTestCoordinator(t)
	job := &Job{ID: "job-1", Status: JobProcessing, WorkerID: "w-1", MaxRetries: 3}
	c.active[job.ID] = job

	c.settle(context.Background(), &JobResult{
		JobID:        "job-1",
		WorkerID:     "w-1",
		Status:       JobCompleted,
		IndexedFiles: 10,
		CompletedAt:  time.Now().UTC(),
	})

	assert.Equal(t, JobCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.NotContains(t, c.active, "job-1")
	assert.Contains(t, c.completed, "job-1")

	select {
	case ev := <-c.events:
		assert.Equal(t, "job-1", ev.JobID)
	default:
		t.Fatal("expected a terminal event")
	}
}

func TestSettle_UntrackedResultIsIgnored(t *testing.T) {
	c := newTestCoordinator(t)

	c.settle(context.Background(), &JobResult{
		JobID:       "ghost",
		Status:      JobCompleted,
		CompletedAt: time.Now().UTC(),
	})

	assert.Empty(t, c.completed)
	assert.Empty(t, c.failed)
}

func TestRetryOrFail_ExhaustedRetriesSettlesFailed(t *testing.T) {
	c := newTestCoordinator(t)
	job := &Job{ID: "job-1", Status: JobProcessing, WorkerID: "w-1", RetryCount: 3, MaxRetries: 3}
	c.active[job.ID] = job

	result := &JobResult{
		JobID:       "job-1",
		Status:      JobFailed,
		Error:       "worker_lost",
		CompletedAt: time.Now().UTC(),
	}
	c.retryOrFail(context.Background(), job, result)

	assert.Equal(t, JobFailed, job.Status)
	assert.Equal(t, "worker_lost", job.Error)
	assert.Equal(t, 4, job.RetryCount)
	assert.NotContains(t, c.active, "job-1")
	assert.Contains(t, c.failed, "job-1")
}

func TestApplyClaims_BindsWorkerToActiveJob(t *testing.T) {
	c := newTestCoordinator(t)
	c.active["job-1"] = &Job{ID: "job-1", Status: JobPending, MaxRetries: 3}

	c.applyClaims(map[string]string{
		"job-1": "w-1",
		"ghost": "w-2", // claim for an untracked job is ignored
	})

	job := c.active["job-1"]
	assert.Equal(t, "w-1", job.WorkerID)
	assert.Equal(t, JobProcessing, job.Status)
	assert.NotNil(t, job.AssignedAt)
}

func TestReclaim_SilentWorkerRequeuesJob(t *testing.T) {
	c := newTestCoordinator(t)
	job := &Job{ID: "job-1", Status: JobPending, MaxRetries: 3}
	c.active[job.ID] = job
	c.applyClaims(map[string]string{"job-1": "w-dead"})

	// No live heartbeat for w-dead: the job must come back for retry.
	c.reclaim(context.Background(), map[string]time.Time{})

	assert.Equal(t, JobRetrying, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Empty(t, job.WorkerID)
	assert.Equal(t, "worker_lost", job.Error)
	assert.Contains(t, c.active, "job-1")
}

func TestReclaim_StaleHeartbeatRequeuesJob(t *testing.T) {
	c := newTestCoordinator(t)
	job := &Job{ID: "job-1", Status: JobPending, MaxRetries: 3}
	c.active[job.ID] = job
	c.applyClaims(map[string]string{"job-1": "w-1"})

	stale := time.Now().UTC().Add(-workerLostAfter - time.Second)
	c.reclaim(context.Background(), map[string]time.Time{"w-1": stale})

	assert.Equal(t, JobRetrying, job.Status)
	assert.Equal(t, 1, job.RetryCount)
}

func TestReclaim_LiveWorkerKeepsJob(t *testing.T) {
	c := newTestCoordinator(t)
	job := &Job{ID: "job-1", Status: JobPending, MaxRetries: 3}
	c.active[job.ID] = job
	c.applyClaims(map[string]string{"job-1": "w-1"})

	c.reclaim(context.Background(), map[string]time.Time{"w-1": time.Now().UTC()})

	assert.Equal(t, JobProcessing, job.Status)
	assert.Equal(t, "w-1", job.WorkerID)
	assert.Zero(t, job.RetryCount)
}

func TestReclaim_UnboundJobIsLeftAlone(t *testing.T) {
	c := newTestCoordinator(t)
	job := &Job{ID: "job-1", Status: JobPending, MaxRetries: 3}
	c.active[job.ID] = job

	c.reclaim(context.Background(), map[string]time.Time{})

	assert.Equal(t, JobPending, job.Status)
	assert.Zero(t, job.RetryCount)
}

func TestJobStatus_Lookup(t *testing.T) {
	c := newTestCoordinator(t)
	c.active["a"] = &Job{ID: "a", Status: JobPending}
	c.completed["b"] = &JobResult{JobID: "b", Status: JobCompleted}
	c.failed["c"] = &JobResult{JobID: "c", Status: JobFailed}

	job, res, ok := c.JobStatus("a")
	require.True(t, ok)
	assert.NotNil(t, job)
	assert.Nil(t, res)

	job, res, ok = c.JobStatus("b")
	require.True(t, ok)
	assert.Nil(t, job)
	assert.Equal(t, JobCompleted, res.Status)

	_, _, ok = c.JobStatus("nope")
	assert.False(t, ok)
}

func TestPurgeExpired_DropsOldResults(t *testing.T) {
	c := newTestCoordinator(t)
	now := time.Now().UTC()
	c.completed["old"] = &JobResult{JobID: "old", CompletedAt: now.Add(-2 * c.cfg.ResultTTL)}
	c.completed["fresh"] = &JobResult{JobID: "fresh", CompletedAt: now}
	c.failed["stale"] = &JobResult{JobID: "stale", CompletedAt: now.Add(-2 * c.cfg.ResultTTL)}

	c.purgeExpired()

	assert.NotContains(t, c.completed, "old")
	assert.Contains(t, c.completed, "fresh")
	assert.Empty(t, c.failed)
}

func TestEmit_NeverBlocks(t *testing.T) {
	c := newTestCoordinator(t)
	for i := 0; i < cap(c.events)+10; i++ {
		c.emit(&JobResult{JobID: "job"})
	}
	assert.Len(t, c.events, cap(c.events))
}
