// Package coord distributes indexing work across workers through Redis
// priority queues. The coordinator packs files into jobs, workers pull
// them by priority, and a monitor loop retries failures and reclaims
// jobs from lost workers.
package coord

import (
	"time"
)

// Priority orders job queues. Workers always drain urgent before high,
// high before normal, normal before low.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// priorityOrder is the drain order, most urgent first.
var priorityOrder = []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of an indexing job.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobAssigned   JobStatus = "ASSIGNED"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
	JobRetrying   JobStatus = "RETRYING"
)

// Job is one unit of indexing work: a batch of files from one repository.
// Jobs cross the queue as JSON and must round-trip losslessly.
type Job struct {
	ID          string            `json:"id"`
	RepoPath    string            `json:"repo_path"`
	Files       []string          `json:"files"`
	Priority    Priority          `json:"priority"`
	Status      JobStatus         `json:"status"`
	WorkerID    string            `json:"worker_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	AssignedAt  *time.Time        `json:"assigned_at,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	RetryCount  int               `json:"retry_count"`
	MaxRetries  int               `json:"max_retries"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// JobResult is a worker's report for one finished job.
type JobResult struct {
	JobID        string    `json:"job_id"`
	WorkerID     string    `json:"worker_id"`
	Status       JobStatus `json:"status"`
	IndexedFiles int       `json:"indexed_files"`
	FailedFiles  int       `json:"failed_files"`
	Error        string    `json:"error,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	CompletedAt  time.Time `json:"completed_at"`
}

// WorkerState is a worker's published activity state.
type WorkerState string

const (
	WorkerIdle WorkerState = "IDLE"
	WorkerBusy WorkerState = "BUSY"
)

// WorkerInfo is the heartbeat payload published under worker:{id}.
type WorkerInfo struct {
	ID            string      `json:"id"`
	State         WorkerState `json:"state"`
	CurrentJob    string      `json:"current_job,omitempty"`
	JobsCompleted int         `json:"jobs_completed"`
	StartedAt     time.Time   `json:"started_at"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
}

// Health is the coordinator's aggregate view of the cluster.
type Health struct {
	QueueDepths map[Priority]int64 `json:"queue_depths"`
	ActiveJobs  int                `json:"active_jobs"`
	Completed   int                `json:"completed"`
	Failed      int                `json:"failed"`
	Workers     []WorkerInfo       `json:"workers"`
	Timestamp   time.Time          `json:"timestamp"`
}
