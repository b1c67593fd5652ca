package orchestration

import (
	"context"
	"time"

	"github.com/agbru/primecount/internal/broker"
	"github.com/agbru/primecount/internal/partition"
	"github.com/agbru/primecount/internal/progress"
)

// Task names registered by the orchestrator.
const (
	TaskDispatch   = "primes.dispatch"
	TaskCountChunk = "primes.count_chunk"
	TaskAggregate  = "primes.aggregate"
)

// TaskBroker is the part of the broker the orchestrator depends on.
type TaskBroker interface {
	Enqueue(ctx context.Context, sig broker.Signature) (string, error)
	Chord(ctx context.Context, id string, members []broker.Signature, callback broker.Signature) (string, error)
	Meta(ctx context.Context, id string) (broker.Meta, error)
}

// Registrar accepts task handlers. *broker.Broker implements it.
type Registrar interface {
	Register(name string, h broker.Handler)
}

// JobObserver is notified of accepted jobs, typically to update metrics.
type JobObserver interface {
	JobSubmitted()
}

type nopJobObserver struct{}

func (nopJobObserver) JobSubmitted() {}

// JobState is the client-visible state of a job.
type JobState string

const (
	JobPending  JobState = "PENDING"
	JobStarted  JobState = "STARTED"
	JobProgress JobState = "PROGRESS"
	JobSuccess  JobState = "SUCCESS"
	JobFailure  JobState = "FAILURE"
)

// Terminal reports whether the job can no longer change state.
func (s JobState) Terminal() bool { return s == JobSuccess || s == JobFailure }

// JobResult is the outcome of a successful job.
type JobResult struct {
	PrimeCount      uint64  `json:"prime_count"`
	DurationSec     float64 `json:"duration_sec"`
	ChunksProcessed int     `json:"chunks_processed"`
}

// JobStatus is what a status query returns.
type JobStatus struct {
	JobID    string             `json:"job_id"`
	State    JobState           `json:"state"`
	Progress *progress.Snapshot `json:"progress,omitempty"`
	Result   *JobResult         `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// ChunkResult is returned by a count_chunk task.
type ChunkResult struct {
	JobID       string  `json:"job_id"`
	Index       int     `json:"chunk_index"`
	Start       uint64  `json:"start"`
	End         uint64  `json:"end"`
	PrimeCount  uint64  `json:"prime_count"`
	DurationSec float64 `json:"duration_sec"`
}

type dispatchPayload struct {
	JobID     string            `json:"job_id"`
	N         uint64            `json:"n"`
	Chunks    []partition.Chunk `json:"chunks"`
	StartTime time.Time         `json:"start_time"`
}

type chunkPayload struct {
	JobID string `json:"job_id"`
	Index int    `json:"chunk_index"`
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

type aggregatePayload struct {
	JobID     string    `json:"job_id"`
	Chunks    int       `json:"chunks"`
	StartTime time.Time `json:"start_time"`
}
