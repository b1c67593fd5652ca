package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agbru/primecount/internal/broker"
	apperrors "github.com/agbru/primecount/internal/errors"
	"github.com/agbru/primecount/internal/logging"
	"github.com/agbru/primecount/internal/partition"
	"github.com/agbru/primecount/internal/primes"
	"github.com/agbru/primecount/internal/progress"
	"github.com/agbru/primecount/internal/telemetry"
)

// Limits bounds what Submit accepts.
type Limits struct {
	MinN      uint64
	MaxChunks int
}

// DefaultLimits returns the production limits: n ≥ 10000, 1..128 chunks.
func DefaultLimits() Limits {
	return Limits{MinN: 10_000, MaxChunks: 128}
}

// Orchestrator submits jobs, executes their tasks and resolves their status.
// The same value serves API processes (Submit, Status) and worker processes
// (the registered handlers).
type Orchestrator struct {
	broker   TaskBroker
	tracker  *progress.Tracker
	limits   Limits
	logger   logging.Logger
	observer JobObserver

	countRange func(ctx context.Context, start, end uint64) (uint64, error)
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithObserver sets the job observer.
func WithObserver(obs JobObserver) Option { return func(o *Orchestrator) { o.observer = obs } }

// New returns an Orchestrator.
func New(b TaskBroker, tracker *progress.Tracker, limits Limits, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		broker:     b,
		tracker:    tracker,
		limits:     limits,
		logger:     logging.Nop{},
		observer:   nopJobObserver{},
		countRange: primes.CountRange,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register installs the dispatch, count_chunk and aggregate handlers.
func (o *Orchestrator) Register(r Registrar) {
	r.Register(TaskDispatch, o.dispatch)
	r.Register(TaskCountChunk, o.countChunk)
	r.Register(TaskAggregate, o.aggregate)
}

// Validate checks a request against the limits without side effects.
func (o *Orchestrator) Validate(n uint64, chunks int) error {
	if n < o.limits.MinN {
		return apperrors.ValidationError{Field: "n", Message: fmt.Sprintf("must be >= %d", o.limits.MinN)}
	}
	if chunks < 1 || chunks > o.limits.MaxChunks {
		return apperrors.ValidationError{Field: "chunks", Message: fmt.Sprintf("must be between 1 and %d", o.limits.MaxChunks)}
	}
	return nil
}

// Submit accepts a job counting the primes in [1, n] over chunks parallel
// units and returns its id without waiting for any work to run.
//
// Parameters:
//   - ctx: bounds the store and queue calls made during submission.
//   - n: the inclusive upper bound, at least Limits.MinN.
//   - chunks: the number of units, within [1, Limits.MaxChunks].
//
// Returns a ValidationError for out-of-range input, before anything is
// written. Any later failure removes the job's progress keys and is returned.
func (o *Orchestrator) Submit(ctx context.Context, n uint64, chunks int) (jobID string, err error) {
	if err := o.Validate(n, chunks); err != nil {
		return "", err
	}
	jobID = uuid.NewString()
	ctx, span := telemetry.StartSpan(ctx, "job.submit",
		attribute.String("job_id", jobID),
		attribute.Int64("n", int64(n)),
		attribute.Int("chunks", chunks))
	defer func() { telemetry.EndSpan(span, err) }()

	ranges, err := partition.Split(n, chunks)
	if err != nil {
		return "", err
	}
	if err := o.tracker.Init(ctx, jobID, len(ranges)); err != nil {
		o.clear(ctx, jobID)
		return "", apperrors.WrapError(err, "submit job")
	}
	payload := dispatchPayload{JobID: jobID, N: n, Chunks: ranges, StartTime: o.now().UTC()}
	if _, err := o.broker.Enqueue(ctx, broker.Signature{ID: jobID, Task: TaskDispatch, Payload: payload}); err != nil {
		o.clear(ctx, jobID)
		return "", apperrors.WrapError(err, "submit job")
	}

	o.observer.JobSubmitted()
	o.logger.Info("job submitted",
		logging.String("job_id", jobID),
		logging.Uint64("n", n),
		logging.Int("chunks", len(ranges)))
	return jobID, nil
}

// clear removes a job's progress keys, logging rather than returning
// failures since it always runs on an error path.
func (o *Orchestrator) clear(ctx context.Context, jobID string) {
	if err := o.tracker.Clear(context.WithoutCancel(ctx), jobID); err != nil {
		o.logger.Error("clear progress failed", err, logging.String("job_id", jobID))
	}
}
