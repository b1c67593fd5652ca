package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/agbru/primecount/internal/broker"
	apperrors "github.com/agbru/primecount/internal/errors"
	"github.com/agbru/primecount/internal/logging"
)

// dispatch runs on a worker and fans the job out as a chord: one count_chunk
// task per chunk and an aggregate callback. The job's own task then refers to
// the callback, which carries the final result.
func (o *Orchestrator) dispatch(ctx context.Context, task *broker.Task) (any, error) {
	var p dispatchPayload
	if err := task.Decode(&p); err != nil {
		return nil, apperrors.ValidationError{Field: "payload", Message: err.Error()}
	}
	if len(p.Chunks) == 0 {
		o.clear(ctx, p.JobID)
		return nil, apperrors.ValidationError{Field: "chunks", Message: "job has no chunks"}
	}

	members := make([]broker.Signature, len(p.Chunks))
	for i, c := range p.Chunks {
		members[i] = broker.Signature{
			ID:      fmt.Sprintf("%s-chunk-%d", p.JobID, c.Index),
			Task:    TaskCountChunk,
			Payload: chunkPayload{JobID: p.JobID, Index: c.Index, Start: c.Start, End: c.End},
		}
	}
	callback := broker.Signature{
		ID:      p.JobID + "-aggregate",
		Task:    TaskAggregate,
		Payload: aggregatePayload{JobID: p.JobID, Chunks: len(p.Chunks), StartTime: p.StartTime},
	}
	cbID, err := o.broker.Chord(ctx, p.JobID, members, callback)
	if err != nil {
		o.clear(ctx, p.JobID)
		return nil, err
	}
	o.logger.Info("job dispatched",
		logging.String("job_id", p.JobID),
		logging.Uint64("n", p.N),
		logging.Int("chunks", len(p.Chunks)))
	return broker.Reference{TaskID: cbID}, nil
}

// countChunk counts the primes of one chunk and advances the job's progress.
// It does not finalize the job even when it is the last chunk.
func (o *Orchestrator) countChunk(ctx context.Context, task *broker.Task) (any, error) {
	var p chunkPayload
	if err := task.Decode(&p); err != nil {
		return nil, apperrors.ValidationError{Field: "payload", Message: err.Error()}
	}
	fields := []logging.Field{
		logging.String("job_id", p.JobID),
		logging.Int("chunk", p.Index),
	}
	o.logger.Debug(fmt.Sprintf("counting primes in [%d, %d]", p.Start, p.End), fields...)

	started := time.Now()
	count, err := o.countRange(ctx, p.Start, p.End)
	if err != nil {
		o.logger.Error("chunk failed", err, fields...)
		o.clear(ctx, p.JobID)
		return nil, apperrors.ComputationError{JobID: p.JobID, Chunk: p.Index, Cause: err}
	}
	elapsed := time.Since(started)

	snap, err := o.tracker.Increment(ctx, p.JobID, p.Index)
	if err != nil {
		o.logger.Error("progress update failed", err, fields...)
		o.clear(ctx, p.JobID)
		return nil, err
	}
	if snap.Total > 0 && snap.Completed < snap.Total {
		if err := task.UpdateState(ctx, broker.StateProgress, snap); err != nil {
			o.logger.Error("publish task progress failed", err, fields...)
		}
	}

	o.logger.Info("chunk counted", append(fields,
		logging.Uint64("primes", count),
		logging.Duration("elapsed", elapsed),
		logging.String("progress", snap.String()))...)
	return ChunkResult{
		JobID:       p.JobID,
		Index:       p.Index,
		Start:       p.Start,
		End:         p.End,
		PrimeCount:  count,
		DurationSec: elapsed.Seconds(),
	}, nil
}

// aggregate sums the chunk results delivered by the chord barrier. An
// incomplete or inconsistent result set fails the job without retry.
func (o *Orchestrator) aggregate(ctx context.Context, task *broker.Task) (any, error) {
	var p aggregatePayload
	if err := task.Decode(&p); err != nil {
		return nil, apperrors.ValidationError{Field: "payload", Message: err.Error()}
	}
	fields := []logging.Field{logging.String("job_id", p.JobID)}

	total, err := sumResults(p, task.Results)
	if err != nil {
		o.logger.Error("aggregation failed", err, fields...)
		o.clear(ctx, p.JobID)
		return nil, apperrors.AggregationError{JobID: p.JobID, Cause: err}
	}

	if err := o.tracker.Retire(ctx, p.JobID); err != nil {
		return nil, err
	}
	duration := o.now().Sub(p.StartTime)
	result := JobResult{
		PrimeCount:      total,
		DurationSec:     roundMillis(duration),
		ChunksProcessed: len(task.Results),
	}
	o.logger.Info("job complete", append(fields,
		logging.Uint64("primes", result.PrimeCount),
		logging.Float64("duration_sec", result.DurationSec),
		logging.Int("chunks", result.ChunksProcessed))...)
	return result, nil
}

var errMissingResult = errors.New("missing chunk result")

func sumResults(p aggregatePayload, results []json.RawMessage) (uint64, error) {
	if len(results) != p.Chunks {
		return 0, fmt.Errorf("expected %d chunk results, got %d", p.Chunks, len(results))
	}
	seen := make([]bool, p.Chunks)
	var total uint64
	for i, raw := range results {
		if len(raw) == 0 {
			return 0, fmt.Errorf("%w at position %d", errMissingResult, i)
		}
		var r ChunkResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return 0, fmt.Errorf("malformed chunk result at position %d: %w", i, err)
		}
		if r.JobID != p.JobID {
			return 0, fmt.Errorf("chunk result at position %d belongs to job %q", i, r.JobID)
		}
		if r.Index < 0 || r.Index >= p.Chunks || seen[r.Index] {
			return 0, fmt.Errorf("unexpected chunk index %d", r.Index)
		}
		seen[r.Index] = true
		total += r.PrimeCount
	}
	return total, nil
}

func roundMillis(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}
