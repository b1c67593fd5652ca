// Package progress tracks per-job chunk completion in the shared store.
//
// Each job owns three keys:
//
//	job:{id}:counted    set of chunk indices counted so far; its cardinality is completed
//	job:{id}:total      fixed number of chunks
//	job:{id}:progress   last published snapshot, "completed:total"
package progress

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/agbru/primecount/internal/errors"
	"github.com/agbru/primecount/internal/store"
)

// Snapshot is a point-in-time view of a job's progress.
type Snapshot struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// String encodes the snapshot in its stored "completed:total" form.
func (s Snapshot) String() string { return fmt.Sprintf("%d:%d", s.Completed, s.Total) }

// Fraction returns completed/total in [0, 1], or 0 when total is unknown.
func (s Snapshot) Fraction() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total)
}

// Done reports whether every chunk has been counted.
func (s Snapshot) Done() bool { return s.Total > 0 && s.Completed >= s.Total }

// ParseSnapshot decodes a "completed:total" string.
func ParseSnapshot(raw string) (Snapshot, error) {
	c, t, ok := strings.Cut(raw, ":")
	if !ok {
		return Snapshot{}, fmt.Errorf("malformed progress %q", raw)
	}
	completed, err := strconv.Atoi(c)
	if err != nil {
		return Snapshot{}, fmt.Errorf("malformed progress %q: %w", raw, err)
	}
	total, err := strconv.Atoi(t)
	if err != nil {
		return Snapshot{}, fmt.Errorf("malformed progress %q: %w", raw, err)
	}
	if completed < 0 || total < 0 || completed > total {
		return Snapshot{}, fmt.Errorf("progress %q out of range", raw)
	}
	return Snapshot{Completed: completed, Total: total}, nil
}

// Keys for a job.
func countedKey(jobID string) string  { return "job:" + jobID + ":counted" }
func totalKey(jobID string) string    { return "job:" + jobID + ":total" }
func progressKey(jobID string) string { return "job:" + jobID + ":progress" }

// Tracker reads and writes progress counters for any number of jobs. It
// holds no per-job state; all coordination goes through the store.
type Tracker struct {
	kv    store.KV
	ttl   time.Duration
	grace time.Duration
}

// NewTracker returns a Tracker. ttl bounds the lifetime of working counters
// (the job's maximum runtime); grace is how long the final snapshot stays
// readable after Retire.
func NewTracker(kv store.KV, ttl, grace time.Duration) *Tracker {
	return &Tracker{kv: kv, ttl: ttl, grace: grace}
}

// Init creates the counters for a new job: total=chunks and a "0:chunks"
// snapshot, both expiring after the tracker ttl. The counted set starts
// empty, which the store reports as cardinality 0.
func (t *Tracker) Init(ctx context.Context, jobID string, total int) error {
	if total < 1 {
		return apperrors.ValidationError{Field: "chunks", Message: "must be at least 1"}
	}
	if err := t.kv.Del(ctx, countedKey(jobID)); err != nil {
		return apperrors.WrapError(err, "init counted for job %s", jobID)
	}
	if err := t.kv.Set(ctx, totalKey(jobID), strconv.Itoa(total), t.ttl); err != nil {
		return apperrors.WrapError(err, "init total for job %s", jobID)
	}
	snap := Snapshot{Completed: 0, Total: total}
	if err := t.kv.Set(ctx, progressKey(jobID), snap.String(), t.ttl); err != nil {
		return apperrors.WrapError(err, "init progress for job %s", jobID)
	}
	return nil
}

// Increment records that chunk has been counted and publishes the resulting
// snapshot. Completed is the size of the counted set, so a redelivered chunk
// does not move it, while a delivery interrupted after the chunk joined the
// set still republishes the snapshot when it is retried.
//
// If the job's total is gone (the job was cleared after a failure or its
// counters expired) nothing is counted or published and the zero Snapshot
// is returned.
func (t *Tracker) Increment(ctx context.Context, jobID string, chunk int) (Snapshot, error) {
	total, ok, err := t.total(ctx, jobID)
	if err != nil {
		return Snapshot{}, err
	}
	if !ok {
		return Snapshot{}, nil
	}

	if _, err := t.kv.SAdd(ctx, countedKey(jobID), strconv.Itoa(chunk)); err != nil {
		return Snapshot{}, apperrors.WrapError(err, "count chunk %d of job %s", chunk, jobID)
	}
	// SADD recreates a set cleared concurrently, without expiry.
	if err := t.kv.Expire(ctx, countedKey(jobID), t.ttl); err != nil {
		return Snapshot{}, apperrors.WrapError(err, "refresh ttl for job %s", jobID)
	}
	completed, err := t.kv.SCard(ctx, countedKey(jobID))
	if err != nil {
		return Snapshot{}, apperrors.WrapError(err, "read completed for job %s", jobID)
	}

	snap := Snapshot{Completed: min(int(completed), total), Total: total}
	if err := t.kv.Set(ctx, progressKey(jobID), snap.String(), t.ttl); err != nil {
		return Snapshot{}, apperrors.WrapError(err, "publish progress for job %s", jobID)
	}
	return snap, nil
}

// Read returns the last published snapshot and whether one exists.
func (t *Tracker) Read(ctx context.Context, jobID string) (Snapshot, bool, error) {
	raw, ok, err := t.kv.Get(ctx, progressKey(jobID))
	if err != nil {
		return Snapshot{}, false, apperrors.WrapError(err, "read progress for job %s", jobID)
	}
	if !ok {
		return Snapshot{}, false, nil
	}
	snap, err := ParseSnapshot(raw)
	if err != nil {
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}

// Retire deletes the working counters of a finished job and leaves a final
// "total:total" snapshot readable for the grace window. Publishers racing on
// the snapshot may have left a lower value; Retire runs after every chunk
// was counted, so it overwrites it. Retiring twice is harmless.
func (t *Tracker) Retire(ctx context.Context, jobID string) error {
	total, ok, err := t.total(ctx, jobID)
	if err != nil {
		return err
	}
	if ok {
		final := Snapshot{Completed: total, Total: total}
		if err := t.kv.Set(ctx, progressKey(jobID), final.String(), t.grace); err != nil {
			return apperrors.WrapError(err, "publish final progress for job %s", jobID)
		}
	}
	if err := t.kv.Del(ctx, workingKeys(jobID)...); err != nil {
		return apperrors.WrapError(err, "retire counters for job %s", jobID)
	}
	if !ok {
		if err := t.kv.Expire(ctx, progressKey(jobID), t.grace); err != nil {
			return apperrors.WrapError(err, "expire progress for job %s", jobID)
		}
	}
	return nil
}

// Clear deletes every progress key of the job, including the snapshot.
func (t *Tracker) Clear(ctx context.Context, jobID string) error {
	keys := append(workingKeys(jobID), progressKey(jobID))
	if err := t.kv.Del(ctx, keys...); err != nil {
		return apperrors.WrapError(err, "clear progress for job %s", jobID)
	}
	return nil
}

func workingKeys(jobID string) []string {
	return []string{countedKey(jobID), totalKey(jobID)}
}

func (t *Tracker) total(ctx context.Context, jobID string) (int, bool, error) {
	raw, ok, err := t.kv.Get(ctx, totalKey(jobID))
	if err != nil {
		return 0, false, apperrors.WrapError(err, "read total for job %s", jobID)
	}
	if !ok {
		return 0, false, nil
	}
	total, err := strconv.Atoi(raw)
	if err != nil || total < 0 {
		return 0, false, nil
	}
	return total, true, nil
}
