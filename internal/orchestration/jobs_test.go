package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/agbru/primecount/internal/broker"
	apperrors "github.com/agbru/primecount/internal/errors"
	"github.com/agbru/primecount/internal/progress"
	"github.com/agbru/primecount/internal/store"
)

func workerConfig() broker.Config {
	return broker.Config{
		Concurrency:   4,
		PollTimeout:   20 * time.Millisecond,
		HardTimeLimit: time.Minute,
		SoftTimeLimit: 50 * time.Second,
		RetryDelay:    5 * time.Millisecond,
		MaxRetries:    2,
		ResultExpires: time.Hour,
		Heartbeat:     time.Second,
		TrackStarted:  true,
		Name:          "jobs-test",
	}
}

// startStandalone wires an orchestrator to an in-process broker and runs the
// worker pool until the test ends.
func startStandalone(t *testing.T, configure func(*Orchestrator)) (*Orchestrator, *progress.Tracker) {
	t.Helper()
	kv := store.NewMemoryStore()
	q := broker.NewMemoryQueue()
	b := broker.New(q, kv, workerConfig())
	tracker := newTracker(kv)
	o := New(b, tracker, DefaultLimits())
	if configure != nil {
		configure(o)
	}
	o.Register(b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		q.Close()
	})
	return o, tracker
}

// waitJob polls Status until the job is terminal, returning every status seen.
func waitJob(t *testing.T, o *Orchestrator, jobID string) []JobStatus {
	t.Helper()
	var seen []JobStatus
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		st, err := o.Status(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		seen = append(seen, st)
		if st.State == JobSuccess || st.State == JobFailure {
			return seen
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("job %s did not finish", jobID)
	return nil
}

func TestJob_CountsPrimesEndToEnd(t *testing.T) {
	t.Parallel()
	o, tracker := startStandalone(t, nil)

	jobID, err := o.Submit(context.Background(), 200_000, 16)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	seen := waitJob(t, o, jobID)
	final := seen[len(seen)-1]

	if final.State != JobSuccess {
		t.Fatalf("final state = %s (%s), want SUCCESS", final.State, final.Error)
	}
	if final.Result.PrimeCount != 17984 {
		t.Errorf("prime_count = %d, want 17984", final.Result.PrimeCount)
	}
	if final.Result.ChunksProcessed != 16 {
		t.Errorf("chunks_processed = %d, want 16", final.Result.ChunksProcessed)
	}
	if final.Result.DurationSec < 0 {
		t.Errorf("duration_sec = %v", final.Result.DurationSec)
	}
	if final.Progress == nil || *final.Progress != (progress.Snapshot{Completed: 16, Total: 16}) {
		t.Errorf("final progress = %v, want 16:16", final.Progress)
	}

	// Concurrent publishers may overwrite each other, so snapshots are only
	// checked for range, not order.
	for _, st := range seen {
		if st.Progress == nil {
			continue
		}
		if st.Progress.Total != 16 || st.Progress.Completed > 16 {
			t.Errorf("snapshot out of range: %v", *st.Progress)
		}
	}

	// Working counters are gone; only the snapshot survives for the grace window.
	snap, ok, err := tracker.Read(context.Background(), jobID)
	if err != nil || !ok || !snap.Done() {
		t.Errorf("retained snapshot = %v, %v, %v", snap, ok, err)
	}
}

func TestJob_FailingChunkFailsJob(t *testing.T) {
	t.Parallel()
	o, tracker := startStandalone(t, func(o *Orchestrator) {
		o.countRange = func(context.Context, uint64, uint64) (uint64, error) {
			return 0, errors.New("disk on fire")
		}
	})

	jobID, err := o.Submit(context.Background(), 20_000, 4)
	if err != nil {
		t.Fatal(err)
	}
	seen := waitJob(t, o, jobID)
	final := seen[len(seen)-1]

	if final.State != JobFailure {
		t.Fatalf("final state = %s, want FAILURE", final.State)
	}
	if final.Progress != nil || final.Result != nil {
		t.Errorf("failed job reports progress=%v result=%v", final.Progress, final.Result)
	}
	if final.Error == "" {
		t.Error("failed job has no error message")
	}
	if _, ok, _ := tracker.Read(context.Background(), jobID); ok {
		t.Error("progress should be cleared after a chunk failure")
	}
}

func aggregateTask(t *testing.T, p aggregatePayload, results []json.RawMessage) *broker.Task {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return &broker.Task{ID: p.JobID + "-aggregate", Name: TaskAggregate, Payload: raw, Results: results}
}

func chunkResults(t *testing.T, jobID string, counts ...uint64) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, len(counts))
	for i, c := range counts {
		raw, err := json.Marshal(ChunkResult{JobID: jobID, Index: i, PrimeCount: c})
		if err != nil {
			t.Fatal(err)
		}
		out[i] = raw
	}
	return out
}

func TestAggregate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	good := chunkResults(t, "job", 25, 21, 16, 16)
	dup := append(chunkResults(t, "job", 25, 21, 16), good[0])
	foreign := append(chunkResults(t, "job", 25, 21, 16), chunkResults(t, "other", 0, 0, 0, 16)[3])

	tests := []struct {
		name    string
		results []json.RawMessage
		want    uint64
		wantErr bool
	}{
		{"sums every chunk", good, 78, false},
		{"missing result", good[:3], 0, true},
		{"empty entry", append(good[:3:3], nil), 0, true},
		{"malformed entry", append(good[:3:3], json.RawMessage(`{"prime_count":`)), 0, true},
		{"duplicate index", dup, 0, true},
		{"result of another job", foreign, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tracker := newTracker(store.NewMemoryStore())
			o := New(newFakeBroker(), tracker, DefaultLimits())
			start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			o.now = func() time.Time { return start.Add(1234567 * time.Microsecond) }
			if err := tracker.Init(ctx, "job", 4); err != nil {
				t.Fatal(err)
			}

			out, err := o.aggregate(ctx, aggregateTask(t, aggregatePayload{JobID: "job", Chunks: 4, StartTime: start}, tt.results))
			_, ok, _ := tracker.Read(ctx, "job")
			if tt.wantErr {
				var ae apperrors.AggregationError
				if !errors.As(err, &ae) || apperrors.IsRetryable(err) {
					t.Fatalf("aggregate() error = %v, want terminal AggregationError", err)
				}
				if ok {
					t.Error("progress should be cleared after a failed aggregation")
				}
				return
			}
			if err != nil {
				t.Fatalf("aggregate() error = %v", err)
			}
			res := out.(JobResult)
			if res.PrimeCount != tt.want || res.ChunksProcessed != 4 || res.DurationSec != 1.235 {
				t.Errorf("result = %+v", res)
			}
			if !ok {
				t.Error("snapshot should survive retirement")
			}
		})
	}
}

func TestSumResults_OrderIndependent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("any permutation sums the same", prop.ForAll(
		func(counts []uint16, rot int) bool {
			if len(counts) == 0 {
				return true
			}
			results := make([]json.RawMessage, len(counts))
			var want uint64
			for i, c := range counts {
				results[i], _ = json.Marshal(ChunkResult{JobID: "j", Index: i, PrimeCount: uint64(c)})
				want += uint64(c)
			}
			k := rot % len(results)
			rotated := append(append([]json.RawMessage{}, results[k:]...), results[:k]...)
			got, err := sumResults(aggregatePayload{JobID: "j", Chunks: len(counts)}, rotated)
			return err == nil && got == want
		},
		gen.SliceOf(gen.UInt16()),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
