package progress

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	apperrors "github.com/agbru/primecount/internal/errors"
	"github.com/agbru/primecount/internal/store"
	"github.com/agbru/primecount/internal/store/mocks"
)

func newTestTracker() (*Tracker, *store.MemoryStore, func(time.Duration)) {
	kv := store.NewMemoryStore()
	now := time.Now()
	kv.SetClock(func() time.Time { return now })
	return NewTracker(kv, time.Hour, 5*time.Minute), kv, func(d time.Duration) { now = now.Add(d) }
}

func TestParseSnapshot(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    Snapshot
		wantErr bool
	}{
		{"0:16", Snapshot{0, 16}, false},
		{"16:16", Snapshot{16, 16}, false},
		{"3:4", Snapshot{3, 4}, false},
		{"5:4", Snapshot{}, true},
		{"-1:4", Snapshot{}, true},
		{"x:4", Snapshot{}, true},
		{"4", Snapshot{}, true},
		{"", Snapshot{}, true},
	}
	for _, tt := range tests {
		got, err := ParseSnapshot(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSnapshot(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSnapshot(%q) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}

func TestSnapshot_Fraction(t *testing.T) {
	t.Parallel()
	if f := (Snapshot{Completed: 4, Total: 16}).Fraction(); f != 0.25 {
		t.Errorf("Fraction() = %v, want 0.25", f)
	}
	if f := (Snapshot{}).Fraction(); f != 0 {
		t.Errorf("Fraction() of unknown total = %v, want 0", f)
	}
	if !(Snapshot{Completed: 2, Total: 2}).Done() {
		t.Error("2:2 should be done")
	}
}

func TestTracker_Lifecycle(t *testing.T) {
	t.Parallel()
	tr, kv, advance := newTestTracker()
	ctx := context.Background()

	if err := tr.Init(ctx, "job1", 4); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	snap, ok, err := tr.Read(ctx, "job1")
	if err != nil || !ok || snap != (Snapshot{0, 4}) {
		t.Fatalf("Read after Init = %+v, %v, %v", snap, ok, err)
	}

	for i := 0; i < 4; i++ {
		got, err := tr.Increment(ctx, "job1", i)
		if err != nil {
			t.Fatalf("Increment(%d) error = %v", i, err)
		}
		if got.Completed != i+1 || got.Total != 4 {
			t.Errorf("Increment(%d) = %+v", i, got)
		}
	}

	if err := tr.Retire(ctx, "job1"); err != nil {
		t.Fatalf("Retire() error = %v", err)
	}
	if err := tr.Retire(ctx, "job1"); err != nil {
		t.Fatalf("second Retire() error = %v", err)
	}
	snap, ok, _ = tr.Read(ctx, "job1")
	if !ok || snap != (Snapshot{4, 4}) {
		t.Errorf("final snapshot = %+v (ok=%v), want 4:4", snap, ok)
	}
	if kv.Len() != 1 {
		t.Errorf("only the snapshot should remain, store has %d keys", kv.Len())
	}

	advance(6 * time.Minute)
	if _, ok, _ := tr.Read(ctx, "job1"); ok {
		t.Error("snapshot should expire after the grace window")
	}
}

func TestTracker_RetirePublishesFinalSnapshot(t *testing.T) {
	t.Parallel()
	tr, kv, _ := newTestTracker()
	ctx := context.Background()
	_ = tr.Init(ctx, "job5", 2)
	_, _ = tr.Increment(ctx, "job5", 0)
	_, _ = tr.Increment(ctx, "job5", 1)
	// A slower publisher overwrote the latest snapshot.
	_ = kv.Set(ctx, "job:job5:progress", "1:2", time.Hour)

	if err := tr.Retire(ctx, "job5"); err != nil {
		t.Fatalf("Retire() error = %v", err)
	}
	if snap, ok, _ := tr.Read(ctx, "job5"); !ok || snap != (Snapshot{2, 2}) {
		t.Errorf("snapshot after Retire = %+v (ok=%v), want 2:2", snap, ok)
	}
}

func TestTracker_RedeliveredChunkCountsOnce(t *testing.T) {
	t.Parallel()
	tr, _, _ := newTestTracker()
	ctx := context.Background()
	_ = tr.Init(ctx, "job2", 3)

	first, _ := tr.Increment(ctx, "job2", 1)
	again, err := tr.Increment(ctx, "job2", 1)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if first != again || again.Completed != 1 {
		t.Errorf("redelivery moved the counter: first=%+v again=%+v", first, again)
	}
}

// TestTracker_RetriedIncrementPublishes covers a delivery that stopped after
// the chunk joined the counted set: the retry must still publish it.
func TestTracker_RetriedIncrementPublishes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("chunk counted, snapshot missing", func(t *testing.T) {
		t.Parallel()
		tr, kv, _ := newTestTracker()
		_ = tr.Init(ctx, "job6", 4)
		if _, err := kv.SAdd(ctx, "job:job6:counted", "2"); err != nil {
			t.Fatalf("SAdd() error = %v", err)
		}

		snap, err := tr.Increment(ctx, "job6", 2)
		if err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
		if snap != (Snapshot{1, 4}) {
			t.Errorf("Increment() = %+v, want 1:4", snap)
		}
		if got, _, _ := tr.Read(ctx, "job6"); got != (Snapshot{1, 4}) {
			t.Errorf("published snapshot = %+v, want 1:4", got)
		}
		if snap, _ := tr.Increment(ctx, "job6", 0); snap != (Snapshot{2, 4}) {
			t.Errorf("next Increment() = %+v, want 2:4", snap)
		}
	})

	t.Run("publish fails once", func(t *testing.T) {
		t.Parallel()
		down := apperrors.InfrastructureError{Op: "set", Cause: errors.New("connection reset by peer")}
		ctrl := gomock.NewController(t)
		kv := mocks.NewMockKV(ctrl)
		kv.EXPECT().Get(gomock.Any(), "job:j:total").Return("4", true, nil).Times(2)
		kv.EXPECT().SAdd(gomock.Any(), "job:j:counted", "3").Return(true, nil)
		kv.EXPECT().SAdd(gomock.Any(), "job:j:counted", "3").Return(false, nil)
		kv.EXPECT().Expire(gomock.Any(), "job:j:counted", time.Hour).Return(nil).Times(2)
		kv.EXPECT().SCard(gomock.Any(), "job:j:counted").Return(int64(1), nil).Times(2)
		gomock.InOrder(
			kv.EXPECT().Set(gomock.Any(), "job:j:progress", "1:4", time.Hour).Return(down),
			kv.EXPECT().Set(gomock.Any(), "job:j:progress", "1:4", time.Hour).Return(nil),
		)

		tr := NewTracker(kv, time.Hour, time.Minute)
		if _, err := tr.Increment(ctx, "j", 3); !errors.Is(err, down) {
			t.Fatalf("first Increment() = %v, want store error", err)
		}
		snap, err := tr.Increment(ctx, "j", 3)
		if err != nil || snap != (Snapshot{1, 4}) {
			t.Fatalf("retried Increment() = %+v, %v, want 1:4", snap, err)
		}
	})
}

func TestTracker_IncrementAfterClear(t *testing.T) {
	t.Parallel()
	tr, kv, _ := newTestTracker()
	ctx := context.Background()
	_ = tr.Init(ctx, "job3", 2)
	if err := tr.Clear(ctx, "job3"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	snap, err := tr.Increment(ctx, "job3", 0)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if snap != (Snapshot{}) {
		t.Errorf("Increment on cleared job = %+v, want zero", snap)
	}
	if _, ok, _ := tr.Read(ctx, "job3"); ok {
		t.Error("cleared job must not regain a snapshot")
	}
	if kv.Len() != 0 {
		t.Errorf("store has %d keys after clear", kv.Len())
	}
}

func TestTracker_InitRejectsZeroTotal(t *testing.T) {
	t.Parallel()
	tr, _, _ := newTestTracker()
	var vErr apperrors.ValidationError
	if err := tr.Init(context.Background(), "j", 0); !errors.As(err, &vErr) {
		t.Errorf("Init(0) = %v, want ValidationError", err)
	}
}

func TestTracker_StoreFailures(t *testing.T) {
	t.Parallel()
	down := apperrors.InfrastructureError{Op: "set", Cause: errors.New("down")}
	ctx := context.Background()

	t.Run("init propagates set failure", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		kv := mocks.NewMockKV(ctrl)
		kv.EXPECT().Del(gomock.Any(), "job:j:counted").Return(nil)
		kv.EXPECT().Set(gomock.Any(), "job:j:total", "8", time.Hour).Return(down)

		err := NewTracker(kv, time.Hour, time.Minute).Init(ctx, "j", 8)
		var infraErr apperrors.InfrastructureError
		if !errors.As(err, &infraErr) {
			t.Fatalf("Init() = %v, want InfrastructureError", err)
		}
	})

	t.Run("increment propagates count failure", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		kv := mocks.NewMockKV(ctrl)
		kv.EXPECT().Get(gomock.Any(), "job:j:total").Return("8", true, nil)
		kv.EXPECT().SAdd(gomock.Any(), "job:j:counted", "2").Return(false, down)

		if _, err := NewTracker(kv, time.Hour, time.Minute).Increment(ctx, "j", 2); !errors.Is(err, down) {
			t.Fatalf("Increment() = %v, want store error", err)
		}
	})

	t.Run("read failure is reported", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		kv := mocks.NewMockKV(ctrl)
		kv.EXPECT().Get(gomock.Any(), "job:j:progress").Return("", false, down)

		if _, _, err := NewTracker(kv, time.Hour, time.Minute).Read(ctx, "j"); err == nil {
			t.Fatal("Read() should fail")
		}
	})

	t.Run("corrupt snapshot reads as absent", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		kv := mocks.NewMockKV(ctrl)
		kv.EXPECT().Get(gomock.Any(), "job:j:progress").Return("garbage", true, nil)

		_, ok, err := NewTracker(kv, time.Hour, time.Minute).Read(ctx, "j")
		if err != nil || ok {
			t.Fatalf("Read() = ok %v err %v, want absent", ok, err)
		}
	})
}

// TestTracker_Monotonic increments chunks concurrently in random order, with
// redeliveries, and checks that the counter ends exactly at total and never
// exceeds it.
func TestTracker_Monotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("completed is bounded and reaches total", prop.ForAll(
		func(total int, seed int64) bool {
			tr, _, _ := newTestTracker()
			ctx := context.Background()
			if err := tr.Init(ctx, "p", total); err != nil {
				return false
			}
			order := rand.New(rand.NewSource(seed)).Perm(total)
			order = append(order, order[:total/2]...)

			var (
				mu   sync.Mutex
				wg   sync.WaitGroup
				seen []int
				bad  bool
			)
			for _, chunk := range order {
				wg.Add(1)
				go func(chunk int) {
					defer wg.Done()
					snap, err := tr.Increment(ctx, "p", chunk)
					mu.Lock()
					defer mu.Unlock()
					if err != nil || snap.Completed < 0 || snap.Completed > total {
						bad = true
					}
					seen = append(seen, snap.Completed)
				}(chunk)
			}
			wg.Wait()
			if bad {
				return false
			}
			peak := 0
			for _, c := range seen {
				peak = max(peak, c)
			}
			return peak == total
		},
		gen.IntRange(1, 64),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
