package partition

import (
	"errors"
	"testing"

	apperrors "github.com/agbru/primecount/internal/errors"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestSplit_Scenarios(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		n      uint64
		chunks int
		want   []Chunk
	}{
		{
			name: "even split", n: 100, chunks: 4,
			want: []Chunk{{0, 1, 25}, {1, 26, 50}, {2, 51, 75}, {3, 76, 100}},
		},
		{
			name: "remainder goes to last chunk", n: 100, chunks: 3,
			want: []Chunk{{0, 1, 33}, {1, 34, 66}, {2, 67, 100}},
		},
		{
			name: "two per chunk", n: 10, chunks: 5,
			want: []Chunk{{0, 1, 2}, {1, 3, 4}, {2, 5, 6}, {3, 7, 8}, {4, 9, 10}},
		},
		{
			name: "single chunk", n: 7, chunks: 1,
			want: []Chunk{{0, 1, 7}},
		},
		{
			name: "chunks clamped to n", n: 3, chunks: 8,
			want: []Chunk{{0, 1, 1}, {1, 2, 2}, {2, 3, 3}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Split(tt.n, tt.chunks)
			if err != nil {
				t.Fatalf("Split(%d, %d) error = %v", tt.n, tt.chunks, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Split(%d, %d) returned %d chunks, want %d", tt.n, tt.chunks, len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSplit_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		n      uint64
		chunks int
		field  string
	}{
		{"zero n", 0, 4, "n"},
		{"zero chunks", 100, 0, "chunks"},
		{"negative chunks", 100, -2, "chunks"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Split(tt.n, tt.chunks)
			var vErr apperrors.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Split(%d, %d) = %v, want ValidationError", tt.n, tt.chunks, err)
			}
			if vErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", vErr.Field, tt.field)
			}
		})
	}
}

// TestSplit_ContiguousAndExhaustive checks that the chunks tile [1, n] with
// no gap and no overlap, in index order, for arbitrary inputs.
func TestSplit_ContiguousAndExhaustive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("chunks tile [1, n]", prop.ForAll(
		func(n uint64, chunks int) bool {
			got, err := Split(n, chunks)
			if err != nil {
				t.Logf("Split(%d, %d): %v", n, chunks, err)
				return false
			}
			want := chunks
			if uint64(want) > n {
				want = int(n)
			}
			if len(got) != want {
				return false
			}
			if got[0].Start != 1 || got[len(got)-1].End != n {
				return false
			}
			var covered uint64
			for i, c := range got {
				if c.Index != i || c.Start > c.End {
					return false
				}
				if i > 0 && c.Start != got[i-1].End+1 {
					return false
				}
				covered += c.Len()
			}
			return covered == n
		},
		gen.UInt64Range(1, 10_000_000),
		gen.IntRange(1, 256),
	))

	properties.Property("split is deterministic", prop.ForAll(
		func(n uint64, chunks int) bool {
			a, _ := Split(n, chunks)
			b, _ := Split(n, chunks)
			if len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i] != b[i] {
					return false
				}
			}
			return true
		},
		gen.UInt64Range(1, 1_000_000),
		gen.IntRange(1, 128),
	))

	properties.TestingRun(t)
}
