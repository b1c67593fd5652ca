// Package partition splits the range [1, n] into contiguous inclusive chunks
// that are counted independently and summed afterwards.
package partition

import (
	"fmt"

	apperrors "github.com/agbru/primecount/internal/errors"
)

// Chunk is an inclusive range [Start, End] of the job's input.
type Chunk struct {
	Index int    `json:"index"`
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Len returns the number of integers covered by the chunk.
func (c Chunk) Len() uint64 { return c.End - c.Start + 1 }

// String renders the chunk as "[start, end]".
func (c Chunk) String() string { return fmt.Sprintf("[%d, %d]", c.Start, c.End) }

// Split divides [1, n] into chunks contiguous ranges of size n/chunks; the
// last chunk absorbs the remainder. When chunks exceeds n it is clamped to n
// so that no chunk is empty. The result is deterministic.
func Split(n uint64, chunks int) ([]Chunk, error) {
	if n < 1 {
		return nil, apperrors.ValidationError{Field: "n", Message: "must be at least 1"}
	}
	if chunks < 1 {
		return nil, apperrors.ValidationError{Field: "chunks", Message: "must be at least 1"}
	}
	count := uint64(chunks)
	if count > n {
		count = n
	}

	size := n / count
	out := make([]Chunk, 0, count)
	for i := uint64(0); i < count; i++ {
		start := i*size + 1
		end := (i + 1) * size
		if i == count-1 {
			end = n
		}
		out = append(out, Chunk{Index: int(i), Start: start, End: end})
	}
	return out, nil
}
