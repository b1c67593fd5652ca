// # Naming Conventions
//
//   - Display* functions write formatted output to an [io.Writer].
//   - Format* functions return a string without performing I/O.

package cli

import (
	"encoding/json"
	"fmt"
	"io"

	apperrors "github.com/agbru/primecount/internal/errors"
	"github.com/agbru/primecount/internal/format"
	"github.com/agbru/primecount/internal/orchestration"
	"github.com/agbru/primecount/internal/ui"
)

// DisplayJSON writes v as indented JSON.
func DisplayJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// DisplaySubmission prints the id of an accepted job and how to follow it.
func DisplaySubmission(out io.Writer, jobID string) {
	t := ui.Current()
	fmt.Fprintf(out, "%s job %s accepted\n", ui.Paint(t.Success, "✓"), ui.Paint(t.Bold, jobID))
	fmt.Fprintf(out, "  follow with: primectl watch %s\n", jobID)
}

// DisplayStatus prints a human-readable job status.
func DisplayStatus(out io.Writer, st orchestration.JobStatus) {
	t := ui.Current()
	fmt.Fprintf(out, "Job:    %s\n", st.JobID)
	fmt.Fprintf(out, "State:  %s\n", ui.Paint(stateColor(st.State), string(st.State)))
	if st.Progress != nil {
		fmt.Fprintf(out, "Chunks: %d/%d\n", st.Progress.Completed, st.Progress.Total)
	}
	if st.Result != nil {
		fmt.Fprintf(out, "Primes: %s\n", ui.Paint(t.Bold, format.FormatNumber(st.Result.PrimeCount)))
		fmt.Fprintf(out, "Time:   %s over %d chunks\n", format.FormatSeconds(st.Result.DurationSec), st.Result.ChunksProcessed)
	}
	if st.Error != "" {
		fmt.Fprintf(out, "Error:  %s\n", ui.Paint(t.Error, st.Error))
	}
}

// FormatStatusSuffix is the spinner text for a job that is still running.
func FormatStatusSuffix(st orchestration.JobStatus, eta string) string {
	if st.Progress == nil {
		return fmt.Sprintf(" %s", st.State)
	}
	return fmt.Sprintf(" %s %s", st.State, eta)
}

func stateColor(s orchestration.JobState) string {
	t := ui.Current()
	switch s {
	case orchestration.JobSuccess:
		return t.Success
	case orchestration.JobFailure:
		return t.Error
	case orchestration.JobPending:
		return t.Muted
	default:
		return t.Primary
	}
}

// ExitCode maps a final job status to the process exit code.
func ExitCode(st orchestration.JobStatus) int {
	switch st.State {
	case orchestration.JobSuccess:
		return apperrors.ExitSuccess
	case orchestration.JobFailure:
		return apperrors.ExitErrorJobFailed
	default:
		return apperrors.ExitErrorTimeout
	}
}
