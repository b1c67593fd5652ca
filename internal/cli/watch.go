package cli

import (
	"context"
	"io"
	"time"

	"github.com/briandowns/spinner"

	"github.com/agbru/primecount/internal/format"
	"github.com/agbru/primecount/internal/orchestration"
)

// JobWatcher polls a job until it finishes. *client.Client implements it.
type JobWatcher interface {
	Watch(ctx context.Context, jobID string, interval time.Duration, onUpdate func(orchestration.JobStatus)) (orchestration.JobStatus, error)
}

// DisplayWatch follows a job with a spinner, a chunk progress bar and an
// ETA, then prints its final status. The spinner writes to out.
func DisplayWatch(ctx context.Context, w JobWatcher, jobID string, interval time.Duration, out io.Writer) (orchestration.JobStatus, error) {
	s := newSpinner(spinner.WithWriter(out))
	s.UpdateSuffix(" waiting for " + jobID)
	s.Start()

	started := time.Now()
	st, err := w.Watch(ctx, jobID, interval, func(st orchestration.JobStatus) {
		s.UpdateSuffix(FormatStatusSuffix(st, progressLine(st, time.Since(started))))
	})
	s.Stop()

	if err != nil {
		return st, err
	}
	DisplayStatus(out, st)
	return st, nil
}

func progressLine(st orchestration.JobStatus, elapsed time.Duration) string {
	if st.Progress == nil {
		return ""
	}
	eta := format.EstimateETA(st.Progress.Fraction(), elapsed)
	return format.FormatProgressLine(st.Progress.Completed, st.Progress.Total, eta, ProgressBarWidth)
}
