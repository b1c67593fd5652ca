package orchestration

import (
	"context"
	"fmt"

	"github.com/agbru/primecount/internal/broker"
	apperrors "github.com/agbru/primecount/internal/errors"
)

// maxReferenceDepth bounds how many task references Status follows.
const maxReferenceDepth = 8

// Status reports the state of a job. It never blocks on running work.
//
// The job's own task is the dispatch task. While it is queued or running its
// state is reported directly; once it succeeded it refers to the aggregate
// task, whose state decides between SUCCESS, FAILURE and PROGRESS. Unknown
// ids read as PENDING.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (JobStatus, error) {
	meta, err := o.broker.Meta(ctx, jobID)
	if err != nil {
		return JobStatus{}, apperrors.WrapError(err, "status of job %s", jobID)
	}
	st := JobStatus{JobID: jobID}

	switch meta.State {
	case broker.StatePending:
		st.State = JobPending
	case broker.StateStarted:
		st.State = JobStarted
		err = o.attachProgress(ctx, &st)
	case broker.StateProgress:
		st.State = JobProgress
		err = o.attachProgress(ctx, &st)
	case broker.StateSuccess:
		err = o.resolveSuccess(ctx, &st, meta)
	case broker.StateFailure:
		st.State = JobFailure
		st.Error = failureMessage(meta)
	default:
		st.State = JobPending
	}
	if err != nil {
		return JobStatus{}, err
	}
	return st, nil
}

// resolveSuccess follows references from a successful task until it reaches
// one holding a value or one that has not finished.
func (o *Orchestrator) resolveSuccess(ctx context.Context, st *JobStatus, meta broker.Meta) error {
	for depth := 0; meta.Ref != ""; depth++ {
		if depth == maxReferenceDepth {
			return fmt.Errorf("job %s: reference chain longer than %d", st.JobID, maxReferenceDepth)
		}
		next, err := o.broker.Meta(ctx, meta.Ref)
		if err != nil {
			return apperrors.WrapError(err, "resolve %s of job %s", meta.Ref, st.JobID)
		}
		switch next.State {
		case broker.StateSuccess:
			meta = next
		case broker.StateFailure:
			st.State = JobFailure
			st.Error = failureMessage(next)
			return nil
		default:
			st.State = JobProgress
			return o.attachProgress(ctx, st)
		}
	}

	var result JobResult
	if err := meta.Decode(&result); err != nil {
		return fmt.Errorf("decode result of job %s: %w", st.JobID, err)
	}
	st.State = JobSuccess
	st.Result = &result
	return o.attachProgress(ctx, st)
}

func (o *Orchestrator) attachProgress(ctx context.Context, st *JobStatus) error {
	snap, ok, err := o.tracker.Read(ctx, st.JobID)
	if err != nil {
		return err
	}
	if ok {
		st.Progress = &snap
	}
	return nil
}

func failureMessage(m broker.Meta) string {
	if m.Error != "" {
		return m.Error
	}
	return "unknown error"
}
