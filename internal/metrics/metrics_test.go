package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/agbru/primecount/internal/broker"
)

func TestCollectors_Exposition(t *testing.T) {
	t.Parallel()
	c := New()
	c.IncrementActiveRequests()
	c.ObserveRequest(http.MethodPost, "/api/count-primes", http.StatusAccepted, 3*time.Millisecond)
	c.JobSubmitted()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	body := rec.Body.String()

	for _, want := range []string{
		"primecount_active_requests 1",
		`primecount_requests_total{code="202",method="POST",route="/api/count-primes"} 1`,
		"primecount_jobs_submitted_total 1",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestCollectors_ActiveRequests(t *testing.T) {
	t.Parallel()
	c := New()
	c.IncrementActiveRequests()
	c.IncrementActiveRequests()
	c.DecrementActiveRequests()
	if got := testutil.ToFloat64(c.activeRequests); got != 1 {
		t.Errorf("active requests = %v, want 1", got)
	}
}

func TestCollectors_Observer(t *testing.T) {
	t.Parallel()
	c := New()
	var obs broker.Observer = c

	obs.TaskStarted("primes.count_chunk")
	obs.TaskFinished("primes.count_chunk", broker.StateRetry, time.Millisecond)
	obs.TaskRetried("primes.count_chunk")
	obs.TaskStarted("primes.count_chunk")
	obs.TaskFinished("primes.count_chunk", broker.StateSuccess, time.Millisecond)
	obs.TaskFinished("primes.aggregate", broker.StateFailure, 0)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"started", testutil.ToFloat64(c.tasksStarted.WithLabelValues("primes.count_chunk")), 2},
		{"success", testutil.ToFloat64(c.tasksFinished.WithLabelValues("primes.count_chunk", "SUCCESS")), 1},
		{"retry", testutil.ToFloat64(c.tasksFinished.WithLabelValues("primes.count_chunk", "RETRY")), 1},
		{"retries", testutil.ToFloat64(c.taskRetries.WithLabelValues("primes.count_chunk")), 1},
		{"aggregate failure", testutil.ToFloat64(c.tasksFinished.WithLabelValues("primes.aggregate", "FAILURE")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if n := testutil.CollectAndCount(c.taskDuration); n != 1 {
		t.Errorf("duration series = %d, want 1 (zero durations are not observed)", n)
	}
}

func TestCollectors_Independent(t *testing.T) {
	t.Parallel()
	a, b := New(), New()
	a.JobSubmitted()
	if got := testutil.ToFloat64(b.jobsSubmitted); got != 0 {
		t.Errorf("collectors share state: %v", got)
	}
}

func TestReadRuntime(t *testing.T) {
	t.Parallel()
	s := ReadRuntime()
	if s.HeapAlloc == 0 || s.Sys == 0 {
		t.Errorf("ReadRuntime() = %+v, want non-zero memory", s)
	}
	if s.Goroutines < 1 {
		t.Errorf("Goroutines = %d", s.Goroutines)
	}
}
