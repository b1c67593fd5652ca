// Package client is a small HTTP client for the primecount API, used by
// primectl.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agbru/primecount/internal/orchestration"
)

const defaultTimeout = 10 * time.Second

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("server answered %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("server answered %d: %s", e.StatusCode, e.Detail)
}

// Submission is the answer to a job submission.
type Submission struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// Health is the decoded /health answer. Only the fields primectl shows are
// kept.
type Health struct {
	Status  string `json:"status"`
	Store   string `json:"store"`
	Workers int    `json:"workers"`
	Version string `json:"version"`
}

// Client talks to one primecount API.
type Client struct {
	base string
	http *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// New returns a Client for the API rooted at base, e.g.
// "http://localhost:8000".
func New(base string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit starts a job counting the primes in [1, n] over chunks units.
func (c *Client) Submit(ctx context.Context, n uint64, chunks int) (Submission, error) {
	body, err := json.Marshal(map[string]any{"n": n, "chunks": chunks})
	if err != nil {
		return Submission{}, err
	}
	var out Submission
	if err := c.do(ctx, http.MethodPost, "/api/count-primes", body, &out); err != nil {
		return Submission{}, err
	}
	return out, nil
}

// Status fetches the current status of a job.
func (c *Client) Status(ctx context.Context, jobID string) (orchestration.JobStatus, error) {
	var out orchestration.JobStatus
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID), nil, &out)
	return out, err
}

// Health fetches the service health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// Watch polls a job every interval, calling onUpdate with each status, until
// the job reaches SUCCESS or FAILURE or ctx ends. The last status is
// returned either way.
func (c *Client) Watch(ctx context.Context, jobID string, interval time.Duration, onUpdate func(orchestration.JobStatus)) (orchestration.JobStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last orchestration.JobStatus
	for {
		st, err := c.Status(ctx, jobID)
		if err != nil {
			return last, err
		}
		last = st
		if onUpdate != nil {
			onUpdate(st)
		}
		if st.State.Terminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var detail struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(raw, &detail) == nil {
			apiErr.Detail = detail.Detail
		}
		return apiErr
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
