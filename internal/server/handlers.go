package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/agbru/primecount/internal/errors"
	"github.com/agbru/primecount/internal/logging"
	"github.com/agbru/primecount/internal/metrics"
	"github.com/agbru/primecount/internal/sysmon"
)

type countPrimesRequest struct {
	N      *int64 `json:"n"`
	Chunks *int64 `json:"chunks"`
}

type countPrimesResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type healthResponse struct {
	Status  string                  `json:"status"`
	Store   string                  `json:"store"`
	Redis   string                  `json:"redis"`
	Workers int                     `json:"workers"`
	Version string                  `json:"version"`
	System  sysmon.Stats            `json:"system"`
	Runtime metrics.RuntimeSnapshot `json:"runtime"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, errorResponse{Detail: detail})
}

// handleCountPrimes accepts a job. Out-of-range or missing fields answer
// 422 before any job exists; a body that is not JSON answers 400.
func (s *Server) handleCountPrimes(w http.ResponseWriter, r *http.Request) {
	var req countPrimesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	switch {
	case req.N == nil:
		writeError(w, http.StatusUnprocessableEntity, "n: field required")
		return
	case req.Chunks == nil:
		writeError(w, http.StatusUnprocessableEntity, "chunks: field required")
		return
	case *req.N < 0:
		writeError(w, http.StatusUnprocessableEntity, "n: must be non-negative")
		return
	}
	n, chunks := uint64(*req.N), int(*req.Chunks)
	if int64(chunks) != *req.Chunks {
		chunks = -1 // overflowed int; rejected as out of range
	}

	s.logger.Info("count-primes requested", logging.Uint64("n", n), logging.Int("chunks", chunks))
	jobID, err := s.jobs.Submit(r.Context(), n, chunks)
	if err != nil {
		var ve apperrors.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusUnprocessableEntity, ve.Error())
			return
		}
		s.logger.Error("job submission failed", err)
		writeError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}
	writeJSON(w, http.StatusAccepted, countPrimesResponse{JobID: jobID, Status: "PENDING"})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	st, err := s.jobs.Status(r.Context(), jobID)
	if err != nil {
		s.logger.Error("job status failed", err, logging.String("job_id", jobID))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error checking job status: %v", err))
		return
	}
	if st.Error != "" {
		s.logger.Debug("job failed", logging.String("job_id", jobID), logging.String("reason", st.Error))
	}
	writeJSON(w, http.StatusOK, st)
}

// handleHealth always answers 200; an unreachable store marks the service
// as degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{
		Status:  "healthy",
		Store:   "healthy",
		Redis:   "healthy",
		Version: s.version,
		System:  sysmon.Sample(ctx),
		Runtime: metrics.ReadRuntime(),
	}
	if err := s.backend.Ping(ctx); err != nil {
		s.logger.Error("store health check failed", err)
		resp.Status, resp.Store, resp.Redis = "degraded", "unhealthy", "unhealthy"
	}
	if n, err := s.backend.Workers(ctx); err != nil {
		s.logger.Error("worker count failed", err)
	} else {
		resp.Workers = n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Prime Counter API",
		"version": s.version,
		"endpoints": map[string]string{
			"submit_job":   "POST /api/count-primes",
			"check_status": "GET /api/jobs/{job_id}",
			"health":       "GET /health",
			"metrics":      "GET /metrics",
		},
	})
}
