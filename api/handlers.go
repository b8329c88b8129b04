package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/isdmx/jobbox/job"
)

// runRequest is the body of POST /sandbox/run
type runRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Timeout  *int   `json:"timeout"`
}

type runResponse struct {
	JobID string `json:"job_id"`
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// writeError maps service errors onto HTTP status codes
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *job.ValidationError
	switch {
	case errors.As(err, &verr):
		writeDetail(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, job.ErrUnauthorized):
		writeDetail(w, http.StatusUnauthorized, "Invalid API key")
	case errors.Is(err, job.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "Job not found")
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeDetail(w, http.StatusServiceUnavailable, "Job store unavailable")
	}
}

// maxBodyBytes bounds the request body; code is counted in characters of up to 4 bytes each
func (s *Server) maxBodyBytes() int64 {
	return int64(s.cfg.Sandbox.MaxCodeChars)*4 + 4096
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes())
	defer body.Close()

	var req runRequest
	dec := json.NewDecoder(body)
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDetail(w, http.StatusBadRequest, "Code too large")
			return
		}
		if errors.Is(err, io.EOF) {
			writeDetail(w, http.StatusBadRequest, "Request body is required")
			return
		}
		writeDetail(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	jobID, err := s.service.Submit(r.Context(), job.SubmitRequest{
		Language: req.Language,
		Code:     req.Code,
		Timeout:  req.Timeout,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, runResponse{JobID: jobID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Status(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Result(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleHealth reports store liveness; a down store answers 503 so probes fail
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Health(r.Context()); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "down", Store: "down"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Store: "ok"})
}
