package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"cortex-gateway/internal/models"
	"cortex-gateway/internal/queue"
)

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Queue.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": stats})
}

func (s *Server) handleListFailed(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := intParam(r, "offset")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.deps.Queue.ListDeadLetters(r.Context(), queue.ListParams{
		Queue:  r.URL.Query().Get("queue"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type retryResponse struct {
	Message  string          `json:"message"`
	JobID    int64           `json:"job_id"`
	Queue    string          `json:"queue_name"`
	Attempts int             `json:"attempts"`
	Job      models.QueueJob `json:"job"`
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.deps.Queue.Retry(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, retryResponse{
		Message:  "Job queued for retry",
		JobID:    job.ID,
		Queue:    job.QueueName,
		Attempts: job.Attempts,
		Job:      job,
	})
}

func (s *Server) handleRetryAll(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("queue")
	n, err := s.deps.Queue.RetryAll(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    fmt.Sprintf("Retried %d failed jobs", n),
		"queue_name": name,
		"count":      n,
	})
}

func (s *Server) handleDeleteFailed(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Queue.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Job deleted", "job_id": id})
}

func jobID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("job id must be a positive integer, got %q: %w", raw, models.ErrInvalidArgument)
	}
	return id, nil
}
