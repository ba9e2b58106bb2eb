package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cortex-gateway/internal/backfill"
)

func (s *Server) handleTriggerBackfill(w http.ResponseWriter, r *http.Request) {
	var in backfill.Input
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := s.deps.Backfill.Resolve(in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	batch, err := s.deps.Backfill.Trigger(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

func (s *Server) handleListBackfills(w http.ResponseWriter, r *http.Request) {
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
	batches, err := s.deps.Backfill.List(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches, "count": len(batches)})
}

func (s *Server) handleBackfillOverview(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Backfill.Overview(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backfill_status": stats})
}

type cancelQueueRequest struct {
	Queue string `json:"queue"`
}

func (s *Server) handleCancelQueueBackfills(w http.ResponseWriter, r *http.Request) {
	var req cancelQueueRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.deps.Backfill.CancelQueue(r.Context(), req.Queue)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Cancelled %d backfill jobs", n),
		"queue":   req.Queue,
		"count":   n,
	})
}

func (s *Server) handleBackfillStatus(w http.ResponseWriter, r *http.Request) {
	progress, err := s.deps.Backfill.Status(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch":     progress.Batch,
		"pending":   progress.Pending,
		"running":   progress.Running,
		"succeeded": progress.Succeeded,
		"failed":    progress.Failed,
		"cancelled": progress.Cancelled,
		"total":     progress.Total(),
	})
}

func (s *Server) handleCancelBackfill(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Backfill.Cancel(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
