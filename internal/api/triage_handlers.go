package api

import (
	"net/http"

	"cortex-gateway/internal/models"
	"cortex-gateway/internal/triage"
)

func (s *Server) handleTriageStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Triage.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleClassifications(w http.ResponseWriter, r *http.Request) {
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
	q := r.URL.Query()
	out, err := s.deps.Triage.ListClassifications(r.Context(), models.ClassificationFilter{
		Label:  q.Get("label"),
		Action: q.Get("action"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"classifications": out, "count": len(out)})
}

func (s *Server) handleTriageRerun(w http.ResponseWriter, r *http.Request) {
	var in triage.RerunInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Triage.Rerun(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
