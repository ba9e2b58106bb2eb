package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cortex-gateway/internal/bodies"
	"cortex-gateway/internal/models"
)

func (s *Server) handleListEmails(w http.ResponseWriter, r *http.Request) {
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
	page, err := s.deps.Emails.List(r.Context(), models.EmailFilter{
		LabelID: r.URL.Query().Get("label"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetEmail(w http.ResponseWriter, r *http.Request) {
	e, err := s.deps.Emails.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleEmailsByLabel(w http.ResponseWriter, r *http.Request) {
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
	page, err := s.deps.Emails.ByLabel(r.Context(), chi.URLParam(r, "labelID"), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleSenderClassifications(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Emails.SenderClassifications(r.Context(), chi.URLParam(r, "addr"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLabelDistribution(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	labels, limit, err := s.deps.Emails.Distribution(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"labels": labels, "limit": limit, "count": len(labels)})
}

func (s *Server) handleUncategorizedSenders(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	senders, limit, err := s.deps.Emails.UncategorizedSenders(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"senders": senders, "limit": limit, "count": len(senders)})
}

func (s *Server) handleEmailBody(w http.ResponseWriter, r *http.Request) {
	body, err := s.deps.Bodies.Fetch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	contentType := body.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body.Data)
}

func (s *Server) handleEmailText(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, err := s.deps.Bodies.Fetch(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"gmail_id": id, "text": bodies.Text(body)})
}

// handleEmailStats combines pipeline counts from the store with the body
// service's own statistics.
func (s *Server) handleEmailStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.BodyService == nil {
		s.writeError(w, r, fmt.Errorf("body service not configured: %w", models.ErrUpstream))
		return
	}
	counts, err := s.deps.Emails.Counts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.deps.BodyService.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"postgres": counts, "bodies": stats})
}
