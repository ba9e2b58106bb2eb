package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"cortex-gateway/internal/backfill"
	"cortex-gateway/internal/bodies"
	"cortex-gateway/internal/emails"
	"cortex-gateway/internal/gmailsync"
	"cortex-gateway/internal/queue"
	"cortex-gateway/internal/ratelimit"
	"cortex-gateway/internal/telemetry"
	"cortex-gateway/internal/triage"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BodyService is the body retrieval service's own status surface.
type BodyService interface {
	Pinger
	Stats(ctx context.Context) (map[string]any, error)
}

// Deps are the services the router dispatches to. BodyService and Limiter
// may be nil.
type Deps struct {
	Queue       *queue.Service
	Backfill    *backfill.Service
	Triage      *triage.Service
	Emails      *emails.Service
	Sync        *gmailsync.Service
	Bodies      bodies.Fetcher
	BodyService BodyService
	Store       Pinger
	Limiter     *ratelimit.TokenBucket
	Logger      *zap.Logger
}

// Server wires HTTP handlers for the operations gateway.
type Server struct {
	deps   Deps
	logger *zap.Logger
}

// New constructs the API server.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{deps: deps, logger: logger}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	limited := rateLimit(s.deps.Limiter, s.logger)

	r.Route("/queue", func(r chi.Router) {
		r.Get("/stats", s.handleQueueStats)
		r.Get("/failed", s.handleListFailed)
		r.With(limited).Post("/failed/retry-all", s.handleRetryAll)
		r.With(limited).Post("/failed/{id}/retry", s.handleRetry)
		r.With(limited).Delete("/failed/{id}", s.handleDeleteFailed)
	})

	r.Route("/backfill", func(r chi.Router) {
		r.With(limited).Post("/", s.handleTriggerBackfill)
		r.Get("/", s.handleListBackfills)
		r.Get("/status", s.handleBackfillOverview)
		r.With(limited).Post("/cancel", s.handleCancelQueueBackfills)
		r.Get("/{batchID}", s.handleBackfillStatus)
		r.With(limited).Post("/{batchID}/cancel", s.handleCancelBackfill)
	})

	r.Route("/emails", func(r chi.Router) {
		r.Get("/", s.handleListEmails)
		r.Get("/stats", s.handleEmailStats)
		r.Get("/by-label/{labelID}", s.handleEmailsByLabel)
		r.Get("/sender/{addr}/classifications", s.handleSenderClassifications)
		r.Get("/classifications/distribution", s.handleLabelDistribution)
		r.Get("/uncategorized/top-senders", s.handleUncategorizedSenders)
		r.Get("/{id}", s.handleGetEmail)
		r.Get("/{id}/body", s.handleEmailBody)
		r.Get("/{id}/text", s.handleEmailText)
	})

	r.Route("/triage", func(r chi.Router) {
		r.Get("/stats", s.handleTriageStats)
		r.Get("/classifications", s.handleClassifications)
		r.With(limited).Post("/rerun", s.handleTriageRerun)
	})

	r.Route("/sync/backfill", func(r chi.Router) {
		r.With(limited).Post("/", s.handleCreateSyncJob)
		r.Get("/", s.handleListSyncJobs)
		r.Get("/{id}", s.handleGetSyncJob)
		r.With(limited).Post("/{id}/cancel", s.handleCancelSyncJob)
	})
	return r
}

type healthResponse struct {
	Status      string `json:"status"`
	Store       string `json:"store"`
	BodyService string `json:"body_service,omitempty"`
}

// handleHealth fails only when the store is unreachable; a down body service
// degrades the gateway but queue and backfill operations keep working.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Store: "ok"}
	code := http.StatusOK
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(r.Context()); err != nil {
			s.logger.Warn("store health check failed", zap.Error(err))
			resp.Status, resp.Store = "unavailable", "unavailable"
			code = http.StatusServiceUnavailable
		}
	}
	if s.deps.BodyService != nil {
		resp.BodyService = "ok"
		if err := s.deps.BodyService.Ping(r.Context()); err != nil {
			s.logger.Warn("body service health check failed", zap.Error(err))
			resp.BodyService = "unavailable"
			if code == http.StatusOK {
				resp.Status = "degraded"
			}
		}
	}
	writeJSON(w, code, resp)
}
