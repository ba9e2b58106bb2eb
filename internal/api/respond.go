package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"cortex-gateway/internal/models"
)

const maxRequestBody = 1 << 20

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor is the single mapping from error kind to HTTP status.
func statusFor(kind models.Kind) int {
	switch kind {
	case models.KindInvalidArgument:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindInvalidState, models.KindConflict:
		return http.StatusConflict
	case models.KindStoreUnavailable, models.KindUpstream:
		return http.StatusServiceUnavailable
	case models.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// safeMessage keeps caller-facing text for errors the caller can act on and
// replaces everything else, which may carry driver or upstream detail.
func safeMessage(kind models.Kind, err error) string {
	switch kind {
	case models.KindInvalidArgument, models.KindNotFound, models.KindInvalidState:
		return err.Error()
	case models.KindConflict:
		return "conflicting write"
	case models.KindStoreUnavailable:
		return "metadata store unavailable"
	case models.KindUpstream:
		return "body service unavailable"
	case models.KindTimeout:
		return "operation timed out"
	default:
		return "internal error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := models.KindOf(err)
	code := statusFor(kind)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
	writeJSON(w, code, errorResponse{Error: string(kind), Message: safeMessage(kind, err)})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	body, err := sonic.Marshal(payload)
	if err != nil {
		code = http.StatusInternalServerError
		body = []byte(`{"error":"internal","message":"encode response"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func decodeJSON(r *http.Request, v any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return fmt.Errorf("read body: %w", models.ErrInvalidArgument)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid json: %w", models.ErrInvalidArgument)
	}
	return nil
}

// intParam parses an optional non-negative integer query parameter.
func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q: %w", name, v, models.ErrInvalidArgument)
	}
	return n, nil
}
