package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"civic/api/internal/auth"
	"civic/api/internal/rbac"
	"civic/api/internal/store"
)

type HTTPConfig struct {
	CORSOrigin string
	// Seeds is the set inserted by POST /api/admin/seed-laws.
	Seeds []LawSeed
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

type HTTPServer struct {
	service    *Service
	corsOrigin string
	seeds      []LawSeed
	metrics    http.Handler
	logger     *slog.Logger
}

func NewHTTPServer(service *Service, cfg HTTPConfig) *HTTPServer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	seeds := cfg.Seeds
	if seeds == nil {
		seeds = DefaultSeeds()
	}
	return &HTTPServer{
		service:    service,
		corsOrigin: cfg.CORSOrigin,
		seeds:      seeds,
		metrics:    cfg.Metrics,
		logger:     logger,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"store": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["store"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" && s.metrics != nil {
		s.metrics.ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/user/status" {
		status, err := s.service.UserStatus(r.Context(), s.optionalViewer(r))
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/suggestions" {
		viewer, ok := s.requireViewer(w, r, rbac.ActionParticipate)
		if !ok {
			return
		}
		var body SubmitInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		law, err := s.service.Submit(r.Context(), viewer.UserID, body)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, law)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/seed-laws" {
		if _, ok := s.requireViewer(w, r, rbac.ActionAdmin); !ok {
			return
		}
		result, err := s.service.SeedLaws(r.Context(), s.seeds)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "laws" {
		s.handleLaws(w, r, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

func (s *HTTPServer) handleLaws(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		viewer := s.optionalViewer(r)
		laws, err := s.service.List(r.Context(), viewer.UserID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"laws": laws})

	case len(parts) == 1 && r.Method == http.MethodGet:
		viewer := s.optionalViewer(r)
		law, err := s.service.Get(r.Context(), parts[0], viewer.UserID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, law)

	case len(parts) == 2 && parts[1] == "vote" && r.Method == http.MethodPost:
		viewer, ok := s.requireViewer(w, r, rbac.ActionParticipate)
		if !ok {
			return
		}
		direction, err := decodeVote(r)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		law, err := s.service.Vote(r.Context(), parts[0], viewer.UserID, direction)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, law)

	default:
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	}
}

// decodeVote reads {"vote": "up"|"down"|null}. A missing vote field is
// rejected rather than read as a retraction.
func decodeVote(r *http.Request) (*store.Direction, error) {
	var body map[string]json.RawMessage
	if err := decodeBody(r, &body); err != nil {
		return nil, invalidArgument(err.Error())
	}
	raw, ok := body["vote"]
	if !ok {
		return nil, invalidArgument("vote is required")
	}
	if strings.TrimSpace(string(raw)) == "null" {
		return nil, nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, invalidArgument(`vote must be "up", "down" or null`)
	}
	direction, err := store.ParseDirection(value)
	if err != nil {
		return nil, invalidArgument(`vote must be "up", "down" or null`)
	}
	return &direction, nil
}

// optionalViewer returns the token's viewer, or an anonymous viewer when no
// valid token was sent.
func (s *HTTPServer) optionalViewer(r *http.Request) Viewer {
	token := bearerToken(r)
	if token == "" {
		return Viewer{}
	}
	viewer, err := s.service.ViewerFromToken(token)
	if err != nil {
		return Viewer{}
	}
	return viewer
}

func (s *HTTPServer) requireViewer(w http.ResponseWriter, r *http.Request, action rbac.Action) (Viewer, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
		return Viewer{}, false
	}
	viewer, err := s.service.ViewerFromToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
		return Viewer{}, false
	}
	if !s.service.Can(viewer, action) {
		s.logger.WarnContext(r.Context(), "permission denied", "user_id", viewer.UserID, "role", viewer.Role, "action", action, "path", r.URL.Path)
		writeError(w, http.StatusForbidden, CodeForbidden, "Forbidden", nil)
		return Viewer{}, false
	}
	return viewer, true
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.InfoContext(ctx, "request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	}
	if errors.Is(err, store.ErrConflict) {
		return http.StatusConflict, CodeConflict, "The law changed concurrently, reload and retry", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil
	}
	return http.StatusInternalServerError, CodeServerError, "Server error", nil
}
