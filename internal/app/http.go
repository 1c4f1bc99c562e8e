package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marginalia/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	apiToken   string
}

func NewHTTPServer(service *Service, corsOrigin, apiToken string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, apiToken: apiToken}
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
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search/annotations" {
		s.handleSearchAnnotations(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/documents" {
		documents, err := s.service.ListDocuments(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": documents})
		return
	}

	parts := splitPath(r.URL.Path)

	// /api/documents/{docID}[/text|/annotations[/{id}]]
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "documents" {
		docID := parts[2]

		switch {
		case len(parts) == 3 && r.Method == http.MethodGet:
			s.handleGetDocument(w, r, docID)
			return
		case len(parts) == 4 && parts[3] == "text" && r.Method == http.MethodGet:
			s.handleDocumentText(w, r, docID)
			return
		case len(parts) == 4 && parts[3] == "annotations" && r.Method == http.MethodGet:
			s.handleListAnnotations(w, r, docID)
			return
		case len(parts) == 4 && parts[3] == "annotations" && r.Method == http.MethodPost:
			if !s.authorize(w, r) {
				return
			}
			s.handleCreateAnnotation(w, r, docID)
			return
		case len(parts) == 5 && parts[3] == "annotations" && r.Method == http.MethodPatch:
			if !s.authorize(w, r) {
				return
			}
			s.handleUpdateAnnotation(w, r, docID, parts[4])
			return
		case len(parts) == 5 && parts[3] == "annotations" && r.Method == http.MethodDelete:
			if !s.authorize(w, r) {
				return
			}
			s.handleDeleteAnnotation(w, r, docID, parts[4])
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"cache":    map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	if err := s.service.PingCache(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["cache"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request, docID string) {
	document, err := s.service.GetDocument(r.Context(), docID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, document)
}

func (s *HTTPServer) handleDocumentText(w http.ResponseWriter, r *http.Request, docID string) {
	text, err := s.service.DocumentText(r.Context(), docID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documentId": docID, "text": text})
}

func (s *HTTPServer) handleListAnnotations(w http.ResponseWriter, r *http.Request, docID string) {
	annotations, err := s.service.ListAnnotations(r.Context(), docID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"annotations": annotations})
}

func (s *HTTPServer) handleCreateAnnotation(w http.ResponseWriter, r *http.Request, docID string) {
	var input CreateAnnotationInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	created, err := s.service.CreateAnnotation(r.Context(), docID, input)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleUpdateAnnotation(w http.ResponseWriter, r *http.Request, docID, id string) {
	var input UpdateAnnotationInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	updated, err := s.service.UpdateAnnotation(r.Context(), docID, id, input)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleDeleteAnnotation(w http.ResponseWriter, r *http.Request, docID, id string) {
	if err := s.service.DeleteAnnotation(r.Context(), docID, id); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleSearchAnnotations(w http.ResponseWriter, r *http.Request) {
	q := search.Query{
		Text:             strings.TrimSpace(r.URL.Query().Get("q")),
		FilterDocumentID: strings.TrimSpace(r.URL.Query().Get("documentId")),
		FilterColor:      strings.TrimSpace(r.URL.Query().Get("color")),
		Limit:            20,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", "limit must be an integer", nil)
			return
		}
		q.Limit = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", "offset must be an integer", nil)
			return
		}
		q.Offset = parsed
	}
	if q.Text == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "q is required", nil)
		return
	}

	response, err := s.service.SearchAnnotations(q)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// authorize enforces the static bearer token on mutating routes. When no
// token is configured, mutations are open (local development).
func (s *HTTPServer) authorize(w http.ResponseWriter, r *http.Request) bool {
	if s.apiToken == "" {
		return true
	}
	token := bearerToken(r)
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.apiToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return false
	}
	return true
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

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
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
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
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
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
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
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
