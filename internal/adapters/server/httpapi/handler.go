// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hylla/trellis/internal/adapters/server/common"
	"github.com/hylla/trellis/internal/app"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// userHeader carries the acting user when a GET request omits the user_id query parameter.
const userHeader = "X-Trellis-User"

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	service common.TrellisService
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs one HTTP API adapter.
func NewHandler(service common.TrellisService) *Handler {
	return &Handler{service: service}
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := normalizePath(r.URL.Path)
	if path == "ops" {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleApplyOps(w, r)
		return
	}

	route, id, ok := resolveResourceRoute(path)
	if !ok {
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "endpoint not found",
		})
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	switch route {
	case "projects/rollups":
		h.handleProjectRollups(w, r, id)
	case "projects/dependency_status":
		h.handleDependencyStatus(w, r, id)
	case "items/descendants":
		h.handleItemDescendants(w, r, id)
	}
}

// handleApplyOps serves POST `/ops`.
func (h *Handler) handleApplyOps(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeServiceUnavailable(w)
		return
	}
	var req common.ApplyOpsRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = r.Header.Get(userHeader)
	}
	res, err := h.service.ApplyOps(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleProjectRollups serves GET `/projects/{id}/rollups`.
func (h *Handler) handleProjectRollups(w http.ResponseWriter, r *http.Request, projectID string) {
	if h.service == nil {
		writeServiceUnavailable(w)
		return
	}
	out, err := h.service.ProjectRollups(r.Context(), common.ProjectReadRequest{
		UserID:    actingUser(r),
		ProjectID: projectID,
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDependencyStatus serves GET `/projects/{id}/dependency_status`.
func (h *Handler) handleDependencyStatus(w http.ResponseWriter, r *http.Request, projectID string) {
	if h.service == nil {
		writeServiceUnavailable(w)
		return
	}
	out, err := h.service.DependencyStatuses(r.Context(), common.ProjectReadRequest{
		UserID:    actingUser(r),
		ProjectID: projectID,
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleItemDescendants serves GET `/items/{id}/descendants`.
func (h *Handler) handleItemDescendants(w http.ResponseWriter, r *http.Request, itemID string) {
	if h.service == nil {
		writeServiceUnavailable(w)
		return
	}
	out, err := h.service.ItemDescendants(r.Context(), common.ItemReadRequest{
		UserID: actingUser(r),
		ItemID: itemID,
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// actingUser reads user_id from the query, falling back to the user header.
func actingUser(r *http.Request) string {
	if userID := strings.TrimSpace(r.URL.Query().Get("user_id")); userID != "" {
		return userID
	}
	return strings.TrimSpace(r.Header.Get(userHeader))
}

// resolveResourceRoute parses `{collection}/{id}/{view}` and returns `{collection}/{view}` plus `{id}`.
func resolveResourceRoute(path string) (string, string, bool) {
	parts := strings.Split(path, "/")
	if len(parts) != 3 || strings.TrimSpace(parts[1]) == "" {
		return "", "", false
	}
	route := parts[0] + "/" + parts[2]
	switch route {
	case "projects/rollups", "projects/dependency_status", "items/descendants":
		return route, strings.TrimSpace(parts[1]), true
	default:
		return "", "", false
	}
}

// normalizePath canonicalizes one request path for route matching.
func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "/")
	return path
}

// statusForCode maps error codes to HTTP statuses.
func statusForCode(code string) int {
	switch code {
	case app.KindValidation, app.KindUnknownOperation, common.ErrorCodeInvalidRequest:
		return http.StatusBadRequest
	case app.KindForbidden:
		return http.StatusForbidden
	case app.KindNotFound:
		return http.StatusNotFound
	case app.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeErrorFrom maps service errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    app.KindInternal,
			Message: "unknown error",
		})
		return
	}
	code := common.ErrorCode(err)
	apiErr := APIError{Code: code, Message: err.Error()}
	if errors.Is(err, app.ErrNotAMember) {
		apiErr.Hint = "Ask the project owner to add you with project.member_add."
	}
	writeJSONError(w, statusForCode(code), apiErr)
}

func writeServiceUnavailable(w http.ResponseWriter) {
	writeJSONError(w, http.StatusServiceUnavailable, APIError{
		Code:    "service_unavailable",
		Message: "trellis service is not configured",
	})
}

// writeMethodNotAllowed writes a structured 405 response with `Allow` headers.
func writeMethodNotAllowed(w http.ResponseWriter, methods ...string) {
	if len(methods) > 0 {
		w.Header().Set("Allow", strings.Join(methods, ", "))
	}
	writeJSONError(w, http.StatusMethodNotAllowed, APIError{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}
