package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hylla/trellis/internal/adapters/server/common"
	"github.com/hylla/trellis/internal/app"
)

// stubService provides deterministic responses for handler tests.
type stubService struct {
	batch       app.BatchResult
	rollups     app.ProjectRollups
	statuses    app.DependencyStatuses
	descendants common.ItemDescendants
	err         error
	lastApply   common.ApplyOpsRequest
	lastProject common.ProjectReadRequest
	lastItem    common.ItemReadRequest
}

// ApplyOps records the request and returns the configured batch result.
func (s *stubService) ApplyOps(_ context.Context, req common.ApplyOpsRequest) (app.BatchResult, error) {
	s.lastApply = req
	if s.err != nil {
		return app.BatchResult{}, s.err
	}
	return s.batch, nil
}

// ProjectRollups records the request and returns the configured read model.
func (s *stubService) ProjectRollups(_ context.Context, req common.ProjectReadRequest) (app.ProjectRollups, error) {
	s.lastProject = req
	if s.err != nil {
		return app.ProjectRollups{}, s.err
	}
	return s.rollups, nil
}

// DependencyStatuses records the request and returns the configured read model.
func (s *stubService) DependencyStatuses(_ context.Context, req common.ProjectReadRequest) (app.DependencyStatuses, error) {
	s.lastProject = req
	if s.err != nil {
		return app.DependencyStatuses{}, s.err
	}
	return s.statuses, nil
}

// ItemDescendants records the request and returns the configured closure.
func (s *stubService) ItemDescendants(_ context.Context, req common.ItemReadRequest) (common.ItemDescendants, error) {
	s.lastItem = req
	if s.err != nil {
		return common.ItemDescendants{}, s.err
	}
	return s.descendants, nil
}

// decodeBody decodes one JSON response body into the requested type.
func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return out
}

// TestHandlerApplyOpsSuccess verifies batch decoding and result encoding.
func TestHandlerApplyOpsSuccess(t *testing.T) {
	svc := &stubService{batch: app.BatchResult{
		Results:            []app.OpResult{{OpName: app.OpProjectCreate, OK: true, Result: map[string]string{"id": "p1"}}},
		AffectedProjectIDs: []string{"p1"},
		AffectedUserIDs:    []string{"u1"},
	}}
	handler := NewHandler(svc)

	body := `{"user_id":"u1","ops":[{"op_name":"project.create","args":{"title":"Launch"}}]}`
	req := httptest.NewRequest(http.MethodPost, "/ops", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 body=%s", rec.Code, rec.Body.String())
	}
	if svc.lastApply.UserID != "u1" || len(svc.lastApply.Ops) != 1 || svc.lastApply.Ops[0].Name != app.OpProjectCreate {
		t.Fatalf("unexpected apply request %#v", svc.lastApply)
	}
	if string(svc.lastApply.Ops[0].Args) != `{"title":"Launch"}` {
		t.Fatalf("args = %s", svc.lastApply.Ops[0].Args)
	}
	out := decodeBody[map[string]any](t, rec)
	if ids, _ := out["affected_project_ids"].([]any); len(ids) != 1 || ids[0] != "p1" {
		t.Fatalf("unexpected response %#v", out)
	}
}

// TestHandlerApplyOpsUserHeaderFallback verifies the acting user can arrive by header.
func TestHandlerApplyOpsUserHeaderFallback(t *testing.T) {
	svc := &stubService{}
	req := httptest.NewRequest(http.MethodPost, "/ops", strings.NewReader(`{"ops":[]}`))
	req.Header.Set(userHeader, "u9")
	rec := httptest.NewRecorder()
	NewHandler(svc).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || svc.lastApply.UserID != "u9" {
		t.Fatalf("status = %d, user = %q", rec.Code, svc.lastApply.UserID)
	}
}

// TestHandlerApplyOpsRejectsMalformedBodies verifies strict decoding.
func TestHandlerApplyOpsRejectsMalformedBodies(t *testing.T) {
	bodies := []string{
		`{`,
		`{"user_id":"u1","ops":[],"extra":true}`,
		`{"user_id":"u1","ops":[]} {"again":1}`,
	}
	for _, body := range bodies {
		rec := httptest.NewRecorder()
		NewHandler(&stubService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ops", strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want 400", body, rec.Code)
		}
		env := decodeBody[ErrorEnvelope](t, rec)
		if env.Error.Code != common.ErrorCodeInvalidRequest {
			t.Fatalf("body %q: code = %q", body, env.Error.Code)
		}
	}
}

// TestHandlerErrorStatusMapping verifies error kinds map onto HTTP statuses.
func TestHandlerErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{name: "validation", err: fmt.Errorf("op 0 (item.create): %w: title is required", app.ErrValidation), wantCode: http.StatusBadRequest, wantKind: app.KindValidation},
		{name: "unknown op", err: fmt.Errorf("op 0 (x): %w", app.ErrUnknownOperation), wantCode: http.StatusBadRequest, wantKind: app.KindUnknownOperation},
		{name: "forbidden", err: app.ErrNotAMember, wantCode: http.StatusForbidden, wantKind: app.KindForbidden},
		{name: "not found", err: app.ErrNotFound, wantCode: http.StatusNotFound, wantKind: app.KindNotFound},
		{name: "conflict", err: app.ErrConflict, wantCode: http.StatusConflict, wantKind: app.KindConflict},
		{name: "internal", err: errors.New("disk full"), wantCode: http.StatusInternalServerError, wantKind: app.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{err: tt.err}
			rec := httptest.NewRecorder()
			NewHandler(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ops", strings.NewReader(`{"user_id":"u1","ops":[]}`)))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			env := decodeBody[ErrorEnvelope](t, rec)
			if env.Error.Code != tt.wantKind || env.Error.Message == "" {
				t.Fatalf("unexpected envelope %#v", env)
			}
		})
	}
}

// TestHandlerReadRoutes verifies the GET read models and their user resolution.
func TestHandlerReadRoutes(t *testing.T) {
	svc := &stubService{
		rollups:     app.ProjectRollups{ProjectID: "p1"},
		statuses:    app.DependencyStatuses{ProjectID: "p1"},
		descendants: common.ItemDescendants{ItemID: "a", DescendantIDs: []string{"a", "b"}},
	}
	handler := NewHandler(svc)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/p1/rollups?user_id=u1", nil))
	if rec.Code != http.StatusOK || svc.lastProject != (common.ProjectReadRequest{UserID: "u1", ProjectID: "p1"}) {
		t.Fatalf("rollups status = %d, request = %#v", rec.Code, svc.lastProject)
	}

	req := httptest.NewRequest(http.MethodGet, "/projects/p1/dependency_status", nil)
	req.Header.Set(userHeader, "u2")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || svc.lastProject.UserID != "u2" {
		t.Fatalf("dependency_status status = %d, request = %#v", rec.Code, svc.lastProject)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/a/descendants?user_id=u1", nil))
	if rec.Code != http.StatusOK || svc.lastItem.ItemID != "a" {
		t.Fatalf("descendants status = %d, request = %#v", rec.Code, svc.lastItem)
	}
	out := decodeBody[common.ItemDescendants](t, rec)
	if len(out.DescendantIDs) != 2 {
		t.Fatalf("unexpected descendants %#v", out)
	}
}

// TestHandlerRoutingFailures verifies unknown paths and wrong methods fail closed.
func TestHandlerRoutingFailures(t *testing.T) {
	handler := NewHandler(&stubService{})
	tests := []struct {
		method string
		path   string
		want   int
	}{
		{method: http.MethodGet, path: "/ops", want: http.StatusMethodNotAllowed},
		{method: http.MethodPost, path: "/projects/p1/rollups", want: http.StatusMethodNotAllowed},
		{method: http.MethodGet, path: "/projects//rollups", want: http.StatusNotFound},
		{method: http.MethodGet, path: "/projects/p1/unknown", want: http.StatusNotFound},
		{method: http.MethodGet, path: "/nothing", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.want {
			t.Fatalf("%s %s: status = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops", nil))
	if got := rec.Header().Get("Allow"); got != http.MethodPost {
		t.Fatalf("Allow = %q", got)
	}
}

// TestHandlerNilService verifies a missing service reports 503.
func TestHandlerNilService(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/p1/rollups", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
