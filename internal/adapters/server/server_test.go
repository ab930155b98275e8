package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hylla/trellis/internal/adapters/server/common"
	"github.com/hylla/trellis/internal/app"
)

// stubService returns empty read models for routing tests.
type stubService struct{}

func (stubService) ApplyOps(context.Context, common.ApplyOpsRequest) (app.BatchResult, error) {
	return app.BatchResult{}, nil
}

func (stubService) ProjectRollups(_ context.Context, req common.ProjectReadRequest) (app.ProjectRollups, error) {
	return app.ProjectRollups{ProjectID: req.ProjectID}, nil
}

func (stubService) DependencyStatuses(_ context.Context, req common.ProjectReadRequest) (app.DependencyStatuses, error) {
	return app.DependencyStatuses{ProjectID: req.ProjectID}, nil
}

func (stubService) ItemDescendants(_ context.Context, req common.ItemReadRequest) (common.ItemDescendants, error) {
	return common.ItemDescendants{ItemID: req.ItemID}, nil
}

// TestNewHandlerRequiresService verifies serve mode fails without a service.
func TestNewHandlerRequiresService(t *testing.T) {
	if _, _, err := NewHandler(Config{}, Dependencies{}); err == nil {
		t.Fatal("NewHandler() error = nil, want missing service error")
	}
}

// TestNormalizeConfig verifies defaults and endpoint collision checks.
func TestNormalizeConfig(t *testing.T) {
	cfg, err := normalizeConfig(Config{APIEndpoint: "api/", MCPEndpoint: " "})
	if err != nil {
		t.Fatalf("normalizeConfig() error = %v", err)
	}
	if cfg.HTTPBind != defaultBindAddress || cfg.APIEndpoint != "/api" || cfg.MCPEndpoint != "/mcp" {
		t.Fatalf("unexpected endpoints %#v", cfg)
	}
	if cfg.ServerName != "trellis" || cfg.ServerVersion != "dev" {
		t.Fatalf("unexpected naming %#v", cfg)
	}
	if _, err := normalizeConfig(Config{APIEndpoint: "/x", MCPEndpoint: "x/"}); err == nil {
		t.Fatal("normalizeConfig() error = nil, want collision error")
	}
}

// TestNewHandlerRoutes verifies health and API routes are mounted on the root mux.
func TestNewHandlerRoutes(t *testing.T) {
	handler, _, err := NewHandler(Config{}, Dependencies{Service: stubService{}})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
			t.Fatalf("%s: status = %d body = %q", path, rec.Code, rec.Body.String())
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/projects/p1/rollups?user_id=u1", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"p1"`) {
		t.Fatalf("rollups: status = %d body = %q", rec.Code, rec.Body.String())
	}
}

// TestRunStopsOnContextCancel verifies graceful shutdown when the context ends.
func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, Config{HTTPBind: "127.0.0.1:0"}, Dependencies{Service: stubService{}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

// captureLogger records log lines as "level msg".
type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *captureLogger) add(level string, msg any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf("%s %v", level, msg))
}

func (l *captureLogger) Debug(msg any, _ ...any) { l.add("debug", msg) }
func (l *captureLogger) Info(msg any, _ ...any)  { l.add("info", msg) }
func (l *captureLogger) Warn(msg any, _ ...any)  { l.add("warn", msg) }
func (l *captureLogger) Error(msg any, _ ...any) { l.add("error", msg) }

func (l *captureLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// TestReadyzReflectsReadiness verifies /readyz answers 503 while the readiness check fails.
func TestReadyzReflectsReadiness(t *testing.T) {
	var readyErr error
	handler, _, err := NewHandler(Config{}, Dependencies{
		Service: stubService{},
		Ready:   func(context.Context) error { return readyErr },
	})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ready: status = %d body = %q", rec.Code, rec.Body.String())
	}

	readyErr = errors.New("database is closed")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "database is closed") {
		t.Fatalf("not ready: status = %d body = %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz must not depend on readiness, status = %d", rec.Code)
	}
}

// TestLogRequestsLevels verifies per-request logging and warn level for server errors.
func TestLogRequestsLevels(t *testing.T) {
	logger := &captureLogger{}
	clock := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	now := func() time.Time { clock = clock.Add(time.Millisecond); return clock }
	handler := logRequests(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/boom" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("fine"))
	}), logger, now)

	for _, path := range []string{"/fine", "/boom"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	want := []string{"debug http request", "warn http request failed"}
	got := logger.snapshot()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("log lines = %v, want %v", got, want)
	}
}

// TestRunReportsBindFailure verifies an occupied address fails before serving.
func TestRunReportsBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	err = Run(context.Background(), Config{HTTPBind: ln.Addr().String()}, Dependencies{Service: stubService{}})
	if err == nil || !strings.Contains(err.Error(), "listen on") {
		t.Fatalf("Run() error = %v, want listen error", err)
	}
}

// TestServeHandlesRequestsUntilCancel verifies a live listener serves and then drains on cancel.
func TestServeHandlesRequestsUntilCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	logger := &captureLogger{}
	handler, cfg, err := NewHandler(Config{}, Dependencies{Service: stubService{}, Logger: logger})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, handler, cfg, logger) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		cancel()
		t.Fatalf("GET /healthz error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /healthz status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve() did not stop after cancel")
	}

	got := strings.Join(logger.snapshot(), "\n")
	for _, want := range []string{"info server listening", "debug http request", "info server stopped"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in log lines %q", want, got)
		}
	}
}
