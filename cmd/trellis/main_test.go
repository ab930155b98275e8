package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	serveradapter "github.com/hylla/trellis/internal/adapters/server"
	"github.com/hylla/trellis/internal/app"
	"github.com/hylla/trellis/internal/config"
	"github.com/hylla/trellis/internal/domain"
	"github.com/hylla/trellis/internal/platform"
)

// TestMain sets deterministic environment defaults for CLI tests.
func TestMain(m *testing.M) {
	_ = os.Setenv("TRELLIS_DEV_MODE", "false")
	os.Exit(m.Run())
}

const seedBatch = `{
  "user_id": "u1",
  "ops": [
    {"op_name": "project.create", "args": {"id": "p1", "title": "Launch"}},
    {"op_name": "item.create", "args": {"id": "ms", "project_id": "p1", "type": "milestone", "title": "Beta", "estimate_mode": "rollup"}},
    {"op_name": "item.create", "args": {"id": "design", "project_id": "p1", "parent_id": "ms", "type": "task", "title": "Design", "estimate_minutes": 90}},
    {"op_name": "item.create", "args": {"id": "build", "project_id": "p1", "parent_id": "ms", "type": "task", "title": "Build", "estimate_minutes": 240}},
    {"op_name": "scheduled_block.create", "args": {"item_id": "design", "start_at": "2026-03-02T09:00:00Z", "duration_minutes": 90}},
    {"op_name": "scheduled_block.create", "args": {"item_id": "build", "start_at": "2026-03-02T10:00:00Z", "duration_minutes": 240}},
    {"op_name": "dependency.add", "args": {"id": "d1", "item_id": "build", "depends_on_id": "design", "type": "FS"}}
  ]
}`

// testDB returns fresh db and config paths inside a temp dir.
func testDB(t *testing.T) (string, string) {
	t.Helper()
	tmp := t.TempDir()
	return filepath.Join(tmp, "trellis.db"), filepath.Join(tmp, "missing.toml")
}

// runCLI executes one command line with stdin input and returns stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out strings.Builder
	err := run(context.Background(), args, strings.NewReader(stdin), &out, io.Discard)
	return out.String(), err
}

func TestRunVersion(t *testing.T) {
	out, err := runCLI(t, "", "--version")
	if err != nil {
		t.Fatalf("run(version) error = %v", err)
	}
	if !strings.Contains(out, "trellis") {
		t.Fatalf("expected version output, got %q", out)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	_, err := runCLI(t, "", "unknown-command")
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestRunPathsCommand(t *testing.T) {
	dbPath, cfgPath := testDB(t)
	out, err := runCLI(t, "", "--dev", "--db", dbPath, "--config", cfgPath, "paths")
	if err != nil {
		t.Fatalf("run(paths) error = %v", err)
	}
	for _, want := range []string{"app:      trellis", "dev_mode: true", "db:       " + dbPath, "config:   " + cfgPath} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in paths output, got %q", want, out)
		}
	}
	if _, err := os.Stat(dbPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("paths must not open the database, stat err = %v", err)
	}
}

func TestRunApplyThenReadViews(t *testing.T) {
	dbPath, cfgPath := testDB(t)
	base := []string{"--db", dbPath, "--config", cfgPath}

	out, err := runCLI(t, seedBatch, append(base, "apply")...)
	if err != nil {
		t.Fatalf("run(apply) error = %v", err)
	}
	var res app.BatchResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode batch result %q: %v", out, err)
	}
	if len(res.Results) != 7 || len(res.AffectedProjectIDs) != 1 || res.AffectedProjectIDs[0] != "p1" {
		t.Fatalf("unexpected batch result %#v", res)
	}

	out, err = runCLI(t, "", append(base, "rollup", "--user", "u1", "--project", "p1", "--json")...)
	if err != nil {
		t.Fatalf("run(rollup --json) error = %v", err)
	}
	var rollups app.ProjectRollups
	if err := json.Unmarshal([]byte(out), &rollups); err != nil {
		t.Fatalf("decode rollups: %v", err)
	}
	var ms *app.ItemRollupRow
	for i := range rollups.Items {
		if rollups.Items[i].Item.ID == "ms" {
			ms = &rollups.Items[i]
		}
	}
	if ms == nil || ms.Rollup.TotalEstimate != 330 {
		t.Fatalf("expected milestone estimate 330, got %#v", ms)
	}

	out, err = runCLI(t, "", append(base, "rollup", "--user", "u1", "--project", "p1")...)
	if err != nil {
		t.Fatalf("run(rollup) error = %v", err)
	}
	for _, want := range []string{"project p1", "Beta", "Design", "Build", "est 5h30m"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in rollup tree, got %q", want, out)
		}
	}

	out, err = runCLI(t, "", append(base, "deps", "--user", "u1", "--project", "p1", "--json")...)
	if err != nil {
		t.Fatalf("run(deps) error = %v", err)
	}
	var deps app.DependencyStatuses
	if err := json.Unmarshal([]byte(out), &deps); err != nil {
		t.Fatalf("decode deps: %v", err)
	}
	// build starts at 10:00 while design ends at 10:30.
	if len(deps.Dependencies) != 1 || deps.Dependencies[0].Status != domain.DependencyViolated {
		t.Fatalf("expected one violated dependency, got %#v", deps.Dependencies)
	}

	out, err = runCLI(t, "", append(base, "deps", "--user", "u1", "--project", "p1")...)
	if err != nil {
		t.Fatalf("run(deps table) error = %v", err)
	}
	if !strings.Contains(out, "DEPENDS ON") || !strings.Contains(out, "violated") {
		t.Fatalf("unexpected deps table %q", out)
	}

	out, err = runCLI(t, "", append(base, "log", "--project", "p1", "--limit", "3")...)
	if err != nil {
		t.Fatalf("run(log) error = %v", err)
	}
	if !strings.Contains(out, "dependency.add") || strings.Contains(out, "project.create") {
		t.Fatalf("expected newest three log rows only, got %q", out)
	}
}

func TestRunApplyRejectsWithoutUser(t *testing.T) {
	dbPath, cfgPath := testDB(t)
	_, err := runCLI(t, `[{"op_name": "project.create", "args": {"title": "x"}}]`, "--db", dbPath, "--config", cfgPath, "apply")
	if err == nil || !strings.Contains(err.Error(), "user is required") {
		t.Fatalf("expected missing user error, got %v", err)
	}
}

func TestRunApplyFailedBatchLeavesNoRows(t *testing.T) {
	dbPath, cfgPath := testDB(t)
	base := []string{"--db", dbPath, "--config", cfgPath}
	batch := `[
	  {"op_name": "project.create", "args": {"id": "p1", "title": "Launch"}},
	  {"op_name": "item.create", "args": {"id": "a", "project_id": "p1", "type": "task", "title": ""}}
	]`
	if _, err := runCLI(t, batch, append(base, "apply", "--user", "u1")...); !errors.Is(err, app.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := runCLI(t, "", append(base, "rollup", "--user", "u1", "--project", "p1")...); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected rolled back project to be missing, got %v", err)
	}
}

func TestRunExportImportRoundTrip(t *testing.T) {
	dbPath, cfgPath := testDB(t)
	base := []string{"--db", dbPath, "--config", cfgPath}
	if _, err := runCLI(t, seedBatch, append(base, "apply")...); err != nil {
		t.Fatalf("run(apply) error = %v", err)
	}

	outPath := filepath.Join(t.TempDir(), "snapshot.json")
	if _, err := runCLI(t, "", append(base, "export", "--user", "u1", "--project", "p1", "--out", outPath)...); err != nil {
		t.Fatalf("run(export) error = %v", err)
	}
	content, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var snap app.Snapshot
	if err := json.Unmarshal(content, &snap); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if snap.Version != app.SnapshotVersion || len(snap.Items) != 3 || len(snap.ScheduledBlocks) != 2 {
		t.Fatalf("unexpected snapshot %#v", snap)
	}

	otherDB, otherCfg := testDB(t)
	other := []string{"--db", otherDB, "--config", otherCfg}
	if _, err := runCLI(t, "", append(other, "import", "--user", "u2", "--file", outPath)...); err != nil {
		t.Fatalf("run(import) error = %v", err)
	}
	out, err := runCLI(t, "", append(other, "rollup", "--user", "u2", "--project", "p1", "--json")...)
	if err != nil {
		t.Fatalf("run(rollup) after import error = %v", err)
	}
	var rollups app.ProjectRollups
	if err := json.Unmarshal([]byte(out), &rollups); err != nil {
		t.Fatalf("decode rollups: %v", err)
	}
	if len(rollups.Items) != 3 {
		t.Fatalf("expected 3 imported items, got %d", len(rollups.Items))
	}

	if _, err := runCLI(t, string(content), append(other, "import", "--user", "u2")...); !errors.Is(err, app.ErrConflict) {
		t.Fatalf("expected conflict on second import, got %v", err)
	}
}

func TestRunServeUsesConfiguredEndpoints(t *testing.T) {
	orig := serveCommandRunner
	t.Cleanup(func() { serveCommandRunner = orig })

	var got serveradapter.Config
	var gotDeps serveradapter.Dependencies
	readyErr := errors.New("ready not called")
	serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
		got = cfg
		gotDeps = deps
		if deps.Ready != nil {
			readyErr = deps.Ready(ctx)
		}
		return nil
	}

	dbPath, cfgPath := testDB(t)
	if _, err := runCLI(t, "", "--db", dbPath, "--config", cfgPath, "serve", "--bind", "127.0.0.1:9999"); err != nil {
		t.Fatalf("run(serve) error = %v", err)
	}
	if got.HTTPBind != "127.0.0.1:9999" || got.APIEndpoint != "/api/v1" || got.MCPEndpoint != "/mcp" {
		t.Fatalf("unexpected serve config %#v", got)
	}
	if got.ServerName != "trellis" || gotDeps.Service == nil {
		t.Fatalf("expected named server with a service, got %#v", got)
	}
	if gotDeps.Logger == nil || readyErr != nil {
		t.Fatalf("expected logger and a passing store readiness check, ready err = %v", readyErr)
	}
}

func TestRunRejectsInvalidLoggingLevelFromConfig(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "trellis.toml")
	if err := os.WriteFile(cfgPath, []byte("[logging]\nlevel = \"loud\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	_, err := runCLI(t, "", "--db", filepath.Join(tmp, "trellis.db"), "--config", cfgPath, "rollup", "--user", "u1", "--project", "p1")
	if err == nil || !strings.Contains(err.Error(), "logging.level") {
		t.Fatalf("expected logging level error, got %v", err)
	}
}

func TestRunDevModeCreatesWorkspaceLogFile(t *testing.T) {
	workspace := t.TempDir()
	t.Chdir(workspace)

	dbPath := filepath.Join(workspace, "trellis.db")
	cfgPath := filepath.Join(workspace, "missing.toml")
	if _, err := runCLI(t, seedBatch, "--dev", "--db", dbPath, "--config", cfgPath, "apply"); err != nil {
		t.Fatalf("run(apply) error = %v", err)
	}

	logDir := filepath.Join(workspace, ".trellis", "log")
	entries, err := os.ReadDir(logDir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".log") {
		t.Fatalf("expected one .log file in %s, got %v", logDir, entries)
	}
	content, err := os.ReadFile(filepath.Join(logDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(content), "batch applied") || !strings.Contains(string(content), "level=debug") {
		t.Fatalf("expected logfmt debug entries in dev log, got %q", content)
	}
}

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("TRELLIS_BOOL_TEST", "true")
	got, ok := parseBoolEnv("TRELLIS_BOOL_TEST")
	if !ok || !got {
		t.Fatalf("expected true bool env parse, got value=%t ok=%t", got, ok)
	}

	t.Setenv("TRELLIS_BOOL_TEST", "not-bool")
	if _, ok = parseBoolEnv("TRELLIS_BOOL_TEST"); ok {
		t.Fatal("expected invalid bool env to return ok=false")
	}
}

func TestDecodeApplyInput(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantUser string
		wantOps  int
		wantErr  bool
	}{
		{name: "bare array", raw: `[{"op_name": "project.create", "args": {}}]`, wantOps: 1},
		{name: "envelope", raw: `{"user_id": "u1", "ops": [{"op_name": "a"}, {"op_name": "b"}]}`, wantUser: "u1", wantOps: 2},
		{name: "empty", raw: "  \n", wantErr: true},
		{name: "garbage", raw: "{oops", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := decodeApplyInput([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected decode error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeApplyInput() error = %v", err)
			}
			if req.UserID != tt.wantUser || len(req.Ops) != tt.wantOps {
				t.Fatalf("got user=%q ops=%d", req.UserID, len(req.Ops))
			}
		})
	}
}

func TestDevLogFilePathNamesFileByDay(t *testing.T) {
	dir := t.TempDir()
	got := devLogFilePath(dir, "trellis", time.Date(2026, 2, 22, 12, 0, 0, 0, time.UTC))
	if want := filepath.Join(dir, "trellis-20260222.log"); got != want {
		t.Fatalf("devLogFilePath() = %q, want %q", got, want)
	}
}

func TestDevLogDirFollowsResolvedPaths(t *testing.T) {
	abs := t.TempDir()
	paths := platform.Paths{
		DataDir:      filepath.Join("/data", "trellis-dev"),
		LogDir:       filepath.Join("/work", ".trellis", "log"),
		WorkspaceDir: "/work",
	}
	tests := []struct {
		name       string
		configured string
		paths      platform.Paths
		want       string
	}{
		{name: "blank uses log dir", configured: "", paths: paths, want: paths.LogDir},
		{name: "default uses log dir", configured: ".trellis/log", paths: paths, want: paths.LogDir},
		{name: "absolute kept", configured: abs, paths: paths, want: abs},
		{name: "relative under workspace", configured: "logs", paths: paths, want: filepath.Join("/work", "logs")},
		{name: "relative without workspace", configured: "logs", paths: platform.Paths{DataDir: "/data/trellis"}, want: filepath.Join("/data/trellis", "logs")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := devLogDir(tt.configured, tt.paths); got != tt.want {
				t.Fatalf("devLogDir(%q) = %q, want %q", tt.configured, got, tt.want)
			}
		})
	}
}

func TestSnapshotFilePath(t *testing.T) {
	got := snapshotFilePath("/snaps", "team/p1", time.Date(2026, 3, 2, 9, 30, 5, 0, time.UTC))
	if want := filepath.Join("/snaps", "team-p1-20260302T093005Z.json"); got != want {
		t.Fatalf("snapshotFilePath() = %q, want %q", got, want)
	}
}

func TestSanitizeLogFileStem(t *testing.T) {
	cases := map[string]string{
		"trellis":  "trellis",
		" my app ": "my-app",
		"a/b\\c:d": "a-b-c-d",
		"///":      "trellis",
		"":         "trellis",
	}
	for input, want := range cases {
		if got := sanitizeLogFileStem(input); got != want {
			t.Fatalf("sanitizeLogFileStem(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestRuntimeLoggerSkipsFileOutsideDevMode(t *testing.T) {
	cfg := config.Default(filepath.Join(t.TempDir(), "trellis.db")).Logging
	cfg.DevFile.Dir = t.TempDir()
	logger, err := newRuntimeLogger(io.Discard, appName, false, cfg, platform.Paths{}, nil)
	if err != nil {
		t.Fatalf("newRuntimeLogger() error = %v", err)
	}
	if logger.DevLogPath() != "" {
		t.Fatalf("expected no dev log outside dev mode, got %q", logger.DevLogPath())
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
