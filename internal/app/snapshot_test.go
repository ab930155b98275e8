package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/hylla/trellis/internal/domain"
)

// seedSnapshotProject builds a project that exercises every row type in a snapshot.
func seedSnapshotProject(t *testing.T, svc *Service) {
	t.Helper()
	seedProject(t, svc)
	mustApply(t, svc, ownerID,
		createItem("z-ms", "", obj{"type": "milestone", "estimate_mode": "rollup"}),
		createItem("a-child", "z-ms", obj{"estimate_minutes": 30, "assignee_user_id": editorID}),
		createItem("b", "", obj{"due_at": "2026-03-05T17:00:00Z"}),
		createItem("c", "", nil),
		op(OpBlockCreate, obj{"id": "blk1", "item_id": "a-child", "start_at": "2026-03-03T09:00:00Z", "duration_minutes": 60}),
		op(OpDependencyAdd, obj{"id": "d1", "item_id": "b", "depends_on_id": "a-child", "type": "FS", "lag_minutes": 15}),
		op(OpBlockerAdd, obj{"id": "bl1", "item_id": "b", "kind": "external", "reason": "vendor"}),
		op(OpBlockerClear, obj{"blocker_id": "bl1"}),
		op(OpTimeEntryStart, obj{"id": "te1", "item_id": "a-child", "start_at": "2026-03-02T08:00:00Z"}),
		op(OpTimeEntryStop, obj{"entry_id": "te1", "end_at": "2026-03-02T08:30:00Z"}),
		op(OpItemArchive, obj{"item_id": "c"}),
	)
}

func TestExportSnapshotCopiesProject(t *testing.T) {
	svc, _, _ := newTestService(t)
	seedSnapshotProject(t, svc)

	snap, err := svc.ExportSnapshot(context.Background(), viewerID, "p1")
	if err != nil {
		t.Fatalf("ExportSnapshot() error = %v", err)
	}
	if snap.Version != SnapshotVersion || snap.Project.ID != "p1" {
		t.Fatalf("unexpected header %#v", snap.Project)
	}
	if len(snap.Members) != 3 || len(snap.Items) != 4 {
		t.Fatalf("members = %d, items = %d", len(snap.Members), len(snap.Items))
	}
	if snap.Items[0].ID != "a-child" || snap.Items[3].ID != "z-ms" {
		t.Fatalf("items not sorted by id: %q ... %q", snap.Items[0].ID, snap.Items[3].ID)
	}
	if len(snap.Dependencies) != 1 || len(snap.ScheduledBlocks) != 1 || len(snap.Blockers) != 1 || len(snap.TimeEntries) != 1 {
		t.Fatalf("unexpected row counts %#v", snap)
	}

	if _, err := svc.ExportSnapshot(context.Background(), "stranger", "p1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger export error = %v, want forbidden", err)
	}
	if _, err := svc.ExportSnapshot(context.Background(), ownerID, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing project error = %v, want not found", err)
	}
}

func TestImportSnapshotRoundTrip(t *testing.T) {
	src, _, _ := newTestService(t)
	seedSnapshotProject(t, src)
	snap, err := src.ExportSnapshot(context.Background(), ownerID, "p1")
	if err != nil {
		t.Fatalf("ExportSnapshot() error = %v", err)
	}

	dst, store, _ := newTestService(t)
	res, err := dst.ImportSnapshot(context.Background(), "u-new", snap)
	if err != nil {
		t.Fatalf("ImportSnapshot() error = %v", err)
	}
	if len(res.AffectedProjectIDs) != 1 || res.AffectedProjectIDs[0] != "p1" {
		t.Fatalf("affected projects = %#v", res.AffectedProjectIDs)
	}

	state := store.snapshot()
	if got := state.projects["p1"].OwnerUserID; got != "u-new" {
		t.Fatalf("owner = %q, want importer", got)
	}
	if _, ok := state.members[[2]string{"p1", ownerID}]; !ok {
		t.Fatal("expected original owner membership to be replayed")
	}
	if len(state.items) != 4 || len(state.deps) != 1 || len(state.blocks) != 1 {
		t.Fatalf("items = %d deps = %d blocks = %d", len(state.items), len(state.deps), len(state.blocks))
	}
	if state.items["a-child"].ParentID != "z-ms" || state.items["a-child"].AssigneeUserID != editorID {
		t.Fatalf("unexpected child %#v", state.items["a-child"])
	}
	if !state.items["c"].IsArchived() {
		t.Fatal("expected archived item to stay archived")
	}
	if state.blockers["bl1"].ClearedAt == nil {
		t.Fatal("expected cleared blocker to stay cleared")
	}
	if d := state.entries["te1"].DurationMinutes; d == nil || *d != 30 {
		t.Fatalf("entry duration = %v, want 30", d)
	}

	if _, err := dst.ImportSnapshot(context.Background(), "u-new", snap); !errors.Is(err, ErrConflict) {
		t.Fatalf("second import error = %v, want conflict", err)
	}
}

func TestImportSnapshotIgnoresBatchLimit(t *testing.T) {
	src, _, _ := newTestService(t)
	seedProject(t, src)
	const items = DefaultMaxOpsPerBatch + 51
	for start := 0; start < items; start += 100 {
		var ops []Operation
		for i := start; i < start+100 && i < items; i++ {
			ops = append(ops, createItem(fmt.Sprintf("it-%03d", i), "", nil))
		}
		mustApply(t, src, ownerID, ops...)
	}
	snap, err := src.ExportSnapshot(context.Background(), ownerID, "p1")
	if err != nil {
		t.Fatalf("ExportSnapshot() error = %v", err)
	}
	if len(snap.Items) != items {
		t.Fatalf("exported items = %d, want %d", len(snap.Items), items)
	}

	ops, err := snap.ReplayOps("u-new")
	if err != nil {
		t.Fatalf("ReplayOps() error = %v", err)
	}
	dst, store, _ := newTestService(t)
	if _, err := dst.ApplyOps(context.Background(), "u-new", ops); !errors.Is(err, ErrValidation) {
		t.Fatalf("ApplyOps() of replay error = %v, want batch limit validation", err)
	}
	if _, err := dst.ImportSnapshot(context.Background(), "u-new", snap); err != nil {
		t.Fatalf("ImportSnapshot() error = %v", err)
	}
	if got := len(store.snapshot().items); got != items {
		t.Fatalf("imported items = %d, want %d", got, items)
	}
	if _, err := dst.ImportSnapshot(context.Background(), " ", snap); !errors.Is(err, ErrValidation) {
		t.Fatalf("blank importer error = %v, want validation", err)
	}
}

func TestReplayOpsCreatesParentsFirst(t *testing.T) {
	snap := Snapshot{
		Project: domain.Project{ID: "p1", Title: "Launch"},
		Items: []domain.Item{
			{ID: "a", ProjectID: "p1", ParentID: "m", Type: domain.ItemTypeSubtask, Title: "A"},
			{ID: "m", ProjectID: "p1", ParentID: "z", Type: domain.ItemTypeTask, Title: "M"},
			{ID: "z", ProjectID: "p1", Type: domain.ItemTypeMilestone, Title: "Z"},
		},
	}
	ops, err := snap.ReplayOps(ownerID)
	if err != nil {
		t.Fatalf("ReplayOps() error = %v", err)
	}
	var created []string
	for _, o := range ops {
		if o.Name != OpItemCreate {
			continue
		}
		var args struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(o.Args, &args); err != nil {
			t.Fatalf("decode args: %v", err)
		}
		created = append(created, args.ID)
	}
	want := []string{"z", "m", "a"}
	if len(created) != len(want) {
		t.Fatalf("created = %#v", created)
	}
	for i := range want {
		if created[i] != want[i] {
			t.Fatalf("created = %#v, want %#v", created, want)
		}
	}
}

func TestSnapshotValidate(t *testing.T) {
	base := func() Snapshot {
		return Snapshot{
			Project: domain.Project{ID: "p1", Title: "Launch"},
			Items:   []domain.Item{{ID: "a", ProjectID: "p1", Title: "A"}},
		}
	}
	tests := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{name: "version", mutate: func(s *Snapshot) { s.Version = "other.v9" }},
		{name: "project id", mutate: func(s *Snapshot) { s.Project.ID = " " }},
		{name: "project title", mutate: func(s *Snapshot) { s.Project.Title = "" }},
		{name: "foreign item", mutate: func(s *Snapshot) { s.Items[0].ProjectID = "p2" }},
		{name: "duplicate item", mutate: func(s *Snapshot) { s.Items = append(s.Items, s.Items[0]) }},
		{name: "unknown parent", mutate: func(s *Snapshot) { s.Items[0].ParentID = "ghost" }},
		{name: "unknown dependency", mutate: func(s *Snapshot) {
			s.Dependencies = []domain.Dependency{{ID: "d", ItemID: "a", DependsOnID: "ghost"}}
		}},
		{name: "unknown block item", mutate: func(s *Snapshot) {
			s.ScheduledBlocks = []domain.ScheduledBlock{{ID: "b", ItemID: "ghost"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := base()
			tt.mutate(&snap)
			if err := snap.Validate(); !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() error = %v, want validation", err)
			}
		})
	}
	snap := base()
	if err := snap.Validate(); err != nil {
		t.Fatalf("Validate() on valid snapshot error = %v", err)
	}
}
