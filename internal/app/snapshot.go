package app

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hylla/trellis/internal/domain"
)

// SnapshotVersion tags the export format.
const SnapshotVersion = "trellis.snapshot.v1"

// Snapshot is a portable copy of one project and every row that hangs off it.
type Snapshot struct {
	Version         string                  `json:"version"`
	ExportedAt      time.Time               `json:"exported_at"`
	Project         domain.Project          `json:"project"`
	Members         []domain.ProjectMember  `json:"members"`
	Items           []domain.Item           `json:"items"`
	Dependencies    []domain.Dependency     `json:"dependencies"`
	ScheduledBlocks []domain.ScheduledBlock `json:"scheduled_blocks"`
	Blockers        []domain.Blocker        `json:"blockers"`
	TimeEntries     []domain.TimeEntry      `json:"time_entries"`
}

// ExportSnapshot copies one project for a member, archived items included.
func (s *Service) ExportSnapshot(ctx context.Context, userID, projectID string) (Snapshot, error) {
	snap := Snapshot{Version: SnapshotVersion, ExportedAt: s.now()}
	err := s.store.ReadTx(ctx, func(ctx context.Context, repo Repository) error {
		project, err := fetch(ctx, repo.GetProject, "project", projectID)
		if err != nil {
			return err
		}
		if err := memberIn(ctx, repo, projectID, userID); err != nil {
			return err
		}
		snap.Project = project
		if snap.Members, err = repo.ListMembers(ctx, projectID); err != nil {
			return err
		}
		if snap.Items, err = repo.ListItems(ctx, projectID); err != nil {
			return err
		}
		if snap.Dependencies, err = repo.ListDependencies(ctx, projectID); err != nil {
			return err
		}
		if snap.ScheduledBlocks, err = repo.ListScheduledBlocks(ctx, projectID); err != nil {
			return err
		}
		if snap.Blockers, err = repo.ListBlockers(ctx, projectID); err != nil {
			return err
		}
		snap.TimeEntries, err = repo.ListTimeEntries(ctx, projectID)
		return err
	})
	if err != nil {
		return Snapshot{}, err
	}
	snap.sort()
	return snap, nil
}

// ImportSnapshot replays a snapshot as one batch issued by userID, who becomes the new owner.
// Row ids are preserved, so importing into a store that already holds them is a conflict.
// The replay is not subject to MaxOpsPerBatch: any project that exports must import.
func (s *Service) ImportSnapshot(ctx context.Context, userID string, snap Snapshot) (BatchResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return BatchResult{}, invalidField("user_id", nil)
	}
	ops, err := snap.ReplayOps(userID)
	if err != nil {
		return BatchResult{}, err
	}
	return s.applyBatch(ctx, userID, ops)
}

// Validate checks the snapshot version and that every reference resolves inside it.
func (s *Snapshot) Validate() error {
	if s.Version != "" && s.Version != SnapshotVersion {
		return fmt.Errorf("%w: unsupported snapshot version %q", ErrValidation, s.Version)
	}
	if strings.TrimSpace(s.Project.ID) == "" {
		return fmt.Errorf("%w: project.id is required", ErrValidation)
	}
	if strings.TrimSpace(s.Project.Title) == "" {
		return fmt.Errorf("%w: project.title is required", ErrValidation)
	}

	itemIDs := make(map[string]struct{}, len(s.Items))
	for i, item := range s.Items {
		if strings.TrimSpace(item.ID) == "" {
			return fmt.Errorf("%w: items[%d].id is required", ErrValidation, i)
		}
		if item.ProjectID != s.Project.ID {
			return fmt.Errorf("%w: items[%d] belongs to project %q", ErrValidation, i, item.ProjectID)
		}
		if _, dup := itemIDs[item.ID]; dup {
			return fmt.Errorf("%w: duplicate item id %q", ErrValidation, item.ID)
		}
		itemIDs[item.ID] = struct{}{}
	}
	known := func(field string, i int, id string) error {
		if _, ok := itemIDs[id]; !ok {
			return fmt.Errorf("%w: %s[%d] references unknown item %q", ErrValidation, field, i, id)
		}
		return nil
	}
	for i, item := range s.Items {
		if item.ParentID == "" {
			continue
		}
		if err := known("items", i, item.ParentID); err != nil {
			return err
		}
	}
	for i, dep := range s.Dependencies {
		if err := known("dependencies", i, dep.ItemID); err != nil {
			return err
		}
		if err := known("dependencies", i, dep.DependsOnID); err != nil {
			return err
		}
	}
	for i, block := range s.ScheduledBlocks {
		if err := known("scheduled_blocks", i, block.ItemID); err != nil {
			return err
		}
	}
	for i, blocker := range s.Blockers {
		if err := known("blockers", i, blocker.ItemID); err != nil {
			return err
		}
	}
	for i, entry := range s.TimeEntries {
		if err := known("time_entries", i, entry.ItemID); err != nil {
			return err
		}
	}
	return nil
}

// ReplayOps renders the snapshot as an ordered operation batch.
//
// Parents are created before children, and archiving runs last because archived items refuse
// schedule and blocker writes.
func (s Snapshot) ReplayOps(userID string) ([]Operation, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s.sort()
	var (
		ops []Operation
		err error
	)
	add := func(name string, args map[string]any) {
		if err != nil {
			return
		}
		var raw json.RawMessage
		raw, err = json.Marshal(args)
		ops = append(ops, Operation{Name: name, Args: raw})
	}

	add(OpProjectCreate, map[string]any{"id": s.Project.ID, "title": s.Project.Title})
	for _, m := range s.Members {
		if m.UserID == userID {
			continue
		}
		add(OpProjectMemberAdd, map[string]any{"project_id": s.Project.ID, "user_id": m.UserID, "role": m.Role})
	}
	for _, item := range s.parentFirstItems() {
		args := map[string]any{
			"id":               item.ID,
			"project_id":       item.ProjectID,
			"type":             item.Type,
			"title":            item.Title,
			"priority":         item.Priority,
			"estimate_mode":    item.EstimateMode,
			"estimate_minutes": item.EstimateMinutes,
			"notes":            item.Notes,
			"health":           item.Health,
		}
		if item.Status != "" {
			args["status"] = item.Status
		}
		if item.ParentID != "" {
			args["parent_id"] = item.ParentID
		}
		if item.DueAt != nil {
			args["due_at"] = item.DueAt
		}
		if item.AssigneeUserID != "" {
			args["assignee_user_id"] = item.AssigneeUserID
		}
		add(OpItemCreate, args)
	}
	for _, block := range s.ScheduledBlocks {
		add(OpBlockCreate, map[string]any{
			"id": block.ID, "item_id": block.ItemID, "start_at": block.StartAt, "duration_minutes": block.DurationMinutes,
		})
	}
	for _, dep := range s.Dependencies {
		add(OpDependencyAdd, map[string]any{
			"id": dep.ID, "item_id": dep.ItemID, "depends_on_id": dep.DependsOnID, "type": dep.Type, "lag_minutes": dep.LagMinutes,
		})
	}
	for _, blocker := range s.Blockers {
		add(OpBlockerAdd, map[string]any{"id": blocker.ID, "item_id": blocker.ItemID, "kind": blocker.Kind, "reason": blocker.Reason})
		if blocker.ClearedAt != nil {
			add(OpBlockerClear, map[string]any{"blocker_id": blocker.ID})
		}
	}
	for _, entry := range s.TimeEntries {
		add(OpTimeEntryStart, map[string]any{"id": entry.ID, "item_id": entry.ItemID, "start_at": entry.StartAt})
		if entry.EndAt != nil {
			add(OpTimeEntryStop, map[string]any{"entry_id": entry.ID, "end_at": entry.EndAt})
		}
	}
	for _, item := range s.Items {
		if item.ArchivedAt != nil {
			add(OpItemArchive, map[string]any{"item_id": item.ID})
		}
	}
	if err != nil {
		return nil, fmt.Errorf("encode replay args: %w", err)
	}
	return ops, nil
}

// parentFirstItems orders items by tree depth, then id.
func (s Snapshot) parentFirstItems() []domain.Item {
	parents := make(map[string]string, len(s.Items))
	for _, item := range s.Items {
		parents[item.ID] = item.ParentID
	}
	depth := make(map[string]int, len(s.Items))
	var depthOf func(id string, seen int) int
	depthOf = func(id string, seen int) int {
		if d, ok := depth[id]; ok {
			return d
		}
		parent := parents[id]
		if parent == "" || seen > len(parents) {
			depth[id] = 0
			return 0
		}
		d := depthOf(parent, seen+1) + 1
		depth[id] = d
		return d
	}
	out := slices.Clone(s.Items)
	slices.SortFunc(out, func(a, b domain.Item) int {
		return cmp.Or(cmp.Compare(depthOf(a.ID, 0), depthOf(b.ID, 0)), strings.Compare(a.ID, b.ID))
	})
	return out
}

// sort orders every row set by id so exports are byte-stable.
func (s *Snapshot) sort() {
	slices.SortFunc(s.Members, func(a, b domain.ProjectMember) int { return strings.Compare(a.UserID, b.UserID) })
	slices.SortFunc(s.Items, func(a, b domain.Item) int { return strings.Compare(a.ID, b.ID) })
	slices.SortFunc(s.Dependencies, func(a, b domain.Dependency) int { return strings.Compare(a.ID, b.ID) })
	slices.SortFunc(s.ScheduledBlocks, func(a, b domain.ScheduledBlock) int { return strings.Compare(a.ID, b.ID) })
	slices.SortFunc(s.Blockers, func(a, b domain.Blocker) int { return strings.Compare(a.ID, b.ID) })
	slices.SortFunc(s.TimeEntries, func(a, b domain.TimeEntry) int { return strings.Compare(a.ID, b.ID) })
}
