package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/hylla/trellis/internal/domain"
)

// ItemRollupRow pairs an item with its aggregate.
type ItemRollupRow struct {
	Item   domain.Item       `json:"item"`
	Rollup domain.ItemRollup `json:"rollup"`
	// SlackMinutes is due_at minus the rolled-up end; nil when either is unknown.
	SlackMinutes *int `json:"slack_minutes,omitempty"`
}

// ProjectRollups is the rollup read model of one project.
type ProjectRollups struct {
	ProjectID   string          `json:"project_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	Items       []ItemRollupRow `json:"items"`
}

// DependencyStatusRow pairs an edge with its timing state.
type DependencyStatusRow struct {
	Dependency domain.Dependency       `json:"dependency"`
	Status     domain.DependencyStatus `json:"status"`
}

// DependencyStatuses is the dependency timing read model of one project.
type DependencyStatuses struct {
	ProjectID    string                `json:"project_id"`
	GeneratedAt  time.Time             `json:"generated_at"`
	Dependencies []DependencyStatusRow `json:"dependencies"`
}

// projectSnapshot is an immutable copy of the rows the derived views need.
type projectSnapshot struct {
	input domain.RollupInput
	deps  []domain.Dependency
}

// loadSnapshot reads one project's active items and their signals.
func loadSnapshot(ctx context.Context, repo Repository, projectID string, now time.Time) (projectSnapshot, error) {
	items, err := repo.ListItems(ctx, projectID)
	if err != nil {
		return projectSnapshot{}, err
	}
	blocks, err := repo.ListScheduledBlocks(ctx, projectID)
	if err != nil {
		return projectSnapshot{}, err
	}
	blockers, err := repo.ListBlockers(ctx, projectID)
	if err != nil {
		return projectSnapshot{}, err
	}
	entries, err := repo.ListTimeEntries(ctx, projectID)
	if err != nil {
		return projectSnapshot{}, err
	}
	deps, err := repo.ListDependencies(ctx, projectID)
	if err != nil {
		return projectSnapshot{}, err
	}

	in := domain.RollupInput{
		Items:          make([]domain.Item, 0, len(items)),
		Windows:        map[string]domain.Window{},
		Blocked:        map[string]bool{},
		Overdue:        map[string]bool{},
		TrackedMinutes: map[string]int{},
	}
	for _, item := range items {
		if item.IsArchived() {
			continue
		}
		in.Items = append(in.Items, item)
		if item.DueAt != nil && item.DueAt.Before(now) && item.Status != domain.StatusDone {
			in.Overdue[item.ID] = true
		}
	}
	for _, block := range blocks {
		start, end := block.StartAt, block.EndAt()
		w := in.Windows[block.ItemID]
		if w.Start == nil || start.Before(*w.Start) {
			w.Start = &start
		}
		if w.End == nil || end.After(*w.End) {
			w.End = &end
		}
		in.Windows[block.ItemID] = w
	}
	for _, blocker := range blockers {
		if blocker.IsActive() {
			in.Blocked[blocker.ItemID] = true
		}
	}
	for _, entry := range entries {
		switch {
		case entry.DurationMinutes != nil:
			in.TrackedMinutes[entry.ItemID] += *entry.DurationMinutes
		case entry.IsRunning() && now.After(entry.StartAt):
			in.TrackedMinutes[entry.ItemID] += int(now.Sub(entry.StartAt) / time.Minute)
		}
	}
	return projectSnapshot{input: in, deps: deps}, nil
}

// ProjectRollups computes per-item aggregates for a project the user belongs to.
func (s *Service) ProjectRollups(ctx context.Context, userID, projectID string) (ProjectRollups, error) {
	now := s.now()
	var snap projectSnapshot
	err := s.store.ReadTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := fetch(ctx, repo.GetProject, "project", projectID); err != nil {
			return err
		}
		if err := memberIn(ctx, repo, projectID, userID); err != nil {
			return err
		}
		var err error
		snap, err = loadSnapshot(ctx, repo, projectID, now)
		return err
	})
	if err != nil {
		return ProjectRollups{}, err
	}

	rollups := domain.ComputeRollups(snap.input)
	rows := make([]ItemRollupRow, 0, len(snap.input.Items))
	for _, item := range snap.input.Items {
		row := ItemRollupRow{Item: item, Rollup: rollups[item.ID]}
		if slack, ok := domain.SlackMinutes(item.DueAt, row.Rollup.EndAt); ok {
			row.SlackMinutes = &slack
		}
		rows = append(rows, row)
	}
	slices.SortFunc(rows, func(a, b ItemRollupRow) int {
		return strings.Compare(a.Item.ID, b.Item.ID)
	})
	return ProjectRollups{ProjectID: projectID, GeneratedAt: now, Items: rows}, nil
}

// DependencyStatuses scores every dependency edge of a project using rolled-up schedule windows.
func (s *Service) DependencyStatuses(ctx context.Context, userID, projectID string) (DependencyStatuses, error) {
	now := s.now()
	var snap projectSnapshot
	err := s.store.ReadTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := fetch(ctx, repo.GetProject, "project", projectID); err != nil {
			return err
		}
		if err := memberIn(ctx, repo, projectID, userID); err != nil {
			return err
		}
		var err error
		snap, err = loadSnapshot(ctx, repo, projectID, now)
		return err
	})
	if err != nil {
		return DependencyStatuses{}, err
	}

	rollups := domain.ComputeRollups(snap.input)
	window := func(itemID string) domain.Window {
		r, ok := rollups[itemID]
		if !ok {
			return domain.Window{}
		}
		return domain.Window{Start: r.StartAt, End: r.EndAt}
	}
	rows := make([]DependencyStatusRow, 0, len(snap.deps))
	for _, dep := range snap.deps {
		status := domain.EvaluateDependency(window(dep.DependsOnID), window(dep.ItemID), dep.Type, float64(dep.LagMinutes))
		rows = append(rows, DependencyStatusRow{Dependency: dep, Status: status})
	}
	return DependencyStatuses{ProjectID: projectID, GeneratedAt: now, Dependencies: rows}, nil
}

// ItemDescendants returns the item and every item below it.
func (s *Service) ItemDescendants(ctx context.Context, userID, itemID string) ([]string, error) {
	var out []string
	err := s.store.ReadTx(ctx, func(ctx context.Context, repo Repository) error {
		item, err := fetch(ctx, repo.GetItem, "item", itemID)
		if err != nil {
			return err
		}
		if err := memberIn(ctx, repo, item.ProjectID, userID); err != nil {
			return err
		}
		out, err = descendantClosure(ctx, repo, []string{item.ID})
		return err
	})
	return out, err
}
