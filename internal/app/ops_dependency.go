package app

import (
	"context"
	"errors"

	"github.com/hylla/trellis/internal/domain"
)

type addDependencyArgs struct {
	ID          string                `json:"id"`
	ItemID      string                `json:"item_id"`
	DependsOnID string                `json:"depends_on_id"`
	Type        domain.DependencyType `json:"type"`
	LagMinutes  *int                  `json:"lag_minutes"`
}

type updateDependencyArgs struct {
	DependencyID string                                 `json:"dependency_id"`
	Type         domain.Optional[domain.DependencyType] `json:"type"`
	LagMinutes   domain.Optional[int]                   `json:"lag_minutes"`
}

type removeDependencyArgs struct {
	DependencyID string `json:"dependency_id"`
	ItemID       string `json:"item_id"`
	DependsOnID  string `json:"depends_on_id"`
}

// addDependency inserts item_id -> depends_on_id, or retunes the edge when the pair exists.
func (s *Service) addDependency(ctx context.Context, oc *opContext, args addDependencyArgs) (any, error) {
	item, err := fetch(ctx, oc.repo.GetItem, "item", args.ItemID)
	if err != nil {
		return nil, err
	}
	if err := editorIn(ctx, oc.repo, item.ProjectID, oc.userID); err != nil {
		return nil, err
	}
	oc.touchProject(item.ProjectID)
	if args.ItemID == args.DependsOnID {
		return nil, conflictf("item %q cannot depend on itself", item.ID)
	}
	predecessor, err := fetch(ctx, oc.repo.GetItem, "item", args.DependsOnID)
	if err != nil {
		return nil, err
	}
	if predecessor.ProjectID != item.ProjectID {
		return nil, invalidField("depends_on_id", errors.New("items belong to different projects"))
	}
	if item.IsArchived() || predecessor.IsArchived() {
		return nil, conflictf("dependencies cannot reference archived items")
	}

	existing, err := oc.repo.GetDependencyByPair(ctx, item.ID, predecessor.ID)
	switch {
	case err == nil:
		typ, lag := existing.Type, existing.LagMinutes
		if args.Type != "" {
			typ = args.Type
		}
		if args.LagMinutes != nil {
			lag = *args.LagMinutes
		}
		if err := existing.Retune(typ, lag, oc.now); err != nil {
			return nil, invalidField("type", err)
		}
		if err := oc.repo.UpdateDependency(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	cycle, err := dependencyReachable(ctx, oc.repo, predecessor.ID, item.ID)
	if err != nil {
		return nil, err
	}
	if cycle {
		return nil, conflictf("dependency %q -> %q would create a cycle", item.ID, predecessor.ID)
	}
	if err := ensureUnused(ctx, oc.repo.GetDependency, "dependency", args.ID); err != nil {
		return nil, err
	}
	lag := 0
	if args.LagMinutes != nil {
		lag = *args.LagMinutes
	}
	dep, err := domain.NewDependency(s.newID(args.ID), item.ProjectID, item.ID, predecessor.ID, args.Type, lag, oc.now)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidDependencyType) {
			return nil, invalidField("type", err)
		}
		return nil, invalidField("id", err)
	}
	if err := oc.repo.CreateDependency(ctx, dep); err != nil {
		return nil, err
	}
	return dep, nil
}

func (s *Service) updateDependency(ctx context.Context, oc *opContext, args updateDependencyArgs) (any, error) {
	dep, err := fetch(ctx, oc.repo.GetDependency, "dependency", args.DependencyID)
	if err != nil {
		return nil, err
	}
	if err := editorIn(ctx, oc.repo, dep.ProjectID, oc.userID); err != nil {
		return nil, err
	}
	typ, lag := dep.Type, dep.LagMinutes
	if args.Type.Present {
		typ = args.Type.Value
	}
	if args.LagMinutes.Present {
		lag = args.LagMinutes.Value
	}
	if err := dep.Retune(typ, lag, oc.now); err != nil {
		return nil, invalidField("type", err)
	}
	if err := oc.repo.UpdateDependency(ctx, dep); err != nil {
		return nil, err
	}
	oc.touchProject(dep.ProjectID)
	return dep, nil
}

// removeDependency deletes an edge named either by id or by its (item_id, depends_on_id) pair.
func (s *Service) removeDependency(ctx context.Context, oc *opContext, args removeDependencyArgs) (any, error) {
	var (
		dep domain.Dependency
		err error
	)
	if args.DependencyID != "" {
		dep, err = fetch(ctx, oc.repo.GetDependency, "dependency", args.DependencyID)
	} else {
		dep, err = oc.repo.GetDependencyByPair(ctx, args.ItemID, args.DependsOnID)
		if errors.Is(err, ErrNotFound) {
			err = notFound("dependency", args.ItemID+"->"+args.DependsOnID)
		}
	}
	if err != nil {
		return nil, err
	}
	if err := editorIn(ctx, oc.repo, dep.ProjectID, oc.userID); err != nil {
		return nil, err
	}
	if err := oc.repo.DeleteDependency(ctx, dep.ID); err != nil {
		return nil, err
	}
	oc.touchProject(dep.ProjectID)
	return DeletedResult{DeletedIDs: []string{dep.ID}}, nil
}
