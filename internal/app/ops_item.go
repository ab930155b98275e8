package app

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/hylla/trellis/internal/domain"
)

type createItemArgs struct {
	ID              string              `json:"id"`
	ProjectID       string              `json:"project_id"`
	ParentID        *string             `json:"parent_id"`
	Type            domain.ItemType     `json:"type"`
	Title           string              `json:"title"`
	Status          string              `json:"status"`
	Priority        int                 `json:"priority"`
	DueAt           *time.Time          `json:"due_at"`
	EstimateMode    domain.EstimateMode `json:"estimate_mode"`
	EstimateMinutes int                 `json:"estimate_minutes"`
	AssigneeUserID  *string             `json:"assignee_user_id"`
	Notes           string              `json:"notes"`
	Health          string              `json:"health"`
}

// updateItemArgs is a partial patch; absent keys leave fields unchanged and null clears them.
type updateItemArgs struct {
	ItemID          string                               `json:"item_id"`
	ParentID        domain.Optional[string]              `json:"parent_id"`
	Type            domain.Optional[domain.ItemType]     `json:"type"`
	Title           domain.Optional[string]              `json:"title"`
	Status          domain.Optional[string]              `json:"status"`
	Priority        domain.Optional[int]                 `json:"priority"`
	DueAt           domain.Optional[time.Time]           `json:"due_at"`
	EstimateMode    domain.Optional[domain.EstimateMode] `json:"estimate_mode"`
	EstimateMinutes domain.Optional[int]                 `json:"estimate_minutes"`
	AssigneeUserID  domain.Optional[string]              `json:"assignee_user_id"`
	Notes           domain.Optional[string]              `json:"notes"`
	Health          domain.Optional[string]              `json:"health"`
}

type itemIDArgs struct {
	ItemID string `json:"item_id"`
}

type setStatusArgs struct {
	ItemID string `json:"item_id"`
	Status string `json:"status"`
}

type bulkDeleteArgs struct {
	ItemIDs []string `json:"item_ids"`
}

// itemFieldErr wraps a domain value error with the argument it came from.
func itemFieldErr(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidTitle):
		return invalidField("title", err)
	case errors.Is(err, domain.ErrInvalidItemType):
		return invalidField("type", err)
	case errors.Is(err, domain.ErrInvalidStatus):
		return invalidField("status", err)
	case errors.Is(err, domain.ErrInvalidEstimateMode):
		return invalidField("estimate_mode", err)
	case errors.Is(err, domain.ErrInvalidEstimateMinutes):
		return invalidField("estimate_minutes", err)
	case errors.Is(err, domain.ErrInvalidID):
		return invalidField("id", err)
	default:
		return err
	}
}

// editableItem loads an item, requires editor rights in its project and records the project.
func editableItem(ctx context.Context, oc *opContext, itemID string) (domain.Item, error) {
	item, err := fetch(ctx, oc.repo.GetItem, "item", itemID)
	if err != nil {
		return domain.Item{}, err
	}
	if err := editorIn(ctx, oc.repo, item.ProjectID, oc.userID); err != nil {
		return domain.Item{}, err
	}
	oc.touchProject(item.ProjectID)
	return item, nil
}

// activeItem is editableItem plus a refusal to touch archived items.
func activeItem(ctx context.Context, oc *opContext, itemID string) (domain.Item, error) {
	item, err := editableItem(ctx, oc, itemID)
	if err != nil {
		return domain.Item{}, err
	}
	if item.IsArchived() {
		return domain.Item{}, conflictf("item %q is archived", item.ID)
	}
	return item, nil
}

// validParent checks that parentID names an item in projectID that is not itemID or below it.
func validParent(ctx context.Context, oc *opContext, projectID, itemID, parentID string) error {
	if parentID == "" {
		return nil
	}
	if parentID == itemID {
		return conflictf("item %q cannot be its own parent", itemID)
	}
	parent, err := fetch(ctx, oc.repo.GetItem, "parent item", parentID)
	if err != nil {
		return err
	}
	if parent.ProjectID != projectID {
		return invalidField("parent_id", errors.New("parent belongs to another project"))
	}
	if itemID == "" {
		return nil
	}
	below, err := descendantClosure(ctx, oc.repo, []string{itemID})
	if err != nil {
		return err
	}
	if slices.Contains(below, parentID) {
		return conflictf("item %q cannot move under its own descendant %q", itemID, parentID)
	}
	return nil
}

func (s *Service) createItem(ctx context.Context, oc *opContext, args createItemArgs) (any, error) {
	project, err := fetch(ctx, oc.repo.GetProject, "project", args.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := editorIn(ctx, oc.repo, project.ID, oc.userID); err != nil {
		return nil, err
	}
	if err := ensureUnused(ctx, oc.repo.GetItem, "item", args.ID); err != nil {
		return nil, err
	}
	parentID := ""
	if args.ParentID != nil {
		parentID = *args.ParentID
	}
	if err := validParent(ctx, oc, project.ID, "", parentID); err != nil {
		return nil, err
	}
	assignee := ""
	if args.AssigneeUserID != nil && *args.AssigneeUserID != "" {
		assignee = *args.AssigneeUserID
		if err := requireMember(ctx, oc.repo, project.ID, assignee); err != nil {
			return nil, err
		}
	}
	item, err := domain.NewItem(domain.ItemInput{
		ID:              s.newID(args.ID),
		ProjectID:       project.ID,
		ParentID:        parentID,
		Type:            args.Type,
		Title:           args.Title,
		Status:          args.Status,
		Priority:        args.Priority,
		DueAt:           args.DueAt,
		EstimateMode:    args.EstimateMode,
		EstimateMinutes: args.EstimateMinutes,
		AssigneeUserID:  assignee,
		Notes:           args.Notes,
		Health:          args.Health,
	}, oc.now)
	if err != nil {
		return nil, itemFieldErr(err)
	}
	if err := oc.repo.CreateItem(ctx, item); err != nil {
		return nil, err
	}
	oc.touchProject(project.ID)
	oc.affected.addUser(assignee)
	return item, nil
}

func (s *Service) updateItem(ctx context.Context, oc *opContext, args updateItemArgs) (any, error) {
	item, err := activeItem(ctx, oc, args.ItemID)
	if err != nil {
		return nil, err
	}
	if args.ParentID.Present {
		parentID := ""
		if args.ParentID.Valid {
			parentID = args.ParentID.Value
		}
		if err := validParent(ctx, oc, item.ProjectID, item.ID, parentID); err != nil {
			return nil, err
		}
		if err := item.Reparent(parentID, oc.now); err != nil {
			return nil, conflictf("item %q cannot be its own parent", item.ID)
		}
	}
	if args.Type.Present {
		if err := item.SetType(args.Type.Value, oc.now); err != nil {
			return nil, itemFieldErr(err)
		}
	}
	if args.Title.Present {
		if err := item.SetTitle(args.Title.Value, oc.now); err != nil {
			return nil, itemFieldErr(err)
		}
	}
	if args.Status.Present {
		if err := item.SetStatus(args.Status.Value, oc.now); err != nil {
			return nil, itemFieldErr(err)
		}
	}
	if args.Priority.Present {
		item.Priority = args.Priority.Value
	}
	if args.DueAt.Present {
		item.DueAt = nil
		if due := args.DueAt.Ptr(); due != nil {
			v := due.UTC().Truncate(time.Second)
			item.DueAt = &v
		}
	}
	if args.EstimateMode.Present || args.EstimateMinutes.Present {
		mode, minutes := item.EstimateMode, item.EstimateMinutes
		if args.EstimateMode.Present {
			mode = args.EstimateMode.Value
		}
		if args.EstimateMinutes.Present {
			minutes = args.EstimateMinutes.Value
		}
		if err := item.SetEstimate(mode, minutes, oc.now); err != nil {
			return nil, itemFieldErr(err)
		}
	}
	if args.AssigneeUserID.Present {
		next := ""
		if args.AssigneeUserID.Valid {
			next = args.AssigneeUserID.Value
		}
		if next != "" && next != item.AssigneeUserID {
			if err := requireMember(ctx, oc.repo, item.ProjectID, next); err != nil {
				return nil, err
			}
		}
		if next != item.AssigneeUserID {
			oc.affected.addUser(item.AssigneeUserID)
			oc.affected.addUser(next)
		}
		item.AssigneeUserID = next
	}
	if args.Notes.Present {
		item.Notes = args.Notes.Value
	}
	if args.Health.Present {
		item.Health = args.Health.Value
	}
	item.UpdatedAt = oc.now
	if err := oc.repo.UpdateItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) setItemStatus(ctx context.Context, oc *opContext, args setStatusArgs) (any, error) {
	item, err := activeItem(ctx, oc, args.ItemID)
	if err != nil {
		return nil, err
	}
	if err := item.SetStatus(args.Status, oc.now); err != nil {
		return nil, itemFieldErr(err)
	}
	if err := oc.repo.UpdateItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// archiveItem stamps archived_at and drops the item's dependency edges, since edges may only join
// active items.
func (s *Service) archiveItem(ctx context.Context, oc *opContext, args itemIDArgs) (any, error) {
	item, err := editableItem(ctx, oc, args.ItemID)
	if err != nil {
		return nil, err
	}
	if item.IsArchived() {
		return item, nil
	}
	deps, err := oc.repo.ListDependencies(ctx, item.ProjectID)
	if err != nil {
		return nil, err
	}
	for _, dep := range deps {
		if dep.ItemID != item.ID && dep.DependsOnID != item.ID {
			continue
		}
		if err := oc.repo.DeleteDependency(ctx, dep.ID); err != nil {
			return nil, err
		}
	}
	item.Archive(oc.now)
	if err := oc.repo.UpdateItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) restoreItem(ctx context.Context, oc *opContext, args itemIDArgs) (any, error) {
	item, err := editableItem(ctx, oc, args.ItemID)
	if err != nil {
		return nil, err
	}
	if !item.IsArchived() {
		return item, nil
	}
	item.Restore(oc.now)
	if err := oc.repo.UpdateItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) deleteItem(ctx context.Context, oc *opContext, args itemIDArgs) (any, error) {
	item, err := editableItem(ctx, oc, args.ItemID)
	if err != nil {
		return nil, err
	}
	return deleteSubtrees(ctx, oc, []string{item.ID})
}

func (s *Service) bulkDeleteItems(ctx context.Context, oc *opContext, args bulkDeleteArgs) (any, error) {
	checked := map[string]struct{}{}
	for _, id := range args.ItemIDs {
		item, err := fetch(ctx, oc.repo.GetItem, "item", id)
		if err != nil {
			return nil, err
		}
		if _, ok := checked[item.ProjectID]; !ok {
			if err := editorIn(ctx, oc.repo, item.ProjectID, oc.userID); err != nil {
				return nil, err
			}
			checked[item.ProjectID] = struct{}{}
		}
		oc.touchProject(item.ProjectID)
	}
	return deleteSubtrees(ctx, oc, args.ItemIDs)
}

// deleteSubtrees removes the roots, their descendants and every row referencing them.
func deleteSubtrees(ctx context.Context, oc *opContext, roots []string) (DeletedResult, error) {
	ids, err := descendantClosure(ctx, oc.repo, roots)
	if err != nil {
		return DeletedResult{}, err
	}
	if err := oc.repo.DeleteItems(ctx, ids); err != nil {
		return DeletedResult{}, err
	}
	return DeletedResult{DeletedIDs: ids}, nil
}
