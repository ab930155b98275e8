package app

import (
	"context"
	"errors"

	"github.com/hylla/trellis/internal/domain"
)

type createProjectArgs struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type updateProjectArgs struct {
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
}

type memberArgs struct {
	ProjectID string      `json:"project_id"`
	UserID    string      `json:"user_id"`
	Role      domain.Role `json:"role"`
}

// fetch loads one row by id and turns a miss into a NotFound naming the entity.
func fetch[T any](ctx context.Context, get func(context.Context, string) (T, error), entity, id string) (T, error) {
	v, err := get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return v, notFound(entity, id)
	}
	return v, err
}

// ensureUnused fails when a caller-supplied id already names a row.
func ensureUnused[T any](ctx context.Context, get func(context.Context, string) (T, error), entity, id string) error {
	if id == "" {
		return nil
	}
	_, err := get(ctx, id)
	switch {
	case err == nil:
		return conflictf("%s %q already exists", entity, id)
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return err
	}
}

// projectFieldErr wraps a domain value error with the argument it came from.
func projectFieldErr(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidTitle):
		return invalidField("title", err)
	case errors.Is(err, domain.ErrInvalidRole):
		return invalidField("role", err)
	default:
		return invalidField("id", err)
	}
}

func (s *Service) createProject(ctx context.Context, oc *opContext, args createProjectArgs) (any, error) {
	if err := ensureUnused(ctx, oc.repo.GetProject, "project", args.ID); err != nil {
		return nil, err
	}
	project, err := domain.NewProject(s.newID(args.ID), args.Title, oc.userID, oc.now)
	if err != nil {
		return nil, projectFieldErr(err)
	}
	owner, err := domain.NewProjectMember(project.ID, oc.userID, domain.RoleOwner, oc.now)
	if err != nil {
		return nil, projectFieldErr(err)
	}
	if err := oc.repo.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	if err := oc.repo.UpsertMember(ctx, owner); err != nil {
		return nil, err
	}
	oc.touchProject(project.ID)
	oc.affected.addUser(oc.userID)
	return project, nil
}

func (s *Service) updateProject(ctx context.Context, oc *opContext, args updateProjectArgs) (any, error) {
	project, err := fetch(ctx, oc.repo.GetProject, "project", args.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := editorIn(ctx, oc.repo, project.ID, oc.userID); err != nil {
		return nil, err
	}
	if err := project.Rename(args.Title, oc.now); err != nil {
		return nil, projectFieldErr(err)
	}
	if err := oc.repo.UpdateProject(ctx, project); err != nil {
		return nil, err
	}
	oc.touchProject(project.ID)
	return project, nil
}

// ownedProject loads the project named in args and requires the acting user to own it.
func ownedProject(ctx context.Context, oc *opContext, args memberArgs) (domain.Project, error) {
	project, err := fetch(ctx, oc.repo.GetProject, "project", args.ProjectID)
	if err != nil {
		return domain.Project{}, err
	}
	role, err := roleOf(ctx, oc.repo, project.ID, oc.userID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := requireOwner(role); err != nil {
		return domain.Project{}, err
	}
	return project, nil
}

// guardOwnerRole keeps the project owner's own membership at the owner role.
func guardOwnerRole(project domain.Project, userID string, role domain.Role) error {
	if userID == project.OwnerUserID && domain.NormalizeRole(role) != domain.RoleOwner {
		return conflictf("the project owner's role cannot be changed")
	}
	return nil
}

func (s *Service) addMember(ctx context.Context, oc *opContext, args memberArgs) (any, error) {
	project, err := ownedProject(ctx, oc, args)
	if err != nil {
		return nil, err
	}
	if args.Role == "" {
		args.Role = domain.RoleEditor
	}
	if err := guardOwnerRole(project, args.UserID, args.Role); err != nil {
		return nil, err
	}
	member, err := oc.repo.GetMember(ctx, project.ID, args.UserID)
	switch {
	case err == nil:
		err = member.SetRole(args.Role, oc.now)
	case errors.Is(err, ErrNotFound):
		member, err = domain.NewProjectMember(project.ID, args.UserID, args.Role, oc.now)
	}
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRole) || errors.Is(err, domain.ErrInvalidID) {
			return nil, projectFieldErr(err)
		}
		return nil, err
	}
	if err := oc.repo.UpsertMember(ctx, member); err != nil {
		return nil, err
	}
	oc.touchProject(project.ID)
	oc.affected.addUser(member.UserID)
	return member, nil
}

func (s *Service) updateMember(ctx context.Context, oc *opContext, args memberArgs) (any, error) {
	project, err := ownedProject(ctx, oc, args)
	if err != nil {
		return nil, err
	}
	if err := guardOwnerRole(project, args.UserID, args.Role); err != nil {
		return nil, err
	}
	member, err := oc.repo.GetMember(ctx, project.ID, args.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound("member", args.UserID)
	}
	if err != nil {
		return nil, err
	}
	if err := member.SetRole(args.Role, oc.now); err != nil {
		return nil, projectFieldErr(err)
	}
	if err := oc.repo.UpsertMember(ctx, member); err != nil {
		return nil, err
	}
	oc.touchProject(project.ID)
	oc.affected.addUser(member.UserID)
	return member, nil
}

// removeMember deletes a membership and unassigns the user's items in that project.
func (s *Service) removeMember(ctx context.Context, oc *opContext, args memberArgs) (any, error) {
	project, err := ownedProject(ctx, oc, args)
	if err != nil {
		return nil, err
	}
	if args.UserID == project.OwnerUserID {
		return nil, conflictf("the project owner cannot be removed")
	}
	member, err := oc.repo.GetMember(ctx, project.ID, args.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound("member", args.UserID)
	}
	if err != nil {
		return nil, err
	}
	if err := oc.repo.DeleteMember(ctx, project.ID, member.UserID); err != nil {
		return nil, err
	}
	items, err := oc.repo.ListItems(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.AssigneeUserID != member.UserID {
			continue
		}
		item.AssigneeUserID = ""
		item.UpdatedAt = oc.now
		if err := oc.repo.UpdateItem(ctx, item); err != nil {
			return nil, err
		}
	}
	oc.touchProject(project.ID)
	oc.affected.addUser(member.UserID)
	return member, nil
}
