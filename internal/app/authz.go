package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/trellis/internal/domain"
)

// roleOf resolves the user's role in a project.
func roleOf(ctx context.Context, repo Repository, projectID, userID string) (domain.Role, error) {
	member, err := repo.GetMember(ctx, projectID, userID)
	if errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("%w: user %q in project %q", ErrNotAMember, userID, projectID)
	}
	if err != nil {
		return "", err
	}
	return member.Role, nil
}

// requireEditor fails unless role is owner or editor.
func requireEditor(role domain.Role) error {
	if !role.CanEdit() {
		return fmt.Errorf("%w: role %q cannot modify the project", ErrForbidden, role)
	}
	return nil
}

// requireOwner fails unless role is owner.
func requireOwner(role domain.Role) error {
	if role != domain.RoleOwner {
		return fmt.Errorf("%w: only the project owner can manage members", ErrForbidden)
	}
	return nil
}

// requireMember validates a candidate user (an assignee) against project membership.
func requireMember(ctx context.Context, repo Repository, projectID, userID string) error {
	_, err := repo.GetMember(ctx, projectID, userID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: assignee_user_id: user %q is not a member of project %q", ErrValidation, userID, projectID)
	}
	return err
}

// editorIn resolves the acting user's role and requires editor or better.
func editorIn(ctx context.Context, repo Repository, projectID, userID string) error {
	role, err := roleOf(ctx, repo, projectID, userID)
	if err != nil {
		return err
	}
	return requireEditor(role)
}

// memberIn requires any membership, for read paths.
func memberIn(ctx context.Context, repo Repository, projectID, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return invalidField("user_id", nil)
	}
	_, err := roleOf(ctx, repo, projectID, userID)
	return err
}
