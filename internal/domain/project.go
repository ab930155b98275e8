package domain

import (
	"strings"
	"time"
)

// Role is a project membership role.
type Role string

// Membership roles ordered from most to least privileged.
const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Project is the root of access control; every other entity is owned by one project.
type Project struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	OwnerUserID string    `json:"owner_user_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProjectMember grants one user a role in one project.
type ProjectMember struct {
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProject constructs a new project owned by ownerUserID.
func NewProject(id, title, ownerUserID string, now time.Time) (Project, error) {
	id = strings.TrimSpace(id)
	title = strings.TrimSpace(title)
	ownerUserID = strings.TrimSpace(ownerUserID)
	if id == "" || ownerUserID == "" {
		return Project{}, ErrInvalidID
	}
	if title == "" {
		return Project{}, ErrInvalidTitle
	}
	return Project{
		ID:          id,
		Title:       title,
		OwnerUserID: ownerUserID,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}, nil
}

// Rename sets the project title.
func (p *Project) Rename(title string, now time.Time) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrInvalidTitle
	}
	p.Title = title
	p.UpdatedAt = now.UTC()
	return nil
}

// NewProjectMember constructs a membership row.
func NewProjectMember(projectID, userID string, role Role, now time.Time) (ProjectMember, error) {
	projectID = strings.TrimSpace(projectID)
	userID = strings.TrimSpace(userID)
	if projectID == "" || userID == "" {
		return ProjectMember{}, ErrInvalidID
	}
	role = NormalizeRole(role)
	if !IsValidRole(role) {
		return ProjectMember{}, ErrInvalidRole
	}
	return ProjectMember{
		ProjectID: projectID,
		UserID:    userID,
		Role:      role,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}, nil
}

// SetRole changes the member role.
func (m *ProjectMember) SetRole(role Role, now time.Time) error {
	role = NormalizeRole(role)
	if !IsValidRole(role) {
		return ErrInvalidRole
	}
	m.Role = role
	m.UpdatedAt = now.UTC()
	return nil
}

// NormalizeRole canonicalizes a role value.
func NormalizeRole(role Role) Role {
	return Role(strings.TrimSpace(strings.ToLower(string(role))))
}

// IsValidRole reports whether role is one of the supported membership roles.
func IsValidRole(role Role) bool {
	switch role {
	case RoleOwner, RoleEditor, RoleViewer:
		return true
	default:
		return false
	}
}

// CanEdit reports whether the role may mutate project content.
func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleEditor
}
