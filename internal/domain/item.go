package domain

import (
	"strings"
	"time"
)

// ItemType classifies nodes of the item tree.
type ItemType string

// Supported item types.
const (
	ItemTypeMilestone ItemType = "milestone"
	ItemTypeTask      ItemType = "task"
	ItemTypeSubtask   ItemType = "subtask"
)

// EstimateMode selects how an item's estimate is derived.
type EstimateMode string

// Estimate modes.
const (
	EstimateModeManual EstimateMode = "manual"
	EstimateModeRollup EstimateMode = "rollup"
)

// StatusTodo and StatusDone are the built-in status values; other statuses are free-form.
const (
	StatusTodo = "todo"
	StatusDone = "done"
)

// Item is one node in a project's milestone/task/subtask tree.
type Item struct {
	ID              string       `json:"id"`
	ProjectID       string       `json:"project_id"`
	ParentID        string       `json:"parent_id,omitempty"`
	Type            ItemType     `json:"type"`
	Title           string       `json:"title"`
	Status          string       `json:"status"`
	Priority        int          `json:"priority"`
	DueAt           *time.Time   `json:"due_at,omitempty"`
	EstimateMode    EstimateMode `json:"estimate_mode"`
	EstimateMinutes int          `json:"estimate_minutes"`
	AssigneeUserID  string       `json:"assignee_user_id,omitempty"`
	Notes           string       `json:"notes"`
	Health          string       `json:"health"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	ArchivedAt      *time.Time   `json:"archived_at,omitempty"`
}

// ItemInput holds constructor values for NewItem.
type ItemInput struct {
	ID              string
	ProjectID       string
	ParentID        string
	Type            ItemType
	Title           string
	Status          string
	Priority        int
	DueAt           *time.Time
	EstimateMode    EstimateMode
	EstimateMinutes int
	AssigneeUserID  string
	Notes           string
	Health          string
}

// NewItem validates input and constructs an item.
func NewItem(in ItemInput, now time.Time) (Item, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.ProjectID = strings.TrimSpace(in.ProjectID)
	in.ParentID = strings.TrimSpace(in.ParentID)
	in.Title = strings.TrimSpace(in.Title)
	in.AssigneeUserID = strings.TrimSpace(in.AssigneeUserID)
	if in.ID == "" || in.ProjectID == "" || in.ParentID == in.ID {
		return Item{}, ErrInvalidID
	}
	if in.Title == "" {
		return Item{}, ErrInvalidTitle
	}
	in.Type = NormalizeItemType(in.Type)
	if !IsValidItemType(in.Type) {
		return Item{}, ErrInvalidItemType
	}
	if in.EstimateMode == "" {
		in.EstimateMode = EstimateModeManual
	}
	in.EstimateMode = NormalizeEstimateMode(in.EstimateMode)
	if !IsValidEstimateMode(in.EstimateMode) {
		return Item{}, ErrInvalidEstimateMode
	}
	if in.EstimateMinutes < 0 {
		return Item{}, ErrInvalidEstimateMinutes
	}
	status := NormalizeStatus(in.Status)
	if status == "" {
		status = StatusTodo
	}

	item := Item{
		ID:              in.ID,
		ProjectID:       in.ProjectID,
		ParentID:        in.ParentID,
		Type:            in.Type,
		Title:           in.Title,
		Status:          status,
		Priority:        in.Priority,
		DueAt:           normalizeTS(in.DueAt),
		EstimateMode:    in.EstimateMode,
		EstimateMinutes: in.EstimateMinutes,
		AssigneeUserID:  in.AssigneeUserID,
		Notes:           strings.TrimSpace(in.Notes),
		Health:          strings.TrimSpace(in.Health),
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}
	if status == StatusDone {
		ts := now.UTC()
		item.CompletedAt = &ts
	}
	return item, nil
}

// IsArchived reports whether the item is archived.
func (i Item) IsArchived() bool {
	return i.ArchivedAt != nil
}

// SetTitle replaces the title.
func (i *Item) SetTitle(title string, now time.Time) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrInvalidTitle
	}
	i.Title = title
	i.UpdatedAt = now.UTC()
	return nil
}

// SetType replaces the item type.
func (i *Item) SetType(typ ItemType, now time.Time) error {
	typ = NormalizeItemType(typ)
	if !IsValidItemType(typ) {
		return ErrInvalidItemType
	}
	i.Type = typ
	i.UpdatedAt = now.UTC()
	return nil
}

// SetEstimate replaces estimate mode and minutes.
func (i *Item) SetEstimate(mode EstimateMode, minutes int, now time.Time) error {
	mode = NormalizeEstimateMode(mode)
	if !IsValidEstimateMode(mode) {
		return ErrInvalidEstimateMode
	}
	if minutes < 0 {
		return ErrInvalidEstimateMinutes
	}
	i.EstimateMode = mode
	i.EstimateMinutes = minutes
	i.UpdatedAt = now.UTC()
	return nil
}

// SetStatus sets the status and keeps completed_at in step with transitions into and out of done.
func (i *Item) SetStatus(status string, now time.Time) error {
	status = NormalizeStatus(status)
	if status == "" {
		return ErrInvalidStatus
	}
	wasDone := i.Status == StatusDone
	isDone := status == StatusDone
	switch {
	case isDone && !wasDone:
		ts := now.UTC()
		i.CompletedAt = &ts
	case !isDone && wasDone:
		i.CompletedAt = nil
	}
	i.Status = status
	i.UpdatedAt = now.UTC()
	return nil
}

// Reparent moves the item under parentID; an empty parentID makes it a root.
func (i *Item) Reparent(parentID string, now time.Time) error {
	parentID = strings.TrimSpace(parentID)
	if parentID == i.ID {
		return ErrInvalidID
	}
	i.ParentID = parentID
	i.UpdatedAt = now.UTC()
	return nil
}

// Archive stamps archived_at.
func (i *Item) Archive(now time.Time) {
	ts := now.UTC()
	i.ArchivedAt = &ts
	i.UpdatedAt = ts
}

// Restore clears archived_at.
func (i *Item) Restore(now time.Time) {
	i.ArchivedAt = nil
	i.UpdatedAt = now.UTC()
}

// NormalizeItemType canonicalizes an item type value.
func NormalizeItemType(typ ItemType) ItemType {
	return ItemType(strings.TrimSpace(strings.ToLower(string(typ))))
}

// IsValidItemType reports whether typ is a supported item type.
func IsValidItemType(typ ItemType) bool {
	switch typ {
	case ItemTypeMilestone, ItemTypeTask, ItemTypeSubtask:
		return true
	default:
		return false
	}
}

// NormalizeEstimateMode canonicalizes an estimate mode value.
func NormalizeEstimateMode(mode EstimateMode) EstimateMode {
	return EstimateMode(strings.TrimSpace(strings.ToLower(string(mode))))
}

// IsValidEstimateMode reports whether mode is manual or rollup.
func IsValidEstimateMode(mode EstimateMode) bool {
	return mode == EstimateModeManual || mode == EstimateModeRollup
}

// NormalizeStatus canonicalizes a free-form status value.
func NormalizeStatus(status string) string {
	return strings.TrimSpace(strings.ToLower(status))
}

// normalizeTS truncates an optional timestamp to UTC seconds.
func normalizeTS(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	out := ts.UTC().Truncate(time.Second)
	return &out
}
