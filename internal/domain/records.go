package domain

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// ScheduledBlock reserves a calendar window for an item.
type ScheduledBlock struct {
	ID              string    `json:"id"`
	ItemID          string    `json:"item_id"`
	StartAt         time.Time `json:"start_at"`
	DurationMinutes int       `json:"duration_minutes"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewScheduledBlock validates and constructs a scheduled block.
func NewScheduledBlock(id, itemID string, startAt time.Time, durationMinutes int, now time.Time) (ScheduledBlock, error) {
	id = strings.TrimSpace(id)
	itemID = strings.TrimSpace(itemID)
	if id == "" || itemID == "" {
		return ScheduledBlock{}, ErrInvalidID
	}
	if startAt.IsZero() {
		return ScheduledBlock{}, ErrInvalidStartAt
	}
	if durationMinutes <= 0 {
		return ScheduledBlock{}, ErrInvalidDuration
	}
	return ScheduledBlock{
		ID:              id,
		ItemID:          itemID,
		StartAt:         startAt.UTC(),
		DurationMinutes: durationMinutes,
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}, nil
}

// EndAt returns the block end.
func (b ScheduledBlock) EndAt() time.Time {
	return b.StartAt.Add(time.Duration(b.DurationMinutes) * time.Minute)
}

// Move sets a new start time.
func (b *ScheduledBlock) Move(startAt time.Time, now time.Time) error {
	if startAt.IsZero() {
		return ErrInvalidStartAt
	}
	b.StartAt = startAt.UTC()
	b.UpdatedAt = now.UTC()
	return nil
}

// Resize sets a new duration.
func (b *ScheduledBlock) Resize(durationMinutes int, now time.Time) error {
	if durationMinutes <= 0 {
		return ErrInvalidDuration
	}
	b.DurationMinutes = durationMinutes
	b.UpdatedAt = now.UTC()
	return nil
}

// Blocker records a reason an item cannot progress; a nil ClearedAt means active.
type Blocker struct {
	ID        string     `json:"id"`
	ItemID    string     `json:"item_id"`
	Kind      string     `json:"kind"`
	Reason    string     `json:"reason"`
	CreatedAt time.Time  `json:"created_at"`
	ClearedAt *time.Time `json:"cleared_at,omitempty"`
}

// NewBlocker constructs an active blocker.
func NewBlocker(id, itemID, kind, reason string, now time.Time) (Blocker, error) {
	id = strings.TrimSpace(id)
	itemID = strings.TrimSpace(itemID)
	if id == "" || itemID == "" {
		return Blocker{}, ErrInvalidID
	}
	kind = strings.TrimSpace(strings.ToLower(kind))
	if kind == "" {
		kind = "general"
	}
	return Blocker{
		ID:        id,
		ItemID:    itemID,
		Kind:      kind,
		Reason:    strings.TrimSpace(reason),
		CreatedAt: now.UTC(),
	}, nil
}

// IsActive reports whether the blocker has not been cleared.
func (b Blocker) IsActive() bool {
	return b.ClearedAt == nil
}

// Clear stamps cleared_at; clearing twice keeps the first timestamp.
func (b *Blocker) Clear(now time.Time) {
	if b.ClearedAt != nil {
		return
	}
	ts := now.UTC()
	b.ClearedAt = &ts
}

// TimeEntry is one tracked interval; a nil EndAt means the timer is running.
type TimeEntry struct {
	ID              string     `json:"id"`
	ItemID          string     `json:"item_id"`
	StartAt         time.Time  `json:"start_at"`
	EndAt           *time.Time `json:"end_at,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
}

// NewTimeEntry constructs a running time entry.
func NewTimeEntry(id, itemID string, startAt time.Time) (TimeEntry, error) {
	id = strings.TrimSpace(id)
	itemID = strings.TrimSpace(itemID)
	if id == "" || itemID == "" {
		return TimeEntry{}, ErrInvalidID
	}
	if startAt.IsZero() {
		return TimeEntry{}, ErrInvalidStartAt
	}
	return TimeEntry{
		ID:      id,
		ItemID:  itemID,
		StartAt: startAt.UTC(),
	}, nil
}

// IsRunning reports whether the entry has not been stopped.
func (e TimeEntry) IsRunning() bool {
	return e.EndAt == nil
}

// Stop sets end_at and the rounded duration in minutes.
func (e *TimeEntry) Stop(endAt time.Time) error {
	if endAt.Before(e.StartAt) {
		return ErrInvalidTimeRange
	}
	end := endAt.UTC()
	minutes := int(math.Round(end.Sub(e.StartAt).Minutes()))
	e.EndAt = &end
	e.DurationMinutes = &minutes
	return nil
}

// OpLogEntry is one append-only audit row for an applied operation.
type OpLogEntry struct {
	ID        int64           `json:"id"`
	UserID    string          `json:"user_id"`
	ProjectID string          `json:"project_id,omitempty"`
	OpName    string          `json:"op_name"`
	Args      json.RawMessage `json:"args"`
	CreatedAt time.Time       `json:"created_at"`
}
