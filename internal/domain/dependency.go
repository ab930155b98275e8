package domain

import (
	"math"
	"strings"
	"time"
)

// DependencyType names which endpoint of the predecessor gates which endpoint of the successor.
type DependencyType string

// Precedence dependency types.
const (
	DependencyFinishToStart  DependencyType = "FS"
	DependencyStartToStart   DependencyType = "SS"
	DependencyFinishToFinish DependencyType = "FF"
	DependencyStartToFinish  DependencyType = "SF"
)

// Dependency is a directed edge: ItemID depends on DependsOnID.
type Dependency struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"project_id"`
	ItemID      string         `json:"item_id"`
	DependsOnID string         `json:"depends_on_id"`
	Type        DependencyType `json:"type"`
	LagMinutes  int            `json:"lag_minutes"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NewDependency constructs an edge. Self-loops are rejected here; cycles need the graph.
func NewDependency(id, projectID, itemID, dependsOnID string, typ DependencyType, lagMinutes int, now time.Time) (Dependency, error) {
	id = strings.TrimSpace(id)
	projectID = strings.TrimSpace(projectID)
	itemID = strings.TrimSpace(itemID)
	dependsOnID = strings.TrimSpace(dependsOnID)
	if id == "" || projectID == "" || itemID == "" || dependsOnID == "" {
		return Dependency{}, ErrInvalidID
	}
	if typ == "" {
		typ = DependencyFinishToStart
	}
	typ = NormalizeDependencyType(typ)
	if !IsValidDependencyType(typ) {
		return Dependency{}, ErrInvalidDependencyType
	}
	return Dependency{
		ID:          id,
		ProjectID:   projectID,
		ItemID:      itemID,
		DependsOnID: dependsOnID,
		Type:        typ,
		LagMinutes:  lagMinutes,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}, nil
}

// Retune replaces type and lag.
func (d *Dependency) Retune(typ DependencyType, lagMinutes int, now time.Time) error {
	typ = NormalizeDependencyType(typ)
	if !IsValidDependencyType(typ) {
		return ErrInvalidDependencyType
	}
	d.Type = typ
	d.LagMinutes = lagMinutes
	d.UpdatedAt = now.UTC()
	return nil
}

// NormalizeDependencyType canonicalizes a dependency type value.
func NormalizeDependencyType(typ DependencyType) DependencyType {
	return DependencyType(strings.TrimSpace(strings.ToUpper(string(typ))))
}

// IsValidDependencyType reports whether typ is FS, SS, FF or SF.
func IsValidDependencyType(typ DependencyType) bool {
	switch typ {
	case DependencyFinishToStart, DependencyStartToStart, DependencyFinishToFinish, DependencyStartToFinish:
		return true
	default:
		return false
	}
}

// DependencyStatus is the timing state of one dependency edge.
type DependencyStatus string

// Dependency timing states.
const (
	DependencySatisfied DependencyStatus = "satisfied"
	DependencyViolated  DependencyStatus = "violated"
	DependencyUnknown   DependencyStatus = "unknown"
)

// Window is an optional [Start, End] schedule window.
type Window struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// maxLagMinutes is the largest lag a time.Duration can hold; ±Inf exceeds it too.
const maxLagMinutes = float64(math.MaxInt64) / float64(time.Minute)

// EvaluateDependency scores one edge given predecessor and successor windows.
// The lag is added to the predecessor side of the constraint.
func EvaluateDependency(predecessor, successor Window, typ DependencyType, lagMinutes float64) DependencyStatus {
	if math.IsNaN(lagMinutes) || math.Abs(lagMinutes) >= maxLagMinutes {
		return DependencyUnknown
	}
	lag := time.Duration(lagMinutes * float64(time.Minute))

	var gate, gated *time.Time
	switch NormalizeDependencyType(typ) {
	case DependencyFinishToStart:
		gate, gated = predecessor.End, successor.Start
	case DependencyStartToStart:
		gate, gated = predecessor.Start, successor.Start
	case DependencyFinishToFinish:
		gate, gated = predecessor.End, successor.End
	case DependencyStartToFinish:
		gate, gated = predecessor.Start, successor.End
	default:
		return DependencyUnknown
	}
	if !isKnown(gate) || !isKnown(gated) {
		return DependencyUnknown
	}
	if gated.Before(gate.Add(lag)) {
		return DependencyViolated
	}
	return DependencySatisfied
}

// isKnown reports whether an optional timestamp carries a usable value.
func isKnown(ts *time.Time) bool {
	return ts != nil && !ts.IsZero()
}
