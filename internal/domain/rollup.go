package domain

import (
	"slices"
	"time"
)

// RollupInput is an immutable snapshot of one project's items and their per-item signals.
type RollupInput struct {
	Items          []Item
	Windows        map[string]Window
	Blocked        map[string]bool
	Overdue        map[string]bool
	TrackedMinutes map[string]int
}

// ItemRollup is the aggregate of one item and its descendants.
type ItemRollup struct {
	ItemID        string     `json:"item_id"`
	TotalEstimate int        `json:"total_estimate"`
	TotalActual   int        `json:"total_actual"`
	StartAt       *time.Time `json:"rollup_start_at,omitempty"`
	EndAt         *time.Time `json:"rollup_end_at,omitempty"`
	BlockedCount  int        `json:"rollup_blocked_count"`
	OverdueCount  int        `json:"rollup_overdue_count"`
}

// ComputeRollups aggregates every item bottom-up over the parent/child tree.
//
// Items whose parent is absent from the snapshot are treated as roots. The result does not depend
// on the order of in.Items.
func ComputeRollups(in RollupInput) map[string]ItemRollup {
	byID := make(map[string]Item, len(in.Items))
	for _, item := range in.Items {
		byID[item.ID] = item
	}
	children := make(map[string][]string, len(in.Items))
	ids := make([]string, 0, len(byID))
	for id, item := range byID {
		ids = append(ids, id)
		if item.ParentID == "" {
			continue
		}
		if _, ok := byID[item.ParentID]; ok {
			children[item.ParentID] = append(children[item.ParentID], id)
		}
	}
	slices.Sort(ids)
	for parentID := range children {
		slices.Sort(children[parentID])
	}

	out := make(map[string]ItemRollup, len(byID))
	type frame struct {
		id       string
		expanded bool
	}
	onStack := map[string]bool{}
	for _, start := range ids {
		if _, done := out[start]; done {
			continue
		}
		stack := []frame{{id: start}}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, done := out[top.id]; done {
				continue
			}
			if !top.expanded {
				if onStack[top.id] {
					continue
				}
				onStack[top.id] = true
				stack = append(stack, frame{id: top.id, expanded: true})
				for _, childID := range children[top.id] {
					if _, done := out[childID]; !done && !onStack[childID] {
						stack = append(stack, frame{id: childID})
					}
				}
				continue
			}
			out[top.id] = aggregateItem(byID[top.id], children[top.id], out, in)
			delete(onStack, top.id)
		}
	}
	return out
}

// aggregateItem folds one item with its already-aggregated children.
func aggregateItem(item Item, childIDs []string, done map[string]ItemRollup, in RollupInput) ItemRollup {
	r := ItemRollup{
		ItemID:      item.ID,
		TotalActual: in.TrackedMinutes[item.ID],
	}
	if in.Blocked[item.ID] {
		r.BlockedCount = 1
	}
	if in.Overdue[item.ID] {
		r.OverdueCount = 1
	}
	own := in.Windows[item.ID]
	r.StartAt = earliest(r.StartAt, own.Start)
	r.EndAt = latest(r.EndAt, own.End)

	childEstimate := 0
	for _, childID := range childIDs {
		child, ok := done[childID]
		if !ok {
			continue
		}
		childEstimate += child.TotalEstimate
		r.TotalActual += child.TotalActual
		r.BlockedCount += child.BlockedCount
		r.OverdueCount += child.OverdueCount
		r.StartAt = earliest(r.StartAt, child.StartAt)
		r.EndAt = latest(r.EndAt, child.EndAt)
	}
	if item.EstimateMode == EstimateModeRollup {
		r.TotalEstimate = childEstimate
	} else {
		r.TotalEstimate = item.EstimateMinutes
	}
	return r
}

func earliest(a, b *time.Time) *time.Time {
	if !isKnown(b) {
		return a
	}
	if a == nil || b.Before(*a) {
		v := *b
		return &v
	}
	return a
}

func latest(a, b *time.Time) *time.Time {
	if !isKnown(b) {
		return a
	}
	if a == nil || b.After(*a) {
		v := *b
		return &v
	}
	return a
}
