package app

import (
	"context"
	"errors"
	"time"

	"github.com/hylla/trellis/internal/domain"
)

type createBlockArgs struct {
	ID              string    `json:"id"`
	ItemID          string    `json:"item_id"`
	StartAt         time.Time `json:"start_at"`
	DurationMinutes int       `json:"duration_minutes"`
}

type moveBlockArgs struct {
	BlockID string    `json:"block_id"`
	StartAt time.Time `json:"start_at"`
}

type resizeBlockArgs struct {
	BlockID         string `json:"block_id"`
	DurationMinutes int    `json:"duration_minutes"`
}

type blockIDArgs struct {
	BlockID string `json:"block_id"`
}

type addBlockerArgs struct {
	ID     string `json:"id"`
	ItemID string `json:"item_id"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

type blockerIDArgs struct {
	BlockerID string `json:"blocker_id"`
}

type startEntryArgs struct {
	ID      string     `json:"id"`
	ItemID  string     `json:"item_id"`
	StartAt *time.Time `json:"start_at"`
}

type stopEntryArgs struct {
	EntryID string     `json:"entry_id"`
	EndAt   *time.Time `json:"end_at"`
}

// blockFieldErr wraps a scheduled-block value error with the argument it came from.
func blockFieldErr(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidDuration):
		return invalidField("duration_minutes", err)
	case errors.Is(err, domain.ErrInvalidStartAt):
		return invalidField("start_at", err)
	default:
		return invalidField("id", err)
	}
}

// editableBlock loads a block whose owning item is active and editable by the acting user.
func editableBlock(ctx context.Context, oc *opContext, blockID string) (domain.ScheduledBlock, error) {
	block, err := fetch(ctx, oc.repo.GetScheduledBlock, "scheduled block", blockID)
	if err != nil {
		return domain.ScheduledBlock{}, err
	}
	if _, err := activeItem(ctx, oc, block.ItemID); err != nil {
		return domain.ScheduledBlock{}, err
	}
	return block, nil
}

func (s *Service) createScheduledBlock(ctx context.Context, oc *opContext, args createBlockArgs) (any, error) {
	item, err := activeItem(ctx, oc, args.ItemID)
	if err != nil {
		return nil, err
	}
	if err := ensureUnused(ctx, oc.repo.GetScheduledBlock, "scheduled block", args.ID); err != nil {
		return nil, err
	}
	block, err := domain.NewScheduledBlock(s.newID(args.ID), item.ID, args.StartAt, args.DurationMinutes, oc.now)
	if err != nil {
		return nil, blockFieldErr(err)
	}
	if err := oc.repo.CreateScheduledBlock(ctx, block); err != nil {
		return nil, err
	}
	return block, nil
}

func (s *Service) moveScheduledBlock(ctx context.Context, oc *opContext, args moveBlockArgs) (any, error) {
	block, err := editableBlock(ctx, oc, args.BlockID)
	if err != nil {
		return nil, err
	}
	if err := block.Move(args.StartAt, oc.now); err != nil {
		return nil, blockFieldErr(err)
	}
	if err := oc.repo.UpdateScheduledBlock(ctx, block); err != nil {
		return nil, err
	}
	return block, nil
}

func (s *Service) resizeScheduledBlock(ctx context.Context, oc *opContext, args resizeBlockArgs) (any, error) {
	block, err := editableBlock(ctx, oc, args.BlockID)
	if err != nil {
		return nil, err
	}
	if err := block.Resize(args.DurationMinutes, oc.now); err != nil {
		return nil, blockFieldErr(err)
	}
	if err := oc.repo.UpdateScheduledBlock(ctx, block); err != nil {
		return nil, err
	}
	return block, nil
}

func (s *Service) deleteScheduledBlock(ctx context.Context, oc *opContext, args blockIDArgs) (any, error) {
	block, err := editableBlock(ctx, oc, args.BlockID)
	if err != nil {
		return nil, err
	}
	if err := oc.repo.DeleteScheduledBlock(ctx, block.ID); err != nil {
		return nil, err
	}
	return DeletedResult{DeletedIDs: []string{block.ID}}, nil
}

func (s *Service) addBlocker(ctx context.Context, oc *opContext, args addBlockerArgs) (any, error) {
	item, err := activeItem(ctx, oc, args.ItemID)
	if err != nil {
		return nil, err
	}
	if err := ensureUnused(ctx, oc.repo.GetBlocker, "blocker", args.ID); err != nil {
		return nil, err
	}
	blocker, err := domain.NewBlocker(s.newID(args.ID), item.ID, args.Kind, args.Reason, oc.now)
	if err != nil {
		return nil, invalidField("id", err)
	}
	if err := oc.repo.CreateBlocker(ctx, blocker); err != nil {
		return nil, err
	}
	return blocker, nil
}

func (s *Service) clearBlocker(ctx context.Context, oc *opContext, args blockerIDArgs) (any, error) {
	blocker, err := fetch(ctx, oc.repo.GetBlocker, "blocker", args.BlockerID)
	if err != nil {
		return nil, err
	}
	if _, err := editableItem(ctx, oc, blocker.ItemID); err != nil {
		return nil, err
	}
	if !blocker.IsActive() {
		return blocker, nil
	}
	blocker.Clear(oc.now)
	if err := oc.repo.UpdateBlocker(ctx, blocker); err != nil {
		return nil, err
	}
	return blocker, nil
}

func (s *Service) startTimeEntry(ctx context.Context, oc *opContext, args startEntryArgs) (any, error) {
	item, err := activeItem(ctx, oc, args.ItemID)
	if err != nil {
		return nil, err
	}
	if err := ensureUnused(ctx, oc.repo.GetTimeEntry, "time entry", args.ID); err != nil {
		return nil, err
	}
	startAt := oc.now
	if args.StartAt != nil {
		startAt = *args.StartAt
	}
	entry, err := domain.NewTimeEntry(s.newID(args.ID), item.ID, startAt)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidStartAt) {
			return nil, invalidField("start_at", err)
		}
		return nil, invalidField("id", err)
	}
	if err := oc.repo.CreateTimeEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) stopTimeEntry(ctx context.Context, oc *opContext, args stopEntryArgs) (any, error) {
	entry, err := fetch(ctx, oc.repo.GetTimeEntry, "time entry", args.EntryID)
	if err != nil {
		return nil, err
	}
	if _, err := editableItem(ctx, oc, entry.ItemID); err != nil {
		return nil, err
	}
	if !entry.IsRunning() {
		return nil, conflictf("time entry %q is already stopped", entry.ID)
	}
	endAt := oc.now
	if args.EndAt != nil {
		endAt = *args.EndAt
	}
	if err := entry.Stop(endAt); err != nil {
		return nil, invalidField("end_at", err)
	}
	if err := oc.repo.UpdateTimeEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
