package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/hylla/trellis/internal/domain"
	"github.com/hylla/trellis/internal/telemetry"
)

// Operation names.
const (
	OpProjectCreate       = "project.create"
	OpProjectUpdate       = "project.update"
	OpProjectMemberAdd    = "project.member_add"
	OpProjectMemberUpdate = "project.member_update"
	OpProjectMemberRemove = "project.member_remove"
	OpItemCreate          = "item.create"
	OpItemUpdate          = "item.update"
	OpItemSetStatus       = "item.set_status"
	OpItemArchive         = "item.archive"
	OpItemRestore         = "item.restore"
	OpItemDelete          = "item.delete"
	OpItemBulkDelete      = "item.bulk_delete"
	OpBlockCreate         = "scheduled_block.create"
	OpBlockMove           = "scheduled_block.move"
	OpBlockResize         = "scheduled_block.resize"
	OpBlockDelete         = "scheduled_block.delete"
	OpDependencyAdd       = "dependency.add"
	OpDependencyUpdate    = "dependency.update"
	OpDependencyRemove    = "dependency.remove"
	OpBlockerAdd          = "blocker.add"
	OpBlockerClear        = "blocker.clear"
	OpTimeEntryStart      = "time_entry.start"
	OpTimeEntryStop       = "time_entry.stop"
)

// Operation is one named command with raw JSON arguments.
type Operation struct {
	Name string          `json:"op_name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// OpResult is the outcome of one applied operation.
type OpResult struct {
	OpName string `json:"op_name"`
	OK     bool   `json:"ok"`
	Result any    `json:"result"`
}

// BatchResult is returned for a committed batch.
type BatchResult struct {
	Results            []OpResult `json:"results"`
	AffectedProjectIDs []string   `json:"affected_project_ids"`
	AffectedUserIDs    []string   `json:"affected_user_ids"`
}

// DeletedResult is the result shape of delete operations.
type DeletedResult struct {
	DeletedIDs []string `json:"deleted_ids"`
}

// affectedIDs accumulates the projects and users touched by a batch.
type affectedIDs struct {
	projects map[string]struct{}
	users    map[string]struct{}
}

func newAffectedIDs() *affectedIDs {
	return &affectedIDs{projects: map[string]struct{}{}, users: map[string]struct{}{}}
}

func (a *affectedIDs) addProject(id string) {
	if id != "" {
		a.projects[id] = struct{}{}
	}
}

func (a *affectedIDs) addUser(id string) {
	if id != "" {
		a.users[id] = struct{}{}
	}
}

func setToSorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// opContext carries per-operation state through a handler.
type opContext struct {
	repo      Repository
	userID    string
	now       time.Time
	projectID string
	affected  *affectedIDs
}

// touchProject records the project an operation writes to.
func (oc *opContext) touchProject(id string) {
	if oc.projectID == "" {
		oc.projectID = id
	}
	oc.affected.addProject(id)
}

type opRunner func(*Service, context.Context, *opContext, json.RawMessage) (any, error)

// handle adapts a typed handler into an opRunner that decodes its arguments first.
func handle[A any](fn func(*Service, context.Context, *opContext, A) (any, error)) opRunner {
	return func(s *Service, ctx context.Context, oc *opContext, raw json.RawMessage) (any, error) {
		var args A
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return fn(s, ctx, oc, args)
	}
}

var opHandlers = map[string]opRunner{
	OpProjectCreate:       handle((*Service).createProject),
	OpProjectUpdate:       handle((*Service).updateProject),
	OpProjectMemberAdd:    handle((*Service).addMember),
	OpProjectMemberUpdate: handle((*Service).updateMember),
	OpProjectMemberRemove: handle((*Service).removeMember),
	OpItemCreate:          handle((*Service).createItem),
	OpItemUpdate:          handle((*Service).updateItem),
	OpItemSetStatus:       handle((*Service).setItemStatus),
	OpItemArchive:         handle((*Service).archiveItem),
	OpItemRestore:         handle((*Service).restoreItem),
	OpItemDelete:          handle((*Service).deleteItem),
	OpItemBulkDelete:      handle((*Service).bulkDeleteItems),
	OpBlockCreate:         handle((*Service).createScheduledBlock),
	OpBlockMove:           handle((*Service).moveScheduledBlock),
	OpBlockResize:         handle((*Service).resizeScheduledBlock),
	OpBlockDelete:         handle((*Service).deleteScheduledBlock),
	OpDependencyAdd:       handle((*Service).addDependency),
	OpDependencyUpdate:    handle((*Service).updateDependency),
	OpDependencyRemove:    handle((*Service).removeDependency),
	OpBlockerAdd:          handle((*Service).addBlocker),
	OpBlockerClear:        handle((*Service).clearBlocker),
	OpTimeEntryStart:      handle((*Service).startTimeEntry),
	OpTimeEntryStop:       handle((*Service).stopTimeEntry),
}

// OperationNames lists every supported operation name in sorted order.
func OperationNames() []string {
	return sortedKeys(opHandlers)
}

// ApplyOps runs ops in order inside one transaction on behalf of userID.
//
// Either every operation commits or none does; the returned error names the failing op.
func (s *Service) ApplyOps(ctx context.Context, userID string, ops []Operation) (BatchResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return BatchResult{}, invalidField("user_id", nil)
	}
	if len(ops) == 0 {
		return BatchResult{Results: []OpResult{}, AffectedProjectIDs: []string{}, AffectedUserIDs: []string{}}, nil
	}
	if len(ops) > s.maxOps {
		return BatchResult{}, fmt.Errorf("%w: ops: batch has %d operations, limit is %d", ErrValidation, len(ops), s.maxOps)
	}
	return s.applyBatch(ctx, userID, ops)
}

// applyBatch validates and commits ops in one transaction without the batch size cap.
// Callers have already checked userID and that ops is non-empty.
func (s *Service) applyBatch(ctx context.Context, userID string, ops []Operation) (BatchResult, error) {
	for i, op := range ops {
		if _, ok := opHandlers[op.Name]; !ok {
			return BatchResult{}, fmt.Errorf("op %d (%s): %w", i, op.Name, ErrUnknownOperation)
		}
		if err := s.validator.Validate(op.Name, op.Args); err != nil {
			return BatchResult{}, fmt.Errorf("op %d (%s): %w", i, op.Name, err)
		}
	}

	started := time.Now()
	ctx, span := telemetry.StartSpan(ctx, s.tracer, "trellis.apply_ops",
		telemetry.AttrUserID.String(userID),
		telemetry.AttrOpCount.Int(len(ops)),
	)
	defer span.End()
	s.log.Debug("applying batch", "user_id", userID, "ops", len(ops))

	var (
		results  []OpResult
		affected *affectedIDs
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, repo Repository) error {
		results = make([]OpResult, 0, len(ops))
		affected = newAffectedIDs()
		for i, op := range ops {
			result, err := s.applyOne(ctx, repo, userID, i, op, affected)
			if err != nil {
				return err
			}
			results = append(results, OpResult{OpName: op.Name, OK: true, Result: result})
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.BatchesFailed.Add(ctx, 1)
		s.log.Warn("batch aborted", "user_id", userID, "ops", len(ops), "kind", ErrorKind(err), "err", err)
		return BatchResult{}, err
	}

	s.metrics.OpsApplied.Add(ctx, int64(len(ops)))
	s.metrics.BatchDuration.Record(ctx, time.Since(started).Seconds())
	out := BatchResult{
		Results:            results,
		AffectedProjectIDs: setToSorted(affected.projects),
		AffectedUserIDs:    setToSorted(affected.users),
	}
	s.log.Info("batch committed", "user_id", userID, "ops", len(ops), "projects", len(out.AffectedProjectIDs))
	return out, nil
}

// applyOne runs one operation and appends its op-log row.
func (s *Service) applyOne(ctx context.Context, repo Repository, userID string, index int, op Operation, affected *affectedIDs) (any, error) {
	ctx, span := telemetry.StartSpan(ctx, s.tracer, "trellis.op",
		telemetry.AttrOpName.String(op.Name),
		telemetry.AttrOpIndex.Int(index),
	)
	defer span.End()

	oc := &opContext{repo: repo, userID: userID, now: s.now(), affected: affected}
	result, err := opHandlers[op.Name](s, ctx, oc, op.Args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("op %d (%s): %w", index, op.Name, err)
	}
	span.SetAttributes(telemetry.AttrProjectID.String(oc.projectID))

	args := op.Args
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage(`{}`)
	}
	entry := domain.OpLogEntry{
		UserID:    userID,
		ProjectID: oc.projectID,
		OpName:    op.Name,
		Args:      args,
		CreatedAt: oc.now,
	}
	if err := repo.AppendOpLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("op %d (%s): append op log: %w", index, op.Name, err)
	}
	return result, nil
}
