package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/hylla/trellis/internal/domain"
)

// CreateProject creates project.
func (r *repo) CreateProject(ctx context.Context, p domain.Project) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO projects(id, title, owner_user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.Title, p.OwnerUserID, ts(p.CreatedAt), ts(p.UpdatedAt))
	return err
}

// UpdateProject updates project.
func (r *repo) UpdateProject(ctx context.Context, p domain.Project) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE projects SET title = ?, owner_user_id = ?, updated_at = ? WHERE id = ?
	`, p.Title, p.OwnerUserID, ts(p.UpdatedAt), p.ID)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// GetProject returns project.
func (r *repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, title, owner_user_id, created_at, updated_at FROM projects WHERE id = ?
	`, id)
	var (
		p                      domain.Project
		createdRaw, updatedRaw string
	)
	if err := row.Scan(&p.ID, &p.Title, &p.OwnerUserID, &createdRaw, &updatedRaw); err != nil {
		return domain.Project{}, noRows(err)
	}
	p.CreatedAt = parseTS(createdRaw)
	p.UpdatedAt = parseTS(updatedRaw)
	return p, nil
}

// UpsertMember inserts a membership or replaces its role.
func (r *repo) UpsertMember(ctx context.Context, m domain.ProjectMember) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO project_members(project_id, user_id, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_id, user_id) DO UPDATE SET role = excluded.role, updated_at = excluded.updated_at
	`, m.ProjectID, m.UserID, string(m.Role), ts(m.CreatedAt), ts(m.UpdatedAt))
	return err
}

// GetMember returns one membership.
func (r *repo) GetMember(ctx context.Context, projectID, userID string) (domain.ProjectMember, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+memberColumns+`
		FROM project_members
		WHERE project_id = ? AND user_id = ?
	`, projectID, userID)
	return scanMember(row)
}

// ListMembers lists a project's memberships ordered by user id.
func (r *repo) ListMembers(ctx context.Context, projectID string) ([]domain.ProjectMember, error) {
	return queryAll(ctx, r.q, scanMember, `SELECT `+memberColumns+` FROM project_members WHERE project_id = ? ORDER BY user_id ASC`, projectID)
}

const memberColumns = `project_id, user_id, role, created_at, updated_at`

func scanMember(s scanner) (domain.ProjectMember, error) {
	var (
		m                      domain.ProjectMember
		roleRaw                string
		createdRaw, updatedRaw string
	)
	if err := s.Scan(&m.ProjectID, &m.UserID, &roleRaw, &createdRaw, &updatedRaw); err != nil {
		return domain.ProjectMember{}, noRows(err)
	}
	m.Role = domain.Role(roleRaw)
	m.CreatedAt = parseTS(createdRaw)
	m.UpdatedAt = parseTS(updatedRaw)
	return m, nil
}

// DeleteMember removes one membership.
func (r *repo) DeleteMember(ctx context.Context, projectID, userID string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM project_members WHERE project_id = ? AND user_id = ?`, projectID, userID)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

const itemColumns = `id, project_id, parent_id, type, title, status, priority, due_at, estimate_mode,
	estimate_minutes, assignee_user_id, notes, health, created_at, updated_at, completed_at, archived_at`

// CreateItem creates item.
func (r *repo) CreateItem(ctx context.Context, item domain.Item) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO items(`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.ID, item.ProjectID, item.ParentID, string(item.Type), item.Title, item.Status, item.Priority,
		nullableTS(item.DueAt), string(item.EstimateMode), item.EstimateMinutes, item.AssigneeUserID,
		item.Notes, item.Health, ts(item.CreatedAt), ts(item.UpdatedAt), nullableTS(item.CompletedAt),
		nullableTS(item.ArchivedAt),
	)
	return err
}

// UpdateItem updates item.
func (r *repo) UpdateItem(ctx context.Context, item domain.Item) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE items
		SET parent_id = ?, type = ?, title = ?, status = ?, priority = ?, due_at = ?, estimate_mode = ?,
			estimate_minutes = ?, assignee_user_id = ?, notes = ?, health = ?, updated_at = ?,
			completed_at = ?, archived_at = ?
		WHERE id = ?
	`,
		item.ParentID, string(item.Type), item.Title, item.Status, item.Priority, nullableTS(item.DueAt),
		string(item.EstimateMode), item.EstimateMinutes, item.AssigneeUserID, item.Notes, item.Health,
		ts(item.UpdatedAt), nullableTS(item.CompletedAt), nullableTS(item.ArchivedAt), item.ID,
	)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// GetItem returns item.
func (r *repo) GetItem(ctx context.Context, id string) (domain.Item, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	return scanItem(row)
}

// ListItems lists every item of a project, archived included.
func (r *repo) ListItems(ctx context.Context, projectID string) ([]domain.Item, error) {
	return queryAll(ctx, r.q, scanItem, `SELECT `+itemColumns+` FROM items WHERE project_id = ? ORDER BY id ASC`, projectID)
}

// ListChildIDs lists the direct children of parentID.
func (r *repo) ListChildIDs(ctx context.Context, parentID string) ([]string, error) {
	return queryStrings(ctx, r.q, `SELECT id FROM items WHERE parent_id = ? ORDER BY id ASC`, parentID)
}

// deleteChunkSize bounds bind variables per statement; the dependencies delete binds each id twice.
const deleteChunkSize = 500

// DeleteItems deletes the items and every row referencing them, in chunks of ids so large subtrees
// stay under SQLite's bind variable limit.
func (r *repo) DeleteItems(ctx context.Context, ids []string) error {
	for chunk := range slices.Chunk(ids, deleteChunkSize) {
		if err := r.deleteItemChunk(ctx, chunk); err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
	}
	return nil
}

func (r *repo) deleteItemChunk(ctx context.Context, ids []string) error {
	in := placeholders(len(ids))
	args := stringArgs(ids)
	stmts := []struct {
		query string
		args  []any
	}{
		{`DELETE FROM dependencies WHERE item_id IN (` + in + `) OR depends_on_id IN (` + in + `)`, append(slices.Clone(args), args...)},
		{`DELETE FROM scheduled_blocks WHERE item_id IN (` + in + `)`, args},
		{`DELETE FROM blockers WHERE item_id IN (` + in + `)`, args},
		{`DELETE FROM time_entries WHERE item_id IN (` + in + `)`, args},
		{`DELETE FROM items WHERE id IN (` + in + `)`, args},
	}
	for _, stmt := range stmts {
		if _, err := r.q.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			return err
		}
	}
	return nil
}

// scanItem decodes one items row.
func scanItem(s scanner) (domain.Item, error) {
	var (
		item                   domain.Item
		typeRaw, modeRaw       string
		dueRaw, completedRaw   sql.NullString
		archivedRaw            sql.NullString
		createdRaw, updatedRaw string
	)
	if err := s.Scan(
		&item.ID,
		&item.ProjectID,
		&item.ParentID,
		&typeRaw,
		&item.Title,
		&item.Status,
		&item.Priority,
		&dueRaw,
		&modeRaw,
		&item.EstimateMinutes,
		&item.AssigneeUserID,
		&item.Notes,
		&item.Health,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
		&archivedRaw,
	); err != nil {
		return domain.Item{}, noRows(err)
	}
	item.Type = domain.ItemType(typeRaw)
	item.EstimateMode = domain.EstimateMode(modeRaw)
	item.DueAt = parseNullTS(dueRaw)
	item.CreatedAt = parseTS(createdRaw)
	item.UpdatedAt = parseTS(updatedRaw)
	item.CompletedAt = parseNullTS(completedRaw)
	item.ArchivedAt = parseNullTS(archivedRaw)
	return item, nil
}

const dependencyColumns = `id, project_id, item_id, depends_on_id, type, lag_minutes, created_at, updated_at`

// CreateDependency creates dependency.
func (r *repo) CreateDependency(ctx context.Context, dep domain.Dependency) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO dependencies(`+dependencyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, dep.ID, dep.ProjectID, dep.ItemID, dep.DependsOnID, string(dep.Type), dep.LagMinutes, ts(dep.CreatedAt), ts(dep.UpdatedAt))
	return err
}

// UpdateDependency updates the edge's type and lag.
func (r *repo) UpdateDependency(ctx context.Context, dep domain.Dependency) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE dependencies SET type = ?, lag_minutes = ?, updated_at = ? WHERE id = ?
	`, string(dep.Type), dep.LagMinutes, ts(dep.UpdatedAt), dep.ID)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// GetDependency returns dependency.
func (r *repo) GetDependency(ctx context.Context, id string) (domain.Dependency, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+dependencyColumns+` FROM dependencies WHERE id = ?`, id)
	return scanDependency(row)
}

// GetDependencyByPair returns the edge item_id -> depends_on_id.
func (r *repo) GetDependencyByPair(ctx context.Context, itemID, dependsOnID string) (domain.Dependency, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+dependencyColumns+` FROM dependencies WHERE item_id = ? AND depends_on_id = ?
	`, itemID, dependsOnID)
	return scanDependency(row)
}

// DeleteDependency deletes dependency.
func (r *repo) DeleteDependency(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM dependencies WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// ListDependsOnIDs lists the predecessors of itemID.
func (r *repo) ListDependsOnIDs(ctx context.Context, itemID string) ([]string, error) {
	return queryStrings(ctx, r.q, `SELECT depends_on_id FROM dependencies WHERE item_id = ? ORDER BY depends_on_id ASC`, itemID)
}

// ListDependencies lists every edge of a project.
func (r *repo) ListDependencies(ctx context.Context, projectID string) ([]domain.Dependency, error) {
	return queryAll(ctx, r.q, scanDependency, `SELECT `+dependencyColumns+` FROM dependencies WHERE project_id = ? ORDER BY id ASC`, projectID)
}

func scanDependency(s scanner) (domain.Dependency, error) {
	var (
		dep                    domain.Dependency
		typeRaw                string
		createdRaw, updatedRaw string
	)
	if err := s.Scan(&dep.ID, &dep.ProjectID, &dep.ItemID, &dep.DependsOnID, &typeRaw, &dep.LagMinutes, &createdRaw, &updatedRaw); err != nil {
		return domain.Dependency{}, noRows(err)
	}
	dep.Type = domain.DependencyType(typeRaw)
	dep.CreatedAt = parseTS(createdRaw)
	dep.UpdatedAt = parseTS(updatedRaw)
	return dep, nil
}

const blockColumns = `b.id, b.item_id, b.start_at, b.duration_minutes, b.created_at, b.updated_at`

// CreateScheduledBlock creates a scheduled block.
func (r *repo) CreateScheduledBlock(ctx context.Context, b domain.ScheduledBlock) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO scheduled_blocks(id, item_id, start_at, duration_minutes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.ID, b.ItemID, ts(b.StartAt), b.DurationMinutes, ts(b.CreatedAt), ts(b.UpdatedAt))
	return err
}

// UpdateScheduledBlock updates a scheduled block.
func (r *repo) UpdateScheduledBlock(ctx context.Context, b domain.ScheduledBlock) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE scheduled_blocks SET start_at = ?, duration_minutes = ?, updated_at = ? WHERE id = ?
	`, ts(b.StartAt), b.DurationMinutes, ts(b.UpdatedAt), b.ID)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// GetScheduledBlock returns a scheduled block.
func (r *repo) GetScheduledBlock(ctx context.Context, id string) (domain.ScheduledBlock, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM scheduled_blocks b WHERE b.id = ?`, id)
	return scanBlock(row)
}

// DeleteScheduledBlock deletes a scheduled block.
func (r *repo) DeleteScheduledBlock(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM scheduled_blocks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// ListScheduledBlocks lists the blocks of every item in a project.
func (r *repo) ListScheduledBlocks(ctx context.Context, projectID string) ([]domain.ScheduledBlock, error) {
	return queryAll(ctx, r.q, scanBlock, `
		SELECT `+blockColumns+`
		FROM scheduled_blocks b JOIN items i ON i.id = b.item_id
		WHERE i.project_id = ?
		ORDER BY b.start_at ASC, b.id ASC
	`, projectID)
}

func scanBlock(s scanner) (domain.ScheduledBlock, error) {
	var (
		b                                domain.ScheduledBlock
		startRaw, createdRaw, updatedRaw string
	)
	if err := s.Scan(&b.ID, &b.ItemID, &startRaw, &b.DurationMinutes, &createdRaw, &updatedRaw); err != nil {
		return domain.ScheduledBlock{}, noRows(err)
	}
	b.StartAt = parseTS(startRaw)
	b.CreatedAt = parseTS(createdRaw)
	b.UpdatedAt = parseTS(updatedRaw)
	return b, nil
}

const blockerColumns = `k.id, k.item_id, k.kind, k.reason, k.created_at, k.cleared_at`

// CreateBlocker creates blocker.
func (r *repo) CreateBlocker(ctx context.Context, b domain.Blocker) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO blockers(id, item_id, kind, reason, created_at, cleared_at) VALUES (?, ?, ?, ?, ?, ?)
	`, b.ID, b.ItemID, b.Kind, b.Reason, ts(b.CreatedAt), nullableTS(b.ClearedAt))
	return err
}

// UpdateBlocker persists the blocker's clearance.
func (r *repo) UpdateBlocker(ctx context.Context, b domain.Blocker) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE blockers SET kind = ?, reason = ?, cleared_at = ? WHERE id = ?
	`, b.Kind, b.Reason, nullableTS(b.ClearedAt), b.ID)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// GetBlocker returns blocker.
func (r *repo) GetBlocker(ctx context.Context, id string) (domain.Blocker, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+blockerColumns+` FROM blockers k WHERE k.id = ?`, id)
	return scanBlocker(row)
}

// ListBlockers lists the blockers of every item in a project.
func (r *repo) ListBlockers(ctx context.Context, projectID string) ([]domain.Blocker, error) {
	return queryAll(ctx, r.q, scanBlocker, `
		SELECT `+blockerColumns+`
		FROM blockers k JOIN items i ON i.id = k.item_id
		WHERE i.project_id = ?
		ORDER BY k.created_at ASC, k.id ASC
	`, projectID)
}

func scanBlocker(s scanner) (domain.Blocker, error) {
	var (
		b          domain.Blocker
		createdRaw string
		clearedRaw sql.NullString
	)
	if err := s.Scan(&b.ID, &b.ItemID, &b.Kind, &b.Reason, &createdRaw, &clearedRaw); err != nil {
		return domain.Blocker{}, noRows(err)
	}
	b.CreatedAt = parseTS(createdRaw)
	b.ClearedAt = parseNullTS(clearedRaw)
	return b, nil
}

const entryColumns = `e.id, e.item_id, e.start_at, e.end_at, e.duration_minutes`

// CreateTimeEntry creates a time entry.
func (r *repo) CreateTimeEntry(ctx context.Context, e domain.TimeEntry) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO time_entries(id, item_id, start_at, end_at, duration_minutes) VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.ItemID, ts(e.StartAt), nullableTS(e.EndAt), nullableInt(e.DurationMinutes))
	return err
}

// UpdateTimeEntry persists the entry's stop.
func (r *repo) UpdateTimeEntry(ctx context.Context, e domain.TimeEntry) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE time_entries SET start_at = ?, end_at = ?, duration_minutes = ? WHERE id = ?
	`, ts(e.StartAt), nullableTS(e.EndAt), nullableInt(e.DurationMinutes), e.ID)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// GetTimeEntry returns a time entry.
func (r *repo) GetTimeEntry(ctx context.Context, id string) (domain.TimeEntry, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM time_entries e WHERE e.id = ?`, id)
	return scanEntry(row)
}

// ListTimeEntries lists the entries of every item in a project.
func (r *repo) ListTimeEntries(ctx context.Context, projectID string) ([]domain.TimeEntry, error) {
	return queryAll(ctx, r.q, scanEntry, `
		SELECT `+entryColumns+`
		FROM time_entries e JOIN items i ON i.id = e.item_id
		WHERE i.project_id = ?
		ORDER BY e.start_at ASC, e.id ASC
	`, projectID)
}

func scanEntry(s scanner) (domain.TimeEntry, error) {
	var (
		e        domain.TimeEntry
		startRaw string
		endRaw   sql.NullString
		duration sql.NullInt64
	)
	if err := s.Scan(&e.ID, &e.ItemID, &startRaw, &endRaw, &duration); err != nil {
		return domain.TimeEntry{}, noRows(err)
	}
	e.StartAt = parseTS(startRaw)
	e.EndAt = parseNullTS(endRaw)
	if duration.Valid {
		minutes := int(duration.Int64)
		e.DurationMinutes = &minutes
	}
	return e, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// AppendOpLog appends one applied operation to the op log.
func (r *repo) AppendOpLog(ctx context.Context, entry domain.OpLogEntry) error {
	args := entry.Args
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO op_log(user_id, project_id, op_name, args_json, created_at) VALUES (?, ?, ?, ?, ?)
	`, entry.UserID, entry.ProjectID, entry.OpName, string(args), ts(entry.CreatedAt))
	return err
}

// ListOpLog returns the newest op-log entries of a project, newest first.
func (s *Store) ListOpLog(ctx context.Context, projectID string, limit int) ([]domain.OpLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, project_id, op_name, args_json, created_at
		FROM op_log
		WHERE project_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.OpLogEntry{}
	for rows.Next() {
		var (
			entry      domain.OpLogEntry
			argsRaw    string
			createdRaw string
		)
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.ProjectID, &entry.OpName, &argsRaw, &createdRaw); err != nil {
			return nil, err
		}
		entry.Args = json.RawMessage(argsRaw)
		entry.CreatedAt = parseTS(createdRaw)
		out = append(out, entry)
	}
	return out, rows.Err()
}
