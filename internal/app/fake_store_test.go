package app

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/hylla/trellis/internal/domain"
)

// fakeState is the in-memory row set behind fakeStore.
type fakeState struct {
	projects map[string]domain.Project
	members  map[[2]string]domain.ProjectMember
	items    map[string]domain.Item
	deps     map[string]domain.Dependency
	blocks   map[string]domain.ScheduledBlock
	blockers map[string]domain.Blocker
	entries  map[string]domain.TimeEntry
	opLog    []domain.OpLogEntry
}

func newFakeState() *fakeState {
	return &fakeState{
		projects: map[string]domain.Project{},
		members:  map[[2]string]domain.ProjectMember{},
		items:    map[string]domain.Item{},
		deps:     map[string]domain.Dependency{},
		blocks:   map[string]domain.ScheduledBlock{},
		blockers: map[string]domain.Blocker{},
		entries:  map[string]domain.TimeEntry{},
	}
}

func (s *fakeState) clone() *fakeState {
	return &fakeState{
		projects: maps.Clone(s.projects),
		members:  maps.Clone(s.members),
		items:    maps.Clone(s.items),
		deps:     maps.Clone(s.deps),
		blocks:   maps.Clone(s.blocks),
		blockers: maps.Clone(s.blockers),
		entries:  maps.Clone(s.entries),
		opLog:    slices.Clone(s.opLog),
	}
}

// fakeStore commits a cloned state on success and discards it on error.
type fakeStore struct {
	mu    sync.Mutex
	state *fakeState
}

func newFakeStore() *fakeStore {
	return &fakeStore{state: newFakeState()}
}

func (f *fakeStore) RunInTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	work := f.state.clone()
	if err := fn(ctx, fakeRepo{work}); err != nil {
		return err
	}
	f.state = work
	return nil
}

func (f *fakeStore) ReadTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(ctx, fakeRepo{f.state.clone()})
}

// snapshot returns the committed state for assertions.
func (f *fakeStore) snapshot() *fakeState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.clone()
}

type fakeRepo struct {
	s *fakeState
}

func (r fakeRepo) CreateProject(_ context.Context, p domain.Project) error {
	r.s.projects[p.ID] = p
	return nil
}

func (r fakeRepo) UpdateProject(_ context.Context, p domain.Project) error {
	if _, ok := r.s.projects[p.ID]; !ok {
		return ErrNotFound
	}
	r.s.projects[p.ID] = p
	return nil
}

func (r fakeRepo) GetProject(_ context.Context, id string) (domain.Project, error) {
	p, ok := r.s.projects[id]
	if !ok {
		return domain.Project{}, ErrNotFound
	}
	return p, nil
}

func (r fakeRepo) UpsertMember(_ context.Context, m domain.ProjectMember) error {
	r.s.members[[2]string{m.ProjectID, m.UserID}] = m
	return nil
}

func (r fakeRepo) GetMember(_ context.Context, projectID, userID string) (domain.ProjectMember, error) {
	m, ok := r.s.members[[2]string{projectID, userID}]
	if !ok {
		return domain.ProjectMember{}, ErrNotFound
	}
	return m, nil
}

func (r fakeRepo) DeleteMember(_ context.Context, projectID, userID string) error {
	delete(r.s.members, [2]string{projectID, userID})
	return nil
}

func (r fakeRepo) ListMembers(_ context.Context, projectID string) ([]domain.ProjectMember, error) {
	out := []domain.ProjectMember{}
	for key, m := range r.s.members {
		if key[0] == projectID {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b domain.ProjectMember) int { return strings.Compare(a.UserID, b.UserID) })
	return out, nil
}

func (r fakeRepo) CreateItem(_ context.Context, item domain.Item) error {
	r.s.items[item.ID] = item
	return nil
}

func (r fakeRepo) UpdateItem(_ context.Context, item domain.Item) error {
	if _, ok := r.s.items[item.ID]; !ok {
		return ErrNotFound
	}
	r.s.items[item.ID] = item
	return nil
}

func (r fakeRepo) GetItem(_ context.Context, id string) (domain.Item, error) {
	item, ok := r.s.items[id]
	if !ok {
		return domain.Item{}, ErrNotFound
	}
	return item, nil
}

func (r fakeRepo) ListItems(_ context.Context, projectID string) ([]domain.Item, error) {
	out := []domain.Item{}
	for _, item := range r.s.items {
		if item.ProjectID == projectID {
			out = append(out, item)
		}
	}
	slices.SortFunc(out, func(a, b domain.Item) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (r fakeRepo) ListChildIDs(_ context.Context, parentID string) ([]string, error) {
	out := []string{}
	for _, item := range r.s.items {
		if item.ParentID == parentID {
			out = append(out, item.ID)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (r fakeRepo) DeleteItems(_ context.Context, ids []string) error {
	doomed := map[string]bool{}
	for _, id := range ids {
		doomed[id] = true
		delete(r.s.items, id)
	}
	for id, dep := range r.s.deps {
		if doomed[dep.ItemID] || doomed[dep.DependsOnID] {
			delete(r.s.deps, id)
		}
	}
	for id, block := range r.s.blocks {
		if doomed[block.ItemID] {
			delete(r.s.blocks, id)
		}
	}
	for id, blocker := range r.s.blockers {
		if doomed[blocker.ItemID] {
			delete(r.s.blockers, id)
		}
	}
	for id, entry := range r.s.entries {
		if doomed[entry.ItemID] {
			delete(r.s.entries, id)
		}
	}
	return nil
}

func (r fakeRepo) CreateDependency(_ context.Context, dep domain.Dependency) error {
	r.s.deps[dep.ID] = dep
	return nil
}

func (r fakeRepo) UpdateDependency(_ context.Context, dep domain.Dependency) error {
	if _, ok := r.s.deps[dep.ID]; !ok {
		return ErrNotFound
	}
	r.s.deps[dep.ID] = dep
	return nil
}

func (r fakeRepo) GetDependency(_ context.Context, id string) (domain.Dependency, error) {
	dep, ok := r.s.deps[id]
	if !ok {
		return domain.Dependency{}, ErrNotFound
	}
	return dep, nil
}

func (r fakeRepo) GetDependencyByPair(_ context.Context, itemID, dependsOnID string) (domain.Dependency, error) {
	for _, dep := range r.s.deps {
		if dep.ItemID == itemID && dep.DependsOnID == dependsOnID {
			return dep, nil
		}
	}
	return domain.Dependency{}, ErrNotFound
}

func (r fakeRepo) DeleteDependency(_ context.Context, id string) error {
	delete(r.s.deps, id)
	return nil
}

func (r fakeRepo) ListDependsOnIDs(_ context.Context, itemID string) ([]string, error) {
	out := []string{}
	for _, dep := range r.s.deps {
		if dep.ItemID == itemID {
			out = append(out, dep.DependsOnID)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (r fakeRepo) ListDependencies(_ context.Context, projectID string) ([]domain.Dependency, error) {
	out := []domain.Dependency{}
	for _, dep := range r.s.deps {
		if dep.ProjectID == projectID {
			out = append(out, dep)
		}
	}
	slices.SortFunc(out, func(a, b domain.Dependency) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (r fakeRepo) CreateScheduledBlock(_ context.Context, b domain.ScheduledBlock) error {
	r.s.blocks[b.ID] = b
	return nil
}

func (r fakeRepo) UpdateScheduledBlock(_ context.Context, b domain.ScheduledBlock) error {
	r.s.blocks[b.ID] = b
	return nil
}

func (r fakeRepo) GetScheduledBlock(_ context.Context, id string) (domain.ScheduledBlock, error) {
	b, ok := r.s.blocks[id]
	if !ok {
		return domain.ScheduledBlock{}, ErrNotFound
	}
	return b, nil
}

func (r fakeRepo) DeleteScheduledBlock(_ context.Context, id string) error {
	delete(r.s.blocks, id)
	return nil
}

func (r fakeRepo) ListScheduledBlocks(_ context.Context, projectID string) ([]domain.ScheduledBlock, error) {
	out := []domain.ScheduledBlock{}
	for _, b := range r.s.blocks {
		if r.s.items[b.ItemID].ProjectID == projectID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r fakeRepo) CreateBlocker(_ context.Context, b domain.Blocker) error {
	r.s.blockers[b.ID] = b
	return nil
}

func (r fakeRepo) UpdateBlocker(_ context.Context, b domain.Blocker) error {
	r.s.blockers[b.ID] = b
	return nil
}

func (r fakeRepo) GetBlocker(_ context.Context, id string) (domain.Blocker, error) {
	b, ok := r.s.blockers[id]
	if !ok {
		return domain.Blocker{}, ErrNotFound
	}
	return b, nil
}

func (r fakeRepo) ListBlockers(_ context.Context, projectID string) ([]domain.Blocker, error) {
	out := []domain.Blocker{}
	for _, b := range r.s.blockers {
		if r.s.items[b.ItemID].ProjectID == projectID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r fakeRepo) CreateTimeEntry(_ context.Context, e domain.TimeEntry) error {
	r.s.entries[e.ID] = e
	return nil
}

func (r fakeRepo) UpdateTimeEntry(_ context.Context, e domain.TimeEntry) error {
	r.s.entries[e.ID] = e
	return nil
}

func (r fakeRepo) GetTimeEntry(_ context.Context, id string) (domain.TimeEntry, error) {
	e, ok := r.s.entries[id]
	if !ok {
		return domain.TimeEntry{}, ErrNotFound
	}
	return e, nil
}

func (r fakeRepo) ListTimeEntries(_ context.Context, projectID string) ([]domain.TimeEntry, error) {
	out := []domain.TimeEntry{}
	for _, e := range r.s.entries {
		if r.s.items[e.ItemID].ProjectID == projectID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r fakeRepo) AppendOpLog(_ context.Context, entry domain.OpLogEntry) error {
	entry.ID = int64(len(r.s.opLog) + 1)
	r.s.opLog = append(r.s.opLog, entry)
	return nil
}
