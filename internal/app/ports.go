package app

import (
	"context"

	"github.com/hylla/trellis/internal/domain"
)

// Store opens units of work against persistent state.
//
// RunInTx commits iff fn returns nil. Write transactions must be serialized against each other so
// that reads made inside fn (notably dependency reachability) see every previously committed edge.
type Store interface {
	RunInTx(ctx context.Context, fn func(context.Context, Repository) error) error
	ReadTx(ctx context.Context, fn func(context.Context, Repository) error) error
}

// Repository is the transaction-scoped view used by operation handlers and read paths.
// Lookups of missing rows return ErrNotFound.
type Repository interface {
	CreateProject(context.Context, domain.Project) error
	UpdateProject(context.Context, domain.Project) error
	GetProject(context.Context, string) (domain.Project, error)

	UpsertMember(context.Context, domain.ProjectMember) error
	GetMember(ctx context.Context, projectID, userID string) (domain.ProjectMember, error)
	DeleteMember(ctx context.Context, projectID, userID string) error
	ListMembers(ctx context.Context, projectID string) ([]domain.ProjectMember, error)

	CreateItem(context.Context, domain.Item) error
	UpdateItem(context.Context, domain.Item) error
	GetItem(context.Context, string) (domain.Item, error)
	ListItems(ctx context.Context, projectID string) ([]domain.Item, error)
	ListChildIDs(ctx context.Context, parentID string) ([]string, error)
	// DeleteItems removes the items and every dependency, scheduled block, blocker and time entry
	// referencing any of them.
	DeleteItems(ctx context.Context, ids []string) error

	CreateDependency(context.Context, domain.Dependency) error
	UpdateDependency(context.Context, domain.Dependency) error
	GetDependency(context.Context, string) (domain.Dependency, error)
	GetDependencyByPair(ctx context.Context, itemID, dependsOnID string) (domain.Dependency, error)
	DeleteDependency(context.Context, string) error
	ListDependsOnIDs(ctx context.Context, itemID string) ([]string, error)
	ListDependencies(ctx context.Context, projectID string) ([]domain.Dependency, error)

	CreateScheduledBlock(context.Context, domain.ScheduledBlock) error
	UpdateScheduledBlock(context.Context, domain.ScheduledBlock) error
	GetScheduledBlock(context.Context, string) (domain.ScheduledBlock, error)
	DeleteScheduledBlock(context.Context, string) error
	ListScheduledBlocks(ctx context.Context, projectID string) ([]domain.ScheduledBlock, error)

	CreateBlocker(context.Context, domain.Blocker) error
	UpdateBlocker(context.Context, domain.Blocker) error
	GetBlocker(context.Context, string) (domain.Blocker, error)
	ListBlockers(ctx context.Context, projectID string) ([]domain.Blocker, error)

	CreateTimeEntry(context.Context, domain.TimeEntry) error
	UpdateTimeEntry(context.Context, domain.TimeEntry) error
	GetTimeEntry(context.Context, string) (domain.TimeEntry, error)
	ListTimeEntries(ctx context.Context, projectID string) ([]domain.TimeEntry, error)

	AppendOpLog(context.Context, domain.OpLogEntry) error
}

// Notifier receives the affected-id sets of a committed batch.
type Notifier interface {
	Notify(ctx context.Context, projectIDs, userIDs []string)
}

// Logger is the structured logger used by the service; *log.Logger from charmbracelet/log fits it.
type Logger interface {
	Debug(msg any, keyvals ...any)
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
	Error(msg any, keyvals ...any)
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Debug(any, ...any) {}
func (nopLogger) Info(any, ...any)  {}
func (nopLogger) Warn(any, ...any)  {}
func (nopLogger) Error(any, ...any) {}
