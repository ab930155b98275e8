package common

import (
	"context"
	"fmt"
	"strings"

	"github.com/hylla/trellis/internal/app"
)

// AppServiceAdapter maps transport contracts onto app.Service and notifies after each committed batch.
type AppServiceAdapter struct {
	service  *app.Service
	notifier app.Notifier
}

// NewAppServiceAdapter builds one common adapter over an app.Service instance. A nil notifier drops
// notifications.
func NewAppServiceAdapter(service *app.Service, notifier app.Notifier) *AppServiceAdapter {
	if notifier == nil {
		notifier = discardNotifier{}
	}
	return &AppServiceAdapter{service: service, notifier: notifier}
}

// ApplyOps runs one batch and, once it has committed, notifies about the affected ids.
func (a *AppServiceAdapter) ApplyOps(ctx context.Context, in ApplyOpsRequest) (app.BatchResult, error) {
	if a == nil || a.service == nil {
		return app.BatchResult{}, fmt.Errorf("app service adapter is not configured: %w", ErrInvalidRequest)
	}
	res, err := a.service.ApplyOps(ctx, strings.TrimSpace(in.UserID), in.Ops)
	if err != nil {
		return app.BatchResult{}, err
	}
	if len(res.AffectedProjectIDs) > 0 || len(res.AffectedUserIDs) > 0 {
		a.notifier.Notify(ctx, res.AffectedProjectIDs, res.AffectedUserIDs)
	}
	return res, nil
}

// ProjectRollups returns the rollup read model for one project.
func (a *AppServiceAdapter) ProjectRollups(ctx context.Context, in ProjectReadRequest) (app.ProjectRollups, error) {
	if a == nil || a.service == nil {
		return app.ProjectRollups{}, fmt.Errorf("app service adapter is not configured: %w", ErrInvalidRequest)
	}
	return a.service.ProjectRollups(ctx, strings.TrimSpace(in.UserID), strings.TrimSpace(in.ProjectID))
}

// DependencyStatuses returns the dependency timing read model for one project.
func (a *AppServiceAdapter) DependencyStatuses(ctx context.Context, in ProjectReadRequest) (app.DependencyStatuses, error) {
	if a == nil || a.service == nil {
		return app.DependencyStatuses{}, fmt.Errorf("app service adapter is not configured: %w", ErrInvalidRequest)
	}
	return a.service.DependencyStatuses(ctx, strings.TrimSpace(in.UserID), strings.TrimSpace(in.ProjectID))
}

// ItemDescendants returns an item's descendant closure.
func (a *AppServiceAdapter) ItemDescendants(ctx context.Context, in ItemReadRequest) (ItemDescendants, error) {
	if a == nil || a.service == nil {
		return ItemDescendants{}, fmt.Errorf("app service adapter is not configured: %w", ErrInvalidRequest)
	}
	itemID := strings.TrimSpace(in.ItemID)
	ids, err := a.service.ItemDescendants(ctx, strings.TrimSpace(in.UserID), itemID)
	if err != nil {
		return ItemDescendants{}, err
	}
	return ItemDescendants{ItemID: itemID, DescendantIDs: ids}, nil
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, []string, []string) {}
