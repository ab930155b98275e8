// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"

	"github.com/hylla/trellis/internal/app"
)

// ErrInvalidRequest reports malformed transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrorCodeInvalidRequest is the code of transport-level decode failures.
const ErrorCodeInvalidRequest = "invalid_request"

// ApplyOpsRequest carries one batch for one acting user.
type ApplyOpsRequest struct {
	UserID string          `json:"user_id"`
	Ops    []app.Operation `json:"ops"`
}

// ProjectReadRequest names a project read on behalf of one user.
type ProjectReadRequest struct {
	UserID    string
	ProjectID string
}

// ItemReadRequest names an item read on behalf of one user.
type ItemReadRequest struct {
	UserID string
	ItemID string
}

// ItemDescendants lists an item and every item below it.
type ItemDescendants struct {
	ItemID        string   `json:"item_id"`
	DescendantIDs []string `json:"descendant_ids"`
}

// TrellisService is the app surface exposed by every transport.
type TrellisService interface {
	ApplyOps(context.Context, ApplyOpsRequest) (app.BatchResult, error)
	ProjectRollups(context.Context, ProjectReadRequest) (app.ProjectRollups, error)
	DependencyStatuses(context.Context, ProjectReadRequest) (app.DependencyStatuses, error)
	ItemDescendants(context.Context, ItemReadRequest) (ItemDescendants, error)
}

// ErrorCode maps an error to the stable code transports report.
func ErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return ErrorCodeInvalidRequest
	}
	return app.ErrorKind(err)
}
