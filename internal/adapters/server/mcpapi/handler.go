// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hylla/trellis/internal/adapters/server/common"
	"github.com/hylla/trellis/internal/app"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Tool names.
const (
	ToolApplyOps         = "trellis.apply_ops"
	ToolProjectRollups   = "trellis.project_rollups"
	ToolDependencyStatus = "trellis.dependency_status"
	ToolItemDescendants  = "trellis.item_descendants"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing the trellis batch and read tools.
func NewHandler(cfg Config, service common.TrellisService) (*Handler, error) {
	if service == nil {
		return nil, fmt.Errorf("trellis service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerApplyOpsTool(mcpSrv, service)
	registerReadTools(mcpSrv, service)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "trellis"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	if !strings.HasPrefix(cfg.EndpointPath, "/") {
		cfg.EndpointPath = "/" + cfg.EndpointPath
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// registerApplyOpsTool registers the `trellis.apply_ops` tool.
func registerApplyOpsTool(srv *mcpserver.MCPServer, service common.TrellisService) {
	srv.AddTool(
		mcp.NewTool(
			ToolApplyOps,
			mcp.WithDescription("Apply an ordered batch of operations atomically. Either every operation commits or none does."),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user identifier")),
			mcp.WithArray("ops",
				mcp.Required(),
				mcp.Description("Operations as {op_name, args} objects, applied in order"),
				mcp.Items(map[string]any{
					"type":     "object",
					"required": []string{"op_name"},
					"properties": map[string]any{
						"op_name": map[string]any{"type": "string", "enum": app.OperationNames()},
						"args":    map[string]any{"type": "object"},
					},
				}),
			),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args common.ApplyOpsRequest
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			if strings.TrimSpace(args.UserID) == "" {
				return mcp.NewToolResultError(`invalid_request: required argument "user_id" not found`), nil
			}
			res, err := service.ApplyOps(ctx, args)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(res)
			if err != nil {
				return nil, fmt.Errorf("encode apply_ops result: %w", err)
			}
			return result, nil
		},
	)
}

// registerReadTools registers the derived-state tools.
func registerReadTools(srv *mcpserver.MCPServer, service common.TrellisService) {
	srv.AddTool(
		mcp.NewTool(
			ToolProjectRollups,
			mcp.WithDescription("Return per-item rollups (estimates, actual minutes, schedule window, blocked and overdue counts) for one project."),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user identifier")),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			in, errResult := projectReadArgs(req)
			if errResult != nil {
				return errResult, nil
			}
			out, err := service.ProjectRollups(ctx, in)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("project_rollups", out)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			ToolDependencyStatus,
			mcp.WithDescription("Return satisfied/violated/unknown timing status for every dependency edge of one project."),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user identifier")),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			in, errResult := projectReadArgs(req)
			if errResult != nil {
				return errResult, nil
			}
			out, err := service.DependencyStatuses(ctx, in)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("dependency_status", out)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			ToolItemDescendants,
			mcp.WithDescription("Return an item and every item below it."),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user identifier")),
			mcp.WithString("item_id", mcp.Required(), mcp.Description("Item identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			userID, err := req.RequireString("user_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			itemID, err := req.RequireString("item_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			out, err := service.ItemDescendants(ctx, common.ItemReadRequest{UserID: userID, ItemID: itemID})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("item_descendants", out)
		},
	)
}

// projectReadArgs extracts user_id and project_id.
func projectReadArgs(req mcp.CallToolRequest) (common.ProjectReadRequest, *mcp.CallToolResult) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return common.ProjectReadRequest{}, invalidRequestToolResult(err)
	}
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return common.ProjectReadRequest{}, invalidRequestToolResult(err)
	}
	return common.ProjectReadRequest{UserID: userID, ProjectID: projectID}, nil
}

func jsonResult(name string, payload any) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", name, err)
	}
	return result, nil
}

// toolResultFromError maps service errors to `code: message` tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	if err == nil {
		return mcp.NewToolResultError("internal: unknown error")
	}
	return mcp.NewToolResultError(common.ErrorCode(err) + ": " + err.Error())
}

// invalidRequestToolResult maps malformed tool arguments to one invalid_request result.
func invalidRequestToolResult(err error) *mcp.CallToolResult {
	if err == nil {
		return mcp.NewToolResultError("invalid_request: malformed arguments")
	}
	return mcp.NewToolResultError("invalid_request: " + err.Error())
}
