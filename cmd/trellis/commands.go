package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	serveradapter "github.com/hylla/trellis/internal/adapters/server"
	"github.com/hylla/trellis/internal/adapters/server/common"
	"github.com/hylla/trellis/internal/app"
)

// newServeCommand runs the HTTP and MCP adapters until the process is interrupted.
func newServeCommand(opts *globalOptions) *cobra.Command {
	var bind, apiEndpoint, mcpEndpoint string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, env *runtimeEnv) error {
				cfg := serveradapter.Config{
					HTTPBind:      firstNonEmpty(bind, env.cfg.Server.HTTPBind),
					APIEndpoint:   firstNonEmpty(apiEndpoint, env.cfg.Server.APIEndpoint),
					MCPEndpoint:   firstNonEmpty(mcpEndpoint, env.cfg.Server.MCPEndpoint),
					ServerName:    appName,
					ServerVersion: version,
				}
				env.logger.Info("serve starting", "bind", cfg.HTTPBind, "api", cfg.APIEndpoint, "mcp", cfg.MCPEndpoint)
				return serveCommandRunner(ctx, cfg, serveradapter.Dependencies{
					Service: env.adapter,
					Ready:   env.store.Ping,
					Logger:  env.logger,
				})
			})
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "listen address (overrides server.http_bind)")
	cmd.Flags().StringVar(&apiEndpoint, "api-endpoint", "", "HTTP API base path (overrides server.api_endpoint)")
	cmd.Flags().StringVar(&mcpEndpoint, "mcp-endpoint", "", "MCP endpoint path (overrides server.mcp_endpoint)")
	return cmd
}

// newApplyCommand applies one batch read from a file or stdin.
func newApplyCommand(opts *globalOptions) *cobra.Command {
	var userID, file string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply an operation batch atomically",
		Long: "Reads either a JSON array of {op_name, args} operations or an object\n" +
			"{\"user_id\": ..., \"ops\": [...]} and applies it as one all-or-nothing batch.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			req, err := decodeApplyInput(raw)
			if err != nil {
				return err
			}
			if strings.TrimSpace(userID) != "" {
				req.UserID = userID
			}
			if strings.TrimSpace(req.UserID) == "" {
				return errors.New("a user is required: pass --user or set user_id in the input")
			}
			return withRuntime(cmd, opts, func(ctx context.Context, env *runtimeEnv) error {
				res, err := env.adapter.ApplyOps(ctx, req)
				if err != nil {
					return err
				}
				env.logger.Info("batch applied", "user_id", req.UserID, "ops", len(req.Ops), "projects", len(res.AffectedProjectIDs))
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "acting user id")
	cmd.Flags().StringVarP(&file, "file", "f", "-", "batch file, - for stdin")
	return cmd
}

// newRollupCommand prints a project's item tree with rolled-up figures.
func newRollupCommand(opts *globalOptions) *cobra.Command {
	var userID, projectID string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Show rolled-up estimates, actuals and windows for a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, env *runtimeEnv) error {
				out, err := env.adapter.ProjectRollups(ctx, common.ProjectReadRequest{UserID: userID, ProjectID: projectID})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), out)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), renderRollupTree(out))
				return err
			})
		},
	}
	projectFlags(cmd, &userID, &projectID)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a tree")
	return cmd
}

// newDepsCommand prints dependency edges with their satisfied/violated state.
func newDepsCommand(opts *globalOptions) *cobra.Command {
	var userID, projectID string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Show dependency timing status for a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, env *runtimeEnv) error {
				out, err := env.adapter.DependencyStatuses(ctx, common.ProjectReadRequest{UserID: userID, ProjectID: projectID})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), out)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), renderDependencyTable(out))
				return err
			})
		},
	}
	projectFlags(cmd, &userID, &projectID)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

// newLogCommand prints the most recent op log rows of a project.
func newLogCommand(opts *globalOptions) *cobra.Command {
	var projectID string
	var limit int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the operation log for a project, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(projectID) == "" {
				return errors.New("--project is required")
			}
			return withRuntime(cmd, opts, func(ctx context.Context, env *runtimeEnv) error {
				entries, err := env.store.ListOpLog(ctx, projectID, limit)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), renderOpLogTable(entries))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

// newExportCommand writes a project snapshot as JSON.
func newExportCommand(opts *globalOptions) *cobra.Command {
	var userID, projectID, out string
	var save bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a project snapshot as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, env *runtimeEnv) error {
				snap, err := env.service.ExportSnapshot(ctx, userID, projectID)
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					return writeJSON(cmd.OutOrStdout(), snap)
				}
				var buf bytes.Buffer
				if err := writeJSON(&buf, snap); err != nil {
					return err
				}
				if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
					return fmt.Errorf("write snapshot %q: %w", out, err)
				}
				env.logger.Info("snapshot exported", "project_id", projectID, "path", out, "items", len(snap.Items))
				return nil
			})
		},
	}
	projectFlags(cmd, &userID, &projectID)
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file, stdout when empty")
	cmd.Flags().BoolVar(&save, "save", false, "write into the snapshot dir when --out is empty")
	return cmd
}

// newImportCommand replays a snapshot as one batch; the importing user becomes owner.
func newImportCommand(opts *globalOptions) *cobra.Command {
	var userID, file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a project snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(userID) == "" {
				return errors.New("--user is required")
			}
			raw, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			var snap app.Snapshot
			if err := json.Unmarshal(raw, &snap); err != nil {
				return fmt.Errorf("decode snapshot: %w", err)
			}
			return withRuntime(cmd, opts, func(ctx context.Context, env *runtimeEnv) error {
				res, err := env.service.ImportSnapshot(ctx, userID, snap)
				if err != nil {
					return err
				}
				env.logger.Info("snapshot imported", "project_id", snap.Project.ID, "user_id", userID)
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "importing user id, becomes the project owner")
	cmd.Flags().StringVarP(&file, "file", "f", "-", "snapshot file, - for stdin")
	return cmd
}

// newPathsCommand prints resolved runtime paths without opening the database.
func newPathsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config, data, log and snapshot paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := resolvePaths(*opts)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			rows := [][2]string{
				{"app", appName},
				{"dev_mode", fmt.Sprintf("%t", opts.devMode)},
				{"config", paths.ConfigPath},
				{"data_dir", paths.DataDir},
				{"db", paths.DBPath},
				{"log_dir", paths.LogDir},
				{"snapshots", paths.SnapshotDir},
			}
			if paths.WorkspaceDir != "" {
				rows = append(rows, [2]string{"workspace", paths.WorkspaceDir})
			}
			for _, row := range rows {
				if _, err := fmt.Fprintf(w, "%-9s %s\n", row[0]+":", row[1]); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// snapshotFilePath names a saved export by project and UTC time.
func snapshotFilePath(dir, projectID string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.json", sanitizeLogFileStem(projectID), now.Format("20060102T150405Z")))
}

func projectFlags(cmd *cobra.Command, userID, projectID *string) {
	cmd.Flags().StringVar(userID, "user", "", "acting user id")
	cmd.Flags().StringVar(projectID, "project", "", "project id")
}

// decodeApplyInput accepts a bare op array or a {user_id, ops} envelope.
func decodeApplyInput(raw []byte) (common.ApplyOpsRequest, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return common.ApplyOpsRequest{}, errors.New("empty batch input")
	}
	var req common.ApplyOpsRequest
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &req.Ops); err != nil {
			return common.ApplyOpsRequest{}, fmt.Errorf("decode ops: %w", err)
		}
		return req, nil
	}
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return common.ApplyOpsRequest{}, fmt.Errorf("decode batch: %w", err)
	}
	return req, nil
}

func readInput(stdin io.Reader, file string) ([]byte, error) {
	if file == "" || file == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", file, err)
	}
	return raw, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
