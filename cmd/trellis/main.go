package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	serveradapter "github.com/hylla/trellis/internal/adapters/server"
)

// version is stamped at build time; "dev" turns dev mode on by default.
var version = "dev"

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// run executes the command tree through fang for styled help and errors.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	root := newRootCommand(stdin, stdout, stderr)
	root.SetArgs(args)
	return fang.Execute(ctx, root, fang.WithVersion(version))
}

// newRootCommand builds the trellis command tree bound to the given streams.
func newRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "trellis",
		Short:         "Hierarchical task tracker: atomic mutation batches and derived schedule state",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config TOML (env TRELLIS_CONFIG)")
	flags.StringVar(&opts.dbPath, "db", "", "path to sqlite database (env TRELLIS_DB_PATH)")
	flags.BoolVar(&opts.devMode, "dev", defaultDevMode(), "use dev mode paths and file logging (env TRELLIS_DEV_MODE)")

	root.AddCommand(
		newServeCommand(opts),
		newApplyCommand(opts),
		newRollupCommand(opts),
		newDepsCommand(opts),
		newLogCommand(opts),
		newExportCommand(opts),
		newImportCommand(opts),
		newPathsCommand(opts),
	)
	return root
}

// withRuntime opens the runtime for one command, logs its start and outcome, and closes it.
func withRuntime(cmd *cobra.Command, opts *globalOptions, fn func(context.Context, *runtimeEnv) error) error {
	env, err := openRuntime(cmd.Context(), *opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer env.Close()

	name := cmd.Name()
	env.logger.Debug("command flow start", "command", name)
	if err := fn(cmd.Context(), env); err != nil {
		env.logger.Error("command flow failed", "command", name, "err", err)
		return fmt.Errorf("run %s command: %w", name, err)
	}
	env.logger.Debug("command flow complete", "command", name)
	return nil
}
