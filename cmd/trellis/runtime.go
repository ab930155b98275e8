package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/hylla/trellis/internal/adapters/server/common"
	"github.com/hylla/trellis/internal/adapters/storage/sqlite"
	"github.com/hylla/trellis/internal/app"
	"github.com/hylla/trellis/internal/config"
	"github.com/hylla/trellis/internal/platform"
	"github.com/hylla/trellis/internal/telemetry"
)

// appName names config/data directories and log prefixes.
const appName = "trellis"

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	dbPath     string
	devMode    bool
}

// runtimeEnv is the opened process state one command runs against.
type runtimeEnv struct {
	paths      platform.Paths
	configPath string
	cfg        config.Config
	logger     *runtimeLogger
	store      *sqlite.Store
	service    *app.Service
	adapter    *common.AppServiceAdapter
	telemetry  *telemetry.Provider
}

// resolvePaths resolves platform paths; flags win over env vars, which win over defaults.
func resolvePaths(opts globalOptions) (platform.Paths, error) {
	env, err := platform.HostEnv()
	if err != nil {
		return platform.Paths{}, err
	}
	return platform.Resolve(platform.Request{
		AppName:    appName,
		DevMode:    opts.devMode,
		ConfigPath: firstNonEmpty(opts.configPath, os.Getenv(config.EnvConfigPath)),
		DBPath:     firstNonEmpty(opts.dbPath, os.Getenv(config.EnvDBPath)),
	}, env)
}

// openRuntime loads config, opens sqlite and builds the service for one command.
func openRuntime(ctx context.Context, opts globalOptions, stderr io.Writer) (*runtimeEnv, error) {
	paths, err := resolvePaths(opts)
	if err != nil {
		return nil, err
	}
	configPath, dbPath := paths.ConfigPath, paths.DBPath

	cfg, err := config.Load(configPath, config.Default(dbPath))
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if paths.DBOverridden {
		cfg.Database.Path = dbPath
	}

	logger, err := newRuntimeLogger(stderr, appName, opts.devMode, cfg.Logging, paths, time.Now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	env := &runtimeEnv{paths: paths, configPath: configPath, cfg: cfg, logger: logger}

	logger.Debug("runtime paths resolved", "config_path", configPath, "data_dir", paths.DataDir, "db_path", cfg.Database.Path)
	logger.Debug("configuration loaded", "config_path", configPath, "log_level", cfg.Logging.Level)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Debug("dev file logging enabled", "path", devPath)
	}

	env.telemetry, err = telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := telemetry.NewMetrics(env.telemetry.Meter)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		env.Close()
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	env.store, err = sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("sqlite open failed", "db_path", cfg.Database.Path, "err", err)
		env.Close()
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	logger.Debug("sqlite store ready", "db_path", cfg.Database.Path, "migrations", "ensured")

	env.service, err = app.NewService(env.store, uuid.NewString, nil, app.ServiceConfig{
		Logger:         logger,
		Tracer:         env.telemetry.Tracer,
		Metrics:        metrics,
		MaxOpsPerBatch: cfg.Limits.MaxOpsPerBatch,
	})
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("build service: %w", err)
	}
	env.adapter = common.NewAppServiceAdapter(env.service, common.FanoutNotifier{
		common.NewLogNotifier(logger),
		common.NewMetricsNotifier(metrics),
	})
	return env, nil
}

// Close releases the store, telemetry and log sinks in reverse open order.
func (e *runtimeEnv) Close() {
	if e == nil {
		return
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Warn("sqlite close failed", "db_path", e.cfg.Database.Path, "err", err)
		}
	}
	if e.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.telemetry.Shutdown(ctx); err != nil {
			e.logger.Warn("telemetry shutdown failed", "err", err)
		}
		cancel()
	}
	if err := e.logger.Close(); err != nil {
		e.logger.consoleSink.Warn("close runtime log sink failed", "err", err)
	}
}

// defaultDevMode is on for dev builds unless TRELLIS_DEV_MODE says otherwise.
func defaultDevMode() bool {
	if envDev, ok := parseBoolEnv(config.EnvDevMode); ok {
		return envDev
	}
	return version == "dev"
}

// parseBoolEnv parses input into a normalized form.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// runtimeLogger fans log events to a styled console sink and an optional dev-file sink.
type runtimeLogger struct {
	sinks       []*charmLog.Logger
	consoleSink *charmLog.Logger
	closeFile   func() error
	devLog      string
}

// newRuntimeLogger configures runtime log sinks from CLI/config state.
func newRuntimeLogger(stderr io.Writer, appName string, devMode bool, cfg config.LoggingConfig, paths platform.Paths, now func() time.Time) (*runtimeLogger, error) {
	level, err := charmLog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse logging level %q: %w", cfg.Level, err)
	}

	if now == nil {
		now = time.Now
	}
	if stderr == nil {
		stderr = io.Discard
	}

	consoleLogger := charmLog.NewWithOptions(stderr, charmLog.Options{
		Level:           level,
		Prefix:          appName,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       charmLog.TextFormatter,
	})

	logger := &runtimeLogger{
		sinks:       []*charmLog.Logger{consoleLogger},
		consoleSink: consoleLogger,
	}
	if !devMode || !cfg.DevFile.Enabled {
		return logger, nil
	}

	devLogPath := devLogFilePath(devLogDir(cfg.DevFile.Dir, paths), appName, now().UTC())
	if err := os.MkdirAll(filepath.Dir(devLogPath), 0o755); err != nil {
		return nil, fmt.Errorf("create dev log dir: %w", err)
	}
	logFile, err := os.OpenFile(devLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dev log file: %w", err)
	}

	// File output stays unstyled logfmt; debug always reaches it in dev mode.
	fileLogger := charmLog.NewWithOptions(logFile, charmLog.Options{
		Level:           charmLog.DebugLevel,
		Prefix:          appName,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       charmLog.LogfmtFormatter,
	})
	logger.sinks = append(logger.sinks, fileLogger)
	logger.closeFile = logFile.Close
	logger.devLog = devLogPath
	return logger, nil
}

// DevLogPath returns the active dev log file path.
func (l *runtimeLogger) DevLogPath() string {
	if l == nil {
		return ""
	}
	return l.devLog
}

// Close closes the optional dev-file sink.
func (l *runtimeLogger) Close() error {
	if l == nil || l.closeFile == nil {
		return nil
	}
	err := l.closeFile()
	l.closeFile = nil
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

// Debug logs a debug event to all configured sinks.
func (l *runtimeLogger) Debug(msg any, keyvals ...any) {
	if l == nil {
		return
	}
	for _, sink := range l.sinks {
		sink.Debug(msg, keyvals...)
	}
}

// Info logs an informational event to all configured sinks.
func (l *runtimeLogger) Info(msg any, keyvals ...any) {
	if l == nil {
		return
	}
	for _, sink := range l.sinks {
		sink.Info(msg, keyvals...)
	}
}

// Warn logs a warning event to all configured sinks.
func (l *runtimeLogger) Warn(msg any, keyvals ...any) {
	if l == nil {
		return
	}
	for _, sink := range l.sinks {
		sink.Warn(msg, keyvals...)
	}
}

// Error logs an error event to all configured sinks.
func (l *runtimeLogger) Error(msg any, keyvals ...any) {
	if l == nil {
		return
	}
	for _, sink := range l.sinks {
		sink.Error(msg, keyvals...)
	}
}

// devLogDir picks the configured dev log dir, anchoring relative values at the workspace.
func devLogDir(configured string, paths platform.Paths) string {
	dir := strings.TrimSpace(configured)
	switch {
	case dir == "" || filepath.ToSlash(filepath.Clean(dir)) == platform.DevLogSubdir:
		return paths.LogDir
	case filepath.IsAbs(dir):
		return filepath.Clean(dir)
	case paths.WorkspaceDir != "":
		return filepath.Join(paths.WorkspaceDir, dir)
	default:
		return filepath.Join(paths.DataDir, dir)
	}
}

// devLogFilePath names the dev log file for the current run day.
func devLogFilePath(dir, appName string, now time.Time) string {
	fileName := fmt.Sprintf("%s-%s.log", sanitizeLogFileStem(appName), now.Format("20060102"))
	return filepath.Join(dir, fileName)
}

// sanitizeLogFileStem normalizes app names into safe file-name segments.
func sanitizeLogFileStem(name string) string {
	replacer := strings.NewReplacer("/", "-", "\\", "-", ":", "-", " ", "-")
	stem := strings.Trim(replacer.Replace(strings.TrimSpace(name)), "-")
	if stem == "" {
		return appName
	}
	return stem
}
