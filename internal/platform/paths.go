package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Paths is where one trellis instance keeps its files.
//
// WorkspaceDir is set only in dev mode; it anchors LogDir so dev logs land next to the checkout
// instead of in the user data dir.
type Paths struct {
	ConfigPath   string
	DataDir      string
	DBPath       string
	DBOverridden bool
	LogDir       string
	SnapshotDir  string
	WorkspaceDir string
}

// Request selects the app name, mode and explicit overrides for one resolution.
type Request struct {
	AppName string
	DevMode bool
	// ConfigPath and DBPath win over the platform defaults when non-blank.
	ConfigPath string
	DBPath     string
	// WorkDir is where dev mode starts looking for a workspace marker.
	WorkDir string
}

// Env is the host state Resolve reads: OS name, base dirs and environment lookups.
type Env struct {
	GOOS          string
	UserConfigDir string
	UserDataDir   string
	Getenv        func(string) string
}

// DevLogSubdir is the workspace-relative dev log directory.
const DevLogSubdir = ".trellis/log"

// baseDirVars names the env vars that override the config and data bases per OS.
var baseDirVars = map[string][2]string{
	"linux":   {"XDG_CONFIG_HOME", "XDG_DATA_HOME"},
	"windows": {"APPDATA", "LOCALAPPDATA"},
}

// workspaceMarkers identify a checkout root.
var workspaceMarkers = []string{"go.mod", ".git"}

// HostEnv reads Env from the running process.
func HostEnv() (Env, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return Env{}, fmt.Errorf("user config dir: %w", err)
	}
	dataDir := configDir
	switch runtime.GOOS {
	case "linux":
		home, err := os.UserHomeDir()
		if err != nil {
			return Env{}, fmt.Errorf("user home dir: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	case "windows":
		if v := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); v != "" {
			dataDir = v
		}
	}
	return Env{GOOS: runtime.GOOS, UserConfigDir: configDir, UserDataDir: dataDir, Getenv: os.Getenv}, nil
}

// DefaultPaths resolves production paths for trellis on this host.
func DefaultPaths() (Paths, error) {
	env, err := HostEnv()
	if err != nil {
		return Paths{}, err
	}
	return Resolve(Request{AppName: "trellis"}, env)
}

// Resolve computes every path for req under env. Dev mode suffixes the app name with "-dev",
// so dev and production never share a database.
func Resolve(req Request, env Env) (Paths, error) {
	if env.UserConfigDir == "" || env.UserDataDir == "" {
		return Paths{}, fmt.Errorf("empty base dirs")
	}
	appName := strings.TrimSpace(req.AppName)
	if appName == "" {
		return Paths{}, fmt.Errorf("empty app name")
	}
	if req.DevMode {
		appName += "-dev"
	}
	getenv := env.Getenv
	if getenv == nil {
		getenv = func(string) string { return "" }
	}

	configBase, dataBase := env.UserConfigDir, env.UserDataDir
	if vars, ok := baseDirVars[env.GOOS]; ok {
		if v := strings.TrimSpace(getenv(vars[0])); v != "" {
			configBase = v
		}
		if v := strings.TrimSpace(getenv(vars[1])); v != "" {
			dataBase = v
		}
	}

	dataDir := filepath.Join(dataBase, appName)
	p := Paths{
		ConfigPath:  filepath.Join(configBase, appName, "config.toml"),
		DataDir:     dataDir,
		DBPath:      filepath.Join(dataDir, appName+".db"),
		LogDir:      filepath.Join(dataDir, "log"),
		SnapshotDir: filepath.Join(dataDir, "snapshots"),
	}
	if v := strings.TrimSpace(req.ConfigPath); v != "" {
		p.ConfigPath = v
	}
	if v := strings.TrimSpace(req.DBPath); v != "" {
		p.DBPath = v
		p.DBOverridden = true
	}
	if req.DevMode {
		workDir := strings.TrimSpace(req.WorkDir)
		if workDir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return Paths{}, fmt.Errorf("resolve working dir: %w", err)
			}
			workDir = wd
		}
		p.WorkspaceDir = WorkspaceRoot(workDir)
		p.LogDir = filepath.Join(p.WorkspaceDir, filepath.FromSlash(DevLogSubdir))
	}
	return p, nil
}

// WorkspaceRoot returns the nearest ancestor of start holding a workspace marker, or start itself.
func WorkspaceRoot(start string) string {
	start = filepath.Clean(strings.TrimSpace(start))
	for dir := start; ; {
		for _, marker := range workspaceMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}
