package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	charmLog "github.com/charmbracelet/log"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/hylla/trellis/internal/telemetry"
)

// Environment overrides resolved by the CLI before Load.
const (
	EnvConfigPath = "TRELLIS_CONFIG"
	EnvDBPath     = "TRELLIS_DB_PATH"
	EnvDevMode    = "TRELLIS_DEV_MODE"
)

// DefaultMaxOpsPerBatch mirrors the service default.
const DefaultMaxOpsPerBatch = 200

type Config struct {
	Database  DatabaseConfig   `toml:"database"`
	Server    ServerConfig     `toml:"server"`
	Logging   LoggingConfig    `toml:"logging"`
	Telemetry telemetry.Config `toml:"telemetry"`
	Limits    LimitsConfig     `toml:"limits"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type ServerConfig struct {
	HTTPBind    string `toml:"http_bind"`
	APIEndpoint string `toml:"api_endpoint"`
	MCPEndpoint string `toml:"mcp_endpoint"`
}

type LoggingConfig struct {
	Level   string        `toml:"level"`
	DevFile DevFileConfig `toml:"dev_file"`
}

// DevFileConfig controls the logfmt file sink used in dev mode.
type DevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type LimitsConfig struct {
	MaxOpsPerBatch int `toml:"max_ops_per_batch"`
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Server: ServerConfig{
			HTTPBind:    "127.0.0.1:8080",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     ".trellis/log",
			},
		},
		Telemetry: telemetry.Config{
			Enabled:     false,
			Exporter:    "otlp-http",
			ServiceName: "trellis",
			SampleRate:  1.0,
		},
		Limits: LimitsConfig{
			MaxOpsPerBatch: DefaultMaxOpsPerBatch,
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database path is required")
	}

	if strings.TrimSpace(c.Server.HTTPBind) == "" {
		return errors.New("server.http_bind is required")
	}
	api := strings.Trim(strings.TrimSpace(c.Server.APIEndpoint), "/")
	mcp := strings.Trim(strings.TrimSpace(c.Server.MCPEndpoint), "/")
	if api != "" && api == mcp {
		return fmt.Errorf("server.api_endpoint and server.mcp_endpoint must differ: %q", c.Server.APIEndpoint)
	}

	if _, err := charmLog.ParseLevel(strings.TrimSpace(c.Logging.Level)); err != nil {
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	switch strings.TrimSpace(c.Telemetry.Exporter) {
	case "", "otlp-http", "stdout", "none":
	default:
		return fmt.Errorf("invalid telemetry.exporter: %q", c.Telemetry.Exporter)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be within [0, 1]: %v", c.Telemetry.SampleRate)
	}

	if c.Limits.MaxOpsPerBatch < 0 {
		return fmt.Errorf("limits.max_ops_per_batch must be >= 0: %d", c.Limits.MaxOpsPerBatch)
	}
	return nil
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
