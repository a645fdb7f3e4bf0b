package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/cwl-mcp/cwl-mcp/pkg/infrastructure/core/runner"
	"github.com/cwl-mcp/cwl-mcp/pkg/service/executor"
	"github.com/cwl-mcp/cwl-mcp/pkg/service/server"
)

// Config holds everything the serve command needs besides the tool list.
type Config struct {
	// Listener
	Host      string `env:"CWL_MCP_HOST"`
	Port      int    `env:"CWL_MCP_PORT"`
	Transport string `env:"CWL_MCP_TRANSPORT"`

	// Execution
	WorkspaceDir    string        `env:"CWL_MCP_WORKSPACE_DIR"`
	StorePath       string        `env:"CWL_MCP_STORE_PATH"`
	ToolTimeout     time.Duration `env:"CWL_MCP_TOOL_TIMEOUT"`
	ContainerEngine string        `env:"CWL_MCP_CONTAINER_ENGINE"`
	MaxReadBytes    int64         `env:"CWL_MCP_MAX_READ_BYTES"`

	// Logging settings
	LogLevel  string `env:"CWL_MCP_LOG_LEVEL"`
	LogFormat string `env:"CWL_MCP_LOG_FORMAT"`

	// Service identification
	ServiceName    string `env:"CWL_MCP_SERVICE_NAME"`
	ServiceVersion string `env:"CWL_MCP_SERVICE_VERSION"`
}

// Load applies defaults, then the optional env file, then the process environment.
func Load(envFile string) (*Config, error) {
	cfg := DefaultConfig()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig uses process-specific paths so that several servers can run side by side.
func DefaultConfig() *Config {
	pid := os.Getpid()
	return &Config{
		Host:           "0.0.0.0",
		Port:           8000,
		Transport:      server.TransportHTTP,
		WorkspaceDir:   filepath.Join(os.TempDir(), fmt.Sprintf("cwl-mcp-workspace-%d", pid)),
		StorePath:      filepath.Join(os.TempDir(), fmt.Sprintf("cwl-mcp-runs-%d.db", pid)),
		ToolTimeout:    executor.DefaultTimeout,
		MaxReadBytes:   executor.DefaultMaxReadBytes,
		LogLevel:       "info",
		LogFormat:      "text",
		ServiceName:    "cwl-mcp",
		ServiceVersion: "dev",
	}
}

func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("CWL_MCP_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("CWL_MCP_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CWL_MCP_PORT: %w", err)
		}
		cfg.Port = n
	}
	if v := os.Getenv("CWL_MCP_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("CWL_MCP_WORKSPACE_DIR"); v != "" {
		cfg.WorkspaceDir = v
	}
	// An explicitly empty store path disables run history.
	if v, ok := os.LookupEnv("CWL_MCP_STORE_PATH"); ok {
		cfg.StorePath = v
	}
	if v := os.Getenv("CWL_MCP_TOOL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CWL_MCP_TOOL_TIMEOUT: %w", err)
		}
		cfg.ToolTimeout = d
	}
	if v := os.Getenv("CWL_MCP_CONTAINER_ENGINE"); v != "" {
		cfg.ContainerEngine = v
	}
	if v := os.Getenv("CWL_MCP_MAX_READ_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CWL_MCP_MAX_READ_BYTES: %w", err)
		}
		cfg.MaxReadBytes = n
	}
	if v := os.Getenv("CWL_MCP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CWL_MCP_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("CWL_MCP_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if v := os.Getenv("CWL_MCP_SERVICE_VERSION"); v != "" {
		cfg.ServiceVersion = v
	}
	return nil
}

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	if c.WorkspaceDir == "" {
		return fmt.Errorf("workspace_dir is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535")
	}
	switch c.Transport {
	case server.TransportHTTP, server.TransportSSE, server.TransportStdio:
	default:
		return fmt.Errorf("transport must be one of: http, sse, stdio")
	}
	if c.ToolTimeout <= 0 {
		return fmt.Errorf("tool_timeout must be positive")
	}
	if c.MaxReadBytes <= 0 {
		return fmt.Errorf("max_read_bytes must be positive")
	}
	switch c.ContainerEngine {
	case "", runner.EngineDocker, runner.EnginePodman:
	default:
		return fmt.Errorf("container_engine must be empty, docker or podman")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json")
	}
	return nil
}

// ExecutorConfig converts to the executor's settings.
func (c *Config) ExecutorConfig() executor.Config {
	return executor.Config{
		WorkspaceDir: c.WorkspaceDir,
		Timeout:      c.ToolTimeout,
		MaxReadBytes: c.MaxReadBytes,
	}
}

// ServerOptions converts to the MCP server's settings.
func (c *Config) ServerOptions() server.Options {
	return server.Options{
		Name:      c.ServiceName,
		Version:   c.ServiceVersion,
		Transport: c.Transport,
	}
}
