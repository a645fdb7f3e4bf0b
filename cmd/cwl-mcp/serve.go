package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwl-mcp/cwl-mcp/pkg/domain/run"
	"github.com/cwl-mcp/cwl-mcp/pkg/infrastructure/core/runner"
	"github.com/cwl-mcp/cwl-mcp/pkg/infrastructure/persistence/runs"
	"github.com/cwl-mcp/cwl-mcp/pkg/logger"
	"github.com/cwl-mcp/cwl-mcp/pkg/service/config"
	"github.com/cwl-mcp/cwl-mcp/pkg/service/executor"
	"github.com/cwl-mcp/cwl-mcp/pkg/service/registry"
	"github.com/cwl-mcp/cwl-mcp/pkg/service/server"
)

// serveFlags holds the serve command's flags. Only flags set on the command line
// override the loaded configuration.
type serveFlags struct {
	configFile      string
	manifest        string
	tools           []string
	readOuts        bool
	host            string
	port            int
	transport       string
	logLevel        string
	timeout         string
	workspaceDir    string
	storePath       string
	containerEngine string
}

func newServeCmd() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Register CWL tools and serve them over MCP",
		Long: `The serve command registers the tools listed in a manifest and/or given with
--tool, then serves them over MCP until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, manifest, err := loadServeConfig(cmd, flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, manifest, flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.configFile, "config", ".env", "Path to an env file with CWL_MCP_* settings")
	f.StringVar(&flags.manifest, "manifest", "", "Path to a YAML tool manifest")
	f.StringArrayVar(&flags.tools, "tool", nil, "CWL descriptor to register, as path or path=name (repeatable)")
	f.BoolVar(&flags.readOuts, "read-outs", false, "Return output file contents instead of paths for --tool entries")
	f.StringVar(&flags.host, "host", "", "Listen host")
	f.IntVar(&flags.port, "port", 0, "Listen port")
	f.StringVar(&flags.transport, "transport", "", "Transport type (http, sse, stdio)")
	f.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	f.StringVar(&flags.timeout, "timeout", "", "Per-invocation timeout (e.g. '10m')")
	f.StringVar(&flags.workspaceDir, "workspace-dir", "", "Directory for job directories")
	f.StringVar(&flags.storePath, "store-path", "", "Run history database path (empty disables history)")
	f.StringVar(&flags.containerEngine, "container-engine", "", "Run DockerRequirement tools with docker or podman")
	return cmd
}

// loadServeConfig loads configuration and applies flag overrides
func loadServeConfig(cmd *cobra.Command, flags *serveFlags) (*config.Config, *config.Manifest, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	var manifest *config.Manifest
	if flags.manifest != "" {
		manifest, err = config.LoadManifest(flags.manifest)
		if err != nil {
			return nil, nil, err
		}
		manifest.Apply(cfg)
	}

	changed := cmd.Flags().Changed
	if changed("host") {
		cfg.Host = flags.host
	}
	if changed("port") {
		cfg.Port = flags.port
	}
	if changed("transport") {
		cfg.Transport = flags.transport
	}
	if changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if changed("timeout") {
		d, err := time.ParseDuration(flags.timeout)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --timeout: %w", err)
		}
		cfg.ToolTimeout = d
	}
	if changed("workspace-dir") {
		cfg.WorkspaceDir = flags.workspaceDir
	}
	if changed("store-path") {
		cfg.StorePath = flags.storePath
	}
	if changed("container-engine") {
		cfg.ContainerEngine = flags.containerEngine
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if manifest == nil && len(flags.tools) == 0 {
		return nil, nil, fmt.Errorf("no tools to serve: pass --manifest or --tool")
	}
	return cfg, manifest, nil
}

// buildRegistry registers manifest tools first, then --tool entries.
func buildRegistry(reg *registry.ToolRegistry, manifest *config.Manifest, flags *serveFlags) error {
	if manifest != nil {
		if err := manifest.Register(reg); err != nil {
			return err
		}
	}
	for _, arg := range flags.tools {
		entry := parseToolFlag(arg)
		entry.ReadOuts = flags.readOuts
		if _, err := reg.AddTool(entry.Path, entry.Options()...); err != nil {
			return fmt.Errorf("failed to register %s: %w", entry.Path, err)
		}
	}
	return nil
}

// parseToolFlag splits "path=name". A trailing segment that is not a valid tool
// name is treated as part of the path.
func parseToolFlag(arg string) config.ToolEntry {
	if i := strings.LastIndex(arg, "="); i > 0 && i < len(arg)-1 {
		name := arg[i+1:]
		if !strings.ContainsAny(name, `/\.`) {
			return config.ToolEntry{Path: arg[:i], Name: name}
		}
	}
	return config.ToolEntry{Path: arg}
}

func runServe(ctx context.Context, cfg *config.Config, manifest *config.Manifest, flags *serveFlags) error {
	setLogLevel(cfg.LogLevel)
	slogger, err := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}

	reg := registry.New(slogger)
	if err := buildRegistry(reg, manifest, flags); err != nil {
		return err
	}
	if reg.Len() == 0 {
		return fmt.Errorf("no tools registered")
	}

	if err := os.MkdirAll(cfg.WorkspaceDir, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace %s: %w", cfg.WorkspaceDir, err)
	}

	var store run.Store
	if cfg.StorePath != "" {
		boltStore, err := runs.NewBoltStore(cfg.StorePath, runs.DefaultMaxRecords, slogger)
		if err != nil {
			return err
		}
		defer func() {
			if err := boltStore.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close run store")
			}
		}()
		store = boltStore
	} else {
		log.Info().Msg("Run history disabled")
	}

	var cmdRunner runner.CommandRunner = runner.NewDefaultCommandRunner(slogger)
	if cfg.ContainerEngine != "" {
		containerRunner, err := runner.NewContainerRunner(cfg.ContainerEngine, cmdRunner, slogger)
		if err != nil {
			return err
		}
		cmdRunner = containerRunner
	}

	exec, err := executor.New(reg, cmdRunner, store, cfg.ExecutorConfig(), slogger)
	if err != nil {
		return err
	}

	opts := cfg.ServerOptions()
	if opts.Version == "dev" && Version != "dev" {
		opts.Version = Version
	}
	srv := server.New(reg, exec, store, opts, slogger)

	log.Info().
		Str("version", getVersion()).
		Str("transport", cfg.Transport).
		Strs("tools", reg.Names()).
		Str("workspace", cfg.WorkspaceDir).
		Msg("Starting cwl-mcp")

	if err := srv.Serve(ctx, cfg.Host, cfg.Port); err != nil {
		return err
	}
	log.Info().Msg("Server stopped")
	return nil
}
