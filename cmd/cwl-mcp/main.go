// Command cwl-mcp serves CWL command line tools as MCP tools.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cwl-mcp/cwl-mcp/pkg/logger"
)

// Build-time variables set via ldflags
var (
	// Version is the semantic version of the application
	Version = "dev"
	// GitCommit is the git commit SHA at build time
	GitCommit = "unknown"
	// BuildTime is the time of the build
	BuildTime = "unknown"
)

// log is the process-level console logger. It writes to stderr so the stdio
// transport keeps stdout for protocol traffic.
var log = logger.NewConsoleLogger(os.Stderr, "info")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cwl-mcp",
		Short:         "Serve CWL command line tools over the Model Context Protocol",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), getVersion())
		},
	}
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("cwl-mcp failed")
		os.Exit(1)
	}
}

// getVersion returns formatted version information
func getVersion() string {
	if Version == "dev" {
		return fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime)
	}
	return fmt.Sprintf("v%s (commit: %s, built: %s)", Version, GitCommit, BuildTime)
}

func setLogLevel(level string) {
	log = log.Level(logger.ZerologLevel(level))
	zerolog.SetGlobalLevel(logger.ZerologLevel(level))
}
