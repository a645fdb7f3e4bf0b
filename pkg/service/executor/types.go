package executor

import (
	"time"

	"github.com/cwl-mcp/cwl-mcp/pkg/domain/run"
)

// InvocationRequest names a registered tool and its arguments.
type InvocationRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// InvocationResult is the complete answer to one request.
type InvocationResult struct {
	RunID      string         `json:"run_id"`
	Tool       string         `json:"tool"`
	Status     run.Status     `json:"status"`
	Outputs    map[string]any `json:"outputs"`
	Truncated  []string       `json:"truncated,omitempty"`
	Command    string         `json:"command"`
	ExitCode   int            `json:"exit_code"`
	Stdout     string         `json:"stdout,omitempty"`
	Stderr     string         `json:"stderr,omitempty"`
	JobDir     string         `json:"job_dir"`
	DurationMS int64          `json:"duration_ms"`

	references map[string]any
}

// Config controls where and how long tools run.
type Config struct {
	// WorkspaceDir holds one job directory per invocation.
	WorkspaceDir string
	// BaseDir anchors relative input paths. Defaults to the working directory.
	BaseDir string
	// Timeout bounds each invocation. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxReadBytes caps each output read when a tool has read_outs set.
	MaxReadBytes int64
	// Cores is reported as $(runtime.cores). Zero means runtime.NumCPU().
	Cores int
}

const (
	DefaultTimeout      = 10 * time.Minute
	DefaultMaxReadBytes = 1 << 20
)
