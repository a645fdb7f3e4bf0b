// Package runner executes bound tool command lines as local processes.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultTailBytes is how much of stdout and stderr is kept in a Result.
	DefaultTailBytes = 4096

	killGracePeriod = 5 * time.Second
)

// ErrTimeout is returned (wrapped) when a command exceeds its timeout.
var ErrTimeout = errors.New("command timed out")

// Spec describes one process to run.
type Spec struct {
	Args    []string
	Dir     string
	Env     map[string]string
	Stdin   string // file read as standard input
	Stdout  string // file receiving standard output
	Stderr  string // file receiving standard error
	Timeout time.Duration

	// Image and Mounts are only used by container runners.
	Image  string
	Mounts []Mount
}

// Mount is a host path made visible inside a container at the same location.
type Mount struct {
	Path     string
	ReadOnly bool
}

// Result describes a process that was started.
type Result struct {
	ExitCode   int
	StdoutTail string
	StderrTail string
	Duration   time.Duration
}

// CommandRunner runs a Spec to completion. A non-zero exit status is not an error;
// errors mean the process could not be started or was killed.
type CommandRunner interface {
	Run(ctx context.Context, spec Spec) (*Result, error)
}

// DefaultCommandRunner runs commands directly on the host using os/exec.
type DefaultCommandRunner struct {
	logger    *slog.Logger
	tailBytes int
}

// NewDefaultCommandRunner creates a host runner.
func NewDefaultCommandRunner(logger *slog.Logger) *DefaultCommandRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultCommandRunner{
		logger:    logger.With("component", "command_runner"),
		tailBytes: DefaultTailBytes,
	}
}

// Run executes spec.Args[0] with the remaining arguments.
func (r *DefaultCommandRunner) Run(ctx context.Context, spec Spec) (*Result, error) {
	if len(spec.Args) == 0 {
		return nil, errors.New("empty command line")
	}

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	command := exec.CommandContext(ctx, spec.Args[0], spec.Args[1:]...)
	command.Dir = spec.Dir
	command.WaitDelay = killGracePeriod
	if len(spec.Env) > 0 {
		command.Env = append(os.Environ(), envList(spec.Env)...)
	}

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	if spec.Stdin != "" {
		f, err := os.Open(spec.Stdin)
		if err != nil {
			return nil, errors.Wrapf(err, "open stdin %s", spec.Stdin)
		}
		closers = append(closers, f)
		command.Stdin = f
	}

	stdoutTail := newTailBuffer(r.tailBytes)
	stderrTail := newTailBuffer(r.tailBytes)
	stdout, err := sink(spec.Stdout, stdoutTail, &closers)
	if err != nil {
		return nil, err
	}
	stderr, err := sink(spec.Stderr, stderrTail, &closers)
	if err != nil {
		return nil, err
	}
	command.Stdout = stdout
	command.Stderr = stderr

	r.logger.Debug("Starting command", "args", spec.Args, "dir", spec.Dir, "timeout", spec.Timeout)
	start := time.Now()
	runErr := command.Run()
	result := &Result{
		ExitCode:   -1,
		StdoutTail: stdoutTail.String(),
		StderrTail: stderrTail.String(),
		Duration:   time.Since(start),
	}
	if command.ProcessState != nil {
		result.ExitCode = command.ProcessState.ExitCode()
	}

	if ctx.Err() == context.DeadlineExceeded {
		return result, errors.Wrapf(ErrTimeout, "%s after %s", spec.Args[0], spec.Timeout)
	}
	if ctx.Err() != nil {
		return result, errors.Wrap(ctx.Err(), spec.Args[0])
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return result, nil
		}
		return result, errors.Wrapf(runErr, "start %s", spec.Args[0])
	}
	return result, nil
}

func sink(path string, tail io.Writer, closers *[]io.Closer) (io.Writer, error) {
	if path == "" {
		return tail, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	*closers = append(*closers, f)
	return io.MultiWriter(f, tail), nil
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return out
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) >= t.limit {
		t.buf = append(t.buf[:0], p[len(p)-t.limit:]...)
		return n, nil
	}
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
