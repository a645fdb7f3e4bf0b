// Package executor dispatches invocation requests against registered tools.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	"github.com/cwl-mcp/cwl-mcp/pkg/domain/cwl"
	"github.com/cwl-mcp/cwl-mcp/pkg/domain/errors"
	"github.com/cwl-mcp/cwl-mcp/pkg/domain/run"
	"github.com/cwl-mcp/cwl-mcp/pkg/infrastructure/core/runner"
	"github.com/cwl-mcp/cwl-mcp/pkg/service/registry"
)

// Executor resolves, validates, runs and answers invocation requests.
type Executor struct {
	registry *registry.ToolRegistry
	runner   runner.CommandRunner
	store    run.Store
	cfg      Config
	logger   *slog.Logger
}

// New creates an executor. store may be nil to disable run history.
func New(reg *registry.ToolRegistry, r runner.CommandRunner, store run.Store, cfg Config, logger *slog.Logger) (*Executor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WorkspaceDir == "" {
		return nil, errors.New(errors.CodeConfigurationInvalid, "executor", "workspace directory is required", nil)
	}
	if cfg.BaseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.New(errors.CodeIoError, "executor", "cannot determine working directory", err)
		}
		cfg.BaseDir = wd
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxReadBytes <= 0 {
		cfg.MaxReadBytes = DefaultMaxReadBytes
	}
	if cfg.Cores <= 0 {
		cfg.Cores = runtime.NumCPU()
	}
	abs, err := filepath.Abs(cfg.WorkspaceDir)
	if err != nil {
		return nil, errors.New(errors.CodeConfigurationInvalid, "executor", "invalid workspace directory", err)
	}
	cfg.WorkspaceDir = abs

	return &Executor{
		registry: reg,
		runner:   r,
		store:    store,
		cfg:      cfg,
		logger:   logger.With("component", "executor"),
	}, nil
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// Invoke handles one request. Unknown tools and invalid arguments fail before
// anything runs; failures after the command starts are ExecutionErrors and are
// recorded in the run history.
func (e *Executor) Invoke(ctx context.Context, req InvocationRequest) (*InvocationResult, error) {
	tool, err := e.registry.Get(req.Tool)
	if err != nil {
		return nil, err
	}
	d := tool.Descriptor

	args := req.Arguments
	if args == nil {
		args = map[string]any{}
	}
	bound, violations, err := d.Validate(args, e.cfg.BaseDir)
	if err != nil {
		return nil, errors.New(errors.CodeInternalError, "validation", "cannot validate arguments", err)
	}
	if len(violations) > 0 {
		e.logger.Info("Rejected invocation", "tool", tool.Name, "violations", len(violations))
		return nil, errors.ArgumentValidationError(tool.Name, violations)
	}

	runID := newRunID()
	jobDir := filepath.Join(e.cfg.WorkspaceDir, tool.Name, runID)
	rt := cwl.Runtime{
		OutDir: jobDir,
		TmpDir: filepath.Join(jobDir, ".tmp"),
		Cores:  e.cfg.Cores,
	}
	if err := os.MkdirAll(rt.TmpDir, 0o755); err != nil {
		return nil, errors.ExecutionError(tool.Name, "cannot create job directory", err)
	}

	result := &InvocationResult{
		RunID:  runID,
		Tool:   tool.Name,
		Status: run.StatusFailed,
		JobDir: jobDir,
	}
	started := time.Now()
	execErr := e.execute(ctx, tool, bound, rt, result)
	result.DurationMS = time.Since(started).Milliseconds()
	if execErr == nil {
		result.Status = run.StatusSucceeded
	}
	e.record(ctx, result, started, execErr)

	if execErr != nil {
		e.logger.Warn("Invocation failed", "tool", tool.Name, "run_id", runID, "error", execErr)
		return result, execErr
	}
	e.logger.Info("Invocation succeeded", "tool", tool.Name, "run_id", runID, "duration_ms", result.DurationMS)
	return result, nil
}

func (e *Executor) execute(ctx context.Context, tool *registry.Tool, bound cwl.Bindings, rt cwl.Runtime, result *InvocationResult) error {
	d := tool.Descriptor

	cmd, err := d.Command(bound, rt)
	if err != nil {
		return errors.ExecutionError(tool.Name, "cannot build command line", err)
	}
	result.Command = cmd.String()

	spec := runner.Spec{
		Args:    cmd.Args,
		Dir:     rt.OutDir,
		Env:     cmd.Env,
		Stdin:   cmd.Stdin,
		Stdout:  cmd.Stdout,
		Stderr:  cmd.Stderr,
		Timeout: e.cfg.Timeout,
		Image:   d.DockerImage,
		Mounts:  mounts(bound, rt.OutDir),
	}
	e.logger.Debug("Running tool", "tool", tool.Name, "command", result.Command)

	res, err := e.runner.Run(ctx, spec)
	if res != nil {
		result.ExitCode = res.ExitCode
		result.Stdout = res.StdoutTail
		result.Stderr = res.StderrTail
	}
	if err != nil {
		if pkgerrors.Is(err, runner.ErrTimeout) {
			return errors.TimeoutError(tool.Name, err).
				With("timeout", e.cfg.Timeout.String()).
				With("stderr", result.Stderr)
		}
		return errors.ExecutionError(tool.Name, "command could not be run", err).
			With("stderr", result.Stderr)
	}
	if !d.IsSuccess(res.ExitCode) {
		return errors.ExecutionError(tool.Name, fmt.Sprintf("command exited with status %d", res.ExitCode), nil).
			With("exit_code", res.ExitCode).
			With("stderr", res.StderrTail)
	}

	outputs, err := d.CollectOutputs(bound, rt, cmd)
	if err != nil {
		result.Outputs = referenceOutputs(outputs)
		return errors.ExecutionError(tool.Name, "expected outputs are missing", err).
			With("stderr", result.Stderr)
	}

	result.references = referenceOutputs(outputs)
	if tool.ReadOuts {
		result.Outputs, result.Truncated, err = materializeOutputs(outputs, e.cfg.MaxReadBytes)
		if err != nil {
			return errors.ExecutionError(tool.Name, "cannot read outputs", err)
		}
	} else {
		result.Outputs = result.references
	}
	return nil
}

func (e *Executor) record(ctx context.Context, result *InvocationResult, started time.Time, execErr error) {
	if e.store == nil {
		return
	}
	rec := run.Record{
		ID:         result.RunID,
		Tool:       result.Tool,
		Status:     result.Status,
		Command:    result.Command,
		ExitCode:   result.ExitCode,
		JobDir:     result.JobDir,
		StartedAt:  started.UTC(),
		DurationMS: result.DurationMS,
	}
	if execErr != nil {
		rec.ErrorCode = string(errors.CodeOf(execErr))
		rec.Error = execErr.Error()
	} else {
		rec.Outputs = result.references
	}
	if err := e.store.Put(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Warn("Failed to record run", "run_id", rec.ID, "error", err)
	}
}

// mounts lists the host paths a containerised run needs: the job directory
// read-write and the directory of every input file read-only.
func mounts(b cwl.Bindings, jobDir string) []runner.Mount {
	ms := []runner.Mount{{Path: jobDir}}
	var walk func(v any)
	walk = func(v any) {
		switch x := v.(type) {
		case cwl.File:
			p := x.Path
			if x.Class == string(cwl.KindFile) {
				p = filepath.Dir(p)
			}
			ms = append(ms, runner.Mount{Path: p, ReadOnly: true})
		case []any:
			for _, item := range x {
				walk(item)
			}
		}
	}
	for _, v := range b {
		walk(v)
	}
	return ms
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
