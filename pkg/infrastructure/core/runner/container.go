package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/pkg/errors"
)

// Supported container engines.
const (
	EngineDocker = "docker"
	EnginePodman = "podman"
)

// ContainerRunner runs specs that name an image inside a container engine and falls
// back to the host runner for specs without one.
type ContainerRunner struct {
	engine string
	host   CommandRunner
	logger *slog.Logger
}

// NewContainerRunner wraps host with engine ("docker" or "podman").
func NewContainerRunner(engine string, host CommandRunner, logger *slog.Logger) (*ContainerRunner, error) {
	switch engine {
	case EngineDocker, EnginePodman:
	default:
		return nil, errors.Errorf("unsupported container engine %q", engine)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContainerRunner{
		engine: engine,
		host:   host,
		logger: logger.With("component", "container_runner", "engine", engine),
	}, nil
}

// Run executes spec in a container when spec.Image is set.
func (r *ContainerRunner) Run(ctx context.Context, spec Spec) (*Result, error) {
	if spec.Image == "" {
		return r.host.Run(ctx, spec)
	}
	wrapped := spec
	wrapped.Args = r.containerArgs(spec)
	wrapped.Env = nil
	r.logger.Debug("Running in container", "image", spec.Image)
	return r.host.Run(ctx, wrapped)
}

func (r *ContainerRunner) containerArgs(spec Spec) []string {
	args := []string{r.engine, "run", "--rm"}
	if spec.Stdin != "" {
		args = append(args, "-i")
	}
	if spec.Dir != "" {
		args = append(args, "--workdir", spec.Dir)
	}

	mounts := append([]Mount{}, spec.Mounts...)
	sort.Slice(mounts, func(i, j int) bool { return mounts[i].Path < mounts[j].Path })
	seen := map[string]bool{}
	for _, m := range mounts {
		if seen[m.Path] {
			continue
		}
		seen[m.Path] = true
		opt := "rw"
		if m.ReadOnly {
			opt = "ro"
		}
		args = append(args, "--volume", fmt.Sprintf("%s:%s:%s", m.Path, m.Path, opt))
	}

	for _, kv := range envList(spec.Env) {
		args = append(args, "--env", kv)
	}
	args = append(args, spec.Image)
	return append(args, spec.Args...)
}
