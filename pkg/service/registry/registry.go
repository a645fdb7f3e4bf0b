// Package registry holds the tools a server exposes, keyed by display name.
package registry

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"github.com/cwl-mcp/cwl-mcp/pkg/domain/cwl"
	"github.com/cwl-mcp/cwl-mcp/pkg/domain/errors"
)

// toolNamePattern is the set of names MCP clients accept for tools.
var toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Tool is one registered entry.
type Tool struct {
	Name       string
	Descriptor *cwl.Descriptor
	ReadOuts   bool
}

// Option configures a single AddTool call.
type Option func(*addOptions)

type addOptions struct {
	name     string
	readOuts bool
}

// WithName registers the tool under name instead of the descriptor id.
func WithName(name string) Option {
	return func(o *addOptions) {
		o.name = name
	}
}

// WithReadOuts makes invocations answer with output contents instead of paths.
func WithReadOuts(readOuts bool) Option {
	return func(o *addOptions) {
		o.readOuts = readOuts
	}
}

// ToolRegistry maps display names to tools. It is safe for concurrent use;
// registration is expected to finish before serving starts.
type ToolRegistry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	order  []string
	logger *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *ToolRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolRegistry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tool_registry"),
	}
}

// AddTool parses the descriptor at path and registers it. On any error the registry
// is left unchanged.
func (r *ToolRegistry) AddTool(path string, opts ...Option) (*Tool, error) {
	d, err := cwl.Load(path)
	if err != nil {
		return nil, err
	}
	return r.Register(d, opts...)
}

// Register adds an already parsed descriptor.
func (r *ToolRegistry) Register(d *cwl.Descriptor, opts ...Option) (*Tool, error) {
	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}

	name := o.name
	if name == "" {
		name = d.ID
	}
	if !toolNamePattern.MatchString(name) {
		return nil, errors.DescriptorParseError(d.Path,
			fmt.Sprintf("tool name %q must be 1-64 letters, digits, '_' or '-'", name), nil)
	}

	tool := &Tool{Name: name, Descriptor: d, ReadOuts: o.readOuts}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return nil, errors.DuplicateToolError(name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)

	r.logger.Info("Registered tool",
		"name", name,
		"path", d.Path,
		"inputs", len(d.Inputs),
		"outputs", len(d.Outputs),
		"read_outs", o.readOuts)
	return tool, nil
}

// Get looks up a tool by display name.
func (r *ToolRegistry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, errors.UnknownToolError(name)
	}
	return tool, nil
}

// List returns the tools in registration order.
func (r *ToolRegistry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns the registered names sorted alphabetically.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := append([]string{}, r.order...)
	sort.Strings(names)
	return names
}

// Len is the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
