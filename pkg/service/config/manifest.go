package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/cwl-mcp/cwl-mcp/pkg/service/registry"
)

// ToolEntry is one tool listed in a manifest.
type ToolEntry struct {
	Path     string `yaml:"path"`
	Name     string `yaml:"name,omitempty"`
	ReadOuts bool   `yaml:"read_outs,omitempty"`
}

// Manifest lists the tools to serve and optionally where to listen.
type Manifest struct {
	Host  string      `yaml:"host,omitempty"`
	Port  int         `yaml:"port,omitempty"`
	Tools []ToolEntry `yaml:"tools"`
}

// LoadManifest reads a YAML manifest. Relative tool paths are resolved against the
// manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read manifest %s", path)
	}

	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, errors.Wrapf(err, "failed to parse manifest %s", path)
	}

	base := filepath.Dir(path)
	for i := range m.Tools {
		if m.Tools[i].Path == "" {
			return nil, fmt.Errorf("manifest %s: tools[%d] has no path", path, i)
		}
		if !filepath.IsAbs(m.Tools[i].Path) {
			m.Tools[i].Path = filepath.Join(base, m.Tools[i].Path)
		}
	}
	return &m, nil
}

// Options converts the entry into registry options.
func (e ToolEntry) Options() []registry.Option {
	var opts []registry.Option
	if e.Name != "" {
		opts = append(opts, registry.WithName(e.Name))
	}
	if e.ReadOuts {
		opts = append(opts, registry.WithReadOuts(true))
	}
	return opts
}

// Register adds every manifest tool to reg, stopping at the first failure.
func (m *Manifest) Register(reg *registry.ToolRegistry) error {
	for _, entry := range m.Tools {
		if _, err := reg.AddTool(entry.Path, entry.Options()...); err != nil {
			return errors.Wrapf(err, "failed to register %s", entry.Path)
		}
	}
	return nil
}

// Apply copies listener settings present in the manifest onto cfg.
func (m *Manifest) Apply(cfg *Config) {
	if m.Host != "" {
		cfg.Host = m.Host
	}
	if m.Port != 0 {
		cfg.Port = m.Port
	}
}
