// Package cwl models CWL CommandLineTool documents as immutable tool descriptors.
//
// A Descriptor is produced once by Parse or Load and never mutated afterwards. It
// carries everything needed to advertise the tool (inputs and outputs with their
// type tags), to validate a request against it, and to turn bound arguments into a
// concrete command line.
package cwl

import (
	"path/filepath"
	"strings"
)

// Kind is the base type tag of a parameter.
type Kind string

const (
	KindString    Kind = "string"
	KindInt       Kind = "int"
	KindLong      Kind = "long"
	KindFloat     Kind = "float"
	KindDouble    Kind = "double"
	KindBoolean   Kind = "boolean"
	KindFile      Kind = "File"
	KindDirectory Kind = "Directory"
	KindEnum      Kind = "enum"
	KindArray     Kind = "array"
	KindStdout    Kind = "stdout"
	KindStderr    Kind = "stderr"
	KindAny       Kind = "Any"
)

// Type is a parameter type: a kind plus array items, enum symbols and optionality.
type Type struct {
	Kind     Kind     `json:"kind"`
	Items    *Type    `json:"items,omitempty"`
	Symbols  []string `json:"symbols,omitempty"`
	Optional bool     `json:"optional,omitempty"`
}

// String renders the type in CWL shorthand, e.g. "File?", "string[]", "enum(a|b)".
func (t Type) String() string {
	var s string
	switch t.Kind {
	case KindArray:
		if t.Items != nil {
			s = t.Items.String() + "[]"
		} else {
			s = "Any[]"
		}
	case KindEnum:
		s = "enum(" + strings.Join(t.Symbols, "|") + ")"
	default:
		s = string(t.Kind)
	}
	if t.Optional {
		s += "?"
	}
	return s
}

// IsNumeric reports whether the kind holds a number.
func (t Type) IsNumeric() bool {
	switch t.Kind {
	case KindInt, KindLong, KindFloat, KindDouble:
		return true
	}
	return false
}

// IsPath reports whether values of this kind reference the filesystem.
func (t Type) IsPath() bool {
	return t.Kind == KindFile || t.Kind == KindDirectory
}

// InputBinding controls how an input is placed on the command line.
type InputBinding struct {
	Position      int    `json:"position"`
	Prefix        string `json:"prefix,omitempty"`
	Separate      bool   `json:"separate"`
	ItemSeparator string `json:"item_separator,omitempty"`
	ValueFrom     string `json:"value_from,omitempty"`
}

// InputParameter is one declared input.
type InputParameter struct {
	Name    string        `json:"name"`
	Type    Type          `json:"type"`
	Label   string        `json:"label,omitempty"`
	Doc     string        `json:"doc,omitempty"`
	Default any           `json:"default,omitempty"`
	Binding *InputBinding `json:"binding,omitempty"`
}

// Required reports whether a request must supply this input.
func (p InputParameter) Required() bool {
	return !p.Type.Optional && p.Default == nil
}

// OutputBinding selects produced files for an output.
type OutputBinding struct {
	Glob         []string `json:"glob,omitempty"`
	LoadContents bool     `json:"load_contents,omitempty"`
}

// OutputParameter is one declared output.
type OutputParameter struct {
	Name    string         `json:"name"`
	Type    Type           `json:"type"`
	Label   string         `json:"label,omitempty"`
	Doc     string         `json:"doc,omitempty"`
	Binding *OutputBinding `json:"binding,omitempty"`
}

// Argument is a fixed entry of the tool's "arguments" list.
type Argument struct {
	Value    string `json:"value"`
	Position int    `json:"position"`
	Prefix   string `json:"prefix,omitempty"`
	Separate bool   `json:"separate"`
}

// Descriptor is the parsed, immutable form of one CommandLineTool document.
type Descriptor struct {
	Path         string            `json:"path"`
	ID           string            `json:"id"`
	Label        string            `json:"label,omitempty"`
	Doc          string            `json:"doc,omitempty"`
	CWLVersion   string            `json:"cwl_version,omitempty"`
	BaseCommand  []string          `json:"base_command"`
	Arguments    []Argument        `json:"arguments,omitempty"`
	Inputs       []InputParameter  `json:"inputs"`
	Outputs      []OutputParameter `json:"outputs"`
	Stdin        string            `json:"stdin,omitempty"`
	Stdout       string            `json:"stdout,omitempty"`
	Stderr       string            `json:"stderr,omitempty"`
	SuccessCodes []int             `json:"success_codes,omitempty"`
	DockerImage  string            `json:"docker_image,omitempty"`
	Env          map[string]string `json:"env,omitempty"`

	compiled *compiledSchema
}

// Input looks up a declared input by name.
func (d *Descriptor) Input(name string) (InputParameter, bool) {
	for _, in := range d.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return InputParameter{}, false
}

// Output looks up a declared output by name.
func (d *Descriptor) Output(name string) (OutputParameter, bool) {
	for _, out := range d.Outputs {
		if out.Name == name {
			return out, true
		}
	}
	return OutputParameter{}, false
}

// Description is the text advertised to callers.
func (d *Descriptor) Description() string {
	switch {
	case d.Label != "" && d.Doc != "":
		return d.Label + "\n\n" + d.Doc
	case d.Doc != "":
		return d.Doc
	case d.Label != "":
		return d.Label
	}
	return "Runs " + strings.Join(d.BaseCommand, " ")
}

// IsSuccess reports whether an exit code counts as success.
func (d *Descriptor) IsSuccess(code int) bool {
	if len(d.SuccessCodes) == 0 {
		return code == 0
	}
	for _, c := range d.SuccessCodes {
		if c == code {
			return true
		}
	}
	return false
}

// File is a bound File or Directory value.
type File struct {
	Class string `json:"class"`
	Path  string `json:"path"`
}

func (f File) Basename() string { return filepath.Base(f.Path) }
func (f File) Dirname() string  { return filepath.Dir(f.Path) }
func (f File) Nameext() string  { return filepath.Ext(f.Path) }

func (f File) Nameroot() string {
	base := f.Basename()
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Runtime describes the execution environment visible to parameter references.
type Runtime struct {
	OutDir string
	TmpDir string
	Cores  int
}
