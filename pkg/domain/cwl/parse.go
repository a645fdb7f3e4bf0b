package cwl

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cwl-mcp/cwl-mcp/pkg/domain/errors"
)

const (
	classCommandLineTool = "CommandLineTool"

	defaultStdoutFile = "stdout.txt"
	defaultStderrFile = "stderr.txt"
)

var paramNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)

// Load reads and parses the descriptor document at path.
func Load(path string) (*Descriptor, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.DescriptorParseError(path, "cannot resolve path", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, errors.DescriptorParseError(path, "cannot read document", err)
	}
	return Parse(data, abs)
}

// Parse parses a CommandLineTool document. source names the document in errors and
// anchors relative default paths; it may be empty.
func Parse(data []byte, source string) (*Descriptor, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.DescriptorParseError(source, "document is not valid YAML or JSON", err)
	}
	var doc map[string]any
	if err := root.Decode(&doc); err != nil {
		return nil, errors.DescriptorParseError(source, "document is not a mapping", err)
	}
	if len(doc) == 0 {
		return nil, errors.DescriptorParseError(source, "document is empty", nil)
	}

	p := &parser{source: source, root: &root}
	d, err := p.descriptor(doc)
	if err != nil {
		return nil, errors.DescriptorParseError(source, err.Error(), nil)
	}
	return d, nil
}

type parser struct {
	source string
	root   *yaml.Node
}

// keyOrder returns the keys of a top-level mapping field in document order.
func (p *parser) keyOrder(field string) []string {
	n := p.root
	if n == nil {
		return nil
	}
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	if n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value != field {
			continue
		}
		val := n.Content[i+1]
		if val.Kind != yaml.MappingNode {
			return nil
		}
		keys := make([]string, 0, len(val.Content)/2)
		for j := 0; j+1 < len(val.Content); j += 2 {
			keys = append(keys, val.Content[j].Value)
		}
		return keys
	}
	return nil
}

func (p *parser) descriptor(doc map[string]any) (*Descriptor, error) {
	class, _ := doc["class"].(string)
	switch class {
	case classCommandLineTool:
	case "":
		return nil, fmt.Errorf("missing required field \"class\"")
	default:
		return nil, fmt.Errorf("class %q is not supported, expected %s", class, classCommandLineTool)
	}

	d := &Descriptor{
		Path:       p.source,
		ID:         p.identifier(doc),
		Label:      asString(doc["label"]),
		Doc:        docString(doc["doc"]),
		CWLVersion: asString(doc["cwlVersion"]),
		Stdin:      asString(doc["stdin"]),
		Stdout:     asString(doc["stdout"]),
		Stderr:     asString(doc["stderr"]),
		compiled:   &compiledSchema{},
	}

	var err error
	if d.BaseCommand, err = stringList(doc["baseCommand"]); err != nil {
		return nil, fmt.Errorf("baseCommand: %w", err)
	}
	if d.Arguments, err = p.arguments(doc["arguments"]); err != nil {
		return nil, err
	}
	if len(d.BaseCommand) == 0 && len(d.Arguments) == 0 {
		return nil, fmt.Errorf("missing required field \"baseCommand\" (or \"arguments\")")
	}
	for _, field := range []string{"inputs", "outputs"} {
		if doc[field] == nil {
			return nil, fmt.Errorf("missing required field %q", field)
		}
	}
	if d.Inputs, err = p.inputs(doc["inputs"]); err != nil {
		return nil, err
	}
	if d.Outputs, err = p.outputs(doc["outputs"]); err != nil {
		return nil, err
	}
	if d.SuccessCodes, err = intList(doc["successCodes"]); err != nil {
		return nil, fmt.Errorf("successCodes: %w", err)
	}
	for _, key := range []string{"hints", "requirements"} {
		if err := p.requirements(d, doc[key]); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
	}

	for _, out := range d.Outputs {
		switch {
		case out.Type.Kind == KindStdout && d.Stdout == "":
			d.Stdout = defaultStdoutFile
		case out.Type.Kind == KindStderr && d.Stderr == "":
			d.Stderr = defaultStderrFile
		}
	}

	if err := p.checkReferences(d); err != nil {
		return nil, err
	}
	return d, nil
}

func (p *parser) identifier(doc map[string]any) string {
	id := strings.TrimPrefix(asString(doc["id"]), "#")
	if i := strings.LastIndexAny(id, "/#"); i >= 0 {
		id = id[i+1:]
	}
	if id != "" {
		return id
	}
	base := filepath.Base(p.source)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (p *parser) arguments(v any) ([]Argument, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("arguments: expected a list")
	}
	args := make([]Argument, 0, len(list))
	for i, item := range list {
		switch a := item.(type) {
		case string:
			args = append(args, Argument{Value: a, Separate: true})
		case map[string]any:
			pos, err := optionalInt(a["position"])
			if err != nil {
				return nil, fmt.Errorf("arguments[%d].position: %w", i, err)
			}
			args = append(args, Argument{
				Value:    asString(a["valueFrom"]),
				Position: pos,
				Prefix:   asString(a["prefix"]),
				Separate: boolOr(a["separate"], true),
			})
		default:
			args = append(args, Argument{Value: stringify(normalizeScalar(item)), Separate: true})
		}
	}
	return args, nil
}

func (p *parser) inputs(v any) ([]InputParameter, error) {
	entries, err := namedEntries(v, "inputs", p.keyOrder("inputs"))
	if err != nil {
		return nil, err
	}
	params := make([]InputParameter, 0, len(entries))
	for _, e := range entries {
		typ, err := parseType(e.spec["type"])
		if err != nil {
			return nil, fmt.Errorf("inputs.%s: %w", e.name, err)
		}
		if typ.Kind == KindStdout || typ.Kind == KindStderr {
			return nil, fmt.Errorf("inputs.%s: type %s is only valid for outputs", e.name, typ)
		}
		in := InputParameter{
			Name:    e.name,
			Type:    typ,
			Label:   asString(e.spec["label"]),
			Doc:     docString(e.spec["doc"]),
			Default: e.spec["default"],
		}
		if raw, ok := e.spec["inputBinding"]; ok {
			b, isMap := raw.(map[string]any)
			if !isMap && raw != nil {
				return nil, fmt.Errorf("inputs.%s.inputBinding: expected an object", e.name)
			}
			pos, err := optionalInt(b["position"])
			if err != nil {
				return nil, fmt.Errorf("inputs.%s.inputBinding.position: %w", e.name, err)
			}
			in.Binding = &InputBinding{
				Position:      pos,
				Prefix:        asString(b["prefix"]),
				Separate:      boolOr(b["separate"], true),
				ItemSeparator: asString(b["itemSeparator"]),
				ValueFrom:     asString(b["valueFrom"]),
			}
		}
		params = append(params, in)
	}
	return params, nil
}

func (p *parser) outputs(v any) ([]OutputParameter, error) {
	entries, err := namedEntries(v, "outputs", p.keyOrder("outputs"))
	if err != nil {
		return nil, err
	}
	params := make([]OutputParameter, 0, len(entries))
	for _, e := range entries {
		typ, err := parseType(e.spec["type"])
		if err != nil {
			return nil, fmt.Errorf("outputs.%s: %w", e.name, err)
		}
		out := OutputParameter{
			Name:  e.name,
			Type:  typ,
			Label: asString(e.spec["label"]),
			Doc:   docString(e.spec["doc"]),
		}
		if raw, ok := e.spec["outputBinding"].(map[string]any); ok {
			globs, err := stringList(raw["glob"])
			if err != nil {
				return nil, fmt.Errorf("outputs.%s.outputBinding.glob: %w", e.name, err)
			}
			out.Binding = &OutputBinding{
				Glob:         globs,
				LoadContents: boolOr(raw["loadContents"], false),
			}
		}
		needsGlob := typ.Kind != KindStdout && typ.Kind != KindStderr
		if needsGlob && (out.Binding == nil || len(out.Binding.Glob) == 0) {
			return nil, fmt.Errorf("outputs.%s: outputBinding.glob is required for type %s", e.name, typ)
		}
		params = append(params, out)
	}
	return params, nil
}

func (p *parser) requirements(d *Descriptor, v any) error {
	if v == nil {
		return nil
	}
	var reqs []map[string]any
	switch r := v.(type) {
	case []any:
		for _, item := range r {
			m, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("expected a list of objects")
			}
			reqs = append(reqs, m)
		}
	case map[string]any:
		for _, class := range sortedKeys(r) {
			m, _ := r[class].(map[string]any)
			if m == nil {
				m = map[string]any{}
			}
			m["class"] = class
			reqs = append(reqs, m)
		}
	default:
		return fmt.Errorf("expected a list or a map")
	}

	for _, req := range reqs {
		switch asString(req["class"]) {
		case "DockerRequirement":
			if img := asString(req["dockerPull"]); img != "" {
				d.DockerImage = img
			}
		case "EnvVarRequirement":
			env, err := envDefs(req["envDef"])
			if err != nil {
				return fmt.Errorf("EnvVarRequirement: %w", err)
			}
			if d.Env == nil {
				d.Env = map[string]string{}
			}
			for k, val := range env {
				d.Env[k] = val
			}
		}
	}
	return nil
}

func (p *parser) checkReferences(d *Descriptor) error {
	declared := make(map[string]bool, len(d.Inputs))
	for _, in := range d.Inputs {
		declared[in.Name] = true
	}
	check := func(where, s string) error {
		if err := checkExpressions(s, declared); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		return nil
	}

	for i, a := range d.Arguments {
		if err := check(fmt.Sprintf("arguments[%d]", i), a.Value); err != nil {
			return err
		}
	}
	for _, in := range d.Inputs {
		if in.Binding != nil {
			if err := check("inputs."+in.Name+".inputBinding.valueFrom", in.Binding.ValueFrom); err != nil {
				return err
			}
		}
	}
	for _, out := range d.Outputs {
		if out.Binding == nil {
			continue
		}
		for _, g := range out.Binding.Glob {
			if err := check("outputs."+out.Name+".outputBinding.glob", g); err != nil {
				return err
			}
		}
	}
	for field, s := range map[string]string{"stdin": d.Stdin, "stdout": d.Stdout, "stderr": d.Stderr} {
		if err := check(field, s); err != nil {
			return err
		}
	}
	for k, v := range d.Env {
		if err := check("EnvVarRequirement."+k, v); err != nil {
			return err
		}
	}
	return nil
}

type namedEntry struct {
	name string
	spec map[string]any
}

// namedEntries accepts both the list form ([{id: x, type: ...}]) and the map form
// ({x: type} or {x: {type: ...}}) of inputs and outputs, keeping document order.
func namedEntries(v any, field string, order []string) ([]namedEntry, error) {
	var entries []namedEntry
	switch m := v.(type) {
	case nil:
		return nil, nil
	case []any:
		for i, item := range m {
			spec, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s[%d]: expected an object", field, i)
			}
			name := strings.TrimPrefix(asString(spec["id"]), "#")
			if j := strings.LastIndexAny(name, "/#"); j >= 0 {
				name = name[j+1:]
			}
			entries = append(entries, namedEntry{name: name, spec: spec})
		}
	case map[string]any:
		if len(order) != len(m) {
			order = sortedKeys(m)
		}
		for _, name := range order {
			switch spec := m[name].(type) {
			case map[string]any:
				entries = append(entries, namedEntry{name: name, spec: spec})
			default:
				entries = append(entries, namedEntry{name: name, spec: map[string]any{"type": spec}})
			}
		}
	default:
		return nil, fmt.Errorf("%s: expected a list or a map", field)
	}

	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if e.name == "" {
			return nil, fmt.Errorf("%s[%d]: missing id", field, i)
		}
		if !paramNamePattern.MatchString(e.name) {
			return nil, fmt.Errorf("%s.%s: invalid parameter name", field, e.name)
		}
		if seen[e.name] {
			return nil, fmt.Errorf("%s.%s: declared more than once", field, e.name)
		}
		seen[e.name] = true
	}
	return entries, nil
}

var knownKinds = map[string]Kind{
	"string":    KindString,
	"int":       KindInt,
	"long":      KindLong,
	"float":     KindFloat,
	"double":    KindDouble,
	"boolean":   KindBoolean,
	"File":      KindFile,
	"Directory": KindDirectory,
	"stdout":    KindStdout,
	"stderr":    KindStderr,
	"Any":       KindAny,
}

func parseType(v any) (Type, error) {
	switch t := v.(type) {
	case nil:
		return Type{}, fmt.Errorf("missing type")
	case string:
		return parseTypeString(t)
	case []any:
		var members []Type
		optional := false
		for _, m := range t {
			if s, ok := m.(string); ok && s == "null" {
				optional = true
				continue
			}
			mt, err := parseType(m)
			if err != nil {
				return Type{}, err
			}
			members = append(members, mt)
		}
		if len(members) != 1 {
			return Type{}, fmt.Errorf("union types with %d non-null members are not supported", len(members))
		}
		members[0].Optional = members[0].Optional || optional
		return members[0], nil
	case map[string]any:
		switch asString(t["type"]) {
		case "array":
			items, err := parseType(t["items"])
			if err != nil {
				return Type{}, fmt.Errorf("array items: %w", err)
			}
			return Type{Kind: KindArray, Items: &items}, nil
		case "enum":
			raw, err := stringList(t["symbols"])
			if err != nil || len(raw) == 0 {
				return Type{}, fmt.Errorf("enum requires a non-empty list of symbols")
			}
			symbols := make([]string, len(raw))
			for i, s := range raw {
				if j := strings.LastIndexAny(s, "/#"); j >= 0 {
					s = s[j+1:]
				}
				symbols[i] = s
			}
			return Type{Kind: KindEnum, Symbols: symbols}, nil
		case "":
			return Type{}, fmt.Errorf("type object without \"type\"")
		default:
			return Type{}, fmt.Errorf("type %q is not supported", asString(t["type"]))
		}
	}
	return Type{}, fmt.Errorf("unrecognised type %v", v)
}

func parseTypeString(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "?") {
		t, err := parseTypeString(strings.TrimSuffix(s, "?"))
		t.Optional = true
		return t, err
	}
	if strings.HasSuffix(s, "[]") {
		items, err := parseTypeString(strings.TrimSuffix(s, "[]"))
		if err != nil {
			return Type{}, err
		}
		return Type{Kind: KindArray, Items: &items}, nil
	}
	kind, ok := knownKinds[s]
	if !ok {
		return Type{}, fmt.Errorf("unknown type %q", s)
	}
	return Type{Kind: kind}, nil
}

func envDefs(v any) (map[string]string, error) {
	env := map[string]string{}
	switch defs := v.(type) {
	case []any:
		for _, item := range defs {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("envDef entries must be objects")
			}
			name := asString(m["envName"])
			if name == "" {
				return nil, fmt.Errorf("envDef entry without envName")
			}
			env[name] = stringify(normalizeScalar(m["envValue"]))
		}
	case map[string]any:
		for k, val := range defs {
			env[k] = stringify(normalizeScalar(val))
		}
	case nil:
	default:
		return nil, fmt.Errorf("envDef must be a list or a map")
	}
	return env, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func docString(v any) string {
	switch d := v.(type) {
	case string:
		return strings.TrimSpace(d)
	case []any:
		parts := make([]string, 0, len(d))
		for _, item := range d {
			if s, ok := item.(string); ok {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func stringList(v any) ([]string, error) {
	switch l := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{l}, nil
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			switch s := item.(type) {
			case string:
				out = append(out, s)
			case int, float64, bool:
				out = append(out, stringify(normalizeScalar(s)))
			default:
				return nil, fmt.Errorf("expected strings, got %T", item)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a string or a list of strings")
}

func intList(v any) ([]int, error) {
	if v == nil {
		return nil, nil
	}
	l, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list of integers")
	}
	out := make([]int, 0, len(l))
	for _, item := range l {
		n, err := optionalInt(item)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func optionalInt(v any) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("expected an integer, got %v", n)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("expected an integer, got %T", v)
}

func boolOr(v any, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

// normalizeScalar maps YAML-decoded integers onto the int64 form used for bound values.
func normalizeScalar(v any) any {
	if n, ok := v.(int); ok {
		return int64(n)
	}
	return v
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
