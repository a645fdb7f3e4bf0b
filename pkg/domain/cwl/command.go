package cwl

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Command is a fully bound invocation of a descriptor.
type Command struct {
	Args   []string          `json:"args"`
	Stdin  string            `json:"stdin,omitempty"`
	Stdout string            `json:"stdout,omitempty"`
	Stderr string            `json:"stderr,omitempty"`
	Env    map[string]string `json:"env,omitempty"`
}

// String renders the command line for logs.
func (c *Command) String() string {
	quoted := make([]string, len(c.Args))
	for i, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\n'\"\\$") {
			quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		} else {
			quoted[i] = a
		}
	}
	s := strings.Join(quoted, " ")
	if c.Stdin != "" {
		s += " < " + c.Stdin
	}
	if c.Stdout != "" {
		s += " > " + c.Stdout
	}
	if c.Stderr != "" {
		s += " 2> " + c.Stderr
	}
	return s
}

type commandPart struct {
	position int
	group    int // arguments sort before inputs at the same position
	order    int
	tokens   []string
}

// Command binds validated inputs into a command line. Stdout and stderr paths are
// returned absolute under rt.OutDir.
func (d *Descriptor) Command(b Bindings, rt Runtime) (*Command, error) {
	sc := scope{inputs: map[string]any(b), runtime: rt}
	var parts []commandPart

	for i, a := range d.Arguments {
		value, err := sc.interpolate(a.Value)
		if err != nil {
			return nil, fmt.Errorf("arguments[%d]: %w", i, err)
		}
		tokens := prefixed(a.Prefix, a.Separate, []string{value})
		if a.Value == "" {
			if a.Prefix == "" {
				continue
			}
			tokens = []string{a.Prefix}
		}
		parts = append(parts, commandPart{
			position: a.Position,
			group:    0,
			order:    i,
			tokens:   tokens,
		})
	}

	for i, in := range d.Inputs {
		if in.Binding == nil {
			continue
		}
		v := b[in.Name]
		if v == nil {
			continue
		}
		var tokens []string
		if in.Binding.ValueFrom != "" {
			sc.self = v
			value, err := sc.interpolate(in.Binding.ValueFrom)
			sc.self = nil
			if err != nil {
				return nil, fmt.Errorf("inputs.%s.valueFrom: %w", in.Name, err)
			}
			tokens = prefixed(in.Binding.Prefix, in.Binding.Separate, []string{value})
		} else {
			tokens = bindValue(*in.Binding, v)
		}
		if len(tokens) == 0 {
			continue
		}
		parts = append(parts, commandPart{
			position: in.Binding.Position,
			group:    1,
			order:    i,
			tokens:   tokens,
		})
	}

	sort.SliceStable(parts, func(i, j int) bool {
		if parts[i].position != parts[j].position {
			return parts[i].position < parts[j].position
		}
		if parts[i].group != parts[j].group {
			return parts[i].group < parts[j].group
		}
		return parts[i].order < parts[j].order
	})

	cmd := &Command{Args: append([]string{}, d.BaseCommand...)}
	for _, p := range parts {
		cmd.Args = append(cmd.Args, p.tokens...)
	}

	var err error
	if cmd.Stdin, err = sc.interpolate(d.Stdin); err != nil {
		return nil, fmt.Errorf("stdin: %w", err)
	}
	if cmd.Stdout, err = d.redirect(sc, d.Stdout, rt); err != nil {
		return nil, fmt.Errorf("stdout: %w", err)
	}
	if cmd.Stderr, err = d.redirect(sc, d.Stderr, rt); err != nil {
		return nil, fmt.Errorf("stderr: %w", err)
	}

	if len(d.Env) > 0 {
		cmd.Env = make(map[string]string, len(d.Env))
		for k, v := range d.Env {
			if cmd.Env[k], err = sc.interpolate(v); err != nil {
				return nil, fmt.Errorf("env %s: %w", k, err)
			}
		}
	}
	return cmd, nil
}

func (d *Descriptor) redirect(sc scope, name string, rt Runtime) (string, error) {
	if name == "" {
		return "", nil
	}
	resolved, err := sc.interpolate(name)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(resolved) || strings.Contains(resolved, "..") {
		return "", fmt.Errorf("%q must be a plain file name", resolved)
	}
	return filepath.Join(rt.OutDir, resolved), nil
}

func bindValue(b InputBinding, v any) []string {
	switch x := v.(type) {
	case bool:
		if x && b.Prefix != "" {
			return []string{b.Prefix}
		}
		return nil
	case []any:
		if len(x) == 0 {
			return nil
		}
		items := make([]string, len(x))
		for i, item := range x {
			items[i] = stringify(item)
		}
		if b.ItemSeparator != "" {
			return prefixed(b.Prefix, b.Separate, []string{strings.Join(items, b.ItemSeparator)})
		}
		if b.Prefix == "" {
			return items
		}
		if b.Separate {
			return append([]string{b.Prefix}, items...)
		}
		out := make([]string, len(items))
		for i, item := range items {
			out[i] = b.Prefix + item
		}
		return out
	}
	return prefixed(b.Prefix, b.Separate, []string{stringify(v)})
}

func prefixed(prefix string, separate bool, values []string) []string {
	if prefix == "" {
		return values
	}
	if !separate {
		out := make([]string, len(values))
		for i, v := range values {
			out[i] = prefix + v
		}
		return out
	}
	return append([]string{prefix}, values...)
}
