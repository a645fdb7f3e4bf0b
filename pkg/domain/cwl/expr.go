package cwl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Only CWL parameter references are evaluated; JavaScript expressions are not.
var refPattern = regexp.MustCompile(`\$\(([^()]*)\)`)

type accessor struct {
	name    string
	index   int
	isIndex bool
}

type reference struct {
	root string
	path []accessor
}

func parseReference(expr string) (reference, error) {
	expr = strings.TrimSpace(expr)
	var ref reference

	i := 0
	for i < len(expr) && isIdentChar(expr[i]) {
		i++
	}
	ref.root = expr[:i]
	switch ref.root {
	case "inputs", "runtime", "self":
	default:
		return ref, fmt.Errorf("unsupported reference root %q in $(%s)", ref.root, expr)
	}

	for i < len(expr) {
		switch expr[i] {
		case '.':
			j := i + 1
			for j < len(expr) && isIdentChar(expr[j]) {
				j++
			}
			if j == i+1 {
				return ref, fmt.Errorf("empty field name in $(%s)", expr)
			}
			ref.path = append(ref.path, accessor{name: expr[i+1 : j]})
			i = j
		case '[':
			end := strings.IndexByte(expr[i:], ']')
			if end < 0 {
				return ref, fmt.Errorf("unterminated index in $(%s)", expr)
			}
			inner := strings.TrimSpace(expr[i+1 : i+end])
			if n, err := strconv.Atoi(inner); err == nil {
				ref.path = append(ref.path, accessor{index: n, isIndex: true})
			} else if unq, err := strconv.Unquote(strings.ReplaceAll(inner, "'", `"`)); err == nil {
				ref.path = append(ref.path, accessor{name: unq})
			} else {
				return ref, fmt.Errorf("unsupported index %q in $(%s)", inner, expr)
			}
			i += end + 1
		default:
			return ref, fmt.Errorf("unsupported expression $(%s); only parameter references are allowed", expr)
		}
	}
	return ref, nil
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '-' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// checkExpressions verifies that every reference in s is evaluable and names a declared input.
func checkExpressions(s string, inputs map[string]bool) error {
	if strings.Contains(s, "${") {
		return fmt.Errorf("javascript function bodies are not supported: %q", s)
	}
	for _, m := range refPattern.FindAllStringSubmatch(s, -1) {
		ref, err := parseReference(m[1])
		if err != nil {
			return err
		}
		if ref.root == "inputs" {
			if len(ref.path) == 0 || ref.path[0].isIndex {
				return fmt.Errorf("reference $(%s) must name an input", m[1])
			}
			if !inputs[ref.path[0].name] {
				return fmt.Errorf("reference $(%s) names undeclared input %q", m[1], ref.path[0].name)
			}
		}
	}
	return nil
}

// scope is the evaluation context for parameter references.
type scope struct {
	inputs  map[string]any
	runtime Runtime
	self    any
}

// interpolate substitutes every reference in s with its string form.
func (sc scope) interpolate(s string) (string, error) {
	var firstErr error
	out := refPattern.ReplaceAllStringFunc(s, func(m string) string {
		v, err := sc.resolve(m[2 : len(m)-1])
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return m
		}
		return stringify(v)
	})
	return out, firstErr
}

func (sc scope) resolve(expr string) (any, error) {
	ref, err := parseReference(expr)
	if err != nil {
		return nil, err
	}

	var cur any
	switch ref.root {
	case "inputs":
		cur = sc.inputs
	case "self":
		cur = sc.self
	case "runtime":
		cur = map[string]any{
			"outdir": sc.runtime.OutDir,
			"tmpdir": sc.runtime.TmpDir,
			"cores":  int64(sc.runtime.Cores),
		}
	}

	for _, acc := range ref.path {
		cur, err = access(cur, acc)
		if err != nil {
			return nil, fmt.Errorf("$(%s): %w", expr, err)
		}
	}
	return cur, nil
}

func access(cur any, acc accessor) (any, error) {
	switch v := cur.(type) {
	case map[string]any:
		if acc.isIndex {
			return nil, fmt.Errorf("cannot index an object")
		}
		return v[acc.name], nil
	case []any:
		if acc.isIndex {
			if acc.index < 0 || acc.index >= len(v) {
				return nil, fmt.Errorf("index %d out of range", acc.index)
			}
			return v[acc.index], nil
		}
		if acc.name == "length" {
			return int64(len(v)), nil
		}
	case File:
		switch acc.name {
		case "path", "location":
			return v.Path, nil
		case "basename":
			return v.Basename(), nil
		case "nameroot":
			return v.Nameroot(), nil
		case "nameext":
			return v.Nameext(), nil
		case "dirname":
			return v.Dirname(), nil
		case "class":
			return v.Class, nil
		}
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("no field %q", acc.name)
}

// stringify renders a bound value the way it appears on a command line.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case File:
		return x.Path
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = stringify(item)
		}
		return strings.Join(parts, " ")
	}
	return fmt.Sprint(v)
}
