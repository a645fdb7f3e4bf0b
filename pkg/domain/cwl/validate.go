package cwl

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Bindings maps input names to bound values. Values are one of string, int64,
// float64, bool, File, []any or nil.
type Bindings map[string]any

// Validate checks a request's arguments against the declared inputs and binds them.
//
// Values are coerced to the declared type where that is unambiguous (numeric strings,
// "true"/"false", comma separated lists, {"path": ...} objects); a value that cannot
// be coerced is a violation, and coerced values are then checked by the input schema. Relative paths resolve against
// baseDir; relative paths in defaults resolve against the descriptor's directory.
// Every violation is collected; a non-empty violation list means nothing was bound.
func (d *Descriptor) Validate(args map[string]any, baseDir string) (Bindings, []string, error) {
	var violations []string

	unknown := make([]string, 0)
	for name := range args {
		if _, ok := d.Input(name); !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		violations = append(violations, fmt.Sprintf("unknown input %q", name))
	}

	bound := make(Bindings, len(d.Inputs))
	payload := make(map[string]any, len(d.Inputs))
	for _, in := range d.Inputs {
		raw, present := args[in.Name]
		dir := baseDir
		if !present || raw == nil {
			switch {
			case in.Default != nil:
				raw = in.Default
				if d.Path != "" {
					dir = filepath.Dir(d.Path)
				}
			case in.Type.Optional:
				bound[in.Name] = nil
				continue
			default:
				violations = append(violations, fmt.Sprintf("missing required input %q (%s)", in.Name, in.Type))
				continue
			}
		}

		v, ok := coerce(in.Type, raw)
		if !ok {
			// The schema only sees values that were coerced.
			violations = append(violations, fmt.Sprintf("%s: %s cannot be converted to %s", in.Name, displayValue(raw), in.Type))
			continue
		}
		payload[in.Name] = jsonForm(v)
		v, pathViolations := resolvePaths(in.Name, in.Type, v, dir)
		if len(pathViolations) > 0 {
			violations = append(violations, pathViolations...)
			continue
		}
		bound[in.Name] = v
	}

	schemaViolations, err := d.schemaViolations(payload)
	if err != nil {
		return nil, nil, err
	}
	violations = append(violations, schemaViolations...)

	if len(violations) > 0 {
		return nil, violations, nil
	}
	return bound, nil, nil
}

// coerce converts raw into the Go form of t. When the value cannot be converted it is
// returned unchanged with ok=false.
func coerce(t Type, raw any) (any, bool) {
	raw = normalizeScalar(raw)
	if raw == nil {
		return nil, t.Optional
	}

	switch t.Kind {
	case KindString:
		switch v := raw.(type) {
		case string:
			return v, true
		case int64, float64, bool, json.Number:
			return stringify(v), true
		}
	case KindInt, KindLong:
		switch v := raw.(type) {
		case int64:
			return v, true
		case float64:
			if v >= math.MinInt64 && v < math.MaxInt64 && v == math.Trunc(v) {
				return int64(v), true
			}
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n, true
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n, true
			}
		}
	case KindFloat, KindDouble:
		switch v := raw.(type) {
		case float64:
			return v, true
		case int64:
			return float64(v), true
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
	case KindBoolean:
		switch v := raw.(type) {
		case bool:
			return v, true
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b, true
			}
		}
	case KindFile, KindDirectory:
		switch v := raw.(type) {
		case string:
			if v != "" {
				return File{Class: string(t.Kind), Path: trimFileScheme(v)}, true
			}
		case map[string]any:
			loc := asString(v["path"])
			if loc == "" {
				loc = asString(v["location"])
			}
			if loc != "" {
				return File{Class: string(t.Kind), Path: trimFileScheme(loc)}, true
			}
		case File:
			return v, true
		}
	case KindEnum:
		switch v := raw.(type) {
		case string:
			return v, true
		case int64, float64, bool:
			return stringify(v), true
		}
	case KindArray:
		return coerceArray(t, raw)
	case KindAny:
		return raw, true
	}
	return raw, false
}

func coerceArray(t Type, raw any) (any, bool) {
	items := Type{Kind: KindAny}
	if t.Items != nil {
		items = *t.Items
	}

	var list []any
	switch v := raw.(type) {
	case []any:
		list = v
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "[") {
			var decoded []any
			if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
				list = decoded
				break
			}
		}
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				list = append(list, part)
			}
		}
		if len(list) == 0 {
			return raw, false
		}
	default:
		list = []any{v}
	}

	out := make([]any, len(list))
	ok := true
	for i, item := range list {
		cv, itemOK := coerce(items, item)
		out[i] = cv
		ok = ok && itemOK
	}
	return out, ok
}

func resolvePaths(name string, t Type, v any, baseDir string) (any, []string) {
	switch x := v.(type) {
	case File:
		p := x.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		p = filepath.Clean(p)
		info, err := os.Stat(p)
		switch {
		case err != nil:
			return nil, []string{fmt.Sprintf("%s: %s %q does not exist", name, strings.ToLower(x.Class), x.Path)}
		case x.Class == string(KindFile) && info.IsDir():
			return nil, []string{fmt.Sprintf("%s: %q is a directory, expected a file", name, x.Path)}
		case x.Class == string(KindDirectory) && !info.IsDir():
			return nil, []string{fmt.Sprintf("%s: %q is not a directory", name, x.Path)}
		}
		return File{Class: x.Class, Path: p}, nil
	case []any:
		out := make([]any, len(x))
		var violations []string
		for i, item := range x {
			itemType := Type{Kind: KindAny}
			if t.Items != nil {
				itemType = *t.Items
			}
			rv, vs := resolvePaths(fmt.Sprintf("%s[%d]", name, i), itemType, item, baseDir)
			violations = append(violations, vs...)
			out[i] = rv
		}
		return out, violations
	}
	return v, nil
}

// jsonForm is the representation of a bound value checked against the input schema.
func jsonForm(v any) any {
	switch x := v.(type) {
	case File:
		return x.Path
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = jsonForm(item)
		}
		return out
	}
	return v
}

// displayValue renders a rejected argument for a violation message.
func displayValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	if len(data) > 64 {
		return string(data[:61]) + "..."
	}
	return string(data)
}

func trimFileScheme(p string) string {
	return strings.TrimPrefix(p, "file://")
}
