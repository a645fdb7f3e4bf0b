package cwl

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// InputSchema returns the JSON schema advertised to callers for this tool's inputs.
func (d *Descriptor) InputSchema() map[string]any {
	return d.objectSchema(true)
}

// InputSchemaJSON is InputSchema encoded for transports that take raw schemas.
func (d *Descriptor) InputSchemaJSON() json.RawMessage {
	out, err := json.Marshal(d.InputSchema())
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return out
}

func (d *Descriptor) objectSchema(withRequired bool) map[string]any {
	props := make(map[string]any, len(d.Inputs))
	var required []string
	for _, in := range d.Inputs {
		prop := typeSchema(in.Type)
		if desc := parameterDescription(in); desc != "" {
			prop["description"] = desc
		}
		if in.Default != nil && !in.Type.IsPath() {
			prop["default"] = in.Default
		}
		props[in.Name] = prop
		if in.Required() {
			required = append(required, in.Name)
		}
	}

	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if withRequired && len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func typeSchema(t Type) map[string]any {
	switch t.Kind {
	case KindString:
		return map[string]any{"type": "string"}
	case KindInt, KindLong:
		return map[string]any{"type": "integer"}
	case KindFloat, KindDouble:
		return map[string]any{"type": "number"}
	case KindBoolean:
		return map[string]any{"type": "boolean"}
	case KindFile:
		return map[string]any{"type": "string", "format": "file-path"}
	case KindDirectory:
		return map[string]any{"type": "string", "format": "directory-path"}
	case KindEnum:
		symbols := make([]any, len(t.Symbols))
		for i, s := range t.Symbols {
			symbols[i] = s
		}
		return map[string]any{"type": "string", "enum": symbols}
	case KindArray:
		items := map[string]any{}
		if t.Items != nil {
			items = typeSchema(*t.Items)
		}
		return map[string]any{"type": "array", "items": items}
	}
	return map[string]any{}
}

func parameterDescription(in InputParameter) string {
	var parts []string
	if in.Label != "" {
		parts = append(parts, in.Label)
	}
	if in.Doc != "" && in.Doc != in.Label {
		parts = append(parts, in.Doc)
	}
	switch in.Type.Kind {
	case KindFile:
		parts = append(parts, "(path to a file)")
	case KindDirectory:
		parts = append(parts, "(path to a directory)")
	case KindArray:
		if in.Type.Items != nil && in.Type.Items.IsPath() {
			parts = append(parts, "(list of paths)")
		}
	}
	return strings.Join(parts, " ")
}

// compiledSchema holds the lazily compiled validation schema of a descriptor.
type compiledSchema struct {
	once   sync.Once
	schema *jsonschema.Schema
	err    error
}

func (d *Descriptor) validationSchema() (*jsonschema.Schema, error) {
	cs := d.compiled
	if cs == nil {
		cs = &compiledSchema{}
	}
	cs.once.Do(func() {
		// Required inputs are checked before the schema runs so that every missing
		// input is reported once; the schema only covers values that are present.
		raw, err := json.Marshal(d.objectSchema(false))
		if err != nil {
			cs.err = err
			return
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			cs.err = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("inputs.json", doc); err != nil {
			cs.err = fmt.Errorf("add schema resource: %w", err)
			return
		}
		cs.schema, cs.err = c.Compile("inputs.json")
	})
	return cs.schema, cs.err
}

// schemaViolations validates a JSON-compatible argument map and flattens the result
// into one message per failing location.
func (d *Descriptor) schemaViolations(payload map[string]any) ([]string, error) {
	schema, err := d.validationSchema()
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	err = schema.Validate(doc)
	if err == nil {
		return nil, nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return nil, err
	}

	var violations []string
	seen := map[string]bool{}
	for _, unit := range verr.BasicOutput().Errors {
		if unit.Error == nil || unit.InstanceLocation == "" {
			continue
		}
		loc := strings.ReplaceAll(strings.TrimPrefix(unit.InstanceLocation, "/"), "/", ".")
		msg := fmt.Sprintf("%s: %v", loc, unit.Error)
		if !seen[msg] {
			seen[msg] = true
			violations = append(violations, msg)
		}
	}
	if len(violations) == 0 {
		violations = append(violations, verr.Error())
	}
	return violations, nil
}
