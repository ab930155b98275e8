package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Shared schema fragments.
const (
	idProp       = `{"type": "string", "minLength": 1}`
	nullableID   = `{"type": ["string", "null"]}`
	titleProp    = `{"type": "string", "minLength": 1}`
	tsProp       = `{"type": "string", "format": "date-time"}`
	nullableTS   = `{"type": ["string", "null"], "format": "date-time"}`
	roleProp     = `{"type": "string", "enum": ["owner", "editor", "viewer"]}`
	itemTypeProp = `{"type": "string", "enum": ["milestone", "task", "subtask"]}`
	modeProp     = `{"type": "string", "enum": ["manual", "rollup"]}`
	minutesProp  = `{"type": "integer", "minimum": 0}`
	durationProp = `{"type": "integer", "minimum": 1}`
	depTypeProp  = `{"type": "string", "enum": ["FS", "SS", "FF", "SF"]}`
)

// objectSchema renders a closed object schema.
func objectSchema(required []string, props map[string]string, extra string) string {
	var b strings.Builder
	b.WriteString(`{"type": "object", "additionalProperties": false, "properties": {`)
	first := true
	for _, name := range sortedKeys(props) {
		if !first {
			b.WriteString(",")
		}
		first = false
		fmt.Fprintf(&b, "%q: %s", name, props[name])
	}
	b.WriteString("}")
	if len(required) > 0 {
		quoted := make([]string, 0, len(required))
		for _, name := range required {
			quoted = append(quoted, fmt.Sprintf("%q", name))
		}
		fmt.Fprintf(&b, `, "required": [%s]`, strings.Join(quoted, ", "))
	}
	if extra != "" {
		b.WriteString(", ")
		b.WriteString(extra)
	}
	b.WriteString("}")
	return b.String()
}

// opArgSchemas holds one argument schema per operation name.
var opArgSchemas = map[string]string{
	OpProjectCreate: objectSchema([]string{"title"}, map[string]string{
		"id": idProp, "title": titleProp,
	}, ""),
	OpProjectUpdate: objectSchema([]string{"project_id", "title"}, map[string]string{
		"project_id": idProp, "title": titleProp,
	}, ""),
	OpProjectMemberAdd: objectSchema([]string{"project_id", "user_id"}, map[string]string{
		"project_id": idProp, "user_id": idProp, "role": roleProp,
	}, ""),
	OpProjectMemberUpdate: objectSchema([]string{"project_id", "user_id", "role"}, map[string]string{
		"project_id": idProp, "user_id": idProp, "role": roleProp,
	}, ""),
	OpProjectMemberRemove: objectSchema([]string{"project_id", "user_id"}, map[string]string{
		"project_id": idProp, "user_id": idProp,
	}, ""),
	OpItemCreate: objectSchema([]string{"project_id", "type", "title"}, map[string]string{
		"id":               idProp,
		"project_id":       idProp,
		"parent_id":        nullableID,
		"type":             itemTypeProp,
		"title":            titleProp,
		"status":           `{"type": "string", "minLength": 1}`,
		"priority":         `{"type": "integer"}`,
		"due_at":           nullableTS,
		"estimate_mode":    modeProp,
		"estimate_minutes": minutesProp,
		"assignee_user_id": nullableID,
		"notes":            `{"type": "string"}`,
		"health":           `{"type": "string"}`,
	}, ""),
	OpItemUpdate: objectSchema([]string{"item_id"}, map[string]string{
		"item_id":          idProp,
		"parent_id":        nullableID,
		"type":             itemTypeProp,
		"title":            titleProp,
		"status":           `{"type": "string", "minLength": 1}`,
		"priority":         `{"type": "integer"}`,
		"due_at":           nullableTS,
		"estimate_mode":    modeProp,
		"estimate_minutes": minutesProp,
		"assignee_user_id": nullableID,
		"notes":            `{"type": "string"}`,
		"health":           `{"type": "string"}`,
	}, ""),
	OpItemSetStatus: objectSchema([]string{"item_id", "status"}, map[string]string{
		"item_id": idProp, "status": `{"type": "string", "minLength": 1}`,
	}, ""),
	OpItemArchive: objectSchema([]string{"item_id"}, map[string]string{"item_id": idProp}, ""),
	OpItemRestore: objectSchema([]string{"item_id"}, map[string]string{"item_id": idProp}, ""),
	OpItemDelete:  objectSchema([]string{"item_id"}, map[string]string{"item_id": idProp}, ""),
	OpItemBulkDelete: objectSchema([]string{"item_ids"}, map[string]string{
		"item_ids": `{"type": "array", "minItems": 1, "items": ` + idProp + `}`,
	}, ""),
	OpBlockCreate: objectSchema([]string{"item_id", "start_at", "duration_minutes"}, map[string]string{
		"id": idProp, "item_id": idProp, "start_at": tsProp, "duration_minutes": durationProp,
	}, ""),
	OpBlockMove: objectSchema([]string{"block_id", "start_at"}, map[string]string{
		"block_id": idProp, "start_at": tsProp,
	}, ""),
	OpBlockResize: objectSchema([]string{"block_id", "duration_minutes"}, map[string]string{
		"block_id": idProp, "duration_minutes": durationProp,
	}, ""),
	OpBlockDelete: objectSchema([]string{"block_id"}, map[string]string{"block_id": idProp}, ""),
	OpDependencyAdd: objectSchema([]string{"item_id", "depends_on_id"}, map[string]string{
		"id": idProp, "item_id": idProp, "depends_on_id": idProp, "type": depTypeProp,
		"lag_minutes": `{"type": "integer"}`,
	}, ""),
	OpDependencyUpdate: objectSchema([]string{"dependency_id"}, map[string]string{
		"dependency_id": idProp, "type": depTypeProp, "lag_minutes": `{"type": "integer"}`,
	}, ""),
	OpDependencyRemove: objectSchema(nil, map[string]string{
		"dependency_id": idProp, "item_id": idProp, "depends_on_id": idProp,
	}, `"anyOf": [{"required": ["dependency_id"]}, {"required": ["item_id", "depends_on_id"]}]`),
	OpBlockerAdd: objectSchema([]string{"item_id"}, map[string]string{
		"id": idProp, "item_id": idProp, "kind": `{"type": "string"}`, "reason": `{"type": "string"}`,
	}, ""),
	OpBlockerClear: objectSchema([]string{"blocker_id"}, map[string]string{"blocker_id": idProp}, ""),
	OpTimeEntryStart: objectSchema([]string{"item_id"}, map[string]string{
		"id": idProp, "item_id": idProp, "start_at": tsProp,
	}, ""),
	OpTimeEntryStop: objectSchema([]string{"entry_id"}, map[string]string{
		"entry_id": idProp, "end_at": tsProp,
	}, ""),
}

// argValidator validates raw operation arguments against compiled schemas.
type argValidator struct {
	schemas map[string]*jsonschema.Schema
}

var (
	defaultValidatorOnce sync.Once
	defaultValidator     *argValidator
	defaultValidatorErr  error
)

// loadArgValidator compiles every operation schema once per process.
func loadArgValidator() (*argValidator, error) {
	defaultValidatorOnce.Do(func() {
		defaultValidator, defaultValidatorErr = compileArgValidator(opArgSchemas)
	})
	return defaultValidator, defaultValidatorErr
}

// compileArgValidator compiles raw schemas keyed by operation name.
func compileArgValidator(raw map[string]string) (*argValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	for _, name := range sortedKeys(raw) {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw[name]))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", name, err)
		}
		if err := c.AddResource(schemaURL(name), doc); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", name, err)
		}
	}
	out := &argValidator{schemas: make(map[string]*jsonschema.Schema, len(raw))}
	for name := range raw {
		schema, err := c.Compile(schemaURL(name))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		out.schemas[name] = schema
	}
	return out, nil
}

// Validate checks args for opName. Missing args validate as an empty object.
func (v *argValidator) Validate(opName string, args json.RawMessage) error {
	schema, ok := v.schemas[opName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOperation, opName)
	}
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage(`{}`)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return invalidField("args", err)
	}
	if err := schema.Validate(inst); err != nil {
		return schemaFailure(err)
	}
	return nil
}

// schemaFailure names the deepest failing location of a schema violation.
func schemaFailure(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return invalidField("args", err)
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	field := "args"
	if len(leaf.InstanceLocation) > 0 {
		field = strings.Join(leaf.InstanceLocation, ".")
	}
	detail := strings.TrimSpace(err.Error())
	if idx := strings.LastIndex(detail, "\n"); idx >= 0 {
		detail = strings.TrimSpace(detail[idx+1:])
	}
	detail = strings.TrimPrefix(detail, "- ")
	return fmt.Errorf("%w: %s: %s", ErrValidation, field, detail)
}

// decodeArgs decodes validated args into a typed struct.
func decodeArgs(raw json.RawMessage, out any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return invalidField("args", err)
	}
	return nil
}

func schemaURL(opName string) string {
	return opName + ".json"
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
