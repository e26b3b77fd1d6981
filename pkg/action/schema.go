// Package action defines the typed-action framework: the contract every
// action implements (declared parameter/result schemas, execute), plus the
// classification of actions into loaders/sinks, transformers, mappers,
// analyzers, and reporters.
package action

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/arpanauts/biomapper-sub014/pkg/model"
)

// FieldType names the native type a parameter or result field holds.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBool    FieldType = "boolean"
	FieldArray   FieldType = "array"
	FieldObject  FieldType = "object"
)

// Field is one named, typed field in a ParamSchema or ResultSchema,
// represented as first-class data rather than reflected off a native Go
// struct, per the design note on dynamic parameter/result types: action
// factories carry their schema as data, and the engine validates
// generically against it.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Default  any
	Enum     []string
	Items    FieldType // element type when Type == FieldArray
}

// Schema is an ordered list of fields describing either an action's
// parameters or its result payload.
type Schema struct {
	Fields []Field
}

// compiled holds the JSON-schema representation of a Schema produced by
// Compile. It is not cached: every Compile call builds it afresh.
type compiled struct {
	schema *jsonschema.Schema
}

// Compile renders the Schema to a JSON Schema document and compiles it with
// santhosh-tekuri/jsonschema, the schema validation library wired in from
// the retrieval pack for exactly this "typed parameters validated
// generically" requirement.
func (s Schema) Compile() (*compiled, error) {
	doc := map[string]any{
		"type":                 "object",
		"additionalProperties": true,
	}
	properties := map[string]any{}
	var required []string

	for _, f := range s.Fields {
		prop := map[string]any{"type": jsonType(f.Type)}
		if f.Type == FieldArray {
			prop["items"] = map[string]any{"type": jsonType(f.Items)}
		}
		if len(f.Enum) > 0 {
			enumVals := make([]any, len(f.Enum))
			for i, e := range f.Enum {
				enumVals[i] = e
			}
			prop["enum"] = enumVals
		}
		properties[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}
	doc["properties"] = properties
	if len(required) > 0 {
		doc["required"] = required
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema document: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sc, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &compiled{schema: sc}, nil
}

func jsonType(t FieldType) string {
	switch t {
	case FieldString:
		return "string"
	case FieldNumber:
		return "number"
	case FieldBool:
		return "boolean"
	case FieldArray:
		return "array"
	case FieldObject:
		return "object"
	default:
		return "string"
	}
}

// Validate applies defaults, then validates raw params against the schema.
// Returns a new map (raw is never mutated) or a PARAM_VALIDATION_ERROR.
func (s Schema) Validate(stepName, actionType string, raw map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(raw))
	for k, v := range raw {
		merged[k] = v
	}
	for _, f := range s.Fields {
		if _, ok := merged[f.Name]; !ok && f.Default != nil {
			merged[f.Name] = f.Default
		}
	}

	c, err := s.Compile()
	if err != nil {
		return nil, model.Wrap(model.KindInternalError, stepName, actionType, err)
	}
	if err := c.schema.Validate(toJSONAny(merged)); err != nil {
		return nil, model.NewError(model.KindParamValidationError, stepName, actionType, err.Error())
	}
	return merged, nil
}

// toJSONAny round-trips a Go map through JSON so jsonschema sees plain
// JSON-compatible values (json.Number-free, matching how it validates
// decoded request bodies).
func toJSONAny(v map[string]any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
