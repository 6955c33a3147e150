package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/operon-dev/operon/pkg/schema"
)

// templateSchemaJSON is the JSON Schema for WorkflowTemplate validation.
// Embedded as a constant to avoid filesystem dependencies.
const templateSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://operon.dev/schemas/template.json",
  "type": "object",
  "required": ["id", "name", "type", "steps"],
  "properties": {
    "id": {
      "type": "string",
      "minLength": 1,
      "pattern": "^[a-z0-9][a-z0-9._-]*$"
    },
    "name": {
      "type": "string",
      "minLength": 1
    },
    "description": {
      "type": "string"
    },
    "type": {
      "type": "string",
      "enum": ["deploy", "build", "import", "migration", "custom"]
    },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "tags": {
      "type": "array",
      "items": { "type": "string" }
    },
    "created_at": { "type": "string" },
    "updated_at": { "type": "string" }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["id", "name"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "name": {
          "type": "string",
          "minLength": 1
        },
        "description": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// TemplateValidator validates workflow templates against the embedded JSON
// Schema. Safe for concurrent use.
type TemplateValidator struct {
	compiled *jsonschema.Schema
}

// NewTemplateValidator compiles the template schema.
func NewTemplateValidator() (*TemplateValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(templateSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal template schema: %w", err)
	}
	if err := c.AddResource("https://operon.dev/schemas/template.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add template schema resource: %w", err)
	}

	compiled, err := c.Compile("https://operon.dev/schemas/template.json")
	if err != nil {
		return nil, fmt.Errorf("compile template schema: %w", err)
	}

	return &TemplateValidator{compiled: compiled}, nil
}

// Validate checks a template against the schema, plus the structural checks
// JSON Schema cannot express (duplicate step ids).
func (v *TemplateValidator) Validate(tpl *schema.WorkflowTemplate) error {
	if tpl == nil {
		return schema.NewError(schema.ErrCodeValidation, "template is nil")
	}

	doc, err := toJSONValue(tpl)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize template").WithCause(err)
	}

	if err := v.compiled.Validate(doc); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "template %q: %s", tpl.ID, err.Error()).WithCause(err)
	}

	seen := make(map[string]struct{}, len(tpl.Steps))
	for _, step := range tpl.Steps {
		if _, exists := seen[step.ID]; exists {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"template %q: duplicate step id %q", tpl.ID, step.ID)
		}
		seen[step.ID] = struct{}{}
	}

	return nil
}

// toJSONValue round-trips a value through JSON so numbers become json.Number,
// which the schema validator expects.
func toJSONValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(data))
}
