package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const updateSchemaJSON = `{
	"type": "object",
	"properties": {
		"name":  {"type": ["string", "null"]},
		"audio": {"type": ["boolean", "null"]}
	},
	"additionalProperties": false
}`

const stepsSchemaJSON = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["stepType", "path", "pos"],
		"properties": {
			"stepType": {"enum": ["insert", "delete", "replace"]},
			"path":     {"type": "array", "items": {"type": "integer"}},
			"pos":      {"type": "integer", "minimum": 0},
			"count":    {"type": "integer", "minimum": 0},
			"nodes":    {"type": "array"}
		}
	}
}`

func mustCompile(name, schemaJSON string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("session: compile %s: %v", name, err))
	}
	schema, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("session: compile %s: %v", name, err))
	}
	return schema
}

var (
	compileOnce  sync.Once
	updateSchema *jsonschema.Schema
	stepsSchema  *jsonschema.Schema
)

func schemas() (*jsonschema.Schema, *jsonschema.Schema) {
	compileOnce.Do(func() {
		updateSchema = mustCompile("update.json", updateSchemaJSON)
		stepsSchema = mustCompile("steps.json", stepsSchemaJSON)
	})
	return updateSchema, stepsSchema
}

// validateJSON decodes raw (preserving json.Number so integer checks in
// the schema work) and validates it against schema.
func validateJSON(schema *jsonschema.Schema, raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("session: decode payload: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("session: schema validation: %w", err)
	}
	return nil
}
