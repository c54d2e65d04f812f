// Package artifactschema holds fixed JSON Schema documents for the
// active-chunk lock and for chunks-manifest entries. The chunker validates
// the lock against its schema before every write, so a malformed lock (a
// bad chunker change) is caught immediately rather than surfacing later
// as a confusing lock bug. ValidateManifestEntry is available, but the
// chunker's YAML manifest writer does not call it.
package artifactschema

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const lockSchemaJSON = `{
	"type": "object",
	"required": ["chunk_id", "chunk_type", "input_path", "prompt_path", "created_at"],
	"properties": {
		"chunk_id": {"type": "integer", "minimum": 1},
		"chunk_type": {"type": "string", "minLength": 1},
		"input_path": {"type": "string", "minLength": 1},
		"prompt_path": {"type": "string", "minLength": 1},
		"created_at": {"type": "string", "minLength": 1}
	},
	"additionalProperties": false
}`

const manifestEntrySchemaJSON = `{
	"type": "object",
	"required": ["chunk_id", "chunk_type", "created_at"],
	"properties": {
		"chunk_id": {"type": "integer", "minimum": 1},
		"chunk_type": {"type": "string", "minLength": 1},
		"workflow_registry_hash": {"type": "string"},
		"created_at": {"type": "string", "minLength": 1}
	},
	"additionalProperties": false
}`

var lockSchema = mustCompile("lock.json", lockSchemaJSON)
var manifestEntrySchema = mustCompile("manifest_entry.json", manifestEntrySchemaJSON)

func mustCompile(name, schemaJSON string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(schemaJSON)))
	if err != nil {
		panic(fmt.Sprintf("artifactschema: unmarshal %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("artifactschema: add resource %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("artifactschema: compile %s: %v", name, err))
	}
	return schema
}

// ValidateLock validates a decoded active-chunk lock document.
func ValidateLock(doc any) error {
	if err := lockSchema.Validate(doc); err != nil {
		return fmt.Errorf("artifactschema: active-chunk lock: %w", err)
	}
	return nil
}

// ValidateManifestEntry validates a decoded chunks-manifest entry.
func ValidateManifestEntry(doc any) error {
	if err := manifestEntrySchema.Validate(doc); err != nil {
		return fmt.Errorf("artifactschema: manifest entry: %w", err)
	}
	return nil
}

// DecodeJSON unmarshals raw JSON bytes into the jsonschema package's
// native representation, which preserves integer-vs-float distinctions
// the way the schema's "integer" type expects.
func DecodeJSON(data []byte) (any, error) {
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("artifactschema: decode json: %w", err)
	}
	return v, nil
}
