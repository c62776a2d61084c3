package descriptor

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "descriptor.schema.json"

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	unmarshaled, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal descriptor schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, unmarshaled); err != nil {
		return nil, fmt.Errorf("failed to add descriptor schema: %w", err)
	}
	return compiler.Compile(schemaURL)
})

// Validate checks data against the descriptor JSON schema.
func Validate(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return &ValidationError{Err: err}
	}
	if err := schema.Validate(doc); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}
