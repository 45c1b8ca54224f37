// Package payload validates job input payloads against per-kind JSON
// Schemas before admission, so malformed requests are rejected without ever
// touching the balance.
package payload

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles every schemas/<kind>.v1.json file in schemaDir into
// an input schema keyed by job kind.
func NewValidator(schemaDir string) (*Validator, error) {
	entries, err := os.ReadDir(schemaDir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir %q: %w", schemaDir, err)
	}
	schemas := make(map[string]*jsonschema.Schema)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		kind := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		kind = strings.TrimSuffix(kind, ".v1")
		path := filepath.Join(schemaDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", path, err)
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(e.Name(), strings.NewReader(string(data))); err != nil {
			return nil, fmt.Errorf("add schema %q: %w", path, err)
		}
		schema, err := compiler.Compile(e.Name())
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", path, err)
		}
		schemas[kind] = schema
	}
	return &Validator{schemas: schemas}, nil
}

// Validate checks the input payload for a job kind. Kinds without a schema
// pass unchecked.
func (v *Validator) Validate(kind string, payload json.RawMessage) error {
	schema, ok := v.schemas[kind]
	if !ok {
		return nil
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("payload does not match %s schema: %w", kind, err)
	}
	return nil
}
