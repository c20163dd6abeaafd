package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	sqlassets "github.com/clinichub/clinic-api/database"
)

const tenantFlagsSchemaURL = "memory://schemas/tenant_flags.json"

// SchemaValidator validates documents against a JSON Schema compiled via santhosh-tekuri/jsonschema.
type SchemaValidator struct {
	url    string
	source []byte

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

// NewSchemaValidator returns a validator for the given schema document.
func NewSchemaValidator(url string, schema []byte) *SchemaValidator {
	if len(schema) == 0 {
		panic("schema validator requires schema")
	}
	return &SchemaValidator{url: url, source: schema}
}

// NewTenantFlagsValidator validates the tenant "data" feature flags.
func NewTenantFlagsValidator() *SchemaValidator {
	return NewSchemaValidator(tenantFlagsSchemaURL, sqlassets.TenantFlagsSchema)
}

// Validate ensures doc matches the schema. doc must be JSON-compatible.
func (v *SchemaValidator) Validate(doc any) error {
	compiled, err := v.schema()
	if err != nil {
		return err
	}

	// round-trip so typed Go values validate the same as decoded JSON
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	var document any
	if err := json.Unmarshal(raw, &document); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}

	if err := compiled.Validate(document); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}

func (v *SchemaValidator) schema() (*jsonschema.Schema, error) {
	v.once.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(v.url, bytes.NewReader(v.source)); err != nil {
			v.err = fmt.Errorf("register schema %s: %w", v.url, err)
			return
		}
		v.compiled, v.err = compiler.Compile(v.url)
		if v.err != nil {
			v.err = fmt.Errorf("compile schema %s: %w", v.url, v.err)
		}
	})
	return v.compiled, v.err
}
