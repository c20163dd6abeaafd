// Package contracts embeds the HTTP contract served at /docs and enforced by the
// request validator.
package contracts

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed clinic.yaml
var clinicYAML []byte

var registerFormats sync.Once

// defineFormats registers the string formats the contract relies on. kin-openapi keeps
// them in a package-level table and skips formats it does not know.
func defineFormats() {
	registerFormats.Do(func() {
		openapi3.DefineStringFormatValidator("uuid", openapi3.NewRegexpFormatValidator(openapi3.FormatOfStringForUUIDOfRFC4122))
	})
}

// Load parses and validates the embedded contract. Servers are cleared so the request
// validator matches on path only; tenants reach the API on arbitrary hosts.
func Load() (*openapi3.T, error) {
	defineFormats()
	loader := openapi3.NewLoader()
	spec, err := loader.LoadFromData(clinicYAML)
	if err != nil {
		return nil, fmt.Errorf("load contract: %w", err)
	}
	if err := spec.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate contract: %w", err)
	}
	spec.Servers = nil
	return spec, nil
}
