package policy

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaID is the $id of the generated policy JSON Schema.
const SchemaID = "https://github.com/ormasoftchile/memex/schemas/policy-v1.json"

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document from
// the Go Definition struct using invopop/jsonschema.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&Definition{})
	s.ID = SchemaID
	s.Title = "memex policy v1.0"
	s.Description = "Schema for memex policy YAML documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}
