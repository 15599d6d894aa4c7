package governance

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ValidatePayload checks payload against a schema's JSON Schema document.
// This is the pure-function boundary the pipeline calls before dispatching
// a Fact's payload to a schema's contract.
func ValidatePayload(schema, payload json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewBytesLoader(payload),
	)
	if err != nil {
		return fmt.Errorf("governance: schema validation error: %w", err)
	}
	if !result.Valid() {
		return fmt.Errorf("governance: payload violates schema: %v", result.Errors())
	}
	return nil
}
