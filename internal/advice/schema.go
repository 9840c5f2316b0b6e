package advice

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const responseSchema = `{
  "type": "object",
  "required": ["action", "reasons"],
  "properties": {
    "action": {"enum": ["KEEP", "MULLIGAN"]},
    "reasons": {
      "type": "array",
      "minItems": 1,
      "maxItems": 5,
      "items": {"type": "string", "minLength": 1}
    },
    "confidence": {"type": "number", "minimum": 0, "maximum": 100},
    "suggestedLine": {"type": "string"},
    "warnings": {"type": "array", "items": {"type": "string"}},
    "dependsOn": {"type": "array", "maxItems": 2, "items": {"type": "string"}}
  }
}`

var schema = jsonschema.MustCompileString("mulligan-advice.json", responseSchema)

// ValidateResponse checks raw mulligan advice JSON against the response schema.
func ValidateResponse(raw []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("advice response: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("advice response: %w", err)
	}
	return nil
}
