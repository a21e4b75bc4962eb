package authorityd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const authorizeRequestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["player", "max_claimable"],
  "properties": {
    "player": {
      "type": "string",
      "pattern": "^[1-9A-HJ-NP-Za-km-z]{32,44}$"
    },
    "max_claimable": {
      "type": "integer",
      "minimum": 0,
      "maximum": 18446744073709551615
    }
  }
}`

var authorizeSchema = jsonschema.MustCompileString("authorize-cashout.schema.json", authorizeRequestSchema)

// validateAuthorizeBody checks body against the request schema. Numbers are
// decoded as json.Number so u64 bounds are compared exactly.
func validateAuthorizeBody(body []byte) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("invalid JSON: trailing data after object")
	}
	if err := authorizeSchema.Validate(doc); err != nil {
		return err
	}
	return nil
}
