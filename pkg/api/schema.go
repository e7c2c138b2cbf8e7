package api

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// requestSchemaDoc is the required-field shape /intercept validates its
// body against before any sandbox or ledger interaction, mirroring the
// completeness schema pkg/manifest compiles for the attestation manifest.
const requestSchemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["request_id", "candidate_id", "mode", "repo_root", "llm_provider", "commands"],
  "properties": {
    "request_id": {"type": "string", "minLength": 1},
    "candidate_id": {"type": "string", "minLength": 1},
    "mode": {"type": "string", "enum": ["fast", "balanced", "strict"]},
    "repo_root": {"type": "string", "minLength": 1},
    "llm_provider": {"type": "string"},
    "commands": {"type": "array", "minItems": 1},
    "llm_timeout_s": {"type": "number", "minimum": 1, "maximum": 600},
    "llm_temperature": {"type": "number", "minimum": 0, "maximum": 2},
    "llm_top_p": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

const requestSchemaURL = "https://dhi.schemas.local/api/intercept-request.schema.json"

var requestSchema = mustCompileRequestSchema()

func mustCompileRequestSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(requestSchemaURL, strings.NewReader(requestSchemaDoc)); err != nil {
		panic(fmt.Sprintf("api: embedded request schema failed to load: %v", err))
	}
	compiled, err := c.Compile(requestSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("api: embedded request schema failed to compile: %v", err))
	}
	return compiled
}

// validateRequestShape reports whether v (a JSON-decoded request body)
// satisfies the required-field schema /intercept enforces.
func validateRequestShape(v interface{}) error {
	return requestSchema.Validate(v)
}
