package manifest

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// completenessSchema is the required-field shape a manifest must satisfy
// before it may carry final_status=verified. It only checks presence and
// shape, not business rules (the tier/failure-class/status cross-invariant
// is enforced separately in Build, the way contracts.VerificationResult.Valid
// enforces its own).
const completenessSchemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": [
    "request_id",
    "candidate_id",
    "fingerprint_hash",
    "created_at",
    "command_log",
    "tier",
    "human_review_required",
    "attempt_count",
    "retry_count",
    "skipped_checks",
    "failure_class",
    "artifact_refs",
    "final_status",
    "schema_version"
  ],
  "properties": {
    "request_id": {"type": "string", "minLength": 1},
    "candidate_id": {"type": "string", "minLength": 1},
    "fingerprint_hash": {"type": "string", "minLength": 1},
    "created_at": {"type": "string", "minLength": 1},
    "command_log": {"type": "array"},
    "tier": {"type": "string", "minLength": 1},
    "human_review_required": {"type": "boolean"},
    "attempt_count": {"type": "integer", "minimum": 1},
    "retry_count": {"type": "integer", "minimum": 0},
    "skipped_checks": {"type": "array"},
    "failure_class": {"type": "string", "minLength": 1},
    "artifact_refs": {"type": "array"},
    "final_status": {"type": "string", "enum": ["verified", "failed", "cancelled"]},
    "schema_version": {"type": "string", "minLength": 1}
  }
}`

const completenessSchemaURL = "https://dhi.schemas.local/manifest/completeness.schema.json"

var completenessSchema = mustCompileCompletenessSchema()

func mustCompileCompletenessSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(completenessSchemaURL, strings.NewReader(completenessSchemaDoc)); err != nil {
		panic(fmt.Sprintf("manifest: embedded completeness schema failed to load: %v", err))
	}
	compiled, err := c.Compile(completenessSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("manifest: embedded completeness schema failed to compile: %v", err))
	}
	return compiled
}

// validateCompleteness reports whether v (a JSON-decoded representation of an
// AttestationManifest) satisfies the required-field schema.
func validateCompleteness(v interface{}) error {
	return completenessSchema.Validate(v)
}
