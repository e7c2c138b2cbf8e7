// Package contracts holds the shared data-model records that cross
// component boundaries: the request envelope, context payload, candidates,
// verification results, the attestation manifest, and ledger events (the
// environment fingerprint lives in pkg/fingerprint). Every record here
// carries request_id, created_at, and schema_version so forward-compatible
// decoding can gate on a known version rather than probing field presence.
// attempt is carried only by ContextPayload, Candidate, and
// VerificationResult; RequestEnvelope, LedgerEvent, and AttestationManifest
// have no attempt field.
package contracts

import "time"

// SchemaVersion is the current schema_version stamped on every record this
// module produces.
const SchemaVersion = "1.0"

// Mode selects the sandbox isolation profile a request runs under.
type Mode string

const (
	ModeFast     Mode = "fast"
	ModeBalanced Mode = "balanced"
	ModeStrict   Mode = "strict"
)

// RequestEnvelope is the immutable input to a request. Nothing mutates it
// after creation.
type RequestEnvelope struct {
	RequestID     string    `json:"request_id"`
	UserPrompt    string    `json:"user_prompt"`
	Mode          Mode      `json:"mode"`
	RepoRoot      string    `json:"repo_root"`
	CreatedAt     time.Time `json:"created_at"`
	SchemaVersion string    `json:"schema_version"`
}

// GraphEdge is a directed edge in the context payload's symbol graph.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// RedactionReport summarizes the DLP/secret-scanner pass over context files.
type RedactionReport struct {
	SecretsRedacted int `json:"secrets_redacted"`
}

// ContextPayload is produced once per request by the slicer + DLP
// collaborator. Invariant: no path outside the allowlist; no literal
// matching a confirmed-secret pattern.
type ContextPayload struct {
	RequestID       string          `json:"request_id"`
	Attempt         int             `json:"attempt"`
	Files           []string        `json:"files"`
	Symbols         []string        `json:"symbols"`
	GraphEdges      []GraphEdge     `json:"graph_edges"`
	RedactionReport RedactionReport `json:"redaction_report"`
	CreatedAt       time.Time       `json:"created_at"`
	SchemaVersion   string          `json:"schema_version"`
}

// Candidate is produced by the LLM gateway, one per attempt. Invariant:
// non-empty code, syntactically parseable in its declared language.
type Candidate struct {
	RequestID      string    `json:"request_id"`
	Attempt        int       `json:"attempt"`
	CandidateID    string    `json:"candidate_id"`
	DiffOrCode     string    `json:"diff_or_code"`
	Rationale      string    `json:"rationale"`
	ExpectedChecks []string  `json:"expected_checks"`
	CreatedAt      time.Time `json:"created_at"`
	SchemaVersion  string    `json:"schema_version"`
}
