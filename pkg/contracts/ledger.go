package contracts

import "time"

// SignalType is the outcome direction a ledger event reports.
type SignalType string

const (
	SignalSuccess SignalType = "success"
	SignalFailure SignalType = "failure"
)

// LedgerEvent is a record in the append-only ledger. Two persistence
// classes exist: telemetry (always written) and behavioral (written only
// when Reproducible is true). Behavioral events are the sole inputs the
// memory system is permitted to learn from.
type LedgerEvent struct {
	EventID         string       `json:"event_id"`
	RequestID       string       `json:"request_id"`
	FingerprintHash string       `json:"fingerprint_hash"`
	Reproducible    bool         `json:"reproducible"`
	SignalType      SignalType   `json:"signal_type"`
	FailureClass    FailureClass `json:"failure_class,omitempty"`
	Summary         string       `json:"summary"`
	Behavioral      bool         `json:"behavioral"`
	CreatedAt       time.Time    `json:"created_at"`
	SchemaVersion   string       `json:"schema_version"`
}

// AttestationManifest is the terminal, immutable artifact for a request,
// addressable by RequestID once emitted.
type AttestationManifest struct {
	RequestID           string            `json:"request_id"`
	CandidateID         string            `json:"candidate_id"`
	FingerprintHash     string            `json:"fingerprint_hash"`
	CreatedAt           time.Time         `json:"created_at"`
	CommandLog          []CommandLogEntry `json:"command_log"`
	Tier                Tier              `json:"tier"`
	HumanReviewRequired bool              `json:"human_review_required"`
	AttemptCount        int               `json:"attempt_count"`
	RetryCount          int               `json:"retry_count"`
	SkippedChecks       []SkippedCheck    `json:"skipped_checks"`
	FailureClass        FailureClass      `json:"failure_class"`
	TerminalEvent       TerminalEvent     `json:"terminal_event,omitempty"`
	ArtifactRefs        []string          `json:"artifact_refs"`
	FinalStatus         FinalStatus       `json:"final_status"`
	Signature           string            `json:"signature,omitempty"`
	SchemaVersion       string            `json:"schema_version"`
}
