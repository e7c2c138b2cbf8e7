package contracts

import (
	"encoding/json"
	"fmt"
	"time"
)

// Tier is the verification tier a passing run achieves.
type Tier int

const (
	TierNone Tier = iota
	TierL0
	TierL1
	TierL2
	TierAITestsOnly
)

func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierL0:
		return "L0"
	case TierL1:
		return "L1"
	case TierL2:
		return "L2"
	case TierAITestsOnly:
		return "AI_TESTS_ONLY"
	default:
		return "unknown"
	}
}

// MarshalJSON renders a Tier as its canonical string name rather than the
// underlying int, matching the other string-valued enums in this package.
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON parses a Tier from its canonical string name.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for _, candidate := range []Tier{TierNone, TierL0, TierL1, TierL2, TierAITestsOnly} {
		if candidate.String() == s {
			*t = candidate
			return nil
		}
	}
	return fmt.Errorf("contracts: unknown tier %q", s)
}

// FailureClass is the canonical classification of a non-passing
// VerificationResult. A closed Go sum type: every value is one of the five
// named constants, plus None for a passing result.
type FailureClass int

const (
	FailureNone FailureClass = iota
	FailureSyntax
	FailurePolicy
	FailureTimeout
	FailureFlake
	FailureDeterministic
)

func (f FailureClass) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureSyntax:
		return "syntax"
	case FailurePolicy:
		return "policy"
	case FailureTimeout:
		return "timeout"
	case FailureFlake:
		return "flake"
	case FailureDeterministic:
		return "deterministic"
	default:
		return "unknown"
	}
}

// MarshalJSON renders a FailureClass as its canonical string name rather
// than the underlying int.
func (f FailureClass) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON parses a FailureClass from its canonical string name.
func (f *FailureClass) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for _, candidate := range []FailureClass{
		FailureNone, FailureSyntax, FailurePolicy, FailureTimeout, FailureFlake, FailureDeterministic,
	} {
		if candidate.String() == s {
			*f = candidate
			return nil
		}
	}
	return fmt.Errorf("contracts: unknown failure class %q", s)
}

// Status is the pass/fail outcome of a VerificationResult.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
)

// FinalStatus is the terminal label an AttestationManifest carries, a
// distinct domain from VerificationResult's per-attempt Status: a single
// request can fail several attempts before one finally passes, but it
// receives exactly one FinalStatus once the pipeline reaches a terminal
// state.
type FinalStatus string

const (
	StatusVerified  FinalStatus = "verified"
	StatusFailed    FinalStatus = "failed"
	StatusCancelled FinalStatus = "cancelled"
)

// TerminalEvent names a run-ending condition outside the ordinary
// pass/fail/retry flow.
type TerminalEvent string

const (
	TerminalNone                  TerminalEvent = ""
	TerminalStrictModeUnavailable TerminalEvent = "StrictModeUnavailable"
	TerminalStrictModeRequired    TerminalEvent = "StrictModeRequired"
	TerminalMaxRetriesExceeded    TerminalEvent = "MaxRetriesExceeded"
	TerminalCancelled             TerminalEvent = "Cancelled"
)

// SkippedCheck records a command plan stage that did not run.
type SkippedCheck struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// CommandLogEntry records one executed command plan stage.
type CommandLogEntry struct {
	Stage        StageName `json:"stage"`
	Name         string    `json:"name"`
	Argv         []string  `json:"argv"`
	ExitCode     int       `json:"exit_code"`
	DurationMS   int64     `json:"duration_ms"`
	StdoutTrunc  string    `json:"stdout_trunc"`
	StderrTrunc  string    `json:"stderr_trunc"`
	ArtifactRefs []string  `json:"artifact_refs,omitempty"`
}

// VerificationResult is produced by the sandbox executor (C1).
//
// Invariants: status=pass => failure_class=none && tier != none;
// status=fail => failure_class != none.
type VerificationResult struct {
	RequestID       string            `json:"request_id"`
	CandidateID     string            `json:"candidate_id"`
	Attempt         int               `json:"attempt"`
	Mode            Mode              `json:"mode"`
	Status          Status            `json:"status"`
	Tier            Tier              `json:"tier"`
	FailureClass    FailureClass      `json:"failure_class"`
	ExitCode        int               `json:"exit_code"`
	DurationMS      int64             `json:"duration_ms"`
	Stdout          string            `json:"stdout"`
	Stderr          string            `json:"stderr"`
	CommandLog      []CommandLogEntry `json:"command_log"`
	ArtifactRefs    []string          `json:"artifacts"`
	SkippedChecks   []SkippedCheck    `json:"skipped_checks"`
	ViolationEvents []ViolationCode   `json:"violation_events,omitempty"`
	TerminalEvent   TerminalEvent     `json:"terminal_event,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	SchemaVersion   string            `json:"schema_version"`
}

// Valid reports whether the result satisfies the pass/fail <-> failure_class
// and tier invariants. It is a total, pure predicate used by tests and by
// the manifest completeness gate.
func (v VerificationResult) Valid() bool {
	switch v.Status {
	case StatusPass:
		return v.FailureClass == FailureNone && v.Tier != TierNone
	case StatusFail:
		return v.FailureClass != FailureNone
	default:
		return false
	}
}
