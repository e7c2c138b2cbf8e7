// Package manifest implements the C6 attestation manifest: assembling the
// terminal, signed record of a request's verification run from the
// accumulated per-attempt command logs, tier, retry history, and terminal
// event, and persisting it content-addressed in the artifact store.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bhagyabanghadai/dhi/pkg/artifacts"
	"github.com/bhagyabanghadai/dhi/pkg/canonicalize"
	"github.com/bhagyabanghadai/dhi/pkg/contracts"
)

// BuildInput carries the accumulated state of a request's attempt history,
// the input pkg/pipeline hands to Build once the state machine reaches a
// terminal state.
type BuildInput struct {
	RequestID           string
	CandidateID         string
	FingerprintHash     string
	Attempts            []contracts.VerificationResult
	TerminalEvent       contracts.TerminalEvent
	HumanReviewRequired bool
}

// Build assembles the terminal AttestationManifest from a request's attempt
// history. AttemptCount and RetryCount are derived from len(Attempts);
// Tier, FailureClass, CommandLog, SkippedChecks, and ArtifactRefs are taken
// from the last attempt, the one that actually produced the terminal
// outcome.
//
// FinalStatus is "verified" only when the last attempt passed, the
// assembled manifest satisfies the completeness schema, and the
// tier/failure-class invariant holds; otherwise it is "failed", or
// "cancelled" when the terminal event reflects an actual client
// cancellation rather than an infrastructure fault. A manifest that fails
// completeness validation can never carry final_status=verified, regardless
// of what the last attempt reported.
func Build(in BuildInput) (*contracts.AttestationManifest, error) {
	if len(in.Attempts) == 0 {
		return nil, fmt.Errorf("manifest: cannot build from zero attempts")
	}
	last := in.Attempts[len(in.Attempts)-1]

	m := &contracts.AttestationManifest{
		RequestID:           in.RequestID,
		CandidateID:         in.CandidateID,
		FingerprintHash:     in.FingerprintHash,
		CreatedAt:           last.CreatedAt,
		CommandLog:          last.CommandLog,
		Tier:                last.Tier,
		HumanReviewRequired: in.HumanReviewRequired,
		AttemptCount:        len(in.Attempts),
		RetryCount:          len(in.Attempts) - 1,
		SkippedChecks:       last.SkippedChecks,
		FailureClass:        last.FailureClass,
		TerminalEvent:       in.TerminalEvent,
		ArtifactRefs:        last.ArtifactRefs,
		SchemaVersion:       contracts.SchemaVersion,
	}

	// Empty lists are stored as [] rather than null so the completeness
	// schema's array checks accept them.
	if m.CommandLog == nil {
		m.CommandLog = []contracts.CommandLogEntry{}
	}
	if m.SkippedChecks == nil {
		m.SkippedChecks = []contracts.SkippedCheck{}
	}
	if m.ArtifactRefs == nil {
		m.ArtifactRefs = []string{}
	}

	m.FinalStatus = decideFinalStatus(last, in.TerminalEvent)

	if err := validateManifestJSON(m); err != nil {
		if m.FinalStatus == contracts.StatusVerified {
			m.FinalStatus = contracts.StatusFailed
		}
		return m, fmt.Errorf("manifest: completeness validation failed: %w", err)
	}

	return m, nil
}

// decideFinalStatus reserves "cancelled" for an actual client-initiated
// cancellation. StrictModeUnavailable/StrictModeRequired are fail-closed
// infrastructure faults, not cancellations, so they fall into "failed" with
// the specific reason preserved in the manifest's TerminalEvent field.
func decideFinalStatus(last contracts.VerificationResult, terminal contracts.TerminalEvent) contracts.FinalStatus {
	if terminal == contracts.TerminalCancelled {
		return contracts.StatusCancelled
	}
	if last.Status == contracts.StatusPass && last.Valid() {
		return contracts.StatusVerified
	}
	return contracts.StatusFailed
}

// validateManifestJSON round-trips m through JSON so the completeness
// schema sees the same representation the manifest will actually be stored
// and signed as, rather than the typed Go struct.
func validateManifestJSON(m *contracts.AttestationManifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}
	return validateCompleteness(generic)
}

// Persist canonicalizes m (JCS) and stores it content-addressed, returning
// the digest the manifest is retrievable by. The digest is then appended to
// m.ArtifactRefs in memory; the stored bytes were written before the append
// and do not contain their own digest.
func Persist(ctx context.Context, store artifacts.Store, m *contracts.AttestationManifest) (string, error) {
	canonical, err := canonicalize.JCS(m)
	if err != nil {
		return "", fmt.Errorf("manifest: canonicalize: %w", err)
	}
	digest, err := store.Store(ctx, canonical)
	if err != nil {
		return "", fmt.Errorf("manifest: persist: %w", err)
	}
	m.ArtifactRefs = append(m.ArtifactRefs, digest)
	return digest, nil
}
