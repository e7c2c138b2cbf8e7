// Package pipeline implements the C4 orchestrator: the per-request loop
// that drives candidate generation, sandbox execution (C1), failure
// classification (C3), tier assignment (C5), and manifest attestation (C6)
// in strict sequence, retrying only when the failure class permits it.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bhagyabanghadai/dhi/pkg/artifacts"
	"github.com/bhagyabanghadai/dhi/pkg/classifier"
	"github.com/bhagyabanghadai/dhi/pkg/contracts"
	"github.com/bhagyabanghadai/dhi/pkg/fingerprint"
	"github.com/bhagyabanghadai/dhi/pkg/ledger"
	"github.com/bhagyabanghadai/dhi/pkg/llm"
	"github.com/bhagyabanghadai/dhi/pkg/manifest"
	"github.com/bhagyabanghadai/dhi/pkg/retry"
	"github.com/bhagyabanghadai/dhi/pkg/sandbox"
	"github.com/bhagyabanghadai/dhi/pkg/tier"
)

// MaxAttempts bounds a request's candidate-generation/verification loop.
// retry_count is always attempt_count-1.
const MaxAttempts = 3

// Config bundles the collaborators one Pipeline needs. All fields are
// required; Pipeline does not construct its own dependencies.
type Config struct {
	Sandbox       sandbox.Sandbox
	LLM           llm.Client
	FlakeOracle   *fingerprint.FlakeOracle
	Ledger        *ledger.Ledger
	ManifestStore artifacts.Store
	Signer        *manifest.Signer
	Fingerprint   fingerprint.EnvironmentFingerprint
	Baseline      fingerprint.Baseline
	Backoff       retry.BackoffPolicy
}

// Pipeline drives one request at a time through the attempt loop. It holds
// no per-request state itself; Run constructs a fresh StateMachine and
// attempt history for every call, so one Pipeline is safe to reuse (though
// not to call concurrently for the same RequestID, since the ledger and
// manifest store expect a single writer per request).
type Pipeline struct {
	cfg Config
}

// New constructs a Pipeline from its collaborators.
func New(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// Request is one verification request's input.
type Request struct {
	RequestID      string
	CandidateID    string
	UserPrompt     string
	Mode           contracts.Mode
	RepoRoot       string
	Plan           sandbox.Plan
	Policy         *sandbox.Policy
	ExpectedChecks []string
	LLMOptions     *llm.SamplingOptions
	// LLM overrides cfg.LLM for this request only, when set. The HTTP
	// surface uses this to route each request's enumerated llm_provider/
	// llm_api_base/llm_api_key/llm_extra_body overrides (§6) to a
	// request-scoped Client without the Pipeline itself depending on any
	// provider-specific construction.
	LLM llm.Client
}

// Run drives req through the full attempt loop and returns the terminal,
// signed AttestationManifest along with the StateMachine's transition log.
// Run never returns a nil manifest on success; a hard infrastructure error
// (LLM unreachable, sandbox construction failure, ledger write failure)
// returns a non-nil error instead, since those conditions fall outside the
// retry/halt model entirely.
func (p *Pipeline) Run(ctx context.Context, req Request) (*contracts.AttestationManifest, *StateMachine, error) {
	sm := NewStateMachine(req.RequestID)

	fpHash, err := p.cfg.Fingerprint.Hash()
	if err != nil {
		return nil, sm, fmt.Errorf("pipeline: compute fingerprint: %w", err)
	}
	sm.Transition(StateContextReady, 0, "environment fingerprint computed")

	var (
		attempts    []contracts.VerificationResult
		priorOutput string
		terminal    contracts.TerminalEvent
		lastFailure contracts.FailureClass
	)

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		candidate, err := p.generateCandidate(ctx, req, attempt, priorOutput, lastFailure)
		if err != nil {
			return nil, sm, fmt.Errorf("pipeline: generate candidate attempt %d: %w", attempt, err)
		}
		sm.Transition(StateCandidateGenerated, attempt, "candidate generated")

		sm.Transition(StateVerificationRunning, attempt, "sandbox run started")
		result := p.cfg.Sandbox.Run(ctx, sandbox.RunRequest{
			RequestID:   req.RequestID,
			CandidateID: req.CandidateID,
			Attempt:     attempt,
			Mode:        req.Mode,
			RepoRoot:    req.RepoRoot,
			Plan:        req.Plan,
			Policy:      req.Policy,
		})

		result.FailureClass = classifier.Classify(result, p.cfg.FlakeOracle)
		if result.Status == contracts.StatusPass {
			result.Tier, _ = tier.ClassifyTier(result.CommandLog)
		}
		attempts = append(attempts, result)

		if result.TerminalEvent == contracts.TerminalStrictModeUnavailable ||
			result.TerminalEvent == contracts.TerminalStrictModeRequired {
			terminal = result.TerminalEvent
			sm.Transition(StateHalted, attempt, string(terminal))
			break
		}

		if result.Status == contracts.StatusPass {
			sm.Transition(StateVerificationPassed, attempt, "verification passed")
			break
		}

		lastFailure = result.FailureClass
		priorOutput = candidate.DiffOrCode

		retryable := classifier.RetryEligible(result.FailureClass) && attempt < MaxAttempts
		if !retryable {
			if classifier.RetryEligible(result.FailureClass) {
				terminal = contracts.TerminalMaxRetriesExceeded
			}
			sm.Transition(StateHalted, attempt, string(result.FailureClass))
			break
		}

		if p.cfg.Backoff.BaseMs > 0 {
			delay := retry.ComputeBackoff(retry.BackoffParams{
				RequestID:    req.RequestID,
				CandidateID:  req.CandidateID,
				AttemptIndex: attempt,
			}, p.cfg.Backoff)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				terminal = contracts.TerminalCancelled
				sm.Transition(StateHalted, attempt, "request cancelled during retry backoff")
			}
		}
		if terminal == contracts.TerminalCancelled {
			break
		}
	}

	// A cancelled request still attests what ran so far; use a detached
	// context for the remaining persistence steps since ctx is already
	// done by the time TerminalCancelled is set.
	persistCtx := ctx
	if terminal == contracts.TerminalCancelled {
		var cancel context.CancelFunc
		persistCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	last := attempts[len(attempts)-1]
	_, humanReview := tier.ClassifyTier(last.CommandLog)

	m, err := manifest.Build(manifest.BuildInput{
		RequestID:           req.RequestID,
		CandidateID:         req.CandidateID,
		FingerprintHash:     fpHash,
		Attempts:            attempts,
		TerminalEvent:       terminal,
		HumanReviewRequired: humanReview,
	})
	if err != nil {
		return m, sm, fmt.Errorf("pipeline: build manifest: %w", err)
	}

	if err := p.cfg.Signer.Sign(m); err != nil {
		return m, sm, fmt.Errorf("pipeline: sign manifest: %w", err)
	}

	if _, err := manifest.Persist(persistCtx, p.cfg.ManifestStore, m); err != nil {
		return m, sm, fmt.Errorf("pipeline: persist manifest: %w", err)
	}
	sm.Transition(StateAttested, len(attempts), "manifest signed and persisted")

	if err := p.recordLedgerEvent(persistCtx, req, fpHash, last, terminal); err != nil {
		return m, sm, fmt.Errorf("pipeline: record ledger event: %w", err)
	}
	sm.Transition(StateCompleted, len(attempts), "ledger event recorded")

	return m, sm, nil
}

func (p *Pipeline) generateCandidate(ctx context.Context, req Request, attempt int, priorOutput string, failureClass contracts.FailureClass) (contracts.Candidate, error) {
	genReq := llm.GenerateRequest{
		RequestID:      req.RequestID,
		Attempt:        attempt,
		UserPrompt:     req.UserPrompt,
		ExpectedChecks: req.ExpectedChecks,
		Options:        req.LLMOptions,
	}
	if attempt > 1 {
		genReq.RepairPrompt = retry.BuildRepairPrompt(priorOutput, failureClass, "")
	}
	client := p.cfg.LLM
	if req.LLM != nil {
		client = req.LLM
	}
	return llm.GenerateCandidate(ctx, client, uuid.NewString(), genReq)
}

func (p *Pipeline) recordLedgerEvent(ctx context.Context, req Request, fpHash string, last contracts.VerificationResult, terminal contracts.TerminalEvent) error {
	reproducible, err := fingerprint.Reproducible(p.cfg.Fingerprint, p.cfg.Baseline, last.FailureClass.String())
	if err != nil {
		return fmt.Errorf("compute reproducibility: %w", err)
	}
	// Policy-violation and cancelled outcomes are recorded as telemetry only.
	if last.FailureClass == contracts.FailurePolicy || terminal == contracts.TerminalCancelled {
		reproducible = false
	}

	signal := contracts.SignalSuccess
	if last.Status != contracts.StatusPass {
		signal = contracts.SignalFailure
	}

	event := contracts.LedgerEvent{
		EventID:         uuid.NewString(),
		RequestID:       req.RequestID,
		FingerprintHash: fpHash,
		Reproducible:    reproducible,
		SignalType:      signal,
		FailureClass:    last.FailureClass,
		Summary:         fmt.Sprintf("attempt=%d status=%s", last.Attempt, last.Status),
		CreatedAt:       last.CreatedAt,
		SchemaVersion:   contracts.SchemaVersion,
	}

	return p.cfg.Ledger.RecordOutcome(ctx, event)
}
