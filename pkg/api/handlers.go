package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/bhagyabanghadai/dhi/pkg/classifier"
	"github.com/bhagyabanghadai/dhi/pkg/contracts"
	"github.com/bhagyabanghadai/dhi/pkg/fingerprint"
	"github.com/bhagyabanghadai/dhi/pkg/limiter"
	"github.com/bhagyabanghadai/dhi/pkg/llm"
	"github.com/bhagyabanghadai/dhi/pkg/manifest"
	"github.com/bhagyabanghadai/dhi/pkg/observability"
	"github.com/bhagyabanghadai/dhi/pkg/pipeline"
	"github.com/bhagyabanghadai/dhi/pkg/sandbox"
	"github.com/bhagyabanghadai/dhi/pkg/tier"
	"github.com/google/uuid"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Service: "dhi", Version: s.Version})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r)
		return
	}

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, "malformed request body: "+err.Error())
		return
	}

	if err := validateLLMFields(req); err != nil {
		WriteUnprocessable(w, r, err.Error())
		return
	}

	release, err := s.acquireSandboxSlot(r.Context())
	if err != nil {
		writeBackpressureOrInternal(w, r, err)
		return
	}
	defer func() { _ = release(r.Context()) }()

	m, result, err := s.runSingleAttempt(r.Context(), req)
	if err != nil {
		WriteInternal(w, r, err)
		return
	}

	digest := ""
	if len(m.ArtifactRefs) > 0 {
		digest = m.ArtifactRefs[len(m.ArtifactRefs)-1]
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Result: result, ManifestDigest: digest})
}

func (s *Server) handleIntercept(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r)
		return
	}

	body, err := readAll(r)
	if err != nil {
		WriteBadRequest(w, r, "cannot read request body: "+err.Error())
		return
	}

	var generic interface{}
	if err := json.Unmarshal(body, &generic); err != nil {
		WriteBadRequest(w, r, "malformed JSON body: "+err.Error())
		return
	}
	if err := validateRequestShape(generic); err != nil {
		WriteBadRequest(w, r, "request failed schema validation: "+err.Error())
		return
	}

	var req VerifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		WriteBadRequest(w, r, "malformed request body: "+err.Error())
		return
	}

	if err := validateLLMFields(req); err != nil {
		WriteUnprocessable(w, r, err.Error())
		return
	}

	release, err := s.acquireSandboxSlot(r.Context())
	if err != nil {
		writeBackpressureOrInternal(w, r, err)
		return
	}
	defer func() { _ = release(r.Context()) }()

	m, result, err := s.runSingleAttempt(r.Context(), req)
	if err != nil {
		WriteInternal(w, r, err)
		return
	}

	digest := ""
	if len(m.ArtifactRefs) > 0 {
		digest = m.ArtifactRefs[len(m.ArtifactRefs)-1]
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Result: result, ManifestDigest: digest})
}

func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r)
		return
	}

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, "malformed request body: "+err.Error())
		return
	}

	if err := validateLLMFields(req); err != nil {
		WriteUnprocessable(w, r, err.Error())
		return
	}

	policy := s.policyFor(req.Policy, req.RepoRoot)

	client, err := llm.NewClientFromRequest(req.LLMProvider, req.llmOverrides())
	if err != nil {
		WriteUnprocessable(w, r, err.Error())
		return
	}

	release, err := s.acquireSandboxSlot(r.Context())
	if err != nil {
		writeBackpressureOrInternal(w, r, err)
		return
	}
	defer func() { _ = release(r.Context()) }()

	m, sm, err := s.Pipeline.Run(r.Context(), pipeline.Request{
		RequestID:      req.RequestID,
		CandidateID:    req.CandidateID,
		UserPrompt:     req.UserPrompt,
		Mode:           req.Mode,
		RepoRoot:       req.RepoRoot,
		Plan:           planFrom(req.Commands),
		Policy:         policy,
		ExpectedChecks: req.ExpectedChecks,
		LLMOptions:     req.samplingOptions(),
		LLM:            client,
	})
	if err != nil {
		WriteInternal(w, r, err)
		return
	}

	if len(m.ArtifactRefs) > 0 {
		s.storeManifestDigest(req.RequestID, m.ArtifactRefs[len(m.ArtifactRefs)-1])
	}

	transitions := make([]string, 0, len(sm.Transitions()))
	for _, t := range sm.Transitions() {
		transitions = append(transitions, fmt.Sprintf("%s -> %s (%s)", t.From, t.To, t.Reason))
	}

	writeJSON(w, http.StatusOK, OrchestrateResponse{Manifest: m, Transitions: transitions})
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w, r)
		return
	}

	requestID := strings.TrimPrefix(r.URL.Path, "/manifest/")
	if requestID == "" {
		WriteBadRequest(w, r, "request_id is required")
		return
	}

	digest, ok := s.lookupManifestDigest(requestID)
	if !ok {
		WriteNotFound(w, r, fmt.Sprintf("no manifest recorded for request_id %q", requestID))
		return
	}

	data, err := s.ManifestStore.Get(r.Context(), digest)
	if err != nil {
		WriteInternal(w, r, err)
		return
	}

	var m contracts.AttestationManifest
	if err := json.Unmarshal(data, &m); err != nil {
		WriteInternal(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// runSingleAttempt drives the sandbox exactly once — no retry loop — and
// assembles, signs, and persists the resulting one-attempt manifest. Shared
// by /verify and /intercept, which differ only in whether the request body
// is schema-validated first.
func (s *Server) runSingleAttempt(ctx context.Context, req VerifyRequest) (*contracts.AttestationManifest, contracts.VerificationResult, error) {
	ctx, finish := s.obs().TrackOperation(ctx, "api.verify.single_attempt", observability.AttemptOperation(req.RequestID, req.CandidateID, 1)...)

	policy := s.policyFor(req.Policy, req.RepoRoot)

	result := s.Sandbox.Run(ctx, sandbox.RunRequest{
		RequestID:   req.RequestID,
		CandidateID: req.CandidateID,
		Attempt:     1,
		Mode:        req.Mode,
		RepoRoot:    req.RepoRoot,
		Plan:        planFrom(req.Commands),
		Policy:      policy,
	})

	result.FailureClass = classifier.Classify(result, nil)
	if result.Status == contracts.StatusPass {
		result.Tier, _ = tier.ClassifyTier(result.CommandLog)
	}
	observability.AddSpanEvent(ctx, "sandbox.run.complete", observability.VerificationOutcome(result.FailureClass.String(), result.Tier.String())...)

	var terminal contracts.TerminalEvent
	if result.TerminalEvent == contracts.TerminalStrictModeUnavailable || result.TerminalEvent == contracts.TerminalStrictModeRequired {
		terminal = result.TerminalEvent
	}
	_, humanReview := tier.ClassifyTier(result.CommandLog)

	fpHash, err := s.Fingerprint.Hash()
	if err != nil {
		finish(err)
		return nil, result, fmt.Errorf("api: compute fingerprint: %w", err)
	}

	m, err := manifest.Build(manifest.BuildInput{
		RequestID:           req.RequestID,
		CandidateID:         req.CandidateID,
		FingerprintHash:     fpHash,
		Attempts:            []contracts.VerificationResult{result},
		TerminalEvent:       terminal,
		HumanReviewRequired: humanReview,
	})
	if err != nil {
		finish(err)
		return m, result, fmt.Errorf("api: build manifest: %w", err)
	}

	if err := s.Signer.Sign(m); err != nil {
		finish(err)
		return m, result, fmt.Errorf("api: sign manifest: %w", err)
	}
	if _, err := manifest.Persist(ctx, s.ManifestStore, m); err != nil {
		finish(err)
		return m, result, fmt.Errorf("api: persist manifest: %w", err)
	}

	if err := s.recordLedgerEvent(ctx, req.RequestID, fpHash, result); err != nil {
		// Band 3 infrastructure fault per the error-handling design: the
		// manifest is already signed and persisted, so the response is
		// downgraded to verified-locally rather than failed outright.
		observability.AddSpanEvent(ctx, "ledger_write_failed", attribute.String("request_id", req.RequestID))
	}

	if len(m.ArtifactRefs) > 0 {
		s.storeManifestDigest(req.RequestID, m.ArtifactRefs[len(m.ArtifactRefs)-1])
	}

	finish(nil)
	return m, result, nil
}

func (s *Server) recordLedgerEvent(ctx context.Context, requestID, fpHash string, result contracts.VerificationResult) error {
	reproducible, err := fingerprint.Reproducible(s.Fingerprint, s.Baseline, result.FailureClass.String())
	if err != nil {
		return err
	}

	signal := contracts.SignalSuccess
	if result.Status != contracts.StatusPass {
		signal = contracts.SignalFailure
	}

	event := contracts.LedgerEvent{
		EventID:         uuid.NewString(),
		RequestID:       requestID,
		FingerprintHash: fpHash,
		Reproducible:    reproducible,
		SignalType:      signal,
		FailureClass:    result.FailureClass,
		Summary:         fmt.Sprintf("single-attempt status=%s", result.Status),
		CreatedAt:       result.CreatedAt,
		SchemaVersion:   contracts.SchemaVersion,
	}
	return s.Ledger.RecordOutcome(ctx, event)
}

// validateLLMFields checks llm_provider plus the bounded llm_timeout_s/
// llm_temperature/llm_top_p overrides (§6) before any sandbox or ledger
// interaction, per the client-facing input error band (§7 band 1).
func validateLLMFields(req VerifyRequest) error {
	if err := llm.ValidateProvider(req.LLMProvider); err != nil {
		return err
	}
	if err := llm.ValidateTimeout(req.LLMTimeoutS); err != nil {
		return err
	}
	return llm.ValidateSamplingOptions(req.LLMTemperature, req.LLMTopP)
}

// acquireSandboxSlot gates sandbox execution behind the distributed
// concurrency limiter (§5 "Resource caps"), when one is configured. A
// Server built without a Limiter admits every request unconditionally.
func (s *Server) acquireSandboxSlot(ctx context.Context) (func(context.Context) error, error) {
	if s.Limiter == nil {
		return func(context.Context) error { return nil }, nil
	}
	return s.Limiter.Acquire(ctx)
}

// writeBackpressureOrInternal distinguishes the limiter's non-retryable
// backpressure error from any other acquisition failure, per §5: a request
// that exceeds the concurrency cap after its bounded wait fails with an
// explicit backpressure error rather than being retried by the circuit
// breaker.
func writeBackpressureOrInternal(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, limiter.ErrBackpressure) {
		WriteTooManyRequests(w, r, 30)
		return
	}
	WriteInternal(w, r, err)
}

// obs returns a safe-to-call observability provider even when the Server
// was built without one.
func (s *Server) obs() *observability.Provider {
	if s.Observability != nil {
		return s.Observability
	}
	disabled, _ := observability.New(context.Background(), &observability.Config{Enabled: false})
	return disabled
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readAll(r *http.Request) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
