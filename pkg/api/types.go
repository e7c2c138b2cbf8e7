package api

import (
	"github.com/bhagyabanghadai/dhi/pkg/contracts"
	"github.com/bhagyabanghadai/dhi/pkg/llm"
	"github.com/bhagyabanghadai/dhi/pkg/sandbox"
)

// CommandSpec is the JSON-facing shape of a sandbox.Command.
type CommandSpec struct {
	Stage contracts.StageName `json:"stage"`
	Name  string              `json:"name"`
	Argv  []string            `json:"argv"`
}

// toCommand converts a CommandSpec into the sandbox package's own type.
func (c CommandSpec) toCommand() sandbox.Command {
	return sandbox.Command{Stage: c.Stage, Name: c.Name, Argv: c.Argv}
}

// planFrom groups specs by stage and builds a sandbox.Plan in the fixed
// stage order, the same contract sandbox.NewPlan guarantees.
func planFrom(specs []CommandSpec) sandbox.Plan {
	byStage := make(map[contracts.StageName][]sandbox.Command)
	for _, spec := range specs {
		byStage[spec.Stage] = append(byStage[spec.Stage], spec.toCommand())
	}
	return sandbox.NewPlan(byStage)
}

// VerifyRequest is the shared request body for /verify, /intercept, and
// /orchestrate. llm_provider is validated on every one of the three even
// though /verify and /intercept never dispatch an LLM call themselves — the
// field routes billing/telemetry attribution uniformly across the surface.
// The llm_* override fields below are the enumerated per-request gateway
// overrides from §6: only /orchestrate ever uses them to build a Client,
// but they're accepted on all three endpoints for the same attribution
// reason llm_provider is.
type VerifyRequest struct {
	RequestID      string          `json:"request_id"`
	CandidateID    string          `json:"candidate_id"`
	Attempt        int             `json:"attempt,omitempty"`
	UserPrompt     string          `json:"user_prompt"`
	Files          []string        `json:"files,omitempty"`
	Content        string          `json:"content,omitempty"`
	Mode           contracts.Mode  `json:"mode"`
	RepoRoot       string          `json:"repo_root"`
	LLMProvider    llm.Provider    `json:"llm_provider"`
	ModelName      string          `json:"model_name,omitempty"`
	LLMAPIBase     string          `json:"llm_api_base,omitempty"`
	LLMAPIKey      string          `json:"llm_api_key,omitempty"`
	LLMExtraBody   map[string]any  `json:"llm_extra_body,omitempty"`
	LLMTimeoutS    float64         `json:"llm_timeout_s,omitempty"`
	LLMMaxTokens   int             `json:"llm_max_tokens,omitempty"`
	LLMTemperature *float64        `json:"llm_temperature,omitempty"`
	LLMTopP        *float64        `json:"llm_top_p,omitempty"`
	ExpectedChecks []string        `json:"expected_checks"`
	Commands       []CommandSpec   `json:"commands"`
	Policy         *sandbox.Policy `json:"policy,omitempty"`
}

// llmOverrides projects the request's enumerated gateway-override fields
// into an llm.RequestOverrides value for NewClientFromRequest.
func (r VerifyRequest) llmOverrides() llm.RequestOverrides {
	return llm.RequestOverrides{
		Model:     r.ModelName,
		APIBase:   r.LLMAPIBase,
		APIKey:    r.LLMAPIKey,
		ExtraBody: r.LLMExtraBody,
		TimeoutS:  r.LLMTimeoutS,
		MaxTokens: r.LLMMaxTokens,
	}
}

// samplingOptions projects the request's temperature/top_p overrides into
// llm.SamplingOptions, or nil when neither was supplied.
func (r VerifyRequest) samplingOptions() *llm.SamplingOptions {
	if r.LLMTemperature == nil && r.LLMTopP == nil {
		return nil
	}
	opts := &llm.SamplingOptions{}
	if r.LLMTemperature != nil {
		opts.Temperature = *r.LLMTemperature
	}
	if r.LLMTopP != nil {
		opts.TopP = *r.LLMTopP
	}
	return opts
}

// VerifyResponse wraps a single VerificationResult with a pointer to the
// manifest it was attested into.
type VerifyResponse struct {
	Result         contracts.VerificationResult `json:"result"`
	ManifestDigest string                       `json:"manifest_digest"`
}

// OrchestrateResponse wraps the terminal manifest produced by the full
// retry loop along with the state machine's transition log, so a caller can
// see not just the outcome but the path taken to it.
type OrchestrateResponse struct {
	Manifest    *contracts.AttestationManifest `json:"manifest"`
	Transitions []string                       `json:"transitions"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}
