// Package llm defines the pipeline's out-of-scope collaborator boundary: the
// Client interface and Candidate-producing adapter the core depends on,
// without ever inspecting a specific provider's request/response payloads.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/bhagyabanghadai/dhi/pkg/contracts"
)

// Provider names a supported LLM backend. The core validates this field
// before any sandbox or ledger interaction (§6); an unrecognized provider
// is a client error, never a provider-specific runtime failure.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderNvidia Provider = "nvidia"
	ProviderCustom Provider = "custom"
)

// ValidateProvider reports whether p is one of the three supported values.
func ValidateProvider(p Provider) error {
	switch p {
	case ProviderOpenAI, ProviderNvidia, ProviderCustom:
		return nil
	default:
		return fmt.Errorf("llm: unsupported provider %q", p)
	}
}

// Message is one turn in a chat-style exchange with the underlying model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SamplingOptions bounds a single generation call.
type SamplingOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	Seed        int64   `json:"seed"`
}

// Client is the only surface the pipeline depends on. Implementations wrap
// a specific provider's SDK; the core never sees provider-specific request
// or response shapes.
type Client interface {
	Chat(ctx context.Context, messages []Message, options *SamplingOptions) (string, error)
}

// GenerateRequest is the pipeline's input to GenerateCandidate: either an
// initial generation from a user prompt, or a repair round following a
// retryable failure (RepairPrompt set).
type GenerateRequest struct {
	RequestID      string
	Attempt        int
	UserPrompt     string
	RepairPrompt   string // non-empty on a repair round; replaces UserPrompt
	ExpectedChecks []string
	Options        *SamplingOptions
}

// GenerateCandidate drives one Client.Chat call and wraps its output as a
// contracts.Candidate, stamping the identity and schema fields the core's
// data model requires. It never interprets the model's output beyond
// treating it as the candidate's diff_or_code payload.
func GenerateCandidate(ctx context.Context, client Client, candidateID string, req GenerateRequest) (contracts.Candidate, error) {
	prompt := req.UserPrompt
	if req.RepairPrompt != "" {
		prompt = req.RepairPrompt
	}

	output, err := client.Chat(ctx, []Message{{Role: "user", Content: prompt}}, req.Options)
	if err != nil {
		return contracts.Candidate{}, fmt.Errorf("llm: generate candidate: %w", err)
	}

	return contracts.Candidate{
		RequestID:      req.RequestID,
		Attempt:        req.Attempt,
		CandidateID:    candidateID,
		DiffOrCode:     output,
		ExpectedChecks: req.ExpectedChecks,
		CreatedAt:      time.Now(),
		SchemaVersion:  contracts.SchemaVersion,
	}, nil
}
