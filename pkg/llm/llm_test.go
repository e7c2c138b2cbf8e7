package llm

import (
	"context"
	"errors"
	"testing"
)

type fakeClient struct {
	output   string
	err      error
	messages []Message
}

func (f *fakeClient) Chat(_ context.Context, messages []Message, _ *SamplingOptions) (string, error) {
	f.messages = messages
	return f.output, f.err
}

func TestValidateProvider_AcceptsKnownValues(t *testing.T) {
	for _, p := range []Provider{ProviderOpenAI, ProviderNvidia, ProviderCustom} {
		if err := ValidateProvider(p); err != nil {
			t.Fatalf("expected %q to validate, got %v", p, err)
		}
	}
}

func TestValidateProvider_RejectsUnknown(t *testing.T) {
	if err := ValidateProvider("anthropic"); err == nil {
		t.Fatal("expected unknown provider to be rejected")
	}
}

func TestGenerateCandidate_WrapsClientOutput(t *testing.T) {
	client := &fakeClient{output: "func fixed() {}"}
	cand, err := GenerateCandidate(context.Background(), client, "cand-1", GenerateRequest{
		RequestID: "req-1", Attempt: 1, UserPrompt: "write a function",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cand.DiffOrCode != "func fixed() {}" {
		t.Fatalf("expected candidate to carry client output, got %q", cand.DiffOrCode)
	}
	if cand.CandidateID != "cand-1" || cand.RequestID != "req-1" || cand.Attempt != 1 {
		t.Fatalf("expected identity fields stamped, got %+v", cand)
	}
}

func TestGenerateCandidate_PrefersRepairPromptOverUserPrompt(t *testing.T) {
	client := &fakeClient{output: "repaired"}
	cand, err := GenerateCandidate(context.Background(), client, "cand-2", GenerateRequest{
		RequestID: "req-2", UserPrompt: "original", RepairPrompt: "repair this",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cand.DiffOrCode != "repaired" {
		t.Fatalf("expected repaired output, got %q", cand.DiffOrCode)
	}
	if len(client.messages) != 1 || client.messages[0].Content != "repair this" {
		t.Fatalf("expected the repair prompt to be sent, got %+v", client.messages)
	}
}

func TestGenerateCandidate_PropagatesClientError(t *testing.T) {
	client := &fakeClient{err: errors.New("upstream failure")}
	_, err := GenerateCandidate(context.Background(), client, "cand-3", GenerateRequest{RequestID: "req-3"})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
}
