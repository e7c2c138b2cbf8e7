package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPClient_ChatSendsMergedExtraBody(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Fatalf("expected bearer auth header, got %q", auth)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"fixed code"}}]}`))
	}))
	defer srv.Close()

	client, err := NewHTTPClient(HTTPClientConfig{
		Provider:  ProviderCustom,
		Model:     "gpt-test",
		APIBase:   srv.URL,
		APIKey:    "test-key",
		ExtraBody: map[string]interface{}{"reasoning_effort": "low"},
	})
	if err != nil {
		t.Fatalf("new http client: %v", err)
	}

	out, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "fix it"}}, &SamplingOptions{Temperature: 0.2})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out != "fixed code" {
		t.Fatalf("expected wrapped content, got %q", out)
	}
	if captured["reasoning_effort"] != "low" {
		t.Fatalf("expected extra body merged into request, got %+v", captured)
	}
	if captured["model"] != "gpt-test" {
		t.Fatalf("expected model field preserved, got %+v", captured)
	}
}

func TestHTTPClient_PropagatesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream overloaded"}}`))
	}))
	defer srv.Close()

	client, err := NewHTTPClient(HTTPClientConfig{Provider: ProviderCustom, APIBase: srv.URL})
	if err != nil {
		t.Fatalf("new http client: %v", err)
	}

	if _, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "x"}}, nil); err == nil {
		t.Fatal("expected error on non-200 status")
	}
}

func TestNewHTTPClient_RequiresAPIBaseForCustomProvider(t *testing.T) {
	if _, err := NewHTTPClient(HTTPClientConfig{Provider: ProviderCustom}); err == nil {
		t.Fatal("expected custom provider without llm_api_base to be rejected")
	}
}

func TestNewHTTPClient_DefaultsOpenAIBase(t *testing.T) {
	client, err := NewHTTPClient(HTTPClientConfig{Provider: ProviderOpenAI})
	if err != nil {
		t.Fatalf("new http client: %v", err)
	}
	if client.cfg.APIBase != "https://api.openai.com/v1" {
		t.Fatalf("expected default openai base, got %q", client.cfg.APIBase)
	}
}

func TestValidateTimeout(t *testing.T) {
	if err := ValidateTimeout(0); err != nil {
		t.Fatalf("zero (unset) should be allowed, got %v", err)
	}
	if err := ValidateTimeout(0.5); err == nil {
		t.Fatal("expected sub-1s timeout to be rejected")
	}
	if err := ValidateTimeout(601); err == nil {
		t.Fatal("expected >600s timeout to be rejected")
	}
	if err := ValidateTimeout(30); err != nil {
		t.Fatalf("expected in-range timeout to be accepted, got %v", err)
	}
}

func TestValidateSamplingOptions(t *testing.T) {
	hot := 2.5
	if err := ValidateSamplingOptions(&hot, nil); err == nil {
		t.Fatal("expected out-of-range temperature to be rejected")
	}
	badTopP := 1.5
	if err := ValidateSamplingOptions(nil, &badTopP); err == nil {
		t.Fatal("expected out-of-range top_p to be rejected")
	}
	okTemp, okTopP := 0.7, 0.9
	if err := ValidateSamplingOptions(&okTemp, &okTopP); err != nil {
		t.Fatalf("expected in-range values to be accepted, got %v", err)
	}
}

func TestNewClientFromRequest_RejectsUnknownProvider(t *testing.T) {
	if _, err := NewClientFromRequest("anthropic", RequestOverrides{}); err == nil {
		t.Fatal("expected unknown provider to be rejected")
	}
}

func TestNewClientFromRequest_FallsBackToEnvAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	client, err := NewClientFromRequest(ProviderOpenAI, RequestOverrides{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	httpClient, ok := client.(*HTTPClient)
	if !ok {
		t.Fatalf("expected *HTTPClient, got %T", client)
	}
	if httpClient.cfg.APIKey != "env-key" {
		t.Fatalf("expected env API key fallback, got %q", httpClient.cfg.APIKey)
	}
}
