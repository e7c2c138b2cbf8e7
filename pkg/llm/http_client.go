package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultBaseURLs gives each supported provider its OpenAI-compatible chat
// completions endpoint when a request doesn't override llm_api_base.
var defaultBaseURLs = map[Provider]string{
	ProviderOpenAI: "https://api.openai.com/v1",
	ProviderNvidia: "https://integrate.api.nvidia.com/v1",
}

// HTTPClientConfig bundles one provider round-trip's worth of overridable
// fields (§6: model_name, llm_api_base, llm_api_key, llm_extra_body,
// llm_timeout_s, llm_max_tokens). The core never inspects these beyond
// passing them through to the wire request.
type HTTPClientConfig struct {
	Provider  Provider
	Model     string
	APIBase   string
	APIKey    string
	ExtraBody map[string]interface{}
	MaxTokens int
	Timeout   time.Duration
}

// HTTPClient is a Chat implementation against an OpenAI-compatible chat
// completions endpoint. openai, nvidia, and custom all speak the same wire
// shape; only the base URL and API key differ, which is exactly what
// HTTPClientConfig carries per request.
type HTTPClient struct {
	cfg        HTTPClientConfig
	httpClient *http.Client
}

// NewHTTPClient builds an HTTPClient from cfg, defaulting APIBase from the
// provider when the caller didn't override it and Timeout when unset.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.APIBase == "" {
		base, ok := defaultBaseURLs[cfg.Provider]
		if !ok {
			return nil, fmt.Errorf("llm: provider %q requires an explicit llm_api_base", cfg.Provider)
		}
		cfg.APIBase = base
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	Seed        int64     `json:"seed,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Chat marshals msgs as an OpenAI-compatible chat completion request,
// merging in any llm_extra_body passthrough fields verbatim before sending,
// and returns the first choice's message content.
func (c *HTTPClient) Chat(ctx context.Context, msgs []Message, options *SamplingOptions) (string, error) {
	body := chatRequest{Model: c.cfg.Model, Messages: msgs, MaxTokens: c.cfg.MaxTokens}
	if options != nil {
		body.Temperature = options.Temperature
		body.TopP = options.TopP
		body.Seed = options.Seed
	}

	payload, err := mergeExtraBody(body, c.cfg.ExtraBody)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	url := c.cfg.APIBase + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: %s request: %w", c.cfg.Provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm: %s returned status %d: %s", c.cfg.Provider, resp.StatusCode, string(data))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llm: %s error: %s", c.cfg.Provider, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm: %s returned no choices", c.cfg.Provider)
	}
	return parsed.Choices[0].Message.Content, nil
}

// mergeExtraBody JSON-encodes body, then shallow-merges extra's keys on
// top, so a caller's llm_extra_body passes through to the wire request
// without this package ever interpreting its contents.
func mergeExtraBody(body chatRequest, extra map[string]interface{}) ([]byte, error) {
	if len(extra) == 0 {
		return json.Marshal(body)
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var merged map[string]interface{}
	if err := json.Unmarshal(encoded, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}
