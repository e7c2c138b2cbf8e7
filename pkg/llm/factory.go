package llm

import (
	"fmt"
	"os"
	"time"
)

// envKeyFor names the environment variable holding a provider's default API
// key, read once at process start per §6's "environment variables" surface.
// A per-request llm_api_key always takes precedence over this default.
func envKeyFor(p Provider) string {
	switch p {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderNvidia:
		return "NVIDIA_API_KEY"
	default:
		return "DHI_CUSTOM_LLM_API_KEY"
	}
}

// RequestOverrides carries the per-request LLM fields §6 enumerates:
// model_name, llm_api_base, llm_api_key, llm_extra_body, llm_timeout_s,
// llm_max_tokens. Resource limits are never among them — only these LLM
// call settings can be overridden per request.
type RequestOverrides struct {
	Model     string
	APIBase   string
	APIKey    string
	ExtraBody map[string]interface{}
	TimeoutS  float64
	MaxTokens int
}

// ValidateTimeout enforces §6's llm_timeout_s ∈ [1, 600] bound.
func ValidateTimeout(timeoutS float64) error {
	if timeoutS == 0 {
		return nil
	}
	if timeoutS < 1 || timeoutS > 600 {
		return fmt.Errorf("llm: llm_timeout_s must be in [1, 600], got %v", timeoutS)
	}
	return nil
}

// ValidateSamplingOptions enforces §6's llm_temperature ∈ [0, 2] and
// llm_top_p ∈ [0, 1] bounds.
func ValidateSamplingOptions(temperature, topP *float64) error {
	if temperature != nil && (*temperature < 0 || *temperature > 2) {
		return fmt.Errorf("llm: llm_temperature must be in [0, 2], got %v", *temperature)
	}
	if topP != nil && (*topP < 0 || *topP > 1) {
		return fmt.Errorf("llm: llm_top_p must be in [0, 1], got %v", *topP)
	}
	return nil
}

// NewClientFromRequest builds a Client for one request: provider routing
// plus the enumerated per-request overrides, opaquely passed through to the
// wire request without this package ever inspecting their contents beyond
// the bounds above. The API key falls back to the provider's configured
// environment variable when the request didn't supply one.
func NewClientFromRequest(provider Provider, overrides RequestOverrides) (Client, error) {
	if err := ValidateProvider(provider); err != nil {
		return nil, err
	}
	if err := ValidateTimeout(overrides.TimeoutS); err != nil {
		return nil, err
	}

	apiKey := overrides.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(envKeyFor(provider))
	}

	timeout := time.Duration(overrides.TimeoutS * float64(time.Second))
	return NewHTTPClient(HTTPClientConfig{
		Provider:  provider,
		Model:     overrides.Model,
		APIBase:   overrides.APIBase,
		APIKey:    apiKey,
		ExtraBody: overrides.ExtraBody,
		MaxTokens: overrides.MaxTokens,
		Timeout:   timeout,
	})
}
