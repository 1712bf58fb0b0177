// Package llm implements the model-provider layer: synchronous HTTP
// clients for Gemini, OpenAI and Anthropic, the asynchronous deep-research
// interactions client, provider routing by model identifier, and the
// failure classification the retry loop depends on.
package llm

import "strings"

// Provider identifies a model provider family.
type Provider string

const (
	ProviderGemini       Provider = "gemini"
	ProviderOpenAI       Provider = "openai"
	ProviderAnthropic    Provider = "anthropic"
	ProviderDeepResearch Provider = "deep-research"
)

// DetectProvider maps a model identifier to its provider by prefix.
// Unknown prefixes default to Gemini, matching the product's historical
// behavior.
func DetectProvider(model string) Provider {
	switch {
	case strings.HasPrefix(model, "deep-research"):
		return ProviderDeepResearch
	case strings.HasPrefix(model, "gemini"):
		return ProviderGemini
	case strings.HasPrefix(model, "gpt"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"):
		return ProviderOpenAI
	case strings.HasPrefix(model, "claude"):
		return ProviderAnthropic
	default:
		return ProviderGemini
	}
}

// IsAsyncModel reports whether the model executes as a long-running
// background job requiring polling instead of an immediate response.
func IsAsyncModel(model string) bool {
	return DetectProvider(model) == ProviderDeepResearch
}

// isReasoningModel reports OpenAI models that reject system messages and
// plain temperature/max_tokens.
func isReasoningModel(model string) bool {
	return strings.HasPrefix(model, "o1") ||
		strings.HasPrefix(model, "o3") ||
		strings.HasPrefix(model, "o4")
}

// Request is one model invocation. Context carries grounding and upstream
// outputs; UserPrompt is the resolved step prompt plus format
// instructions.
type Request struct {
	Model        string
	SystemPrompt string
	Context      string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
}

// Usage is the provider-reported token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// Response is a completed synchronous invocation.
type Response struct {
	Text  string
	Usage Usage
	Model string
}

// AsyncHandle is returned instead of a Response when the model is
// async-class. The interaction id is the provider-side job identity.
type AsyncHandle struct {
	InteractionID string
	Model         string
}

// InteractionState is the deep-research job state as reported by the
// provider.
type InteractionState string

const (
	StateUnspecified InteractionState = "STATE_UNSPECIFIED"
	StateProcessing  InteractionState = "PROCESSING"
	StateCompleted   InteractionState = "COMPLETED"
	StateFailed      InteractionState = "FAILED"
)

// InteractionStatus is one poll result for an async job.
type InteractionStatus struct {
	State             InteractionState
	Result            string
	Error             string
	ThinkingSummaries []string
}

// EstimateTokens approximates token count as chars/4, the fallback used
// whenever a provider omits usage accounting.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
