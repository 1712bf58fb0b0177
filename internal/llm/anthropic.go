package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"contentforge/internal/logging"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"
)

// AnthropicClient calls the Anthropic messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewAnthropicClient creates an Anthropic client with the given key and
// timeout.
func NewAnthropicClient(apiKey string, timeout time.Duration) *AnthropicClient {
	return &AnthropicClient{
		apiKey:  apiKey,
		baseURL: defaultAnthropicBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate executes one synchronous completion.
func (c *AnthropicClient) Generate(ctx context.Context, req Request) (*Response, error) {
	log := logging.Get(logging.CategoryAPI)

	if c.apiKey == "" {
		return nil, &UnrecoverableError{Model: req.Model, Message: "Anthropic API key not configured"}
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	userText := req.UserPrompt
	if req.Context != "" {
		userText = req.Context + "\n\n--- TASK ---\n\n" + req.UserPrompt
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	body := anthropicRequest{
		Model:       req.Model,
		System:      req.SystemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: userText}},
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	start := time.Now()
	log.Debug("anthropic request model=%s prompt_len=%d", req.Model, len(userText))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(req.Model, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(req.Model, err)
	}

	if resp.StatusCode != http.StatusOK {
		message := extractAnthropicError(raw)
		log.Error("anthropic request failed model=%s status=%d", req.Model, resp.StatusCode)
		return nil, classifyHTTPFailure(req.Model, resp.StatusCode, string(raw), message)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if looksLikeHTML(string(raw)) {
			return nil, classifyHTTPFailure(req.Model, resp.StatusCode, string(raw), "received HTML instead of JSON")
		}
		return nil, &ProviderError{Source: SourceUnknown, Model: req.Model, Message: fmt.Sprintf("failed to parse response: %v", err), Raw: truncateRaw(string(raw))}
	}
	if parsed.Error != nil {
		return nil, &ProviderError{Source: SourceProvider, Model: req.Model, Message: parsed.Error.Message}
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, &ProviderError{Source: SourceProvider, Model: req.Model, Message: "no completion returned"}
	}

	usage := Usage{
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
	}
	if usage.CompletionTokens == 0 {
		usage.CompletionTokens = EstimateTokens(text)
	}

	log.Info("anthropic request completed model=%s elapsed=%v tokens=%d", req.Model, time.Since(start), usage.Total())
	return &Response{Text: text, Usage: usage, Model: req.Model}, nil
}

func extractAnthropicError(raw []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return ""
}
