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

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient calls the OpenAI chat completions API.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIClient creates an OpenAI client with the given key and timeout.
func NewOpenAIClient(apiKey string, timeout time.Duration) *OpenAIClient {
	return &OpenAIClient{
		apiKey:  apiKey,
		baseURL: defaultOpenAIBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`

	// Standard models only. Reasoning models reject these fields.
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`

	// Reasoning models use this in place of max_tokens.
	MaxCompletionTokens int `json:"max_completion_tokens,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate executes one synchronous completion. Reasoning models (o1, o3,
// o4) have the system prompt folded into the user message and omit
// temperature, since the API rejects both.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (*Response, error) {
	log := logging.Get(logging.CategoryAPI)

	if c.apiKey == "" {
		return nil, &UnrecoverableError{Model: req.Model, Message: "OpenAI API key not configured"}
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

	body := openAIRequest{Model: req.Model}
	if isReasoningModel(req.Model) {
		if req.SystemPrompt != "" {
			userText = req.SystemPrompt + "\n\n" + userText
		}
		body.Messages = []openAIMessage{{Role: "user", Content: userText}}
		body.MaxCompletionTokens = req.MaxTokens
	} else {
		if req.SystemPrompt != "" {
			body.Messages = append(body.Messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
		}
		body.Messages = append(body.Messages, openAIMessage{Role: "user", Content: userText})
		temp := req.Temperature
		body.Temperature = &temp
		body.MaxTokens = req.MaxTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	log.Debug("openai request model=%s reasoning=%t prompt_len=%d", req.Model, isReasoningModel(req.Model), len(userText))

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
		message := extractOpenAIError(raw)
		log.Error("openai request failed model=%s status=%d", req.Model, resp.StatusCode)
		return nil, classifyHTTPFailure(req.Model, resp.StatusCode, string(raw), message)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if looksLikeHTML(string(raw)) {
			return nil, classifyHTTPFailure(req.Model, resp.StatusCode, string(raw), "received HTML instead of JSON")
		}
		return nil, &ProviderError{Source: SourceUnknown, Model: req.Model, Message: fmt.Sprintf("failed to parse response: %v", err), Raw: truncateRaw(string(raw))}
	}
	if parsed.Error != nil {
		return nil, &ProviderError{Source: SourceProvider, Model: req.Model, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return nil, &ProviderError{Source: SourceProvider, Model: req.Model, Message: "no completion returned"}
	}

	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	usage := Usage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}
	if usage.CompletionTokens == 0 {
		usage.CompletionTokens = EstimateTokens(text)
	}

	log.Info("openai request completed model=%s elapsed=%v tokens=%d", req.Model, time.Since(start), usage.Total())
	return &Response{Text: text, Usage: usage, Model: req.Model}, nil
}

func extractOpenAIError(raw []byte) string {
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
