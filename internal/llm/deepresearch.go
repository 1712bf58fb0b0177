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

const defaultInteractionsBaseURL = "https://generativelanguage.googleapis.com/v1alpha"

// DeepResearchClient drives the Interactions API for autonomous research
// agents. These models run as background jobs: CreateInteraction dispatches
// the job and Poll reads its state until COMPLETED or FAILED.
type DeepResearchClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewDeepResearchClient creates a client for the Interactions API.
func NewDeepResearchClient(apiKey string, timeout time.Duration) *DeepResearchClient {
	return &DeepResearchClient{
		apiKey:  apiKey,
		baseURL: defaultInteractionsBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type interactionCreateRequest struct {
	Agent      string `json:"agent"`
	Background bool   `json:"background"`
	Input      string `json:"input"`
}

type interactionOutput struct {
	Type            string `json:"type,omitempty"`
	Text            string `json:"text,omitempty"`
	ThinkingSummary string `json:"thinkingSummary,omitempty"`
	Content         string `json:"content,omitempty"`
}

type interactionPayload struct {
	Name     string `json:"name"`
	ID       string `json:"id"`
	State    string `json:"state"`
	Response *struct {
		Text string `json:"text"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
	Outputs []interactionOutput `json:"outputs"`
}

// CreateInteraction dispatches a background research job. The full prompt
// must already be assembled; the Interactions API takes a single input
// string, not structured messages.
func (c *DeepResearchClient) CreateInteraction(ctx context.Context, model, fullPrompt string) (*AsyncHandle, error) {
	log := logging.Get(logging.CategoryAsync)

	if c.apiKey == "" {
		return nil, &UnrecoverableError{Model: model, Message: "Google API key not configured"}
	}

	body := interactionCreateRequest{
		Agent:      model,
		Background: true,
		Input:      fullPrompt,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/interactions?key=%s", c.baseURL, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	log.Info("dispatching research interaction model=%s prompt_len=%d", model, len(fullPrompt))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(model, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(model, err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Error("interaction create failed model=%s status=%d", model, resp.StatusCode)
		return nil, classifyHTTPFailure(model, resp.StatusCode, string(raw), "")
	}

	var parsed interactionPayload
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if looksLikeHTML(string(raw)) {
			return nil, classifyHTTPFailure(model, resp.StatusCode, string(raw), "received HTML instead of JSON")
		}
		return nil, &ProviderError{Source: SourceUnknown, Model: model, Message: fmt.Sprintf("failed to parse response: %v", err), Raw: truncateRaw(string(raw))}
	}

	name := parsed.Name
	if name == "" {
		name = parsed.ID
	}
	if name == "" {
		return nil, &ProviderError{Source: SourceProvider, Model: model, Message: "no interaction id in create response", Raw: truncateRaw(string(raw))}
	}

	log.Info("interaction created model=%s id=%s", model, name)
	return &AsyncHandle{InteractionID: name, Model: model}, nil
}

// Poll reads the current state of an interaction. The id may be a bare
// identifier or a full resource path like interactions/abc123.
func (c *DeepResearchClient) Poll(ctx context.Context, interactionID string) (*InteractionStatus, error) {
	log := logging.Get(logging.CategoryAsync)

	if c.apiKey == "" {
		return nil, &UnrecoverableError{Message: "Google API key not configured"}
	}

	var url string
	switch {
	case strings.HasPrefix(interactionID, "http"):
		url = fmt.Sprintf("%s?key=%s", interactionID, c.apiKey)
	case strings.Contains(interactionID, "/"):
		url = fmt.Sprintf("%s/%s?key=%s", c.baseURL, interactionID, c.apiKey)
	default:
		url = fmt.Sprintf("%s/interactions/%s?key=%s", c.baseURL, interactionID, c.apiKey)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError("", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError("", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPFailure("", resp.StatusCode, string(raw), "")
	}

	var parsed interactionPayload
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if looksLikeHTML(string(raw)) {
			return nil, classifyHTTPFailure("", resp.StatusCode, string(raw), "received HTML instead of JSON")
		}
		return nil, &ProviderError{Source: SourceUnknown, Message: fmt.Sprintf("failed to parse poll response: %v", err), Raw: truncateRaw(string(raw))}
	}

	status := &InteractionStatus{
		State:             normalizeState(parsed.State),
		ThinkingSummaries: collectThinkingSummaries(parsed.Outputs),
	}

	switch status.State {
	case StateCompleted:
		status.Result = extractResult(&parsed)
		if status.Result == "" {
			log.Warn("interaction %s completed with empty result", interactionID)
		}
	case StateFailed:
		if parsed.Error != nil && parsed.Error.Message != "" {
			status.Error = parsed.Error.Message
		} else {
			status.Error = "research job failed"
		}
	}

	log.Debug("poll interaction id=%s state=%s summaries=%d", interactionID, status.State, len(status.ThinkingSummaries))
	return status, nil
}

func normalizeState(state string) InteractionState {
	switch InteractionState(state) {
	case StateProcessing, StateCompleted, StateFailed:
		return InteractionState(state)
	case "":
		return StateProcessing
	default:
		return StateUnspecified
	}
}

// collectThinkingSummaries gathers deduplicated reasoning snippets for
// progress display.
func collectThinkingSummaries(outputs []interactionOutput) []string {
	var summaries []string
	seen := make(map[string]bool)
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			summaries = append(summaries, s)
		}
	}
	for _, out := range outputs {
		add(out.ThinkingSummary)
		if out.Type == "thought" {
			add(out.Text)
		}
	}
	return summaries
}

// extractResult pulls the final report text. Preference order: the direct
// response text, then report/response/result typed outputs, then the last
// output carrying text that is not a thought or search trace.
func extractResult(p *interactionPayload) string {
	if p.Response != nil && p.Response.Text != "" {
		return p.Response.Text
	}
	for _, out := range p.Outputs {
		if (out.Type == "report" || out.Type == "response" || out.Type == "result") && out.Text != "" {
			return out.Text
		}
	}
	for i := len(p.Outputs) - 1; i >= 0; i-- {
		out := p.Outputs[i]
		if out.Text != "" && out.Type != "thought" && out.Type != "search" {
			return out.Text
		}
	}
	return ""
}
