package llm

import (
	"context"
	"time"
)

// Invoker is a synchronous model client.
type Invoker interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Poller reads the state of a background research job.
type Poller interface {
	Poll(ctx context.Context, interactionID string) (*InteractionStatus, error)
}

// Result is the outcome of a routed invocation: exactly one of Response
// or Async is set.
type Result struct {
	Response *Response
	Async    *AsyncHandle
}

// Options carries the credentials and timeout for all provider clients.
type Options struct {
	GeminiAPIKey    string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	Timeout         time.Duration
}

// Router dispatches requests to the provider that owns the model.
type Router struct {
	gemini    Invoker
	openai    Invoker
	anthropic Invoker
	research  *DeepResearchClient
}

// NewRouter builds a router with one client per provider. Clients for
// providers without a configured key are still constructed; they fail
// with an UnrecoverableError only when a request actually reaches them.
func NewRouter(opts Options) *Router {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Router{
		gemini:    NewGeminiClient(opts.GeminiAPIKey, timeout),
		openai:    NewOpenAIClient(opts.OpenAIAPIKey, timeout),
		anthropic: NewAnthropicClient(opts.AnthropicAPIKey, timeout),
		research:  NewDeepResearchClient(opts.GeminiAPIKey, timeout),
	}
}

// Research returns the client used to poll background jobs.
func (r *Router) Research() Poller { return r.research }

// Invoke routes one request by model prefix. Async-class models return a
// handle instead of text; everything else blocks until completion.
func (r *Router) Invoke(ctx context.Context, req Request) (*Result, error) {
	switch DetectProvider(req.Model) {
	case ProviderDeepResearch:
		handle, err := r.research.CreateInteraction(ctx, req.Model, AssembleResearchPrompt(req))
		if err != nil {
			return nil, err
		}
		return &Result{Async: handle}, nil
	case ProviderOpenAI:
		resp, err := r.openai.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		return &Result{Response: resp}, nil
	case ProviderAnthropic:
		resp, err := r.anthropic.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		return &Result{Response: resp}, nil
	default:
		resp, err := r.gemini.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		return &Result{Response: resp}, nil
	}
}

// AssembleResearchPrompt flattens a request into the single input string
// the Interactions API expects.
func AssembleResearchPrompt(req Request) string {
	full := req.SystemPrompt
	if req.Context != "" {
		if full != "" {
			full += "\n\n"
		}
		full += req.Context
	}
	if full != "" {
		full += "\n\n--- TASK ---\n\n"
	}
	return full + req.UserPrompt
}
