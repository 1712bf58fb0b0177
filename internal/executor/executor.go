// Package executor composes and dispatches single step executions: it
// resolves the prompt template, assembles grounding and upstream outputs
// into the context block, enforces the context token ceiling and invokes
// the model. It performs no persistence; the runner owns state changes.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"contentforge/internal/campaign"
	"contentforge/internal/flow"
	"contentforge/internal/llm"
	"contentforge/internal/logging"
	"contentforge/internal/retrieval"
)

// SystemInstruction pins every generation to the provided context. The
// analyst persona refuses to answer from training data.
const SystemInstruction = `You are a strict strategic analyst.
Your knowledge base is STRICTLY LIMITED to the context provided below.
Do NOT use your internal training data to answer facts about the client or competitors.
If the information is not in the provided documents, explicitly state: "Information not found in the provided documents."`

// TokenLimit is the hard ceiling on the assembled context.
const TokenLimit = 2_000_000

// Execution defaults applied when a step specifies nothing.
const (
	DefaultModel       = "gemini-2.5-flash"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 8192
)

// ContextTooLargeError reports a context block over the token ceiling.
// The step is not dispatched.
type ContextTooLargeError struct {
	TotalTokens int
	Limit       int
}

func (e *ContextTooLargeError) Error() string {
	return fmt.Sprintf("context exceeds token limit: %d > %d", e.TotalTokens, e.Limit)
}

// CanRetry always reports false: a substitute model cannot shrink the
// context. The flow configuration has to change first.
func (e *ContextTooLargeError) CanRetry() bool { return false }

// Defaults carries the configured fallbacks for model selection.
type Defaults struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Invoker dispatches a composed request to the provider layer.
type Invoker interface {
	Invoke(ctx context.Context, req llm.Request) (*llm.Result, error)
}

// Input is everything one step execution needs.
type Input struct {
	Step      *flow.Step
	Variables map[string]string

	// PreviousOutputs holds upstream step outputs keyed by step id, for
	// the steps named in AutoReceiveFrom.
	PreviousOutputs map[string]campaign.StepOutput

	// ModelOverride replaces the step's model for this run. Used by
	// user-driven retries with a substitute model.
	ModelOverride string

	// TemperatureOverride and MaxTokensOverride replace the step's
	// invocation settings for this run only.
	TemperatureOverride *float64
	MaxTokensOverride   *int
}

// Outcome is the result of a dispatch. Exactly one of Output or Async is
// set.
type Outcome struct {
	Output      *campaign.StepOutput
	Async       *llm.AsyncHandle
	InputTokens int
	DurationMS  int64
	Grounding   *retrieval.Payload
}

// StepExecutor composes and dispatches steps.
type StepExecutor struct {
	selector *retrieval.Selector
	invoker  Invoker
	defaults Defaults
}

// New builds a step executor. Zero-valued defaults fall back to the
// package constants.
func New(selector *retrieval.Selector, invoker Invoker, defaults Defaults) *StepExecutor {
	if defaults.Model == "" {
		defaults.Model = DefaultModel
	}
	if defaults.Temperature <= 0 {
		defaults.Temperature = DefaultTemperature
	}
	if defaults.MaxTokens <= 0 {
		defaults.MaxTokens = DefaultMaxTokens
	}
	return &StepExecutor{selector: selector, invoker: invoker, defaults: defaults}
}

// Execute runs one step. Async-class models return an Outcome carrying
// the provider handle instead of an output record.
func (e *StepExecutor) Execute(ctx context.Context, in Input) (*Outcome, error) {
	log := logging.Get(logging.CategoryExecutor)
	start := time.Now()
	step := in.Step

	resolvedPrompt := flow.Resolve(step.Prompt, in.Variables)

	grounding, err := e.selector.Build(ctx, step, resolvedPrompt)
	if err != nil {
		return nil, err
	}

	contextBlock, prevTokens := e.composeContext(grounding, step, in.PreviousOutputs)
	totalTokens := grounding.TokenEstimate + prevTokens
	if totalTokens > TokenLimit {
		log.Error("step %s context too large: %d tokens", step.ID, totalTokens)
		return nil, &ContextTooLargeError{TotalTokens: totalTokens, Limit: TokenLimit}
	}

	req := llm.Request{
		Model:        e.effectiveModel(step, in.ModelOverride),
		SystemPrompt: SystemInstruction,
		Context:      contextBlock,
		UserPrompt:   resolvedPrompt + "\n\n" + FormatInstructions(step.Format()),
		Temperature:  e.defaults.Temperature,
		MaxTokens:    e.defaults.MaxTokens,
	}
	if step.Temperature != nil {
		req.Temperature = *step.Temperature
	}
	if step.MaxTokens != nil && *step.MaxTokens > 0 {
		req.MaxTokens = *step.MaxTokens
	}
	if in.TemperatureOverride != nil {
		req.Temperature = *in.TemperatureOverride
	}
	if in.MaxTokensOverride != nil && *in.MaxTokensOverride > 0 {
		req.MaxTokens = *in.MaxTokensOverride
	}

	log.Info("executing step %q model=%s mode=%s context_tokens=%d", step.Name, req.Model, grounding.Mode, totalTokens)

	result, err := e.invoker.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{
		InputTokens: totalTokens,
		DurationMS:  time.Since(start).Milliseconds(),
		Grounding:   grounding,
	}
	if result.Async != nil {
		outcome.Async = result.Async
		log.Info("step %q dispatched as background task %s", step.Name, result.Async.InteractionID)
		return outcome, nil
	}

	resp := result.Response
	tokens := resp.Usage.CompletionTokens
	if tokens == 0 {
		tokens = llm.EstimateTokens(resp.Text)
	}
	if resp.Usage.PromptTokens > 0 {
		outcome.InputTokens = resp.Usage.PromptTokens
	}
	outcome.Output = &campaign.StepOutput{
		StepName:    step.Name,
		Output:      resp.Text,
		Status:      "completed",
		Tokens:      tokens,
		CompletedAt: time.Now().UTC(),
		ModelUsed:   resp.Model,
		State:       campaign.StateGenerated,
	}

	log.Info("step %q completed model=%s output_tokens=%d elapsed=%v", step.Name, resp.Model, tokens, time.Since(start))
	return outcome, nil
}

// composeContext appends upstream outputs to the grounding block in
// AutoReceiveFrom order, wrapped in previous-step markers. Steps without
// a stored output are skipped.
func (e *StepExecutor) composeContext(grounding *retrieval.Payload, step *flow.Step, previous map[string]campaign.StepOutput) (string, int) {
	var sb strings.Builder
	sb.WriteString(grounding.Context)

	tokens := 0
	for _, prevID := range step.AutoReceiveFrom {
		out, ok := previous[prevID]
		if !ok || out.Output == "" {
			continue
		}
		name := out.StepName
		if name == "" {
			name = prevID
		}
		sb.WriteString(fmt.Sprintf("\n--- START PREVIOUS STEP: %s ---\n", name))
		sb.WriteString(out.Output)
		sb.WriteString("\n--- END PREVIOUS STEP ---\n")
		if out.Tokens > 0 {
			tokens += out.Tokens
		} else {
			tokens += llm.EstimateTokens(out.Output)
		}
	}
	return sb.String(), tokens
}

func (e *StepExecutor) effectiveModel(step *flow.Step, override string) string {
	if override != "" {
		return override
	}
	if step.Model != "" {
		return step.Model
	}
	return e.defaults.Model
}
