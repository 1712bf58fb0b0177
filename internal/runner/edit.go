package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"contentforge/internal/campaign"
	"contentforge/internal/executor"
	"contentforge/internal/llm"
)

// editSystemPrompt frames the model as a copy editor rather than the
// strict analyst used for step execution: suggestions rework existing
// text, they do not research it.
const editSystemPrompt = `You are an expert editor. You will receive a document and an editing instruction. Rewrite the document applying the instruction while preserving the document's language, structure, factual content, and formatting except where the instruction says otherwise. Return only the full revised document, with no preamble or commentary.`

// EditSuggestion is a model-proposed rewrite of a step output. It is
// not persisted; the user applies it with EditStepOutput.
type EditSuggestion struct {
	Suggestion string `json:"suggestion"`
	ModelUsed  string `json:"model_used"`
	Tokens     int    `json:"tokens,omitempty"`
}

// SuggestEdit asks a model to rewrite a step's current output per the
// user's instruction. Nothing is written; the caller reviews the
// suggestion and applies it explicitly.
func (r *Runner) SuggestEdit(ctx context.Context, campaignID, stepID, instruction string) (*EditSuggestion, error) {
	if r.direct == nil {
		return nil, errors.New("edit suggestions require a configured model invoker")
	}
	if strings.TrimSpace(instruction) == "" {
		return nil, errors.New("edit instruction is empty")
	}

	c, _, graph, err := r.load(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	out, ok := c.StepOutputs[stepID]
	if !ok || out.Output == "" {
		return nil, campaign.ErrNoOutput
	}

	model := executor.DefaultModel
	if step := graph.Step(stepID); step != nil && step.Model != "" && !llm.IsAsyncModel(step.Model) {
		model = step.Model
	}

	result, err := r.direct.Invoke(ctx, llm.Request{
		Model:        model,
		SystemPrompt: editSystemPrompt,
		Context:      fmt.Sprintf("\n--- START DOCUMENT ---\n%s\n--- END DOCUMENT ---\n", out.Output),
		UserPrompt:   instruction,
		Temperature:  executor.DefaultTemperature,
		MaxTokens:    executor.DefaultMaxTokens,
	})
	if err != nil {
		return nil, err
	}
	if result.Response == nil {
		return nil, fmt.Errorf("edit suggestion for %s/%s returned no text", campaignID, stepID)
	}

	tokens := result.Response.Usage.CompletionTokens
	if tokens == 0 {
		tokens = llm.EstimateTokens(result.Response.Text)
	}
	return &EditSuggestion{
		Suggestion: result.Response.Text,
		ModelUsed:  result.Response.Model,
		Tokens:     tokens,
	}, nil
}

// EditStepOutput records a manual edit of a step's output, preserving
// the machine-generated original for revert.
func (r *Runner) EditStepOutput(ctx context.Context, campaignID, stepID, newText string) (*campaign.StepOutput, error) {
	return r.mutateOutput(ctx, campaignID, stepID, func(out campaign.StepOutput) (campaign.StepOutput, error) {
		return campaign.ApplyEdit(out, newText, time.Now().UTC())
	})
}

// RevertStepOutput restores the last machine-generated output of an
// edited step.
func (r *Runner) RevertStepOutput(ctx context.Context, campaignID, stepID string) (*campaign.StepOutput, error) {
	return r.mutateOutput(ctx, campaignID, stepID, func(out campaign.StepOutput) (campaign.StepOutput, error) {
		return campaign.Revert(out, time.Now().UTC())
	})
}

func (r *Runner) mutateOutput(ctx context.Context, campaignID, stepID string, mutate func(campaign.StepOutput) (campaign.StepOutput, error)) (*campaign.StepOutput, error) {
	c, err := r.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	out, ok := c.StepOutputs[stepID]
	if !ok {
		return nil, campaign.ErrNoOutput
	}

	mutated, err := mutate(out)
	if err != nil {
		return nil, err
	}
	merged, err := r.store.MergeStepOutput(ctx, campaignID, stepID, mutated, out.Version)
	if err != nil {
		return nil, err
	}
	return &merged, nil
}
