// Package runner orchestrates campaign execution: loading state,
// walking the flow, dispatching steps, and persisting results. It is
// the layer the CLI talks to.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"contentforge/internal/asynctask"
	"contentforge/internal/campaign"
	"contentforge/internal/executor"
	"contentforge/internal/flow"
	"contentforge/internal/llm"
	"contentforge/internal/logging"
)

// Campaign status values written while a run progresses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// Executor dispatches a single composed step.
type Executor interface {
	Execute(ctx context.Context, in executor.Input) (*executor.Outcome, error)
}

// Runner drives flows against the campaign store.
type Runner struct {
	store   campaign.Store
	exec    Executor
	monitor *asynctask.Monitor
	direct  executor.Invoker
	log     *logging.Logger
}

// New builds a runner. monitor may be nil when async models are not in
// use; dispatching a deep research step then fails with a clear error.
// direct is the raw provider invoker used for edit suggestions, which
// bypass grounding; nil disables SuggestEdit.
func New(store campaign.Store, exec Executor, monitor *asynctask.Monitor, direct executor.Invoker) *Runner {
	return &Runner{
		store:   store,
		exec:    exec,
		monitor: monitor,
		direct:  direct,
		log:     logging.Get(logging.CategoryFlow),
	}
}

// StepOptions tunes a single step run.
type StepOptions struct {
	// ModelOverride substitutes the step's configured model, typically
	// on a user-driven retry after a provider failure.
	ModelOverride string

	// Temperature and MaxTokens override the step's invocation settings
	// for this run only; nil keeps the configured values.
	Temperature *float64
	MaxTokens   *int
}

// StepResult reports one step dispatch. For synchronous models Output
// is set; for background research models Async is set and the caller
// polls for the result.
type StepResult struct {
	StepID   string               `json:"step_id"`
	StepName string               `json:"step_name"`
	LogID    string               `json:"log_id"`
	Output   *campaign.StepOutput `json:"output,omitempty"`

	Async *campaign.AsyncTaskHandle `json:"async,omitempty"`

	InputTokens int   `json:"input_tokens,omitempty"`
	DurationMS  int64 `json:"duration_ms,omitempty"`
}

// CampaignResult summarizes a full-campaign run.
type CampaignResult struct {
	StepsCompleted int   `json:"steps_completed"`
	DurationMS     int64 `json:"duration_ms"`
}

// RunStep executes one step of the campaign's flow and persists the
// outcome. Previous step outputs come from the stored campaign, so
// upstream steps must have run (or been edited in) already.
func (r *Runner) RunStep(ctx context.Context, campaignID, stepID string, opts StepOptions) (*StepResult, error) {
	c, p, graph, err := r.load(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	step := graph.Step(stepID)
	if step == nil {
		return nil, fmt.Errorf("step %q not in flow for campaign %s", stepID, campaignID)
	}
	return r.runStep(ctx, c, p, step, opts)
}

// RetryWithModel re-runs a failed step under a substitute model. The
// rest of the composition (grounding, variables, upstream outputs) is
// identical to the original dispatch.
func (r *Runner) RetryWithModel(ctx context.Context, campaignID, stepID, model string) (*StepResult, error) {
	if model == "" {
		return nil, errors.New("retry requires a substitute model")
	}
	return r.RunStep(ctx, campaignID, stepID, StepOptions{ModelOverride: model})
}

// RunCampaign executes every step of the flow in (order, id) sequence,
// updating campaign status and current step as it goes. Async steps are
// waited on so downstream steps see their output. The run aborts at the
// first failing step.
func (r *Runner) RunCampaign(ctx context.Context, campaignID string) (*CampaignResult, error) {
	c, p, graph, err := r.load(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	completed := 0
	for _, step := range graph.Steps() {
		step := step
		if err := r.store.UpdateCampaignStatus(ctx, campaignID, StatusRunning, step.ID); err != nil {
			return nil, err
		}

		result, err := r.runStep(ctx, c, p, &step, StepOptions{})
		if err == nil && result.Async != nil {
			result, err = r.waitAsync(ctx, result)
		}
		if err != nil {
			if serr := r.store.UpdateCampaignStatus(ctx, campaignID, StatusError, step.ID); serr != nil {
				r.log.Warn("mark campaign %s errored: %v", campaignID, serr)
			}
			return &CampaignResult{
				StepsCompleted: completed,
				DurationMS:     time.Since(start).Milliseconds(),
			}, err
		}

		// Reload so the next step sees this output and its version.
		c, err = r.store.GetCampaign(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		completed++
		r.log.Info("campaign %s: step %s (%s) done, %d/%d",
			campaignID, step.ID, step.Name, completed, len(graph.Steps()))
	}

	if err := r.store.UpdateCampaignStatus(ctx, campaignID, StatusCompleted, ""); err != nil {
		return nil, err
	}
	return &CampaignResult{
		StepsCompleted: completed,
		DurationMS:     time.Since(start).Milliseconds(),
	}, nil
}

// CheckOngoingAsyncTask reports the campaign's in-flight research task,
// or campaign.ErrNotFound. This is the restart path: callers should
// check before dispatching a new research step.
func (r *Runner) CheckOngoingAsyncTask(ctx context.Context, campaignID string) (*campaign.AsyncTaskHandle, error) {
	if r.monitor == nil {
		return nil, campaign.ErrNotFound
	}
	return r.monitor.CheckOngoing(ctx, campaignID)
}

// PollAsyncTask performs one poll of the campaign's in-flight research
// task and lands the result if it finished.
func (r *Runner) PollAsyncTask(ctx context.Context, campaignID string) (*asynctask.Progress, error) {
	if r.monitor == nil {
		return nil, errors.New("async monitor not configured")
	}
	handle, err := r.monitor.CheckOngoing(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return r.monitor.PollOnce(ctx, handle)
}

func (r *Runner) load(ctx context.Context, campaignID string) (*campaign.Campaign, *campaign.Project, *flow.Graph, error) {
	c, err := r.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load campaign %s: %w", campaignID, err)
	}
	p, err := r.store.GetProject(ctx, c.ProjectID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load project %s: %w", c.ProjectID, err)
	}
	cfg := flow.EffectiveConfig(c.FlowOverride, p.Flow)
	graph, err := flow.Build(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return c, p, graph, nil
}

func (r *Runner) runStep(ctx context.Context, c *campaign.Campaign, p *campaign.Project, step *flow.Step, opts StepOptions) (*StepResult, error) {
	vars := c.Variables(p.Variables)
	if _, ok := vars[campaign.VarClientName]; !ok && p.Name != "" {
		vars[campaign.VarClientName] = p.Name
	}

	var expectVersion int64
	if existing, ok := c.StepOutputs[step.ID]; ok {
		expectVersion = existing.Version
	}

	logRow := &campaign.ExecutionLog{
		ID:         uuid.NewString(),
		CampaignID: c.ID,
		StepID:     step.ID,
		StepName:   step.Name,
		Status:     campaign.LogStarted,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.store.InsertLog(ctx, logRow); err != nil {
		return nil, fmt.Errorf("open execution log: %w", err)
	}

	outcome, err := r.exec.Execute(ctx, executor.Input{
		Step:                step,
		Variables:           vars,
		PreviousOutputs:     c.StepOutputs,
		ModelOverride:       opts.ModelOverride,
		TemperatureOverride: opts.Temperature,
		MaxTokensOverride:   opts.MaxTokens,
	})
	if err != nil {
		r.closeLogError(ctx, logRow, err, r.modelFor(step, opts))
		return nil, err
	}

	result := &StepResult{
		StepID:      step.ID,
		StepName:    step.Name,
		LogID:       logRow.ID,
		InputTokens: outcome.InputTokens,
		DurationMS:  outcome.DurationMS,
	}

	if outcome.Async != nil {
		handle := &campaign.AsyncTaskHandle{
			CampaignID:    c.ID,
			StepID:        step.ID,
			StepName:      step.Name,
			InteractionID: outcome.Async.InteractionID,
			LogID:         logRow.ID,
			Status:        campaign.TaskProcessing,
			Model:         outcome.Async.Model,
			ExpectVersion: expectVersion,
			DispatchedAt:  time.Now().UTC(),
		}
		if err := r.store.PutTaskHandle(ctx, handle); err != nil {
			return nil, fmt.Errorf("persist task handle: %w", err)
		}
		logRow.Status = campaign.LogPolling
		logRow.ModelUsed = handle.Model
		if err := r.store.UpdateLog(ctx, logRow); err != nil {
			r.log.Warn("mark log %s polling: %v", logRow.ID, err)
		}
		result.Async = handle
		r.log.Info("campaign %s: step %s dispatched as %s", c.ID, step.ID, handle.InteractionID)
		return result, nil
	}

	merged, err := r.store.MergeStepOutput(ctx, c.ID, step.ID, *outcome.Output, expectVersion)
	if err != nil {
		r.closeLogError(ctx, logRow, err, outcome.Output.ModelUsed)
		return nil, fmt.Errorf("persist output for %s/%s: %w", c.ID, step.ID, err)
	}

	logRow.Status = campaign.LogCompleted
	logRow.ModelUsed = merged.ModelUsed
	logRow.InputTokens = outcome.InputTokens
	logRow.OutputTokens = merged.Tokens
	logRow.DurationMS = outcome.DurationMS
	if err := r.store.UpdateLog(ctx, logRow); err != nil {
		r.log.Warn("close log %s: %v", logRow.ID, err)
	}

	result.Output = &merged
	return result, nil
}

// waitAsync blocks a full-campaign run until the dispatched research
// task lands, then reshapes the progress into a step result.
func (r *Runner) waitAsync(ctx context.Context, dispatched *StepResult) (*StepResult, error) {
	if r.monitor == nil {
		return nil, errors.New("flow contains a background research step but no async monitor is configured")
	}
	progress, err := r.monitor.Wait(ctx, dispatched.Async)
	if err != nil {
		return nil, err
	}
	if progress.FailureMessage != "" {
		return nil, &llm.ProviderError{
			Source:  llm.SourceProvider,
			Model:   dispatched.Async.Model,
			Message: progress.FailureMessage,
		}
	}
	return &StepResult{
		StepID:   dispatched.StepID,
		StepName: dispatched.StepName,
		LogID:    dispatched.LogID,
		Output:   progress.Output,
	}, nil
}

func (r *Runner) modelFor(step *flow.Step, opts StepOptions) string {
	if opts.ModelOverride != "" {
		return opts.ModelOverride
	}
	if step.Model != "" {
		return step.Model
	}
	return executor.DefaultModel
}

func (r *Runner) closeLogError(ctx context.Context, logRow *campaign.ExecutionLog, cause error, model string) {
	logRow.Status = campaign.LogError
	logRow.ModelUsed = model
	logRow.ErrorDetails = FailureFrom(cause, model).JSON()
	if err := r.store.UpdateLog(ctx, logRow); err != nil {
		r.log.Warn("close log %s with error: %v", logRow.ID, err)
	}
}
