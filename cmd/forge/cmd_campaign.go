package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"contentforge/internal/campaign"
	"contentforge/internal/flow"
	"contentforge/internal/runner"
)

var (
	overrideModel       string
	overrideTemperature float64
	overrideMaxTokens   int
	pollWait            bool
)

// signalContext cancels on SIGINT/SIGTERM so long-running polls shut
// down cleanly. The persisted task handle makes resumption safe.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printFailure renders the retry-aware failure payload to stderr and
// returns the original error for the non-zero exit.
func printFailure(err error, model string) error {
	payload := runner.FailureFrom(err, model)
	fmt.Fprintln(os.Stderr, payload.JSON())
	if payload.CanRetry {
		fmt.Fprintf(os.Stderr, "retry with a substitute model: forge step <campaign> <step> --model <model>\n")
	}
	return err
}

func runCampaign(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	campaignID := args[0]
	logger.Info("running campaign", zap.String("campaign", campaignID))

	result, err := a.runner.RunCampaign(ctx, campaignID)
	if result != nil {
		_ = printJSON(result)
	}
	if err != nil {
		return printFailure(err, "")
	}
	return nil
}

func runStep(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	campaignID, stepID := args[0], args[1]
	logger.Info("running step",
		zap.String("campaign", campaignID),
		zap.String("step", stepID),
		zap.String("model_override", overrideModel))

	opts := runner.StepOptions{ModelOverride: overrideModel}
	if overrideTemperature >= 0 {
		opts.Temperature = &overrideTemperature
	}
	if overrideMaxTokens > 0 {
		opts.MaxTokens = &overrideMaxTokens
	}
	result, err := a.runner.RunStep(ctx, campaignID, stepID, opts)
	if err != nil {
		return printFailure(err, overrideModel)
	}
	if result.Async != nil {
		fmt.Fprintf(os.Stderr, "dispatched as background task %s; poll with: forge poll %s\n",
			result.Async.InteractionID, campaignID)
	}
	return printJSON(result)
}

func pollTask(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	campaignID := args[0]
	if !pollWait {
		progress, err := a.runner.PollAsyncTask(ctx, campaignID)
		if errors.Is(err, campaign.ErrNotFound) {
			return fmt.Errorf("campaign %s has no task in flight", campaignID)
		}
		if err != nil {
			return printFailure(err, "")
		}
		return printJSON(progress)
	}

	for {
		progress, err := a.runner.PollAsyncTask(ctx, campaignID)
		if errors.Is(err, campaign.ErrNotFound) {
			return fmt.Errorf("campaign %s has no task in flight", campaignID)
		}
		if err != nil {
			return printFailure(err, "")
		}
		if progress.Done {
			return printJSON(progress)
		}
		logger.Info("still processing",
			zap.Int("elapsed_seconds", progress.ElapsedSeconds),
			zap.Int("summaries", len(progress.ThinkingSummaries)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.PollInterval()):
		}
	}
}

func showOngoing(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	handle, err := a.runner.CheckOngoingAsyncTask(ctx, args[0])
	if errors.Is(err, campaign.ErrNotFound) {
		fmt.Println("no task in flight")
		return nil
	}
	if err != nil {
		return err
	}
	return printJSON(handle)
}

// stepSummary is the per-step line of the status report.
type stepSummary struct {
	StepID      string    `json:"step_id"`
	Name        string    `json:"name"`
	Status      string    `json:"status,omitempty"`
	State       string    `json:"state,omitempty"`
	Tokens      int       `json:"tokens,omitempty"`
	ModelUsed   string    `json:"model_used,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Stale       bool      `json:"stale,omitempty"`
}

func showStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	c, err := a.store.GetCampaign(ctx, args[0])
	if err != nil {
		return err
	}
	p, err := a.store.GetProject(ctx, c.ProjectID)
	if err != nil {
		return err
	}
	cfgFlow := flow.EffectiveConfig(c.FlowOverride, p.Flow)
	graph, err := flow.Build(cfgFlow)
	if err != nil {
		return err
	}

	stale := map[string]bool{}
	for _, id := range flow.StaleSteps(cfgFlow, c.OutputStamps()) {
		stale[id] = true
	}

	steps := graph.Steps()
	summaries := make([]stepSummary, 0, len(steps))
	for _, s := range steps {
		row := stepSummary{StepID: s.ID, Name: s.Name, Stale: stale[s.ID]}
		if out, ok := c.StepOutputs[s.ID]; ok {
			row.Status = out.Status
			row.State = string(out.EffectiveState())
			row.Tokens = out.Tokens
			row.ModelUsed = out.ModelUsed
			row.CompletedAt = out.CompletedAt
		}
		summaries = append(summaries, row)
	}

	return printJSON(struct {
		CampaignID    string        `json:"campaign_id"`
		Name          string        `json:"name"`
		Status        string        `json:"status,omitempty"`
		CurrentStepID string        `json:"current_step_id,omitempty"`
		Steps         []stepSummary `json:"steps"`
	}{
		CampaignID:    c.ID,
		Name:          c.Name,
		Status:        c.Status,
		CurrentStepID: c.CurrentStepID,
		Steps:         summaries,
	})
}
