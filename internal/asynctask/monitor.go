// Package asynctask tracks background deep research jobs from dispatch
// to completion. Handles are persisted before the first poll, so a
// restarted process can rediscover and resume an in-flight job instead
// of losing it.
package asynctask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"contentforge/internal/campaign"
	"contentforge/internal/llm"
	"contentforge/internal/logging"
)

// maxSummarySnapshot bounds how many thinking summaries a progress
// snapshot carries; the handle keeps the full history.
const maxSummarySnapshot = 5

// Monitor polls outstanding interactions and lands their results in the
// campaign store.
type Monitor struct {
	store    campaign.Store
	poller   llm.Poller
	interval time.Duration
	ceiling  time.Duration
	log      *logging.Logger
}

// New builds a monitor. interval is the wait between polls; ceiling
// caps the advisory progress percentage and never infers completion.
func New(store campaign.Store, poller llm.Poller, interval, ceiling time.Duration) *Monitor {
	if interval <= 0 {
		interval = 20 * time.Second
	}
	if ceiling <= 0 {
		ceiling = 10 * time.Minute
	}
	return &Monitor{
		store:    store,
		poller:   poller,
		interval: interval,
		ceiling:  ceiling,
		log:      logging.Get(logging.CategoryAsync),
	}
}

// Progress describes one poll observation.
type Progress struct {
	State             llm.InteractionState
	ElapsedSeconds    int
	PercentEstimate   int
	ThinkingSummaries []string

	// Done is true for terminal states. Output is set on success,
	// FailureMessage on failure.
	Done           bool
	Output         *campaign.StepOutput
	FailureMessage string
}

// CheckOngoing reports the campaign's in-flight task handle, or
// campaign.ErrNotFound when nothing is processing. This is the restart
// path: a new process calls it before dispatching anything new.
func (m *Monitor) CheckOngoing(ctx context.Context, campaignID string) (*campaign.AsyncTaskHandle, error) {
	return m.store.GetOngoingTask(ctx, campaignID)
}

// PollOnce performs a single poll of the handle's interaction, persists
// progress, and lands the result when the job has reached a terminal
// state. Transient poll failures return an error and leave the handle
// untouched.
func (m *Monitor) PollOnce(ctx context.Context, handle *campaign.AsyncTaskHandle) (*Progress, error) {
	status, err := m.poller.Poll(ctx, handle.InteractionID)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(handle.DispatchedAt)
	progress := &Progress{
		State:           status.State,
		ElapsedSeconds:  int(elapsed.Seconds()),
		PercentEstimate: percentOf(elapsed, m.ceiling),
	}

	handle.ThinkingSummaries = mergeSummaries(handle.ThinkingSummaries, status.ThinkingSummaries)
	progress.ThinkingSummaries = handle.ThinkingSummaries

	switch status.State {
	case llm.StateCompleted:
		out, err := m.landResult(ctx, handle, status.Result, elapsed)
		if err != nil {
			return nil, err
		}
		progress.Done = true
		progress.Output = out
		return progress, nil

	case llm.StateFailed:
		if err := m.landFailure(ctx, handle, status.Error); err != nil {
			return nil, err
		}
		progress.Done = true
		progress.FailureMessage = status.Error
		return progress, nil

	default:
		if err := m.recordProgress(ctx, handle, progress); err != nil {
			return nil, err
		}
		return progress, nil
	}
}

// Wait polls until the interaction reaches a terminal state or ctx is
// cancelled. Transient poll errors are retried on the next tick; only
// store failures while landing a terminal result abort the wait.
func (m *Monitor) Wait(ctx context.Context, handle *campaign.AsyncTaskHandle) (*Progress, error) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		progress, err := m.PollOnce(ctx, handle)
		switch {
		case err == nil && progress.Done:
			return progress, nil
		case err != nil && (!llm.CanRetry(err) || errors.Is(err, campaign.ErrVersionConflict)):
			return nil, err
		case err != nil:
			m.log.Warn("poll of %s failed, retrying in %s: %v",
				handle.InteractionID, m.interval, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// landResult merges the finished report into the campaign's step
// outputs, closes the execution log, and retires the handle. The merge
// expects the version captured at dispatch, so an edit made while the
// task ran fails the merge instead of being overwritten.
func (m *Monitor) landResult(ctx context.Context, handle *campaign.AsyncTaskHandle, result string, elapsed time.Duration) (*campaign.StepOutput, error) {
	out := campaign.StepOutput{
		StepName:    handle.StepName,
		Output:      result,
		Status:      "completed",
		Tokens:      llm.EstimateTokens(result),
		CompletedAt: time.Now().UTC(),
		ModelUsed:   handle.Model,
		State:       campaign.StateGenerated,
	}
	merged, err := m.store.MergeStepOutput(ctx, handle.CampaignID, handle.StepID, out, handle.ExpectVersion)
	if err != nil {
		return nil, fmt.Errorf("land result for %s/%s: %w", handle.CampaignID, handle.StepID, err)
	}

	if handle.LogID != "" {
		if err := m.store.UpdateLog(ctx, &campaign.ExecutionLog{
			ID:           handle.LogID,
			CampaignID:   handle.CampaignID,
			StepID:       handle.StepID,
			StepName:     handle.StepName,
			Status:       campaign.LogCompleted,
			ModelUsed:    handle.Model,
			OutputTokens: merged.Tokens,
			DurationMS:   elapsed.Milliseconds(),
		}); err != nil && !errors.Is(err, campaign.ErrNotFound) {
			m.log.Warn("close log %s: %v", handle.LogID, err)
		}
	}

	if err := m.store.DeleteTaskHandle(ctx, handle.CampaignID, handle.InteractionID); err != nil {
		m.log.Warn("retire handle %s: %v", handle.InteractionID, err)
	}
	handle.Status = campaign.TaskCompleted

	m.log.Info("deep research %s completed after %s (%d tokens)",
		handle.InteractionID, elapsed.Round(time.Second), merged.Tokens)
	return &merged, nil
}

// landFailure records the provider failure and marks the handle
// terminal so GetOngoingTask stops reporting it. The handle row stays
// for inspection.
func (m *Monitor) landFailure(ctx context.Context, handle *campaign.AsyncTaskHandle, message string) error {
	if message == "" {
		message = "deep research task failed"
	}

	if handle.LogID != "" {
		if err := m.store.UpdateLog(ctx, &campaign.ExecutionLog{
			ID:           handle.LogID,
			CampaignID:   handle.CampaignID,
			StepID:       handle.StepID,
			StepName:     handle.StepName,
			Status:       campaign.LogError,
			ModelUsed:    handle.Model,
			ErrorDetails: message,
		}); err != nil && !errors.Is(err, campaign.ErrNotFound) {
			m.log.Warn("close log %s: %v", handle.LogID, err)
		}
	}

	handle.Status = campaign.TaskFailed
	if err := m.store.PutTaskHandle(ctx, handle); err != nil {
		return fmt.Errorf("mark handle failed: %w", err)
	}

	m.log.Warn("deep research %s failed: %s", handle.InteractionID, message)
	return nil
}

// recordProgress persists the updated handle and writes a progress
// snapshot into the execution log's detail column.
func (m *Monitor) recordProgress(ctx context.Context, handle *campaign.AsyncTaskHandle, progress *Progress) error {
	if err := m.store.PutTaskHandle(ctx, handle); err != nil {
		return fmt.Errorf("persist handle: %w", err)
	}
	if handle.LogID == "" {
		return nil
	}

	snapshot := campaign.ProgressSnapshot{
		Type:              "deep_research_progress",
		State:             string(progress.State),
		ElapsedSeconds:    progress.ElapsedSeconds,
		ThinkingSummaries: lastN(progress.ThinkingSummaries, maxSummarySnapshot),
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	if err := m.store.UpdateLog(ctx, &campaign.ExecutionLog{
		ID:           handle.LogID,
		CampaignID:   handle.CampaignID,
		StepID:       handle.StepID,
		StepName:     handle.StepName,
		Status:       campaign.LogPolling,
		ModelUsed:    handle.Model,
		ErrorDetails: string(raw),
	}); err != nil && !errors.Is(err, campaign.ErrNotFound) {
		m.log.Warn("record progress on log %s: %v", handle.LogID, err)
	}

	m.log.Debug("deep research %s %s, elapsed %ds, %d summaries",
		handle.InteractionID, progress.State, progress.ElapsedSeconds,
		len(progress.ThinkingSummaries))
	return nil
}

// mergeSummaries appends summaries not already present, preserving
// arrival order. The provider resends the full list on every poll.
func mergeSummaries(have, incoming []string) []string {
	seen := make(map[string]bool, len(have))
	for _, s := range have {
		seen[s] = true
	}
	for _, s := range incoming {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		have = append(have, s)
	}
	return have
}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func percentOf(elapsed, ceiling time.Duration) int {
	if ceiling <= 0 {
		return 0
	}
	pct := int(elapsed * 100 / ceiling)
	if pct > 99 {
		pct = 99
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}
