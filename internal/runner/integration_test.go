package runner

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentforge/internal/asynctask"
	"contentforge/internal/campaign"
	"contentforge/internal/executor"
	"contentforge/internal/flow"
	"contentforge/internal/llm"
	"contentforge/internal/retrieval"
	"contentforge/internal/store"
)

// recordingInvoker is a provider-layer fake: it captures composed
// requests and answers synchronously, or hands out an async handle for
// deep research models.
type recordingInvoker struct {
	requests []llm.Request
}

func (f *recordingInvoker) Invoke(ctx context.Context, req llm.Request) (*llm.Result, error) {
	f.requests = append(f.requests, req)
	if llm.IsAsyncModel(req.Model) {
		return &llm.Result{Async: &llm.AsyncHandle{
			InteractionID: "interactions/itest",
			Model:         req.Model,
		}}, nil
	}
	return &llm.Result{Response: &llm.Response{
		Text:  "response to: " + req.UserPrompt[:min(40, len(req.UserPrompt))],
		Model: req.Model,
		Usage: llm.Usage{PromptTokens: 120, CompletionTokens: 80},
	}}, nil
}

// TestCampaignRunEndToEnd drives a two step flow through the real
// SQLite store and the real executor, faking only the provider.
func TestCampaignRunEndToEnd(t *testing.T) {
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "forge.db"))
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.PutDocument(ctx, &campaign.Document{
		ID: "doc-1", ProjectID: "p1", Filename: "mercado.pdf",
		Category: "research", Content: "contexto del mercado chileno",
		TokenCount: 7,
	}))
	require.NoError(t, st.PutProject(ctx, &campaign.Project{
		ID:   "p1",
		Name: "Acme Corp",
		Flow: &flow.Config{Steps: []flow.Step{
			{
				ID: "research", Name: "Research", Order: 1,
				Prompt:     "research {{ecp_name}} in {{country}}",
				BaseDocIDs: []string{"doc-1"},
				Model:      "gemini-2.5-flash",
			},
			{
				ID: "summary", Name: "Summary", Order: 2,
				Prompt:          "summarize for {{client_name}}",
				AutoReceiveFrom: []string{"research"},
				Model:           "claude-sonnet-4-5",
			},
		}},
		Variables: map[string]string{"country": "Chile"},
	}))
	require.NoError(t, st.PutCampaign(ctx, &campaign.Campaign{
		ID: "c1", ProjectID: "p1", Name: "Q3 Launch",
		ECPName: "CFO", CreatedAt: time.Now().UTC(),
	}))

	invoker := &recordingInvoker{}
	exec := executor.New(retrieval.NewSelector(st, nil), invoker, executor.Defaults{})
	r := New(st, exec, nil, invoker)

	result, err := r.RunCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.StepsCompleted)

	require.Len(t, invoker.requests, 2)

	first := invoker.requests[0]
	assert.Contains(t, first.UserPrompt, "research CFO in Chile")
	assert.Contains(t, first.Context, "--- START DOCUMENT: mercado.pdf (research) ---")
	assert.Contains(t, first.Context, "contexto del mercado chileno")
	assert.Equal(t, "gemini-2.5-flash", first.Model)

	second := invoker.requests[1]
	assert.Contains(t, second.UserPrompt, "summarize for Acme Corp")
	assert.Contains(t, second.Context, "--- START PREVIOUS STEP: Research ---")
	assert.Equal(t, "claude-sonnet-4-5", second.Model)

	// Everything landed durably: reopen-style read through the store.
	c, err := st.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, c.Status)
	require.Contains(t, c.StepOutputs, "research")
	require.Contains(t, c.StepOutputs, "summary")
	assert.Equal(t, int64(1), c.StepOutputs["summary"].Version)
	assert.Equal(t, campaign.StateGenerated, c.StepOutputs["summary"].State)
}

// TestAsyncDispatchSurvivesRestart dispatches a deep research step,
// simulates a process restart by rebuilding the stack on the same
// database, and lands the result through the rediscovered handle.
func TestAsyncDispatchSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "forge.db")

	st, err := store.Open(dbPath)
	require.NoError(t, err)

	require.NoError(t, st.PutProject(ctx, &campaign.Project{
		ID:   "p1",
		Name: "Acme Corp",
		Flow: &flow.Config{Steps: []flow.Step{{
			ID: "deep", Name: "Deep Dive", Order: 1,
			Prompt: "investigate the market",
			Model:  "deep-research-pro",
		}}},
	}))
	require.NoError(t, st.PutCampaign(ctx, &campaign.Campaign{
		ID: "c1", ProjectID: "p1", CreatedAt: time.Now().UTC(),
	}))

	invoker := &recordingInvoker{}
	exec := executor.New(retrieval.NewSelector(st, nil), invoker, executor.Defaults{})
	r := New(st, exec, nil, invoker)

	dispatched, err := r.RunStep(ctx, "c1", "deep", StepOptions{})
	require.NoError(t, err)
	require.NotNil(t, dispatched.Async)
	require.NoError(t, st.Close())

	// "Restart": fresh store and monitor over the same file.
	st2, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st2.Close()

	poller := &stubPoller{status: &llm.InteractionStatus{
		State:  llm.StateCompleted,
		Result: "the deep research report",
	}}
	monitor := asynctask.New(st2, poller, time.Millisecond, time.Minute)
	r2 := New(st2, nil, monitor, nil)

	handle, err := r2.CheckOngoingAsyncTask(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "interactions/itest", handle.InteractionID)
	assert.Equal(t, dispatched.LogID, handle.LogID)

	progress, err := r2.PollAsyncTask(ctx, "c1")
	require.NoError(t, err)
	require.True(t, progress.Done)

	c, err := st2.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	out := c.StepOutputs["deep"]
	assert.Equal(t, "the deep research report", out.Output)
	assert.Equal(t, "deep-research-pro", out.ModelUsed)

	logRow, err := st2.GetLog(ctx, handle.LogID)
	require.NoError(t, err)
	assert.Equal(t, campaign.LogCompleted, logRow.Status)

	_, err = r2.CheckOngoingAsyncTask(ctx, "c1")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

// TestRetryAfterFailureUsesSubstituteModel exercises the user-driven
// retry path end to end: first run fails, retry under another model
// succeeds and lands.
func TestRetryAfterFailureUsesSubstituteModel(t *testing.T) {
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "forge.db"))
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.PutProject(ctx, &campaign.Project{
		ID: "p1", Name: "Acme Corp",
		Flow: &flow.Config{Steps: []flow.Step{{
			ID: "analysis", Name: "Analysis", Order: 1,
			Prompt: "analyze", Model: "gpt-4o",
		}}},
	}))
	require.NoError(t, st.PutCampaign(ctx, &campaign.Campaign{
		ID: "c1", ProjectID: "p1", CreatedAt: time.Now().UTC(),
	}))

	failing := &failOnceInvoker{failModel: "gpt-4o"}
	exec := executor.New(retrieval.NewSelector(st, nil), failing, executor.Defaults{})
	r := New(st, exec, nil, failing)

	_, err = r.RunStep(ctx, "c1", "analysis", StepOptions{})
	require.Error(t, err)
	assert.True(t, llm.CanRetry(err))

	result, err := r.RetryWithModel(ctx, "c1", "analysis", "claude-sonnet-4-5")
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", result.Output.ModelUsed)

	c, err := st.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(c.StepOutputs["analysis"].Output, "response to:"))
}

// failOnceInvoker fails requests for failModel and succeeds otherwise.
type failOnceInvoker struct {
	failModel string
}

func (f *failOnceInvoker) Invoke(ctx context.Context, req llm.Request) (*llm.Result, error) {
	if req.Model == f.failModel {
		return nil, &llm.ProviderError{
			Source: llm.SourceProvider, Model: req.Model,
			StatusCode: 529, Message: "overloaded",
		}
	}
	return &llm.Result{Response: &llm.Response{
		Text:  "response to: " + req.UserPrompt,
		Model: req.Model,
		Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 10},
	}}, nil
}
