package runner

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"contentforge/internal/asynctask"
	"contentforge/internal/campaign"
	"contentforge/internal/executor"
	"contentforge/internal/flow"
	"contentforge/internal/llm"
)

// memStore is an in-memory campaign.Store for orchestration tests.
type memStore struct {
	campaigns map[string]*campaign.Campaign
	projects  map[string]*campaign.Project
	handles   map[string]*campaign.AsyncTaskHandle
	logs      map[string]*campaign.ExecutionLog

	statusHistory []string
}

func newMemStore() *memStore {
	return &memStore{
		campaigns: map[string]*campaign.Campaign{},
		projects:  map[string]*campaign.Project{},
		handles:   map[string]*campaign.AsyncTaskHandle{},
		logs:      map[string]*campaign.ExecutionLog{},
	}
}

func (s *memStore) GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error) {
	c, ok := s.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) PutCampaign(ctx context.Context, c *campaign.Campaign) error {
	s.campaigns[c.ID] = c
	return nil
}

func (s *memStore) UpdateCampaignStatus(ctx context.Context, id, status, currentStepID string) error {
	c, ok := s.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.Status = status
	c.CurrentStepID = currentStepID
	s.statusHistory = append(s.statusHistory, status+"/"+currentStepID)
	return nil
}

func (s *memStore) GetProject(ctx context.Context, id string) (*campaign.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	return p, nil
}

func (s *memStore) PutProject(ctx context.Context, p *campaign.Project) error {
	s.projects[p.ID] = p
	return nil
}

func (s *memStore) MergeStepOutput(ctx context.Context, campaignID, stepID string, out campaign.StepOutput, expectVersion int64) (campaign.StepOutput, error) {
	c, ok := s.campaigns[campaignID]
	if !ok {
		return campaign.StepOutput{}, campaign.ErrNotFound
	}
	var current int64
	if existing, ok := c.StepOutputs[stepID]; ok {
		current = existing.Version
	}
	if current != expectVersion {
		return campaign.StepOutput{}, campaign.ErrVersionConflict
	}
	out.Version = current + 1
	if c.StepOutputs == nil {
		c.StepOutputs = map[string]campaign.StepOutput{}
	}
	c.StepOutputs[stepID] = out
	return out, nil
}

func (s *memStore) PutTaskHandle(ctx context.Context, h *campaign.AsyncTaskHandle) error {
	cp := *h
	s.handles[h.InteractionID] = &cp
	return nil
}

func (s *memStore) GetOngoingTask(ctx context.Context, campaignID string) (*campaign.AsyncTaskHandle, error) {
	for _, h := range s.handles {
		if h.CampaignID == campaignID && h.Status == campaign.TaskProcessing {
			cp := *h
			return &cp, nil
		}
	}
	return nil, campaign.ErrNotFound
}

func (s *memStore) DeleteTaskHandle(ctx context.Context, campaignID, interactionID string) error {
	delete(s.handles, interactionID)
	return nil
}

func (s *memStore) InsertLog(ctx context.Context, log *campaign.ExecutionLog) error {
	cp := *log
	s.logs[log.ID] = &cp
	return nil
}

func (s *memStore) UpdateLog(ctx context.Context, log *campaign.ExecutionLog) error {
	if _, ok := s.logs[log.ID]; !ok {
		return campaign.ErrNotFound
	}
	cp := *log
	s.logs[log.ID] = &cp
	return nil
}

func (s *memStore) GetLog(ctx context.Context, id string) (*campaign.ExecutionLog, error) {
	l, ok := s.logs[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	return l, nil
}

func (s *memStore) onlyLog(t *testing.T) *campaign.ExecutionLog {
	t.Helper()
	if len(s.logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(s.logs))
	}
	for _, l := range s.logs {
		return l
	}
	return nil
}

// scriptedExecutor returns canned outcomes keyed by step id.
type scriptedExecutor struct {
	inputs   []executor.Input
	outcomes map[string]*executor.Outcome
	errs     map[string]error
}

func (e *scriptedExecutor) Execute(ctx context.Context, in executor.Input) (*executor.Outcome, error) {
	e.inputs = append(e.inputs, in)
	if err := e.errs[in.Step.ID]; err != nil {
		return nil, err
	}
	if out, ok := e.outcomes[in.Step.ID]; ok {
		return out, nil
	}
	return &executor.Outcome{
		Output: &campaign.StepOutput{
			StepName:    in.Step.Name,
			Output:      "output of " + in.Step.ID,
			Status:      "completed",
			Tokens:      42,
			CompletedAt: time.Now().UTC(),
			ModelUsed:   "gemini-2.5-flash",
			State:       campaign.StateGenerated,
		},
		InputTokens: 100,
		DurationMS:  5,
	}, nil
}

func twoStepFlow() *flow.Config {
	return &flow.Config{Steps: []flow.Step{
		{ID: "s1", Name: "Research", Order: 1, Prompt: "research {{ecp_name}}"},
		{ID: "s2", Name: "Analysis", Order: 2, Prompt: "analyze", AutoReceiveFrom: []string{"s1"}},
	}}
}

func seed(store *memStore) {
	store.projects["p1"] = &campaign.Project{
		ID:        "p1",
		Name:      "Acme Corp",
		Flow:      twoStepFlow(),
		Variables: map[string]string{"country": "Chile"},
	}
	store.campaigns["c1"] = &campaign.Campaign{
		ID:        "c1",
		ProjectID: "p1",
		ECPName:   "CFO",
	}
}

func TestRunStep_PersistsOutputAndClosesLog(t *testing.T) {
	store := newMemStore()
	seed(store)
	exec := &scriptedExecutor{}
	r := New(store, exec, nil, nil)

	result, err := r.RunStep(context.Background(), "c1", "s1", StepOptions{})
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	if result.Output == nil || result.Output.Output != "output of s1" {
		t.Fatalf("result = %+v", result)
	}
	if result.Output.Version != 1 {
		t.Errorf("Version = %d, want 1", result.Output.Version)
	}

	stored := store.campaigns["c1"].StepOutputs["s1"]
	if stored.Output != "output of s1" {
		t.Errorf("stored output = %q", stored.Output)
	}

	log := store.onlyLog(t)
	if log.Status != campaign.LogCompleted {
		t.Errorf("log status = %q", log.Status)
	}
	if log.InputTokens != 100 || log.OutputTokens != 42 {
		t.Errorf("log tokens = %d/%d", log.InputTokens, log.OutputTokens)
	}
}

func TestRunStep_MergesProjectAndCampaignVariables(t *testing.T) {
	store := newMemStore()
	seed(store)
	exec := &scriptedExecutor{}
	r := New(store, exec, nil, nil)

	if _, err := r.RunStep(context.Background(), "c1", "s1", StepOptions{}); err != nil {
		t.Fatalf("RunStep: %v", err)
	}

	vars := exec.inputs[0].Variables
	if vars["ecp_name"] != "CFO" {
		t.Errorf("ecp_name = %q", vars["ecp_name"])
	}
	if vars["country"] != "Chile" {
		t.Errorf("country = %q", vars["country"])
	}
	if vars["client_name"] != "Acme Corp" {
		t.Errorf("client_name = %q, want project name", vars["client_name"])
	}
}

func TestRunStep_UnknownStep(t *testing.T) {
	store := newMemStore()
	seed(store)
	r := New(store, &scriptedExecutor{}, nil, nil)

	if _, err := r.RunStep(context.Background(), "c1", "nope", StepOptions{}); err == nil {
		t.Fatal("RunStep(unknown step) = nil error")
	}
}

func TestRunStep_FailureClosesLogWithPayload(t *testing.T) {
	store := newMemStore()
	seed(store)
	provErr := &llm.ProviderError{
		Source: llm.SourceGateway, Model: "gemini-2.5-flash",
		StatusCode: 502, Message: "bad gateway",
	}
	exec := &scriptedExecutor{errs: map[string]error{"s1": provErr}}
	r := New(store, exec, nil, nil)

	_, err := r.RunStep(context.Background(), "c1", "s1", StepOptions{})
	var got *llm.ProviderError
	if !errors.As(err, &got) {
		t.Fatalf("err = %v, want ProviderError", err)
	}

	log := store.onlyLog(t)
	if log.Status != campaign.LogError {
		t.Fatalf("log status = %q", log.Status)
	}
	var payload Failure
	if err := json.Unmarshal([]byte(log.ErrorDetails), &payload); err != nil {
		t.Fatalf("ErrorDetails not a failure payload: %v (%q)", err, log.ErrorDetails)
	}
	if !payload.CanRetry {
		t.Error("CanRetry = false for a provider error")
	}
	if payload.FailedModel != "gemini-2.5-flash" || payload.ErrorSource != "gateway" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestRunStep_AsyncPersistsHandleBeforeReturning(t *testing.T) {
	store := newMemStore()
	seed(store)
	exec := &scriptedExecutor{outcomes: map[string]*executor.Outcome{
		"s1": {Async: &llm.AsyncHandle{InteractionID: "interactions/abc", Model: "deep-research-pro"}},
	}}
	r := New(store, exec, nil, nil)

	result, err := r.RunStep(context.Background(), "c1", "s1", StepOptions{})
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	if result.Async == nil || result.Async.InteractionID != "interactions/abc" {
		t.Fatalf("result = %+v", result)
	}

	saved := store.handles["interactions/abc"]
	if saved == nil {
		t.Fatal("handle not persisted at dispatch")
	}
	if saved.Status != campaign.TaskProcessing || saved.LogID != result.LogID {
		t.Errorf("handle = %+v", saved)
	}
	if store.logs[result.LogID].Status != campaign.LogPolling {
		t.Errorf("log status = %q", store.logs[result.LogID].Status)
	}
	if len(store.campaigns["c1"].StepOutputs) != 0 {
		t.Error("async dispatch wrote a step output")
	}
}

func TestRetryWithModel(t *testing.T) {
	store := newMemStore()
	seed(store)
	exec := &scriptedExecutor{}
	r := New(store, exec, nil, nil)

	if _, err := r.RetryWithModel(context.Background(), "c1", "s1", ""); err == nil {
		t.Fatal("RetryWithModel with empty model = nil error")
	}

	if _, err := r.RetryWithModel(context.Background(), "c1", "s1", "claude-sonnet-4-5"); err != nil {
		t.Fatalf("RetryWithModel: %v", err)
	}
	if got := exec.inputs[0].ModelOverride; got != "claude-sonnet-4-5" {
		t.Errorf("ModelOverride = %q", got)
	}
}

func TestRunCampaign_SequentialWithUpstreamOutputs(t *testing.T) {
	store := newMemStore()
	seed(store)
	exec := &scriptedExecutor{}
	r := New(store, exec, nil, nil)

	result, err := r.RunCampaign(context.Background(), "c1")
	if err != nil {
		t.Fatalf("RunCampaign: %v", err)
	}
	if result.StepsCompleted != 2 {
		t.Errorf("StepsCompleted = %d, want 2", result.StepsCompleted)
	}

	if len(exec.inputs) != 2 || exec.inputs[0].Step.ID != "s1" || exec.inputs[1].Step.ID != "s2" {
		t.Fatalf("executed steps out of order: %+v", exec.inputs)
	}
	if out, ok := exec.inputs[1].PreviousOutputs["s1"]; !ok || out.Output != "output of s1" {
		t.Error("second step did not see the first step's output")
	}

	if store.campaigns["c1"].Status != StatusCompleted {
		t.Errorf("campaign status = %q", store.campaigns["c1"].Status)
	}
	wantHistory := []string{"running/s1", "running/s2", "completed/"}
	if len(store.statusHistory) != len(wantHistory) {
		t.Fatalf("status history = %v", store.statusHistory)
	}
	for i, want := range wantHistory {
		if store.statusHistory[i] != want {
			t.Errorf("statusHistory[%d] = %q, want %q", i, store.statusHistory[i], want)
		}
	}
}

func TestRunCampaign_AbortsAtFailingStep(t *testing.T) {
	store := newMemStore()
	seed(store)
	exec := &scriptedExecutor{errs: map[string]error{
		"s2": &llm.ProviderError{Source: llm.SourceProvider, Model: "gemini-2.5-flash", Message: "overloaded"},
	}}
	r := New(store, exec, nil, nil)

	result, err := r.RunCampaign(context.Background(), "c1")
	if err == nil {
		t.Fatal("RunCampaign = nil error")
	}
	if result == nil || result.StepsCompleted != 1 {
		t.Fatalf("result = %+v, want 1 completed step", result)
	}
	if store.campaigns["c1"].Status != StatusError {
		t.Errorf("campaign status = %q", store.campaigns["c1"].Status)
	}
	if store.campaigns["c1"].CurrentStepID != "s2" {
		t.Errorf("CurrentStepID = %q", store.campaigns["c1"].CurrentStepID)
	}
}

type stubPoller struct {
	status *llm.InteractionStatus
}

func (p *stubPoller) Poll(ctx context.Context, interactionID string) (*llm.InteractionStatus, error) {
	return p.status, nil
}

func TestRunCampaign_WaitsForAsyncStep(t *testing.T) {
	store := newMemStore()
	store.projects["p1"] = &campaign.Project{
		ID:   "p1",
		Name: "Acme Corp",
		Flow: &flow.Config{Steps: []flow.Step{
			{ID: "s1", Name: "Deep Dive", Order: 1, Prompt: "investigate", Model: "deep-research-pro"},
		}},
	}
	store.campaigns["c1"] = &campaign.Campaign{ID: "c1", ProjectID: "p1"}

	exec := &scriptedExecutor{outcomes: map[string]*executor.Outcome{
		"s1": {Async: &llm.AsyncHandle{InteractionID: "interactions/abc", Model: "deep-research-pro"}},
	}}
	poller := &stubPoller{status: &llm.InteractionStatus{
		State:  llm.StateCompleted,
		Result: "the report",
	}}
	monitor := asynctask.New(store, poller, time.Millisecond, time.Minute)
	r := New(store, exec, monitor, nil)

	result, err := r.RunCampaign(context.Background(), "c1")
	if err != nil {
		t.Fatalf("RunCampaign: %v", err)
	}
	if result.StepsCompleted != 1 {
		t.Errorf("StepsCompleted = %d", result.StepsCompleted)
	}
	if out := store.campaigns["c1"].StepOutputs["s1"]; out.Output != "the report" {
		t.Errorf("stored output = %q", out.Output)
	}
	if store.campaigns["c1"].Status != StatusCompleted {
		t.Errorf("campaign status = %q", store.campaigns["c1"].Status)
	}
}

func TestPollAndCheckOngoing(t *testing.T) {
	store := newMemStore()
	seed(store)
	poller := &stubPoller{status: &llm.InteractionStatus{State: llm.StateProcessing}}
	monitor := asynctask.New(store, poller, time.Millisecond, time.Minute)
	r := New(store, &scriptedExecutor{}, monitor, nil)
	ctx := context.Background()

	if _, err := r.CheckOngoingAsyncTask(ctx, "c1"); !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("CheckOngoingAsyncTask(idle) = %v, want ErrNotFound", err)
	}
	if _, err := r.PollAsyncTask(ctx, "c1"); !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("PollAsyncTask(idle) = %v, want ErrNotFound", err)
	}

	store.handles["interactions/abc"] = &campaign.AsyncTaskHandle{
		CampaignID: "c1", StepID: "s1", InteractionID: "interactions/abc",
		Status: campaign.TaskProcessing, DispatchedAt: time.Now(),
	}
	progress, err := r.PollAsyncTask(ctx, "c1")
	if err != nil {
		t.Fatalf("PollAsyncTask: %v", err)
	}
	if progress.Done {
		t.Error("processing task reported done")
	}
}

func TestEditAndRevertStepOutput(t *testing.T) {
	store := newMemStore()
	seed(store)
	store.campaigns["c1"].StepOutputs = map[string]campaign.StepOutput{
		"s1": {StepName: "Research", Output: "machine text", Status: "completed",
			CompletedAt: time.Now().UTC(), Version: 1},
	}
	r := New(store, &scriptedExecutor{}, nil, nil)
	ctx := context.Background()

	edited, err := r.EditStepOutput(ctx, "c1", "s1", "human text")
	if err != nil {
		t.Fatalf("EditStepOutput: %v", err)
	}
	if edited.Output != "human text" || edited.OriginalOutput != "machine text" {
		t.Errorf("edited = %+v", edited)
	}
	if edited.State != campaign.StateEdited || edited.Version != 2 {
		t.Errorf("state/version = %q/%d", edited.State, edited.Version)
	}

	reverted, err := r.RevertStepOutput(ctx, "c1", "s1")
	if err != nil {
		t.Fatalf("RevertStepOutput: %v", err)
	}
	if reverted.Output != "machine text" || reverted.State != campaign.StateReverted {
		t.Errorf("reverted = %+v", reverted)
	}

	if _, err := r.EditStepOutput(ctx, "c1", "s2", "x"); !errors.Is(err, campaign.ErrNoOutput) {
		t.Errorf("edit of absent output = %v, want ErrNoOutput", err)
	}
}

type directInvoker struct {
	lastReq llm.Request
}

func (d *directInvoker) Invoke(ctx context.Context, req llm.Request) (*llm.Result, error) {
	d.lastReq = req
	return &llm.Result{Response: &llm.Response{Text: "revised text", Model: req.Model}}, nil
}

func TestSuggestEdit(t *testing.T) {
	store := newMemStore()
	seed(store)
	store.campaigns["c1"].StepOutputs = map[string]campaign.StepOutput{
		"s1": {StepName: "Research", Output: "original text", Status: "completed",
			CompletedAt: time.Now().UTC(), Version: 1},
	}
	direct := &directInvoker{}
	r := New(store, &scriptedExecutor{}, nil, direct)
	ctx := context.Background()

	suggestion, err := r.SuggestEdit(ctx, "c1", "s1", "make it shorter")
	if err != nil {
		t.Fatalf("SuggestEdit: %v", err)
	}
	if suggestion.Suggestion != "revised text" {
		t.Errorf("Suggestion = %q", suggestion.Suggestion)
	}
	if !strings.Contains(direct.lastReq.Context, "original text") {
		t.Error("current output missing from request context")
	}
	if direct.lastReq.UserPrompt != "make it shorter" {
		t.Errorf("UserPrompt = %q", direct.lastReq.UserPrompt)
	}

	if out := store.campaigns["c1"].StepOutputs["s1"]; out.Output != "original text" {
		t.Error("suggestion was persisted")
	}

	if _, err := r.SuggestEdit(ctx, "c1", "s2", "x"); !errors.Is(err, campaign.ErrNoOutput) {
		t.Errorf("suggest on absent output = %v, want ErrNoOutput", err)
	}
	if _, err := r.SuggestEdit(ctx, "c1", "s1", "  "); err == nil {
		t.Error("blank instruction accepted")
	}
}

func TestFailureFrom(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Failure
	}{
		{
			name: "provider error",
			err:  &llm.ProviderError{Source: llm.SourceProvider, Model: "gpt-4o", Message: "overloaded"},
			want: Failure{CanRetry: true, FailedModel: "gpt-4o", ErrorSource: "provider", OriginalError: "overloaded"},
		},
		{
			name: "unrecoverable error",
			err:  &llm.UnrecoverableError{Model: "gemini-2.5-flash", Message: "GEMINI_API_KEY is not set"},
			want: Failure{CanRetry: false, FailedModel: "gemini-2.5-flash", OriginalError: "GEMINI_API_KEY is not set"},
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: Failure{CanRetry: true, FailedModel: "fallback-model"},
		},
		{
			name: "context over token limit",
			err:  &executor.ContextTooLargeError{TotalTokens: 3_000_000, Limit: 2_000_000},
			want: Failure{CanRetry: false, FailedModel: "fallback-model"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FailureFrom(tt.err, "fallback-model")
			if got.CanRetry != tt.want.CanRetry {
				t.Errorf("CanRetry = %v, want %v", got.CanRetry, tt.want.CanRetry)
			}
			if got.FailedModel != tt.want.FailedModel {
				t.Errorf("FailedModel = %q, want %q", got.FailedModel, tt.want.FailedModel)
			}
			if got.ErrorSource != tt.want.ErrorSource {
				t.Errorf("ErrorSource = %q, want %q", got.ErrorSource, tt.want.ErrorSource)
			}
			if got.OriginalError != tt.want.OriginalError {
				t.Errorf("OriginalError = %q, want %q", got.OriginalError, tt.want.OriginalError)
			}
			if got.Error == "" {
				t.Error("Error message empty")
			}
		})
	}
}
