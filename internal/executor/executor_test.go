package executor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"contentforge/internal/campaign"
	"contentforge/internal/flow"
	"contentforge/internal/llm"
	"contentforge/internal/retrieval"
)

type fakeInvoker struct {
	lastReq llm.Request
	result  *llm.Result
	err     error
}

func (f *fakeInvoker) Invoke(ctx context.Context, req llm.Request) (*llm.Result, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &llm.Result{Response: &llm.Response{
		Text:  "generated text",
		Model: req.Model,
		Usage: llm.Usage{PromptTokens: 100, CompletionTokens: 50},
	}}, nil
}

type fakeDocStore struct {
	docs map[string]*campaign.Document
}

func (f *fakeDocStore) ListDocuments(ctx context.Context, projectID string) ([]campaign.Document, error) {
	return nil, nil
}

func (f *fakeDocStore) FetchFullText(ctx context.Context, docID string) (*campaign.Document, error) {
	doc, ok := f.docs[docID]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	return doc, nil
}

func newTestExecutor(invoker Invoker, docs map[string]*campaign.Document) *StepExecutor {
	sel := retrieval.NewSelector(&fakeDocStore{docs: docs}, nil)
	return New(sel, invoker, Defaults{})
}

func TestExecute_ComposesPromptAndContext(t *testing.T) {
	invoker := &fakeInvoker{}
	exec := newTestExecutor(invoker, map[string]*campaign.Document{
		"d1": {ID: "d1", Filename: "mercado.pdf", Category: "research", Content: "datos del mercado"},
	})

	temp := 0.3
	step := &flow.Step{
		ID:              "s2",
		Name:            "Analysis",
		Prompt:          "Analyze {{ecp_name}} in {{country}}",
		BaseDocIDs:      []string{"d1"},
		AutoReceiveFrom: []string{"s1"},
		OutputFormat:    flow.FormatMarkdown,
		Temperature:     &temp,
	}
	outcome, err := exec.Execute(context.Background(), Input{
		Step:      step,
		Variables: map[string]string{"ecp_name": "Acme", "country": "Chile"},
		PreviousOutputs: map[string]campaign.StepOutput{
			"s1": {StepName: "Research", Output: "previous findings", Tokens: 12},
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	req := invoker.lastReq
	if !strings.HasPrefix(req.UserPrompt, "Analyze Acme in Chile") {
		t.Errorf("UserPrompt = %q", req.UserPrompt)
	}
	if !strings.Contains(req.UserPrompt, "OUTPUT FORMAT REQUIREMENT") ||
		!strings.Contains(req.UserPrompt, "Markdown") {
		t.Error("format instructions missing from prompt")
	}
	if !strings.Contains(req.Context, "--- START DOCUMENT: mercado.pdf (research) ---") {
		t.Error("document marker missing from context")
	}
	if !strings.Contains(req.Context, "--- START PREVIOUS STEP: Research ---") {
		t.Error("previous step marker missing from context")
	}
	if !strings.Contains(req.Context, "previous findings") {
		t.Error("previous output missing from context")
	}
	if req.SystemPrompt != SystemInstruction {
		t.Error("system instruction not applied")
	}
	if req.Temperature != 0.3 {
		t.Errorf("Temperature = %v, want step override 0.3", req.Temperature)
	}
	if req.Model != DefaultModel {
		t.Errorf("Model = %q, want default", req.Model)
	}

	out := outcome.Output
	if out == nil {
		t.Fatal("Outcome.Output = nil")
	}
	if out.Status != "completed" || out.State != campaign.StateGenerated {
		t.Errorf("output status/state = %q/%q", out.Status, out.State)
	}
	if out.Tokens != 50 {
		t.Errorf("Tokens = %d, want provider-reported 50", out.Tokens)
	}
	if out.CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}
}

func TestExecute_MissingVariablePlaceholder(t *testing.T) {
	invoker := &fakeInvoker{}
	exec := newTestExecutor(invoker, nil)

	step := &flow.Step{ID: "s1", Name: "Step", Prompt: "Describe {{segment}}"}
	if _, err := exec.Execute(context.Background(), Input{Step: step}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(invoker.lastReq.UserPrompt, "[segment: sin valor]") {
		t.Errorf("UserPrompt = %q, want missing-value marker", invoker.lastReq.UserPrompt)
	}
}

func TestExecute_ModelSelection(t *testing.T) {
	invoker := &fakeInvoker{}
	exec := newTestExecutor(invoker, nil)

	step := &flow.Step{ID: "s1", Name: "Step", Prompt: "p", Model: "claude-sonnet-4-5"}
	if _, err := exec.Execute(context.Background(), Input{Step: step}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if invoker.lastReq.Model != "claude-sonnet-4-5" {
		t.Errorf("Model = %q, want step model", invoker.lastReq.Model)
	}

	if _, err := exec.Execute(context.Background(), Input{Step: step, ModelOverride: "gpt-4o"}); err != nil {
		t.Fatalf("Execute with override: %v", err)
	}
	if invoker.lastReq.Model != "gpt-4o" {
		t.Errorf("Model = %q, want override", invoker.lastReq.Model)
	}
}

func TestExecute_InvocationOverrides(t *testing.T) {
	invoker := &fakeInvoker{}
	exec := newTestExecutor(invoker, nil)

	stepTemp := 0.2
	stepMax := 1024
	step := &flow.Step{
		ID: "s1", Name: "Step", Prompt: "p",
		Temperature: &stepTemp, MaxTokens: &stepMax,
	}

	overTemp := 0.9
	overMax := 256
	_, err := exec.Execute(context.Background(), Input{
		Step:                step,
		TemperatureOverride: &overTemp,
		MaxTokensOverride:   &overMax,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if invoker.lastReq.Temperature != 0.9 {
		t.Errorf("Temperature = %v, want override 0.9", invoker.lastReq.Temperature)
	}
	if invoker.lastReq.MaxTokens != 256 {
		t.Errorf("MaxTokens = %d, want override 256", invoker.lastReq.MaxTokens)
	}
}

func TestExecute_TokenCeiling(t *testing.T) {
	invoker := &fakeInvoker{}
	huge := strings.Repeat("x", 10)
	exec := newTestExecutor(invoker, map[string]*campaign.Document{
		"d1": {ID: "d1", Filename: "big.pdf", Content: huge, TokenCount: TokenLimit + 1},
	})

	step := &flow.Step{ID: "s1", Name: "Step", Prompt: "p", BaseDocIDs: []string{"d1"}}
	_, err := exec.Execute(context.Background(), Input{Step: step})
	var tooLarge *ContextTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("err = %v, want ContextTooLargeError", err)
	}
	if tooLarge.Limit != TokenLimit {
		t.Errorf("Limit = %d", tooLarge.Limit)
	}
	if llm.CanRetry(err) {
		t.Error("CanRetry(err) = true, want false: a substitute model cannot shrink the context")
	}
	if invoker.lastReq.Model != "" {
		t.Error("model invoked despite oversized context")
	}
}

func TestExecute_AsyncModelReturnsHandle(t *testing.T) {
	invoker := &fakeInvoker{result: &llm.Result{Async: &llm.AsyncHandle{
		InteractionID: "interactions/xyz",
		Model:         "deep-research-pro",
	}}}
	exec := newTestExecutor(invoker, nil)

	step := &flow.Step{ID: "s1", Name: "Deep", Prompt: "investigate", Model: "deep-research-pro"}
	outcome, err := exec.Execute(context.Background(), Input{Step: step})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Output != nil {
		t.Error("async outcome carries a sync output")
	}
	if outcome.Async == nil || outcome.Async.InteractionID != "interactions/xyz" {
		t.Errorf("Async = %+v", outcome.Async)
	}
}

func TestExecute_ProviderErrorPassesThrough(t *testing.T) {
	provErr := &llm.ProviderError{Source: llm.SourceProvider, Model: "gpt-4o", Message: "overloaded"}
	invoker := &fakeInvoker{err: provErr}
	exec := newTestExecutor(invoker, nil)

	step := &flow.Step{ID: "s1", Name: "Step", Prompt: "p", Model: "gpt-4o"}
	_, err := exec.Execute(context.Background(), Input{Step: step})
	var got *llm.ProviderError
	if !errors.As(err, &got) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
	if !llm.CanRetry(err) {
		t.Error("provider error should be retryable")
	}
}

func TestExecute_SkipsAbsentPreviousOutputs(t *testing.T) {
	invoker := &fakeInvoker{}
	exec := newTestExecutor(invoker, nil)

	step := &flow.Step{ID: "s2", Name: "Step", Prompt: "p", AutoReceiveFrom: []string{"never-ran"}}
	if _, err := exec.Execute(context.Background(), Input{Step: step}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.Contains(invoker.lastReq.Context, "PREVIOUS STEP") {
		t.Error("context includes marker for absent upstream output")
	}
}

func TestFormatInstructions_AllFormats(t *testing.T) {
	formats := []flow.OutputFormat{
		flow.FormatText, flow.FormatMarkdown, flow.FormatJSON,
		flow.FormatCSV, flow.FormatHTML, flow.FormatXML,
	}
	for _, f := range formats {
		got := FormatInstructions(f)
		if !strings.HasPrefix(got, "OUTPUT FORMAT REQUIREMENT:") {
			t.Errorf("FormatInstructions(%s) missing directive prefix", f)
		}
	}
	if FormatInstructions("unknown") != FormatInstructions(flow.FormatText) {
		t.Error("unknown format should fall back to text")
	}
}
