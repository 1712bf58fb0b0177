// Package campaign defines the campaign data model: the campaign row, its
// per-step output records with their edit lifecycle, async task handles,
// and execution log entries. Persistence goes through the Store interface
// so the engine stays testable against an in-memory double.
package campaign

import (
	"time"

	"contentforge/internal/flow"
)

// Reserved variable keys carried as campaign columns for legacy flows.
// They are merged into the execution context alongside custom_variables.
const (
	VarECPName     = "ecp_name"
	VarProblemCore = "problem_core"
	VarCountry     = "country"
	VarIndustry    = "industry"
	VarClientName  = "client_name"
)

// OutputState is the explicit edit lifecycle of a step output.
//
// Generated -> Edited -> Reverted; Edited -> Edited. OriginalOutput is set
// on the first manual edit and never overwritten afterwards, so revert is
// always available once any edit has happened.
type OutputState string

const (
	StateGenerated OutputState = "generated"
	StateEdited    OutputState = "edited"
	StateReverted  OutputState = "reverted"
)

// StepOutput is the persisted result of one step execution.
type StepOutput struct {
	StepName string `json:"step_name,omitempty"`
	Output   string `json:"output"`
	Status   string `json:"status"`
	Tokens   int    `json:"tokens,omitempty"`

	CompletedAt time.Time `json:"completed_at"`
	ModelUsed   string    `json:"model_used,omitempty"`

	// Edit lifecycle. State is authoritative; EditedAt and OriginalOutput
	// are the audit trail.
	State          OutputState `json:"state,omitempty"`
	EditedAt       *time.Time  `json:"edited_at,omitempty"`
	OriginalOutput string      `json:"original_output,omitempty"`

	// Version supports per-key optimistic concurrency in the store: each
	// merge of this key increments it, and conditional merges can reject
	// a write against a version they did not read.
	Version int64 `json:"version,omitempty"`
}

// EffectiveState normalizes records written before the explicit state
// field existed: presence of an edit stamp means Edited.
func (o *StepOutput) EffectiveState() OutputState {
	if o.State != "" {
		return o.State
	}
	if o.EditedAt != nil || o.OriginalOutput != "" {
		return StateEdited
	}
	return StateGenerated
}

// Campaign is one content-generation campaign scoped to a project.
type Campaign struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`

	// Reserved legacy variables.
	ECPName     string `json:"ecp_name,omitempty"`
	ProblemCore string `json:"problem_core,omitempty"`
	Country     string `json:"country,omitempty"`
	Industry    string `json:"industry,omitempty"`

	// CustomVariables is a flat string map merged over project defaults.
	CustomVariables map[string]string `json:"custom_variables,omitempty"`

	// Status is free-form, validated against the project status catalog
	// as an advisory lint only.
	Status string `json:"status,omitempty"`

	// FlowOverride replaces the project flow config when present.
	FlowOverride *flow.Config `json:"flow_config,omitempty"`

	StepOutputs map[string]StepOutput `json:"step_outputs,omitempty"`

	CurrentStepID string     `json:"current_step_id,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Variables merges the campaign's variable bag for prompt resolution:
// project defaults first, then reserved keys, then custom variables, so
// campaign values override project defaults.
func (c *Campaign) Variables(projectDefaults map[string]string) map[string]string {
	vars := make(map[string]string, len(projectDefaults)+len(c.CustomVariables)+5)
	for k, v := range projectDefaults {
		vars[k] = v
	}
	if c.ECPName != "" {
		vars[VarECPName] = c.ECPName
	}
	if c.ProblemCore != "" {
		vars[VarProblemCore] = c.ProblemCore
	}
	if c.Country != "" {
		vars[VarCountry] = c.Country
	}
	if c.Industry != "" {
		vars[VarIndustry] = c.Industry
	}
	for k, v := range c.CustomVariables {
		vars[k] = v
	}
	return vars
}

// OutputStamps projects step outputs into the staleness tracker's input.
func (c *Campaign) OutputStamps() map[string]flow.OutputStamp {
	stamps := make(map[string]flow.OutputStamp, len(c.StepOutputs))
	for id, out := range c.StepOutputs {
		stamps[id] = flow.OutputStamp{CompletedAt: out.CompletedAt}
	}
	return stamps
}

// Project carries the project-scoped context a campaign executes under.
type Project struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Flow          *flow.Config      `json:"flow_config,omitempty"`
	Variables     map[string]string `json:"variables,omitempty"`
	StatusCatalog []string          `json:"status_catalog,omitempty"`
}

// TaskStatus is the async handle state machine. PROCESSING is the only
// non-terminal state; a terminal handle is discarded.
type TaskStatus string

const (
	TaskProcessing TaskStatus = "PROCESSING"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
)

// AsyncTaskHandle identifies an outstanding asynchronous provider call.
// It is persisted at dispatch time, before the first poll, so a fresh
// client can rediscover the task after a restart.
type AsyncTaskHandle struct {
	CampaignID    string     `json:"campaign_id"`
	StepID        string     `json:"step_id"`
	StepName      string     `json:"step_name,omitempty"`
	InteractionID string     `json:"interaction_id"`
	LogID         string     `json:"log_id"`
	Status        TaskStatus `json:"status"`
	Model         string     `json:"model,omitempty"`

	// ExpectVersion is the step output's version at dispatch time. The
	// merge on completion uses it, so an edit made while the task ran
	// conflicts instead of being overwritten.
	ExpectVersion int64 `json:"expect_version,omitempty"`

	ThinkingSummaries []string `json:"thinking_summaries,omitempty"`

	DispatchedAt time.Time `json:"dispatched_at"`
}

// LogStatus tracks an execution log row's lifecycle.
type LogStatus string

const (
	LogStarted   LogStatus = "started"
	LogRunning   LogStatus = "running"
	LogPolling   LogStatus = "polling"
	LogCompleted LogStatus = "completed"
	LogError     LogStatus = "error"
)

// ExecutionLog is one per-step run record. The async monitor also writes
// progress snapshots into ErrorDetails while a deep research task runs.
type ExecutionLog struct {
	ID           string    `json:"id"`
	CampaignID   string    `json:"campaign_id"`
	StepID       string    `json:"step_id"`
	StepName     string    `json:"step_name"`
	Status       LogStatus `json:"status"`
	ModelUsed    string    `json:"model_used,omitempty"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
	DurationMS   int64     `json:"duration_ms,omitempty"`
	ErrorDetails string    `json:"error_details,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ProgressSnapshot is the JSON payload the async monitor records into an
// execution log row while a deep research task is in flight.
type ProgressSnapshot struct {
	Type              string   `json:"type"` // always "deep_research_progress"
	State             string   `json:"state"`
	ElapsedSeconds    int      `json:"elapsedSeconds"`
	ThinkingSummaries []string `json:"thinkingSummaries,omitempty"`
	CurrentAction     string   `json:"currentAction,omitempty"`
}
