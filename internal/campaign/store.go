package campaign

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores for missing rows.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when a conditional step-output merge
// observes a version other than the one the caller read.
var ErrVersionConflict = errors.New("step output version conflict")

// Store is the campaign persistence contract. step_outputs is a keyed
// sub-resource: MergeStepOutput writes exactly one key with per-key
// optimistic concurrency, never the whole map, which removes the
// lost-update risk of concurrent writers on the same campaign.
type Store interface {
	GetCampaign(ctx context.Context, id string) (*Campaign, error)
	PutCampaign(ctx context.Context, c *Campaign) error
	UpdateCampaignStatus(ctx context.Context, id, status, currentStepID string) error

	GetProject(ctx context.Context, id string) (*Project, error)
	PutProject(ctx context.Context, p *Project) error

	// MergeStepOutput merges one step output key. expectVersion is the
	// version the caller read (0 for a key it believes absent); a
	// mismatch returns ErrVersionConflict and writes nothing. The stored
	// record's Version is incremented on success.
	MergeStepOutput(ctx context.Context, campaignID, stepID string, out StepOutput, expectVersion int64) (StepOutput, error)

	// Async task handles, durable at dispatch time for resumption.
	PutTaskHandle(ctx context.Context, h *AsyncTaskHandle) error
	GetOngoingTask(ctx context.Context, campaignID string) (*AsyncTaskHandle, error)
	DeleteTaskHandle(ctx context.Context, campaignID, interactionID string) error

	// Execution logs.
	InsertLog(ctx context.Context, log *ExecutionLog) error
	UpdateLog(ctx context.Context, log *ExecutionLog) error
	GetLog(ctx context.Context, id string) (*ExecutionLog, error)
}

// DocumentStore is the external document collaborator: listing project
// documents and fetching full extracted text. Storage, indexing and
// chunking internals live behind it.
type DocumentStore interface {
	ListDocuments(ctx context.Context, projectID string) ([]Document, error)
	FetchFullText(ctx context.Context, docID string) (*Document, error)
}

// Document is a project knowledge-base document as the engine sees it.
type Document struct {
	ID         string   `json:"id"`
	ProjectID  string   `json:"project_id"`
	Filename   string   `json:"filename"`
	Category   string   `json:"category,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Content    string   `json:"content,omitempty"`
	TokenCount int      `json:"token_count,omitempty"`
}
