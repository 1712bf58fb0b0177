// Package flow defines campaign flow configurations: the ordered set of
// prompt steps a campaign executes, the dependency graph between them, and
// the pure helpers that operate on them (variable resolution, staleness,
// linting).
//
// A flow is data, not code. Steps are authored in the dashboard (or in a
// forge.yaml flow file for CLI use) and validated here before any execution
// is attempted. Validation failures are ConfigErrors and never reach the
// executor.
package flow

import (
	"fmt"
	"sort"
	"strings"
)

// OutputFormat hints how a step's output should be post-processed.
// It informs the format instructions appended to the prompt; outputs are
// never parsed against it.
type OutputFormat string

const (
	FormatText     OutputFormat = "text"
	FormatMarkdown OutputFormat = "markdown"
	FormatJSON     OutputFormat = "json"
	FormatCSV      OutputFormat = "csv"
	FormatHTML     OutputFormat = "html"
	FormatXML      OutputFormat = "xml"
)

// RetrievalMode selects how a step grounds itself in project documents.
type RetrievalMode string

const (
	// RetrievalFull includes the complete text of every base document.
	RetrievalFull RetrievalMode = "full"
	// RetrievalRAG includes only top-ranked chunks matched against the
	// step's resolved prompt.
	RetrievalRAG RetrievalMode = "rag"
)

// RAGConfig tunes chunk selection for RetrievalRAG steps.
type RAGConfig struct {
	TopK     int     `json:"top_k" yaml:"top_k"`
	MinScore float64 `json:"min_score" yaml:"min_score"`
}

// DefaultRAGConfig mirrors the retrieval service defaults.
func DefaultRAGConfig() RAGConfig {
	return RAGConfig{TopK: 10, MinScore: 0.7}
}

// RequiredDocument is a named document slot for a step. Slots bind to
// base_doc_ids by fuzzy filename matching; an unbound slot is an advisory
// finding, never an execution error.
type RequiredDocument struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// DocID is the bound document reference, empty when unbound.
	DocID string `json:"doc_id,omitempty" yaml:"doc_id,omitempty"`
}

// Step is one node of a campaign flow: a prompt template, its grounding
// configuration, and its model invocation settings.
//
// ID is stable and immutable once other steps reference it through
// AutoReceiveFrom. Order is advisory: it drives display and the staleness
// heuristic, not dependency resolution.
type Step struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Order int    `json:"order" yaml:"order"`

	Prompt string `json:"prompt" yaml:"prompt"`

	BaseDocIDs        []string           `json:"base_doc_ids,omitempty" yaml:"base_doc_ids,omitempty"`
	RequiredDocuments []RequiredDocument `json:"required_documents,omitempty" yaml:"required_documents,omitempty"`

	// AutoReceiveFrom lists upstream step ids whose outputs are spliced
	// into this step's execution context.
	AutoReceiveFrom []string `json:"auto_receive_from,omitempty" yaml:"auto_receive_from,omitempty"`

	OutputFormat OutputFormat `json:"output_format,omitempty" yaml:"output_format,omitempty"`

	Model       string   `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`

	RetrievalMode RetrievalMode `json:"retrieval_mode,omitempty" yaml:"retrieval_mode,omitempty"`
	RAG           *RAGConfig    `json:"rag_config,omitempty" yaml:"rag_config,omitempty"`
}

// EffectiveRAG returns the step's RAG tuning, falling back to defaults.
func (s *Step) EffectiveRAG() RAGConfig {
	if s.RAG == nil {
		return DefaultRAGConfig()
	}
	cfg := *s.RAG
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultRAGConfig().TopK
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = DefaultRAGConfig().MinScore
	}
	return cfg
}

// Mode returns the step's retrieval mode, defaulting to full grounding.
func (s *Step) Mode() RetrievalMode {
	if s.RetrievalMode == RetrievalRAG {
		return RetrievalRAG
	}
	return RetrievalFull
}

// Format returns the step's output format, defaulting to plain text.
func (s *Step) Format() OutputFormat {
	switch s.OutputFormat {
	case FormatMarkdown, FormatJSON, FormatCSV, FormatHTML, FormatXML:
		return s.OutputFormat
	default:
		return FormatText
	}
}

// Config is an ordered set of steps scoped to a project, optionally
// overridden per campaign. The campaign's effective config is its own
// override when present, else the project's.
type Config struct {
	Steps []Step `json:"steps" yaml:"steps"`
}

// EffectiveConfig picks the campaign override when it has steps.
func EffectiveConfig(campaignOverride, projectConfig *Config) *Config {
	if campaignOverride != nil && len(campaignOverride.Steps) > 0 {
		return campaignOverride
	}
	return projectConfig
}

// FindStep returns the step with the given id, or nil.
func (c *Config) FindStep(id string) *Step {
	if c == nil {
		return nil
	}
	for i := range c.Steps {
		if c.Steps[i].ID == id {
			return &c.Steps[i]
		}
	}
	return nil
}

// SortedSteps returns the steps ordered by (order, id). Ties on order are
// broken by id so display order is deterministic.
func (c *Config) SortedSteps() []Step {
	steps := make([]Step, len(c.Steps))
	copy(steps, c.Steps)
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].Order != steps[j].Order {
			return steps[i].Order < steps[j].Order
		}
		return steps[i].ID < steps[j].ID
	})
	return steps
}

// ConfigError reports an invalid flow configuration. It is fatal at
// validation time; a flow that produces a ConfigError is never executed.
type ConfigError struct {
	StepID string
	Reason string
	// Cycle holds the offending step ids when the error is a dependency
	// cycle, in traversal order.
	Cycle []string
}

func (e *ConfigError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("flow config: dependency cycle: %s", strings.Join(e.Cycle, " -> "))
	}
	if e.StepID != "" {
		return fmt.Sprintf("flow config: step %q: %s", e.StepID, e.Reason)
	}
	return fmt.Sprintf("flow config: %s", e.Reason)
}
