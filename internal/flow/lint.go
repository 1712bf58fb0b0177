package flow

import "fmt"

// Linting is advisory. Prompts are iteratively authored before all their
// variables are declared, so findings never block save or execution; they
// are surfaced to the author and nothing else.

// FindingKind classifies a lint finding.
type FindingKind string

const (
	// FindingUndeclaredVariable marks a template reference with no
	// declared value in the campaign or project variable set.
	FindingUndeclaredVariable FindingKind = "undeclared_variable"
	// FindingUnboundDocument marks a required document slot that fuzzy
	// matching could not bind to any project document.
	FindingUnboundDocument FindingKind = "unbound_document"
	// FindingUnknownStatus marks a campaign status missing from the
	// project's status catalog.
	FindingUnknownStatus FindingKind = "unknown_status"
)

// Finding is one advisory lint result.
type Finding struct {
	Kind    FindingKind `json:"kind"`
	StepID  string      `json:"step_id,omitempty"`
	Subject string      `json:"subject"`
	Message string      `json:"message"`
}

// LintVariables reports template references with no value in vars, across
// every step of the config.
func LintVariables(cfg *Config, vars map[string]string) []Finding {
	if cfg == nil {
		return nil
	}
	var findings []Finding
	for _, s := range cfg.SortedSteps() {
		for _, key := range ReferencedVariables(s.Prompt) {
			if _, ok := vars[key]; ok {
				continue
			}
			findings = append(findings, Finding{
				Kind:    FindingUndeclaredVariable,
				StepID:  s.ID,
				Subject: key,
				Message: fmt.Sprintf("prompt references {{%s}} but no such variable is declared", key),
			})
		}
	}
	return findings
}

// LintRequiredDocuments reports required document slots that could not be
// bound to any project document by fuzzy matching.
func LintRequiredDocuments(cfg *Config, docs []MatchableDocument) []Finding {
	if cfg == nil {
		return nil
	}
	var findings []Finding
	for _, s := range cfg.SortedSteps() {
		for _, req := range s.RequiredDocuments {
			if req.DocID != "" {
				continue
			}
			if m := FindMatchingDocument(req.Name, docs, DefaultMatchThreshold); m != nil {
				continue
			}
			findings = append(findings, Finding{
				Kind:    FindingUnboundDocument,
				StepID:  s.ID,
				Subject: req.Name,
				Message: fmt.Sprintf("no project document matches required slot %q", req.Name),
			})
		}
	}
	return findings
}

// LintStatus reports a campaign status absent from the project catalog.
// An empty catalog accepts everything.
func LintStatus(status string, catalog []string) []Finding {
	if status == "" || len(catalog) == 0 {
		return nil
	}
	for _, known := range catalog {
		if known == status {
			return nil
		}
	}
	return []Finding{{
		Kind:    FindingUnknownStatus,
		Subject: status,
		Message: fmt.Sprintf("status %q is not in the project status catalog", status),
	}}
}
