package runner

import (
	"encoding/json"
	"errors"

	"contentforge/internal/llm"
)

// Failure is the serialized error payload written to execution logs and
// surfaced to callers. CanRetry tells the client whether offering a
// retry with a substitute model makes sense.
type Failure struct {
	Error         string `json:"error"`
	CanRetry      bool   `json:"can_retry"`
	FailedModel   string `json:"failed_model,omitempty"`
	ErrorSource   string `json:"error_source,omitempty"`
	OriginalError string `json:"original_error,omitempty"`
}

// FailureFrom classifies an execution error into the payload shape.
// fallbackModel is used when the error itself does not name one.
func FailureFrom(err error, fallbackModel string) *Failure {
	f := &Failure{
		Error:       err.Error(),
		CanRetry:    llm.CanRetry(err),
		FailedModel: fallbackModel,
	}

	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		f.ErrorSource = string(pe.Source)
		f.OriginalError = pe.Message
		if pe.Model != "" {
			f.FailedModel = pe.Model
		}
	}
	var ue *llm.UnrecoverableError
	if errors.As(err, &ue) {
		f.OriginalError = ue.Message
		if ue.Model != "" {
			f.FailedModel = ue.Model
		}
	}
	return f
}

// JSON renders the payload for storage in a log row's detail column.
func (f *Failure) JSON() string {
	raw, err := json.Marshal(f)
	if err != nil {
		return f.Error
	}
	return string(raw)
}
