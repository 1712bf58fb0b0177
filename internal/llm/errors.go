package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorSource attributes a provider failure for the retry UI.
type ErrorSource string

const (
	SourceProvider ErrorSource = "provider"
	SourceGateway  ErrorSource = "gateway"
	SourceUnknown  ErrorSource = "unknown"
)

// ProviderError is a retryable invocation failure. CanRetry is true for
// every ProviderError; unrecoverable conditions use UnrecoverableError.
type ProviderError struct {
	Source     ErrorSource
	Model      string
	StatusCode int
	Message    string
	Raw        string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error from %s (HTTP %d): %s", e.Source, e.Model, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error from %s: %s", e.Source, e.Model, e.Message)
}

// CanRetry reports whether the caller may offer a retry, possibly with a
// substitute model.
func (e *ProviderError) CanRetry() bool { return true }

// UnrecoverableError marks failures no retry can fix, such as a missing
// API credential.
type UnrecoverableError struct {
	Model   string
	Message string
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("unrecoverable error for %s: %s", e.Model, e.Message)
}

// CanRetry always reports false.
func (e *UnrecoverableError) CanRetry() bool { return false }

// CanRetry inspects an invocation error and reports whether a retry is
// allowed. Any error in the chain that implements CanRetry decides;
// unknown error types are treated as retryable.
func CanRetry(err error) bool {
	var rc interface{ CanRetry() bool }
	if errors.As(err, &rc) {
		return rc.CanRetry()
	}
	return true
}

// looksLikeHTML detects gateway pages served where a JSON payload was
// expected. Infrastructure in front of the provider (load balancers,
// CDN error pages) answers with markup when the upstream is down.
func looksLikeHTML(body string) bool {
	trimmed := strings.TrimSpace(body)
	lower := strings.ToLower(trimmed)
	return strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html")
}

// classifyHTTPFailure builds a ProviderError from a non-2xx provider
// response.
func classifyHTTPFailure(model string, status int, body string, message string) *ProviderError {
	src := SourceProvider
	if looksLikeHTML(body) || status == 502 || status == 503 || status == 504 {
		src = SourceGateway
	}
	if message == "" {
		message = fmt.Sprintf("request failed with status %d", status)
	}
	return &ProviderError{
		Source:     src,
		Model:      model,
		StatusCode: status,
		Message:    message,
		Raw:        truncateRaw(body),
	}
}

// transportError wraps network-level failures where no HTTP status ever
// arrived.
func transportError(model string, err error) *ProviderError {
	return &ProviderError{
		Source:  SourceUnknown,
		Model:   model,
		Message: err.Error(),
	}
}

func truncateRaw(body string) string {
	const max = 2048
	if len(body) > max {
		return body[:max]
	}
	return body
}
