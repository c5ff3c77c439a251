package interview

import "fmt"

// FailureKind classifies why a text generation call failed.
type FailureKind string

const (
	FailureRateLimited       FailureKind = "rate_limited"
	FailureTimeout           FailureKind = "timeout"
	FailureInvalidCredential FailureKind = "invalid_credential"
	FailureMalformedResponse FailureKind = "malformed_response"
	FailureUpstream          FailureKind = "upstream"
	FailureCircuitOpen       FailureKind = "circuit_open"
)

// ValidationError rejects an input before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("interview: invalid %s: %s", e.Field, e.Reason)
}

// GenerationError is returned once an agent call has exhausted its retry budget.
type GenerationError struct {
	Agent    string
	Kind     FailureKind
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("interview: %s generation failed (%s) after %d attempt(s)", e.Agent, e.Kind, e.Attempts)
	}
	return fmt.Sprintf("interview: %s generation failed (%s) after %d attempt(s): %v", e.Agent, e.Kind, e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// StateCorruptionError means a snapshot broke a structural invariant on load.
type StateCorruptionError struct {
	Reason string
	Err    error
}

func (e *StateCorruptionError) Error() string {
	if e.Err == nil {
		return "interview: corrupt session state: " + e.Reason
	}
	return fmt.Sprintf("interview: corrupt session state: %s: %v", e.Reason, e.Err)
}

func (e *StateCorruptionError) Unwrap() error {
	return e.Err
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func corrupt(reason string, err error) *StateCorruptionError {
	return &StateCorruptionError{Reason: reason, Err: err}
}
