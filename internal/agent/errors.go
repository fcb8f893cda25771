// internal/agent/errors.go
package agent

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned when a run request fails validation.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrSessionNotFound is returned by the registry for unknown session IDs.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTooManySessions is returned when the concurrent session cap is reached.
	ErrTooManySessions = errors.New("too many concurrent sessions")
	// ErrShuttingDown is returned when a session is requested during shutdown.
	ErrShuttingDown = errors.New("session manager is shutting down")
)

// ExecutionKind classifies an actuator failure.
type ExecutionKind string

const (
	KindTargetOutOfBounds ExecutionKind = "target_out_of_bounds"
	KindNavigationFailed  ExecutionKind = "navigation_failed"
	KindTimeout           ExecutionKind = "timeout"
	KindDriverCrashed     ExecutionKind = "driver_crashed"
)

// ExecutionError is returned by Actuator.Open and Actuator.Execute.
type ExecutionError struct {
	Kind ExecutionKind
	Err  error
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return "execution failed: " + string(e.Kind)
	}
	return fmt.Sprintf("execution failed (%s): %v", e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// CaptureError is returned by Actuator.Capture when no screenshot could be taken.
// A crashed driver is reported as a CaptureError wrapping an ExecutionError of
// kind driver_crashed.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("screenshot capture failed: %v", e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// ReasoningKind classifies a reasoning collaborator failure.
type ReasoningKind string

const (
	KindRateLimited      ReasoningKind = "rate_limited"
	KindReasoningTimeout ReasoningKind = "timeout"
	KindMalformed        ReasoningKind = "malformed"
	KindUnavailable      ReasoningKind = "unavailable"
)

// ReasoningError is returned by Reasoner.Infer.
type ReasoningError struct {
	Kind ReasoningKind
	Err  error
}

func (e *ReasoningError) Error() string {
	if e.Err == nil {
		return "reasoning failed: " + string(e.Kind)
	}
	return fmt.Sprintf("reasoning failed (%s): %v", e.Kind, e.Err)
}

func (e *ReasoningError) Unwrap() error { return e.Err }

// ValidationReason says why a field was rejected.
type ValidationReason string

const (
	ReasonMissing       ValidationReason = "missing"
	ReasonWrongType     ValidationReason = "wrong_type"
	ReasonOutOfRange    ValidationReason = "out_of_range"
	ReasonMalformedURL  ValidationReason = "malformed_url"
	ReasonUnknownAction ValidationReason = "unknown_action"
)

// ValidationError names the field of an action candidate that failed the schema.
type ValidationError struct {
	Field  string           `json:"field"`
	Reason ValidationReason `json:"reason"`
	Detail string           `json:"detail,omitempty"`
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("field %q: %s", e.Field, e.Reason)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// ParseFailure is the parser's rejection of a raw model response. A schema
// ValidationError surfaces as a ParseFailure whose Validation field is set, so
// errors.As finds both.
type ParseFailure struct {
	Reason     string           `json:"reason"`
	RawExcerpt string           `json:"raw_excerpt"`
	Validation *ValidationError `json:"validation,omitempty"`
}

func (e *ParseFailure) Error() string {
	return "unparseable model response: " + e.Reason
}

func (e *ParseFailure) Unwrap() error {
	if e.Validation == nil {
		return nil
	}
	return e.Validation
}

// recoveredError turns a panic in a collaborator call into the error that call
// would report for a broken collaborator. A panicking browser is treated as
// crashed; a panicking reasoner as unavailable.
func recoveredError(op string, r interface{}) error {
	cause := fmt.Errorf("panic during %s: %v", op, r)
	switch op {
	case opInfer:
		return &ReasoningError{Kind: KindUnavailable, Err: cause}
	case opCapture:
		return &CaptureError{Err: &ExecutionError{Kind: KindDriverCrashed, Err: cause}}
	default:
		return &ExecutionError{Kind: KindDriverCrashed, Err: cause}
	}
}

// isFatal reports whether err ends the session: a crashed driver.
func isFatal(err error) bool {
	var execErr *ExecutionError
	return errors.As(err, &execErr) && execErr.Kind == KindDriverCrashed
}

// isRetryable reports whether a failed collaborator call may be attempted again.
// Out-of-bounds targets and crashed drivers will not change on retry.
func isRetryable(err error) bool {
	if err == nil || isFatal(err) {
		return false
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Kind != KindTargetOutOfBounds
	}
	return !errors.Is(err, context.Canceled)
}

// errorKind extracts the recorded kind for a failed step.
func errorKind(err error) string {
	var (
		execErr   *ExecutionError
		reasonErr *ReasoningError
		capErr    *CaptureError
	)
	switch {
	case errors.As(err, &execErr):
		return string(execErr.Kind)
	case errors.As(err, &capErr):
		return ResultKindCaptureFailed
	case errors.As(err, &reasonErr):
		return ResultKindReasoningFailed
	case errors.Is(err, context.DeadlineExceeded):
		return string(KindTimeout)
	case errors.Is(err, context.Canceled):
		return ResultKindCancelled
	default:
		return "unknown"
	}
}
