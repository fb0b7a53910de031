// Package errors provides the structured error taxonomy shared by the HTTP API,
// the CLI and the BPMN job workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeApplicationNotFound     ErrorCode = "APPLICATION_NOT_FOUND"
	ErrCodeSessionNotFound         ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeReferenceCodeExpired    ErrorCode = "REFERENCE_CODE_EXPIRED"
	ErrCodeReferenceCodeExhausted  ErrorCode = "REFERENCE_CODE_EXHAUSTED"
	ErrCodeInvalidInput            ErrorCode = "INVALID_INPUT"
	ErrCodeInvalidStatusTransition ErrorCode = "INVALID_STATUS_TRANSITION"
	ErrCodeSyncConflict            ErrorCode = "SYNC_CONFLICT"
	ErrCodeSourceNotFound          ErrorCode = "SOURCE_NOT_FOUND"
	ErrCodeInvalidTarget           ErrorCode = "INVALID_TARGET"

	ErrCodeUpstreamUnavailable     ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrCodeDatabaseOperationFailed ErrorCode = "DATABASE_OPERATION_FAILED"
	ErrCodeSearchIndexFailed       ErrorCode = "SEARCH_INDEX_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Sentinels for errors.Is checks. A *StandardError matches the sentinel of its code.
var (
	ErrNotFound            = stderrors.New("not found")
	ErrSessionNotFound     = stderrors.New("session not found")
	ErrExpired             = stderrors.New("expired")
	ErrInvalidInput        = stderrors.New("invalid input")
	ErrConflict            = stderrors.New("conflict")
	ErrUpstreamUnavailable = stderrors.New("upstream unavailable")
)

// sentinelCodes gives the code a bare sentinel is promoted to.
var sentinelCodes = map[error]ErrorCode{
	ErrNotFound:            ErrCodeApplicationNotFound,
	ErrSessionNotFound:     ErrCodeSessionNotFound,
	ErrExpired:             ErrCodeReferenceCodeExpired,
	ErrInvalidInput:        ErrCodeInvalidInput,
	ErrConflict:            ErrCodeSyncConflict,
	ErrUpstreamUnavailable: ErrCodeUpstreamUnavailable,
}

// refinedCodes narrow a sentinel without changing how callers match it.
var refinedCodes = map[ErrorCode]error{
	ErrCodeSourceNotFound: ErrNotFound,
	ErrCodeInvalidTarget:  ErrInvalidInput,
}

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error { return e.cause }

// Is reports whether target is the sentinel for this error's code, or another
// StandardError carrying the same code.
func (e *StandardError) Is(target error) bool {
	if t, ok := target.(*StandardError); ok {
		return t.Code == e.Code
	}
	if code, ok := sentinelCodes[target]; ok && code == e.Code {
		return true
	}
	sentinel, ok := refinedCodes[e.Code]
	return ok && sentinel == target
}

// WithMetadata attaches a key/value pair and returns the receiver.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns the variables attached to a failed or thrown job.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewNotFoundError reports that no record matches an id or reference code.
func NewNotFoundError(details string) *StandardError {
	return newError(ErrCodeApplicationNotFound, "Application not found", details, false, nil)
}

// NewSourceNotFoundError reports that the session a channel switch starts from
// does not exist. It matches ErrNotFound.
func NewSourceNotFoundError(sessionID string, cause error) *StandardError {
	return newError(ErrCodeSourceNotFound, "Source session not found", fmt.Sprintf("sessionId: %s", sessionID), false, cause)
}

// NewInvalidTargetError reports an unusable switch target. It matches ErrInvalidInput.
func NewInvalidTargetError(details string) *StandardError {
	return newError(ErrCodeInvalidTarget, "Invalid switch target", details, false, nil)
}

// NewSessionNotFoundError is raised by sync operations when either side does not resolve.
func NewSessionNotFoundError(sessionID string, cause error) *StandardError {
	return newError(ErrCodeSessionNotFound, "Session not found", fmt.Sprintf("sessionId: %s", sessionID), false, cause)
}

// NewExpiredError reports that a reference code existed but is past its validity window.
func NewExpiredError(details string) *StandardError {
	return newError(ErrCodeReferenceCodeExpired, "Reference code has expired", details, false, nil)
}

func NewInvalidInputError(details string) *StandardError {
	return newError(ErrCodeInvalidInput, "Invalid input", details, false, nil)
}

func NewInvalidStatusTransitionError(from, to string) *StandardError {
	return newError(ErrCodeInvalidStatusTransition, "Status transition not allowed",
		fmt.Sprintf("from: %q, to: %q", from, to), false, nil)
}

func NewConflictError(details string) *StandardError {
	return newError(ErrCodeSyncConflict, "Conflicting application state", details, false, nil)
}

// NewReferenceCodeExhaustedError is raised when no free code was found after the configured attempts.
func NewReferenceCodeExhaustedError(attempts int) *StandardError {
	return newError(ErrCodeReferenceCodeExhausted, "Could not allocate a unique reference code",
		fmt.Sprintf("attempts: %d", attempts), true, nil)
}

func NewUpstreamUnavailableError(service string, err error) *StandardError {
	return newError(ErrCodeUpstreamUnavailable, fmt.Sprintf("Upstream service '%s' unavailable", service),
		errDetails(err), true, err)
}

func NewDatabaseOperationFailedError(operation string, err error) *StandardError {
	return newError(ErrCodeDatabaseOperationFailed, "Database operation failed",
		fmt.Sprintf("operation: %s, error: %s", operation, errDetails(err)), true, err)
}

func NewSearchIndexFailedError(operation string, err error) *StandardError {
	return newError(ErrCodeSearchIndexFailed, "Search index operation failed",
		fmt.Sprintf("operation: %s, error: %s", operation, errDetails(err)), true, err)
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", errDetails(err), false, err)
}

func errDetails(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// AsStandardError extracts a *StandardError from an error chain. Bare sentinels
// are promoted to their structured form; anything else becomes INTERNAL_ERROR.
func AsStandardError(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	for sentinel, code := range sentinelCodes {
		if stderrors.Is(err, sentinel) {
			out := newError(code, sentinel.Error(), err.Error(), code == ErrCodeUpstreamUnavailable, err)
			return out
		}
	}
	return NewInternalError(err)
}

// GetRetryCount returns the number of job retries granted to an error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseOperationFailed:
		return 3
	case ErrCodeUpstreamUnavailable, ErrCodeSearchIndexFailed:
		return 2
	case ErrCodeReferenceCodeExhausted:
		return 1
	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           string(stdErr.Code),
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory groups codes for logging.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "NOT_FOUND"), strings.Contains(codeStr, "EXPIRED"):
		return "LOOKUP"
	case strings.Contains(codeStr, "REFERENCE_CODE"):
		return "REFERENCE_CODE"
	case strings.Contains(codeStr, "DATABASE"):
		return "DATABASE"
	case strings.Contains(codeStr, "SEARCH"):
		return "SEARCH"
	case strings.Contains(codeStr, "UPSTREAM"):
		return "MESSAGING"
	case strings.Contains(codeStr, "INVALID"), strings.Contains(codeStr, "CONFLICT"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
