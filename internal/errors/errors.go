package errors

import (
	stderrors "errors"
	"fmt"
)

// DropwatchError is the structured error type for dropwatch.
// It carries enough context to log an error once, at the component
// boundary where it is handled.
type DropwatchError struct {
	// Code is the unique error code (e.g., "ERR_202_STORE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category derived from the code.
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Suggestion is an actionable suggestion for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *DropwatchError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *DropwatchError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *DropwatchError) Is(target error) bool {
	if t, ok := target.(*DropwatchError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *DropwatchError) WithDetail(key, value string) *DropwatchError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion.
func (e *DropwatchError) WithSuggestion(suggestion string) *DropwatchError {
	e.Suggestion = suggestion
	return e
}

// New creates a DropwatchError. Category and severity come from the code.
func New(code string, message string, cause error) *DropwatchError {
	return &DropwatchError{
		Code:     code,
		Message:  message,
		Category: categoryFromCode(code),
		Severity: severityFromCode(code),
		Cause:    cause,
	}
}

// Wrap creates a DropwatchError from an existing error.
func Wrap(code string, err error) *DropwatchError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is checks against a code.
var (
	ErrRegistration = &DropwatchError{Code: ErrCodeRegistration}
	ErrStore        = &DropwatchError{Code: ErrCodeStore}
	ErrExtraction   = &DropwatchError{Code: ErrCodeExtraction}
	ErrIndex        = &DropwatchError{Code: ErrCodeIndex}
	ErrLocked       = &DropwatchError{Code: ErrCodeLocked}
	ErrQueueFull    = &DropwatchError{Code: ErrCodeQueueFull}
)

// RegistrationError reports that a directory could not be subscribed for
// change events. It is fatal for the category that raised it.
func RegistrationError(dir string, cause error) *DropwatchError {
	return New(ErrCodeRegistration, "cannot watch directory", cause).
		WithDetail("dir", dir)
}

// StoreError reports an I/O failure while comparing, moving or deleting an
// incoming file.
func StoreError(op, path string, cause error) *DropwatchError {
	return New(ErrCodeStore, op+" failed", cause).
		WithDetail("path", path)
}

// ExtractionError reports that a file's bytes could not be parsed.
func ExtractionError(path string, cause error) *DropwatchError {
	return New(ErrCodeExtraction, "cannot extract content", cause).
		WithDetail("path", path)
}

// IndexError reports a backend write failure. The document is dropped.
func IndexError(bucket, key string, cause error) *DropwatchError {
	return New(ErrCodeIndex, "cannot index document", cause).
		WithDetail("bucket", bucket).
		WithDetail("key", key)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *DropwatchError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// LockError reports that another instance already owns the data directory.
func LockError(path string) *DropwatchError {
	return New(ErrCodeLocked, "another dropwatch instance is running", nil).
		WithDetail("lock", path).
		WithSuggestion("Stop the other instance or point it at a different root")
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *DropwatchError {
	return New(ErrCodeInternal, message, cause)
}

// IsFatal checks if an error in the chain has fatal severity.
func IsFatal(err error) bool {
	var de *DropwatchError
	if stderrors.As(err, &de) {
		return de.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first DropwatchError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var de *DropwatchError
	if stderrors.As(err, &de) {
		return de.Code
	}
	return ""
}

// GetCategory extracts the category from the first DropwatchError in the chain.
func GetCategory(err error) Category {
	var de *DropwatchError
	if stderrors.As(err, &de) {
		return de.Category
	}
	return ""
}
