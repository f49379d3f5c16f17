// Package errors provides the structured error type used across dropwatch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Filesystem errors (registration, store, lock)
//   - 3XX: Index backend errors
//   - 4XX: Content errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryFS indicates watch, store and lock failures on the filesystem.
	CategoryFS Category = "FS"
	// CategoryIndex indicates failures writing to the index backend.
	CategoryIndex Category = "INDEX"
	// CategoryContent indicates a file whose bytes could not be parsed.
	CategoryContent Category = "CONTENT"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal aborts the component that raised it.
	SeverityFatal Severity = "FATAL"
	// SeverityError means the item failed but processing continues.
	SeverityError Severity = "ERROR"
	// SeverityWarning means degraded operation.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeUsage          = "ERR_103_USAGE"

	// Filesystem errors (200-299)
	ErrCodeRegistration = "ERR_201_REGISTRATION"
	ErrCodeStore        = "ERR_202_STORE"
	ErrCodeLocked       = "ERR_203_LOCKED"

	// Index errors (300-399)
	ErrCodeIndex       = "ERR_301_INDEX"
	ErrCodeBackendOpen = "ERR_302_BACKEND_OPEN"
	ErrCodeCircuitOpen = "ERR_303_CIRCUIT_OPEN"

	// Content errors (400-499)
	ErrCodeExtraction = "ERR_401_EXTRACTION"

	// Internal errors (500-599)
	ErrCodeQueueFull = "ERR_501_QUEUE_FULL"
	ErrCodeInternal  = "ERR_502_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryFS
	case '3':
		return CategoryIndex
	case '4':
		return CategoryContent
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeRegistration, ErrCodeLocked, ErrCodeConfigInvalid, ErrCodeBackendOpen, ErrCodeUsage:
		return SeverityFatal
	case ErrCodeCircuitOpen, ErrCodeQueueFull:
		return SeverityWarning
	default:
		return SeverityError
	}
}
