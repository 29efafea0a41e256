// Package errors provides structured error handling for Lodestone.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO and index errors
//   - 3XX: Backend errors (Redis, multi-repo)
//   - 4XX: Validation and authorization errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, disk, and index I/O errors.
	CategoryIO Category = "IO"
	// CategoryBackend indicates errors from external backends (Redis, remote repos).
	CategoryBackend Category = "BACKEND"
	// CategoryValidation indicates input validation and authorization errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO and index errors (200-299)
	ErrCodePathNotFound   = "ERR_201_PATH_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeCorruptIndex   = "ERR_203_CORRUPT_INDEX"
	ErrCodeSchemaMismatch = "ERR_204_SCHEMA_MISMATCH"
	ErrCodeStaleIndex     = "ERR_205_STALE_INDEX"
	ErrCodeFileTooLarge   = "ERR_206_FILE_TOO_LARGE"

	// Backend errors (300-399)
	ErrCodeTimeout            = "ERR_301_TIMEOUT"
	ErrCodeBackendUnavailable = "ERR_302_BACKEND_UNAVAILABLE"
	ErrCodeJobFailure         = "ERR_303_JOB_FAILURE"
	ErrCodeWorkerLost         = "ERR_304_WORKER_LOST"

	// Validation and authorization errors (400-499)
	ErrCodeInvalidQuery    = "ERR_401_INVALID_QUERY"
	ErrCodeUnauthorized    = "ERR_402_REPO_UNAUTHORIZED"
	ErrCodeInvalidArgument = "ERR_403_INVALID_ARGUMENT"

	// Internal errors (500-599)
	ErrCodeInternal      = "ERR_501_INTERNAL"
	ErrCodePluginFailure = "ERR_502_PLUGIN_FAILURE"
	ErrCodeNotEnabled    = "ERR_503_NOT_ENABLED"
)

// categoryFromCode derives the category from a code's numeric range.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryBackend
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode derives a default severity from the code.
// Schema mismatch aborts startup; most other failures are recoverable.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeSchemaMismatch, ErrCodeConfigInvalid:
		return SeverityFatal
	case ErrCodeStaleIndex, ErrCodeBackendUnavailable:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether operations failing with this code
// are safe to retry.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeTimeout, ErrCodeBackendUnavailable, ErrCodeJobFailure, ErrCodeWorkerLost:
		return true
	}
	return false
}
