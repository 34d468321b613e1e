// Package errors provides structured error handling for amanrecall.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (arm state, feedback ledger, graph)
//   - 4XX: Request validation errors
//   - 5XX: Internal and degraded-path errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStore indicates persistence errors.
	CategoryStore Category = "STORE"
	// CategoryValidation indicates request validation errors.
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
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid = "ERR_101_CONFIG_INVALID"
	ErrCodeConfigParse   = "ERR_102_CONFIG_PARSE"

	// Store errors (200-299)
	ErrCodeStoreOpen   = "ERR_201_STORE_OPEN"
	ErrCodeStoreWrite  = "ERR_202_STORE_WRITE"
	ErrCodeStoreLocked = "ERR_203_STORE_LOCKED"

	// Validation errors (400-499)
	ErrCodeInvalidQuery   = "ERR_401_INVALID_QUERY"
	ErrCodeMissingTenant  = "ERR_402_MISSING_TENANT"
	ErrCodeInvalidTenant  = "ERR_403_INVALID_TENANT"
	ErrCodeInvalidK       = "ERR_404_INVALID_K"
	ErrCodeUnknownArm     = "ERR_405_UNKNOWN_ARM"
	ErrCodeInvalidOutcome = "ERR_406_INVALID_OUTCOME"
	ErrCodeInvalidCorpus  = "ERR_407_INVALID_CORPUS"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeStrategyFailed  = "ERR_502_STRATEGY_FAILED"
	ErrCodeInductionFailed = "ERR_503_INDUCTION_FAILED"
	ErrCodeFeedbackDropped = "ERR_504_FEEDBACK_DROPPED"
	ErrCodeArmStateCorrupt = "ERR_505_ARM_STATE_CORRUPT"
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
		return CategoryStore
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStoreOpen, ErrCodeStoreLocked:
		return SeverityFatal
	case ErrCodeStrategyFailed, ErrCodeInductionFailed, ErrCodeFeedbackDropped, ErrCodeArmStateCorrupt:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeStoreWrite:
		return true
	default:
		return false
	}
}
