// Package errors provides structured error handling for docqa.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (index files, relational store, missing records)
//   - 3XX: Network and queue errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates index persistence and relational store errors.
	CategoryStorage Category = "STORAGE"
	// CategoryNetwork indicates network and queue transport errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
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
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeFileNotFound     = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission   = "ERR_202_FILE_PERMISSION"
	ErrCodeIndexLocked      = "ERR_203_INDEX_LOCKED"
	ErrCodeStoreFailed      = "ERR_204_STORE_FAILED"
	ErrCodeCorruptIndex     = "ERR_205_CORRUPT_INDEX"
	ErrCodeStoreUnavailable = "ERR_206_STORE_UNAVAILABLE"
	ErrCodeDocumentNotFound = "ERR_207_DOCUMENT_NOT_FOUND"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeModelUnavailable   = "ERR_303_MODEL_UNAVAILABLE"
	ErrCodeQueueUnavailable   = "ERR_304_QUEUE_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput         = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch    = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty           = "ERR_404_QUERY_EMPTY"
	ErrCodeLengthMismatch       = "ERR_405_LENGTH_MISMATCH"
	ErrCodeInvalidChunkerConfig = "ERR_407_INVALID_CHUNKER_CONFIG"
	ErrCodeMalformedJob         = "ERR_408_MALFORMED_JOB"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeChunkingFailed  = "ERR_504_CHUNKING_FAILED"
	ErrCodeIndexFailed     = "ERR_505_INDEX_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "ERR_207_..." -> '2'
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeIndexLocked:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a transient failure.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeModelUnavailable,
		ErrCodeQueueUnavailable, ErrCodeStoreUnavailable:
		return true
	default:
		return false
	}
}
