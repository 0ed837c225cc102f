package errors

import (
	"errors"
	"fmt"
	"strings"
)

// DocQAError is the structured error type for docqa.
// It carries enough context for logging, ack/nack decisions and CLI output.
type DocQAError struct {
	// Code is the unique error code (e.g., "ERR_207_DOCUMENT_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates the failure is transient.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *DocQAError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *DocQAError) Unwrap() error {
	return e.Cause
}

// Is matches another DocQAError by code, so errors.Is works against
// sentinel values built with New.
func (e *DocQAError) Is(target error) bool {
	if t, ok := target.(*DocQAError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *DocQAError) WithDetail(key, value string) *DocQAError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *DocQAError) WithSuggestion(suggestion string) *DocQAError {
	e.Suggestion = suggestion
	return e
}

// New creates a new DocQAError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *DocQAError {
	return &DocQAError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a DocQAError from an existing error.
func Wrap(code string, err error) *DocQAError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *DocQAError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// NotFoundError reports a document id with no record in the relational store.
func NotFoundError(documentID int64) *DocQAError {
	return New(ErrCodeDocumentNotFound, fmt.Sprintf("document %d not found", documentID), nil).
		WithDetail("document_id", fmt.Sprint(documentID))
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *DocQAError {
	return New(ErrCodeInvalidInput, message, cause)
}

// TransientError creates a retryable network or queue error.
func TransientError(code, message string, cause error) *DocQAError {
	e := New(code, message, cause)
	e.Retryable = true
	if e.Severity == SeverityError {
		e.Severity = SeverityWarning
	}
	return e
}

// CorruptIndexError reports persisted index state that cannot be loaded.
func CorruptIndexError(message string, cause error) *DocQAError {
	return New(ErrCodeCorruptIndex, message, cause).
		WithSuggestion("remove the index directory and re-ingest all documents")
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *DocQAError {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first DocQAError in err's chain.
func As(err error) (*DocQAError, bool) {
	var de *DocQAError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsRetryable reports whether any DocQAError in the chain is retryable.
func IsRetryable(err error) bool {
	if de, ok := As(err); ok {
		return de.Retryable
	}
	return false
}

// IsFatal reports whether the error has fatal severity.
func IsFatal(err error) bool {
	if de, ok := As(err); ok {
		return de.Severity == SeverityFatal
	}
	return false
}

// IsNotFound reports whether the error refers to a missing document.
func IsNotFound(err error) bool {
	return GetCode(err) == ErrCodeDocumentNotFound
}

// GetCode extracts the error code. Returns empty string if not a DocQAError.
func GetCode(err error) string {
	if de, ok := As(err); ok {
		return de.Code
	}
	return ""
}

// GetCategory extracts the category. Returns empty string if not a DocQAError.
func GetCategory(err error) Category {
	if de, ok := As(err); ok {
		return de.Category
	}
	return ""
}

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	de, ok := As(err)
	if !ok {
		de = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", de.Message)
	if de.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", de.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", de.Code)
	return sb.String()
}
