package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatConfiguration ErrorCategory = "configuration" // Missing or invalid settings
	ErrCatLiveness      ErrorCategory = "liveness"      // Observed process cannot be identified
	ErrCatPackaging     ErrorCategory = "packaging"     // Attachment compression failed
	ErrCatDecode        ErrorCategory = "decode"        // Notes not decodable
	ErrCatDelivery      ErrorCategory = "delivery"      // Relay connect/auth/send failed
	ErrCatRetention     ErrorCategory = "retention"     // Unparseable history folder
	ErrCatInternal      ErrorCategory = "internal"      // Unexpected internal error
)

// DomainError represents a structured error from the notification pipeline.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrConfiguration creates a configuration error. Raised before monitoring starts.
func ErrConfiguration(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatConfiguration,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrLiveness creates a liveness error. The pipeline fails closed and sends nothing.
func ErrLiveness(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatLiveness,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrPackaging creates a per-path packaging error.
func ErrPackaging(path, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatPackaging,
		Code:      CodeCompressFailed,
		Message:   fmt.Sprintf("%s: %s", path, message),
		Retryable: false,
		Details:   map[string]interface{}{"path": path},
	}
}

// ErrDecode creates a decode error for a text file.
func ErrDecode(path, encoding string) *DomainError {
	return &DomainError{
		Category:  ErrCatDecode,
		Code:      CodeDecodeFailed,
		Message:   fmt.Sprintf("%s is not valid %s", path, encoding),
		Retryable: false,
		Details:   map[string]interface{}{"path": path, "encoding": encoding},
	}
}

// ErrDelivery creates a delivery error. Delivery is retryable: the session stays on disk.
func ErrDelivery(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatDelivery,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrRetention creates a retention error for a history folder that cannot be parsed.
func ErrRetention(folder string) *DomainError {
	return &DomainError{
		Category:  ErrCatRetention,
		Code:      CodeBadFolderName,
		Message:   fmt.Sprintf("history folder %q is not a run timestamp", folder),
		Retryable: false,
		Details:   map[string]interface{}{"folder": folder},
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return IsCategory(err, ErrCatConfiguration) }

// IsLiveness reports whether err is a liveness error.
func IsLiveness(err error) bool { return IsCategory(err, ErrCatLiveness) }

// IsDelivery reports whether err is a delivery error.
func IsDelivery(err error) bool { return IsCategory(err, ErrCatDelivery) }

// IsRetention reports whether err is a retention error.
func IsRetention(err error) bool { return IsCategory(err, ErrCatRetention) }

// Predefined error codes
const (
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeRootUnavailable  = "ROOT_UNAVAILABLE"
	CodeStaleSession     = "STALE_SESSION"
	CodeNoProcess        = "NO_PROCESS"
	CodeProbeFailed      = "PROBE_FAILED"
	CodeCompressFailed   = "COMPRESS_FAILED"
	CodeDecodeFailed     = "DECODE_FAILED"
	CodeNoRecipients     = "NO_RECIPIENTS"
	CodeBuildFailed      = "BUILD_FAILED"
	CodeRelayUnreachable = "RELAY_UNREACHABLE"
	CodeSendFailed       = "SEND_FAILED"
	CodeBadFolderName    = "BAD_FOLDER_NAME"
	CodeMissingArtifact  = "MISSING_ARTIFACT"
)
