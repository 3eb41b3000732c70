package errors

import "fmt"

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	// Transient errors are retried with backoff at the point of occurrence
	ErrorTypeNetwork      ErrorType = "network"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeStaleElement ErrorType = "stale_element"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeServerError  ErrorType = "server_error"

	// Structural errors abort only the current entity or mutation
	ErrorTypeSchema     ErrorType = "schema"
	ErrorTypeParsing    ErrorType = "parsing"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeValidation ErrorType = "validation"

	// Session errors pause the run and trigger re-acquisition
	ErrorTypeAuth           ErrorType = "auth"
	ErrorTypeSessionExpired ErrorType = "session_expired"

	// Fatal errors abort the entire run
	ErrorTypeLocale       ErrorType = "locale_unsupported"
	ErrorTypeCredentials  ErrorType = "credentials_missing"
	ErrorTypeStoreCorrupt ErrorType = "store_corrupt"

	ErrorTypeUnknown ErrorType = "unknown"
)

// Category groups error types by how the run reacts to them.
type Category string

const (
	CategoryTransient  Category = "transient"
	CategoryStructural Category = "structural"
	CategorySession    Category = "session"
	CategoryFatal      Category = "fatal"
	CategoryUnknown    Category = "unknown"
)

// Error represents a typed error with taxonomy information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// New creates a typed error without an associated code
func New(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// Newf creates a typed error with a formatted message
func Newf(t ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...)}
}

// CategoryOf maps an error type to its handling category
func CategoryOf(errorType ErrorType) Category {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeStaleElement, ErrorTypeTimeout, ErrorTypeServerError:
		return CategoryTransient
	case ErrorTypeSchema, ErrorTypeParsing, ErrorTypeNotFound, ErrorTypeConflict, ErrorTypeValidation:
		return CategoryStructural
	case ErrorTypeAuth, ErrorTypeSessionExpired:
		return CategorySession
	case ErrorTypeLocale, ErrorTypeCredentials, ErrorTypeStoreCorrupt:
		return CategoryFatal
	default:
		return CategoryUnknown
	}
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	return CategoryOf(errorType) == CategoryTransient
}

// IsFatal checks if an error type aborts the entire run
func IsFatal(errorType ErrorType) bool {
	return CategoryOf(errorType) == CategoryFatal
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504: // Server errors
		return true
	case 400, 401, 403, 404, 409: // Client errors that won't change
		return false
	default:
		return statusCode >= 500 // Retry all 5xx errors
	}
}
