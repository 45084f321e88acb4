package errors

import (
	"errors"
	"fmt"
)

// Kind groups error codes into the failure classes callers branch on
type Kind string

const (
	KindInvalidInput         Kind = "InvalidInput"
	KindNotPublic            Kind = "NotPublic"
	KindNotVideo             Kind = "NotVideo"
	KindUpstreamBlocked      Kind = "UpstreamBlocked"
	KindExtractionExhausted  Kind = "ExtractionExhausted"
	KindToolUnavailable      Kind = "ToolUnavailable"
	KindToolFailed           Kind = "ToolFailed"
	KindToolTimeout          Kind = "ToolTimeout"
	KindStreamingInterrupted Kind = "StreamingInterrupted"
	KindPlatformDisabled     Kind = "PlatformDisabled"
	KindRateLimited          Kind = "RateLimited"
	KindInternal             Kind = "Internal"
)

// CustomError represents an application error with metadata
type CustomError struct {
	Kind       Kind        // Failure class
	Code       string      // Machine-readable error code
	Message    string      // Human-readable message
	StatusCode int         // HTTP status code
	Cause      error       // Underlying error
	Details    interface{} // Additional error details
}

// Error implements the error interface
func (e *CustomError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface for wrapping errors
func (e *CustomError) Unwrap() error {
	return e.Cause
}

// Is checks if an error is of a specific type
func (e *CustomError) Is(target error) bool {
	t, ok := target.(*CustomError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewCustomError creates a new custom error
func NewCustomError(kind Kind, code string, message string, statusCode int) *CustomError {
	return &CustomError{
		Kind:       kind,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WithCause returns a copy carrying the underlying error
func (e *CustomError) WithCause(err error) *CustomError {
	c := *e
	c.Cause = err
	return &c
}

// WithDetails returns a copy carrying additional error details
func (e *CustomError) WithDetails(details interface{}) *CustomError {
	c := *e
	c.Details = details
	return &c
}

// WithMessage returns a copy with a more specific message
func (e *CustomError) WithMessage(format string, args ...interface{}) *CustomError {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

// Pre-defined errors
var (
	// Classification and validation errors (400)
	ErrInvalidURL = NewCustomError(KindInvalidInput,
		"INVALID_URL",
		"The provided URL is not a valid http(s) URL",
		400,
	)

	ErrUnsupportedPlatform = NewCustomError(KindInvalidInput,
		"UNSUPPORTED_PLATFORM",
		"The URL does not belong to a supported platform",
		400,
	)

	ErrIDNotExtractable = NewCustomError(KindInvalidInput,
		"ID_NOT_EXTRACTABLE",
		"Could not find a post or video id in the URL",
		400,
	)

	ErrMissingParameter = NewCustomError(KindInvalidInput,
		"MISSING_PARAMETER",
		"A required parameter is missing",
		400,
	)

	ErrInvalidRequest = NewCustomError(KindInvalidInput,
		"INVALID_REQUEST",
		"The request body could not be read",
		400,
	)

	ErrNotVideo = NewCustomError(KindNotVideo,
		"NOT_VIDEO",
		"This post is not a video",
		400,
	)

	// Upstream visibility (401)
	ErrNotPublic = NewCustomError(KindNotPublic,
		"NOT_PUBLIC",
		"Video link for this post is not public.",
		401,
	)

	// Upstream refusal
	ErrPermanentlyBlocked = NewCustomError(KindUpstreamBlocked,
		"PERMANENTLY_BLOCKED",
		"Downloads from this platform are blocked upstream",
		403,
	)

	ErrUpstreamBlocked = NewCustomError(KindUpstreamBlocked,
		"UPSTREAM_BLOCKED",
		"The platform refused the request. Please try again later",
		503,
	)

	// Rate limiting (429)
	ErrRateLimited = NewCustomError(KindRateLimited,
		"RATE_LIMITED",
		"Too many requests. Please try again later",
		429,
	)

	// Server errors (500)
	ErrInternal = NewCustomError(KindInternal,
		"INTERNAL_ERROR",
		"An internal server error occurred",
		500,
	)

	ErrExtractionExhausted = NewCustomError(KindExtractionExhausted,
		"EXTRACTION_EXHAUSTED",
		"Could not extract a video from this post",
		500,
	)

	ErrFileNotCreated = NewCustomError(KindToolFailed,
		"FILE_NOT_CREATED",
		"file not created",
		500,
	)

	ErrPlatformDisabled = NewCustomError(KindPlatformDisabled,
		"PLATFORM_DISABLED",
		"Server-side downloads are disabled for this platform",
		501,
	)

	ErrToolFailed = NewCustomError(KindToolFailed,
		"TOOL_FAILED",
		"The media download tool failed",
		502,
	)

	ErrUpstreamMedia = NewCustomError(KindStreamingInterrupted,
		"UPSTREAM_MEDIA_ERROR",
		"The media host refused to serve the file. Resolve the post again",
		502,
	)

	ErrStreamingInterrupted = NewCustomError(KindStreamingInterrupted,
		"STREAMING_INTERRUPTED",
		"The media stream was interrupted",
		502,
	)

	ErrToolUnavailable = NewCustomError(KindToolUnavailable,
		"TOOL_UNAVAILABLE",
		"The media download tool is not available",
		503,
	)

	ErrToolTimeout = NewCustomError(KindToolTimeout,
		"TOOL_TIMEOUT",
		"The media download tool timed out",
		504,
	)

	ErrResolutionTimeout = NewCustomError(KindExtractionExhausted,
		"RESOLUTION_TIMEOUT",
		"Resolving this post took too long",
		504,
	)

	ErrConfigInvalid = NewCustomError(KindInternal,
		"CONFIG_ERROR",
		"Configuration is invalid",
		500,
	)
)

// IsCustomError checks if an error is a CustomError
func IsCustomError(err error) bool {
	var customErr *CustomError
	return errors.As(err, &customErr)
}

// KindOf extracts the failure class from an error
func KindOf(err error) Kind {
	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr.Kind
	}
	return KindInternal
}

// GetStatusCode extracts HTTP status code from an error
func GetStatusCode(err error) int {
	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr.StatusCode
	}
	return 500 // Default to internal server error
}

// GetErrorCode extracts error code from an error
func GetErrorCode(err error) string {
	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetErrorMessage extracts human-readable message from an error
func GetErrorMessage(err error) string {
	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr.Message
	}
	return "An unknown error occurred"
}

// GetDetails extracts additional details from an error, if any
func GetDetails(err error) interface{} {
	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr.Details
	}
	return nil
}
