// Package errors provides the structured error used by the sdmcfs
// infrastructure layers: configuration, transport, lifecycle and mounting.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/objectfs/sdmcfs/pkg/types"
)

// ErrorCode represents a structured error code for sdmcfs operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration Errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig    ErrorCode = "MISSING_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave       ErrorCode = "CONFIG_SAVE"

	// Connection Errors
	ErrCodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeProtocolError     ErrorCode = "CONNECTION_PROTOCOL"

	// Storage Backend Errors
	ErrCodeBucketNotFound ErrorCode = "BUCKET_NOT_FOUND"
	ErrCodeStorageResult  ErrorCode = "STORAGE_RESULT"
	ErrCodeStorageIO      ErrorCode = "STORAGE_IO"
	ErrCodeAccessDenied   ErrorCode = "ACCESS_DENIED"

	// Filesystem Errors
	ErrCodeMountFailed   ErrorCode = "MOUNT_FAILED"
	ErrCodeUnmountFailed ErrorCode = "UNMOUNT_FAILED"
	ErrCodePathInvalid   ErrorCode = "PATH_INVALID"
	ErrCodeFileNotFound  ErrorCode = "FILE_NOT_FOUND"

	// State Management Errors
	ErrCodeAlreadyStarted ErrorCode = "ALREADY_STARTED"
	ErrCodeNotInitialized ErrorCode = "NOT_INITIALIZED"
	ErrCodeDeviceInit     ErrorCode = "DEVICE_INIT"
	ErrCodeDeviceExit     ErrorCode = "DEVICE_EXIT"

	// Operation Errors
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeOperationFailed   ErrorCode = "OPERATION_FAILED"
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"

	// Internal System Errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnknownError  ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryConnection    ErrorCategory = "connection"
	CategoryStorage       ErrorCategory = "storage"
	CategoryFilesystem    ErrorCategory = "filesystem"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// SDMCError represents a structured error with context and metadata.
type SDMCError struct {
	// Core error information
	Code     ErrorCode      `json:"code"`
	Category ErrorCategory  `json:"category"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`

	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	// Operational metadata
	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`
	Path      string `json:"path,omitempty"`

	// Storage service result and POSIX errno, when known
	Result types.Result  `json:"result,omitempty"`
	Errno  syscall.Errno `json:"errno,omitempty"`

	Retryable  bool `json:"retryable"`
	UserFacing bool `json:"user_facing"`

	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *SDMCError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *SDMCError) Unwrap() error {
	return e.Cause
}

// Is matches another SDMCError by code, and the recorded errno or result
// against bare syscall.Errno and types.Result targets.
func (e *SDMCError) Is(target error) bool {
	switch t := target.(type) {
	case *SDMCError:
		return e.Code == t.Code
	case syscall.Errno:
		return e.Errno != 0 && e.Errno == t
	case types.Result:
		return e.Result != 0 && e.Result == t
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *SDMCError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("Path=%q", e.Path))
	}
	if e.Result != 0 {
		parts = append(parts, fmt.Sprintf("Result=%s", e.Result))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("Errno=%d", int(e.Errno)))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("SDMCError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *SDMCError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new error with default values.
func NewError(code ErrorCode, message string) *SDMCError {
	return &SDMCError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]any),
		Retryable:  IsRetryableByDefault(code),
		UserFacing: IsUserFacingByDefault(code),
	}
}

// Wrap creates an error with code around cause. A storage result or errno
// found in the cause chain is recorded on the new error.
func Wrap(cause error, code ErrorCode, message string) *SDMCError {
	e := NewError(code, message).WithCause(cause)

	var result types.Result
	if errors.As(cause, &result) {
		e.Result = result
	}
	var errno syscall.Errno
	if errors.As(cause, &errno) {
		e.Errno = errno
	}
	return e
}

// CodeOf returns the code of the first SDMCError in err's chain, or
// ErrCodeUnknownError.
func CodeOf(err error) ErrorCode {
	var e *SDMCError
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeUnknownError
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "MISSING_CONFIG") ||
		strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "CONNECTION_"):
		return CategoryConnection
	case strings.HasPrefix(codeStr, "BUCKET_") || strings.HasPrefix(codeStr, "STORAGE_") ||
		strings.HasPrefix(codeStr, "ACCESS_"):
		return CategoryStorage
	case strings.HasPrefix(codeStr, "MOUNT_") || strings.HasPrefix(codeStr, "UNMOUNT_") ||
		strings.HasPrefix(codeStr, "PATH_") || strings.HasPrefix(codeStr, "FILE_"):
		return CategoryFilesystem
	case strings.HasPrefix(codeStr, "ALREADY_") || strings.HasPrefix(codeStr, "NOT_INITIALIZED") ||
		strings.HasPrefix(codeStr, "DEVICE_"):
		return CategoryState
	case strings.HasPrefix(codeStr, "OPERATION_") || strings.HasPrefix(codeStr, "VALIDATION_"):
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeConnectionTimeout: true,
		ErrCodeConnectionFailed:  true,
		ErrCodeOperationTimeout:  true,
		ErrCodeStorageIO:         true,
	}
	return retryableCodes[code]
}

// IsUserFacingByDefault determines if an error should be shown to users.
func IsUserFacingByDefault(code ErrorCode) bool {
	userFacingCodes := map[ErrorCode]bool{
		ErrCodeInvalidConfig:    true,
		ErrCodeMissingConfig:    true,
		ErrCodeConfigValidation: true,
		ErrCodeConfigLoad:       true,
		ErrCodePathInvalid:      true,
		ErrCodeFileNotFound:     true,
		ErrCodeAccessDenied:     true,
		ErrCodeBucketNotFound:   true,
		ErrCodeMountFailed:      true,
		ErrCodeConnectionFailed: true,
		ErrCodeOperationTimeout: true,
		ErrCodeValidationFailed: true,
	}
	return userFacingCodes[code]
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithDetail adds detailed information to an error
func (e *SDMCError) WithDetail(key string, value any) *SDMCError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *SDMCError) WithComponent(component string) *SDMCError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *SDMCError) WithOperation(operation string) *SDMCError {
	e.Operation = operation
	return e
}

// WithPath records the device or host path involved
func (e *SDMCError) WithPath(path string) *SDMCError {
	e.Path = path
	return e
}

// WithCause sets the underlying cause
func (e *SDMCError) WithCause(cause error) *SDMCError {
	e.Cause = cause
	return e
}

// WithResult records the storage service result
func (e *SDMCError) WithResult(result types.Result) *SDMCError {
	e.Result = result
	return e
}

// WithErrno records the POSIX errno
func (e *SDMCError) WithErrno(errno syscall.Errno) *SDMCError {
	e.Errno = errno
	return e
}

// WithStack captures the current stack trace
func (e *SDMCError) WithStack() *SDMCError {
	e.Stack = CaptureStack(2)
	return e
}

// GetRecommendation returns a user-friendly recommendation for fixing the error
func (e *SDMCError) GetRecommendation() string {
	recommendations := map[ErrorCode]string{
		ErrCodeConnectionFailed: "Check that the storage service is running " +
			"and that backend.socket_path points at its socket.",
		ErrCodeConnectionTimeout: "The storage service did not answer in time. " +
			"Check its logs for stalled requests.",
		ErrCodeBucketNotFound: "The configured S3 bucket does not exist or is not accessible. " +
			"Verify backend.s3.bucket and your AWS credentials.",
		ErrCodeAccessDenied: "Credentials lack the necessary permissions. " +
			"The S3 backend needs s3:GetObject, s3:PutObject, s3:DeleteObject and s3:ListBucket.",
		ErrCodeInvalidConfig: "Configuration validation failed. " +
			"Check your configuration file syntax and required parameters.",
		ErrCodeConfigValidation: "Configuration validation failed. " +
			"Check your configuration file syntax and required parameters.",
		ErrCodeMountFailed: "Failed to mount the device. " +
			"Check mount point permissions and ensure FUSE is installed.",
		ErrCodeDeviceInit: "The storage service refused to open the SD card archive. " +
			"Check that the backend is reachable and the archive is available.",
		ErrCodeStorageResult: "The storage service reported a failure. " +
			"The result code fields identify the failing module.",
	}

	if rec, exists := recommendations[e.Code]; exists {
		return rec
	}
	return "Please check the error message for details."
}

// UserFacingMessage returns a simplified message suitable for end users
func (e *SDMCError) UserFacingMessage() string {
	if !e.UserFacing {
		return "An internal error occurred."
	}

	messages := map[ErrorCode]string{
		ErrCodeConnectionFailed: "Cannot reach the storage service",
		ErrCodeBucketNotFound:   "Storage bucket not found",
		ErrCodeAccessDenied:     "Access denied - check permissions",
		ErrCodeInvalidConfig:    "Invalid configuration",
		ErrCodeMountFailed:      "Failed to mount the device",
		ErrCodeFileNotFound:     "File not found",
		ErrCodeOperationTimeout: "Operation timed out",
	}

	if msg, exists := messages[e.Code]; exists {
		return msg
	}
	return e.Message
}

// DetailedDiagnostic returns a comprehensive diagnostic message
func (e *SDMCError) DetailedDiagnostic() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Error: %s", e.UserFacingMessage()))
	parts = append(parts, fmt.Sprintf("Code: %s", e.Code))
	parts = append(parts, fmt.Sprintf("Category: %s", e.Category))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component: %s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation: %s", e.Operation))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("Path: %s", e.Path))
	}
	if e.Result != 0 {
		parts = append(parts, fmt.Sprintf("Result: %s (level=%d summary=%d module=%d description=%d)",
			e.Result, e.Result.Level(), e.Result.Summary(), e.Result.Module(), e.Result.Description()))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("Errno: %d (%s)", int(e.Errno), e.Errno.Error()))
	}

	if len(e.Details) > 0 {
		parts = append(parts, "\nDetails:")
		for k, v := range e.Details {
			parts = append(parts, fmt.Sprintf("  %s: %v", k, v))
		}
	}

	parts = append(parts, "\nRecommendation:")
	parts = append(parts, "  "+e.GetRecommendation())

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("\nUnderlying cause: %s", e.Cause.Error()))
	}

	return strings.Join(parts, "\n")
}
