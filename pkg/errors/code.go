package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Workspace errors
// 12000-12999: Toolchain & build errors
// 13000-13999: Dependency errors
// 14000-14999: Remote build service errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303
	CodeTooLarge       ErrorCode = 10304

	// ========== Workspace Errors (11000-11999) ==========

	WorkspaceError     ErrorCode = 11000
	WorkspaceNotFound  ErrorCode = 11001
	ConfigWriteFailed  ErrorCode = 11100
	ConfigReadFailed   ErrorCode = 11101
	SourceWriteFailed  ErrorCode = 11200
	ArtifactCleanError ErrorCode = 11300

	// ========== Toolchain Errors (12000-12999) ==========

	ToolchainUnavailable ErrorCode = 12000
	ToolchainTimeout     ErrorCode = 12001
	ToolchainFailed      ErrorCode = 12002
	OutputParseFailed    ErrorCode = 12003
	CompilationError     ErrorCode = 12100
	TestFailed           ErrorCode = 12101

	// ========== Dependency Errors (13000-13999) ==========

	DependencyInstallFailed ErrorCode = 13000
	DependencySourceInvalid ErrorCode = 13001
	DependencyHashMismatch  ErrorCode = 13002

	// ========== Remote Build Service Errors (14000-14999) ==========

	RemoteServiceError       ErrorCode = 14000
	RemoteServiceUnreachable ErrorCode = 14001
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	CacheError: "Cache operation failed",
	LockFailed: "Failed to acquire lock",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",
	CodeTooLarge:       "Code is too large",

	WorkspaceError:     "Workspace operation failed",
	WorkspaceNotFound:  "Workspace not found",
	ConfigWriteFailed:  "Failed to write toolchain config",
	ConfigReadFailed:   "Failed to read toolchain config",
	SourceWriteFailed:  "Failed to write source file",
	ArtifactCleanError: "Failed to clean build artifacts",

	ToolchainUnavailable: "Toolchain could not be started",
	ToolchainTimeout:     "Toolchain run timed out",
	ToolchainFailed:      "Toolchain reported failure",
	OutputParseFailed:    "Toolchain output could not be interpreted",
	CompilationError:     "Compilation error",
	TestFailed:           "Tests failed",

	DependencyInstallFailed: "Dependency installation failed",
	DependencySourceInvalid: "Invalid dependency source",
	DependencyHashMismatch:  "Dependency archive hash mismatch",

	RemoteServiceError:       "Remote build service error",
	RemoteServiceUnreachable: "Remote build service unreachable",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return http.StatusOK
	case c == Unauthorized:
		return http.StatusUnauthorized
	case c == Forbidden:
		return http.StatusForbidden
	case c == NotFound, c == WorkspaceNotFound:
		return http.StatusNotFound
	case c == TooManyRequests, c == LockFailed:
		return http.StatusTooManyRequests
	case c == ServiceUnavailable, c == ToolchainUnavailable:
		return http.StatusServiceUnavailable
	case c == Timeout, c == ToolchainTimeout:
		return http.StatusGatewayTimeout
	case c >= 14000 && c < 15000: // Remote build service errors
		return http.StatusBadGateway
	case c == CodeTooLarge:
		return http.StatusRequestEntityTooLarge
	case c >= 10300 && c < 10400: // Validation errors
		return http.StatusBadRequest
	case c == InvalidParams, c == DependencySourceInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
