package api

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a failure class across the engine. Codes are stable
// strings consumed by downstream repair agents, so they must not change
// between releases.
type ErrorCode string

const (
	ErrIRSchema          ErrorCode = "IR_SCHEMA_ERROR"
	ErrIRReference       ErrorCode = "IR_REFERENCE_ERROR"
	ErrIRCycle           ErrorCode = "IR_CYCLE_ERROR"
	ErrRegistryMiss      ErrorCode = "REGISTRY_MISS"
	ErrCompile           ErrorCode = "COMPILE_ERROR"
	ErrTemplateUnresolved ErrorCode = "TEMPLATE_UNRESOLVED"
	ErrTemplateTypeMismatch ErrorCode = "TEMPLATE_TYPE_MISMATCH"
	ErrNodeRuntime       ErrorCode = "NODE_RUNTIME_ERROR"
	ErrNodeTimeout       ErrorCode = "NODE_TIMEOUT"
	ErrNodeAuth          ErrorCode = "NODE_AUTH_ERROR"
	ErrNodeRateLimit     ErrorCode = "NODE_RATE_LIMIT"
	ErrTool              ErrorCode = "TOOL_ERROR"
	ErrMCPProtocol       ErrorCode = "MCP_PROTOCOL_ERROR"
	ErrCancelled         ErrorCode = "CANCELLED"
	ErrInternal          ErrorCode = "INTERNAL_ERROR"
)

// Category buckets error codes for the repair surface. Every per-node error
// record carries exactly one category.
type Category string

const (
	CategorySchema      Category = "schema"
	CategoryTemplate    Category = "template"
	CategoryReference   Category = "reference"
	CategoryNetwork     Category = "network"
	CategoryAuth        Category = "auth"
	CategoryRateLimit   Category = "rate_limit"
	CategoryTool        Category = "tool"
	CategoryRuntime     Category = "runtime"
	CategoryCompilation Category = "compilation"
)

// CategoryOf maps an error code to its repair category.
func CategoryOf(code ErrorCode) Category {
	switch code {
	case ErrIRSchema:
		return CategorySchema
	case ErrIRReference, ErrIRCycle:
		return CategoryReference
	case ErrRegistryMiss, ErrCompile:
		return CategoryCompilation
	case ErrTemplateUnresolved, ErrTemplateTypeMismatch:
		return CategoryTemplate
	case ErrNodeTimeout:
		return CategoryNetwork
	case ErrNodeAuth:
		return CategoryAuth
	case ErrNodeRateLimit:
		return CategoryRateLimit
	case ErrTool, ErrMCPProtocol:
		return CategoryTool
	default:
		return CategoryRuntime
	}
}

// Error is the engine's structured error type. It carries a machine-readable
// code, a short user-facing message, an optional suggestion hint, and
// category-specific detail fields.
type Error struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Suggestion string         `json:"suggestion,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Category returns the repair category for this error.
func (e *Error) Category() Category {
	return CategoryOf(e.Code)
}

// WithDetail attaches a detail field and returns the error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion attaches a suggestion hint and returns the error for chaining.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// NewError constructs a structured engine error.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps err with a structured engine error.
func WrapError(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the error code from err, or ErrInternal when err is not a
// structured engine error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrInternal
}

// AsError extracts the structured engine error from err, or nil.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}
