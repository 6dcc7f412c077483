package core

import (
	"errors"
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: element_not_found, condition_timeout, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context (locator, timeout, ...)
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an ExecutionError with the same code.
// Copies made with WithCause/WithMessage/WithDetails still match their sentinel.
func (e *ExecutionError) Is(target error) bool {
	var t *ExecutionError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithMessagef is WithMessage with formatting.
func (e *ExecutionError) WithMessagef(format string, args ...interface{}) *ExecutionError {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors (codes follow the W3C WebDriver error names where one exists)
var (
	// Locator errors
	ErrInvalidLocator = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_locator_syntax",
		Message:  "invalid locator syntax",
	}

	// Assertion errors
	ErrElementNotFound = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "element_not_found",
		Message:  "element not found",
	}
	ErrStaleElement = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "stale_element",
		Message:  "element is no longer attached to the document",
	}
	ErrElementNotVisible = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "element_not_visible",
		Message:  "element not visible",
	}
	ErrElementVisible = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "element_visible",
		Message:  "element is visible",
	}
	ErrTextMismatch = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "text_mismatch",
		Message:  "text does not match expected value",
	}
	ErrConditionNotMet = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "condition_not_met",
		Message:  "condition was not met",
	}
	ErrOptionNotFound = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "option_not_found",
		Message:  "no option with the given text",
	}
	ErrNoAlert = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "no_such_alert",
		Message:  "no alert is open",
	}
	ErrNoSuchWindow = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "no_such_window",
		Message:  "window not found",
	}
	ErrNoSuchFrame = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "no_such_frame",
		Message:  "frame not found",
	}

	// Timeout errors
	ErrConditionTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "condition_timeout",
		Message:  "wait condition timed out",
	}

	// Connection errors
	ErrBrowserUnreachable = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "browser_unreachable",
		Message:  "browser is not reachable",
	}

	// Page errors
	ErrScriptFailed = &ExecutionError{
		Category: ErrCategoryPage,
		Code:     "javascript_error",
		Message:  "script execution failed",
	}

	// Config errors
	ErrUnsupported = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "unsupported_operation",
		Message:  "operation not supported by this browser backend",
	}
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
	ErrMissingRequired = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "missing_required",
		Message:  "missing required field",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// CategoryOf returns the category of the first ExecutionError in err's chain.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryNone
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Category
	}
	return ErrCategoryPage
}
