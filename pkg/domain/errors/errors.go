// Package errors provides the coded error type shared by the registry, executor and server.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
)

// Error represents a structured error with code and context
type Error struct {
	Code    Code           `json:"code"`
	Domain  string         `json:"domain,omitempty"`
	Message string         `json:"message"`
	Cause   error          `json:"-"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// New creates a new error with the given code, domain, message, and optional cause
func New(code Code, domain string, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Domain:  domain,
		Message: message,
		Cause:   cause,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Domain, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Domain, e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// With attaches a context field and returns the same error for chaining.
func (e *Error) With(key string, val any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any, 4)
	}
	e.Fields[key] = val
	return e
}

// JSON renders the error for transport back to a caller.
func (e *Error) JSON() string {
	payload := struct {
		*Error
		Cause string `json:"cause,omitempty"`
	}{Error: e}
	if e.Cause != nil {
		payload.Cause = e.Cause.Error()
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"code":%q,"message":%q}`, e.Code, e.Message)
	}
	return string(out)
}

// CodeOf returns the code of the first *Error in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// As exposes the standard library lookup so callers need only this package.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// DescriptorParseError reports a malformed or incomplete tool document.
func DescriptorParseError(path, msg string, cause error) *Error {
	return New(CodeDescriptorInvalid, "descriptor", fmt.Sprintf("%s: %s", path, msg), cause).
		With("path", path)
}

// DuplicateToolError reports a name collision at registration.
func DuplicateToolError(name string) *Error {
	return New(CodeToolAlreadyRegistered, "registry", fmt.Sprintf("tool %q is already registered", name), nil).
		With("tool", name)
}

// UnknownToolError reports a request for a name that was never registered.
func UnknownToolError(name string) *Error {
	return New(CodeToolNotFound, "registry", fmt.Sprintf("tool %q is not registered", name), nil).
		With("tool", name)
}

// ArgumentValidationError lists every violation found in a request.
func ArgumentValidationError(tool string, violations []string) *Error {
	return New(CodeValidationFailed, "validation",
		fmt.Sprintf("invalid arguments for %s: %s", tool, strings.Join(violations, "; ")), nil).
		With("tool", tool).
		With("violations", violations)
}

// ExecutionError wraps a failure of the underlying command.
func ExecutionError(tool, msg string, cause error) *Error {
	return New(CodeToolExecutionFailed, "execution", fmt.Sprintf("%s: %s", tool, msg), cause).
		With("tool", tool)
}

// TimeoutError is the ExecutionError raised when a command outlives its deadline.
func TimeoutError(tool string, cause error) *Error {
	return New(CodeTimeoutError, "execution", fmt.Sprintf("%s: execution timed out", tool), cause).
		With("tool", tool)
}

func IsDescriptorParse(err error) bool { return CodeOf(err) == CodeDescriptorInvalid }
func IsDuplicateTool(err error) bool   { return CodeOf(err) == CodeToolAlreadyRegistered }
func IsUnknownTool(err error) bool     { return CodeOf(err) == CodeToolNotFound }
func IsValidation(err error) bool      { return CodeOf(err) == CodeValidationFailed }

// IsExecution reports both plain execution failures and timeouts.
func IsExecution(err error) bool {
	code := CodeOf(err)
	return code == CodeToolExecutionFailed || code == CodeTimeoutError
}

// Violations returns the violation list carried by an ArgumentValidationError.
func Violations(err error) []string {
	var e *Error
	if !stderrors.As(err, &e) || e.Fields == nil {
		return nil
	}
	v, _ := e.Fields["violations"].([]string)
	return v
}
