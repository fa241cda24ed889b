package errors

import (
	stderrors "errors"
	"fmt"
)

type ErrorType string

const (
	ErrorTypeIO                 ErrorType = "IO"
	ErrorTypeIndex              ErrorType = "INDEX"
	ErrorTypeRepositoryNotFound ErrorType = "REPOSITORY_NOT_FOUND"
	ErrorTypeContentMissing     ErrorType = "CONTENT_MISSING"
	ErrorTypeCorruptLog         ErrorType = "CORRUPT_LOG"
	ErrorTypeValidation         ErrorType = "VALIDATION"
)

// Process exit codes, from sysexits.h.
const (
	codeUsage   = 64
	codeDataErr = 65
	codeNoInput = 66
	codeIOErr   = 74
)

// Error is a classified failure surfaced to the CLI. Code is the exit code.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details any       `json:"details,omitempty"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Type, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Type == e.Type
}

// Sentinels for errors.Is.
var (
	ErrIO                 = &Error{Type: ErrorTypeIO}
	ErrIndex              = &Error{Type: ErrorTypeIndex}
	ErrRepositoryNotFound = &Error{Type: ErrorTypeRepositoryNotFound}
	ErrContentMissing     = &Error{Type: ErrorTypeContentMissing}
	ErrCorruptLog         = &Error{Type: ErrorTypeCorruptLog}
	ErrValidation         = &Error{Type: ErrorTypeValidation}
)

// IO wraps a filesystem failure on path.
func IO(op, path string, err error) *Error {
	return &Error{
		Type:    ErrorTypeIO,
		Message: fmt.Sprintf("%s %s", op, path),
		Code:    codeIOErr,
		Err:     err,
	}
}

func Index(index, length int) *Error {
	return &Error{
		Type:    ErrorTypeIndex,
		Message: fmt.Sprintf("invalid commit index %d (log has %d commits)", index, length),
		Code:    codeUsage,
		Details: map[string]int{"index": index, "length": length},
	}
}

func RepositoryNotFound(root string) *Error {
	return &Error{
		Type:    ErrorTypeRepositoryNotFound,
		Message: fmt.Sprintf("not a waltz repository: %s (run init first)", root),
		Code:    codeNoInput,
	}
}

// ContentMissing reports a referenced hash with no usable stored bytes.
func ContentMissing(hash, reason string) *Error {
	return &Error{
		Type:    ErrorTypeContentMissing,
		Message: fmt.Sprintf("content %s %s", hash, reason),
		Code:    codeDataErr,
	}
}

func CorruptLog(path string, err error) *Error {
	return &Error{
		Type:    ErrorTypeCorruptLog,
		Message: fmt.Sprintf("corrupt commit log %s", path),
		Code:    codeDataErr,
		Err:     err,
	}
}

func ValidationError(message string, details any) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
		Code:    codeUsage,
		Details: details,
	}
}

// ExitCode returns the exit code for err, 1 for unclassified errors.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if stderrors.As(err, &e) && e.Code != 0 {
		return e.Code
	}
	return 1
}
