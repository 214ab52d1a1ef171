package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/okian/rollcall/internal/client"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The server refused the request
	ExitCommandError = 2 // Bad arguments or the server could not be reached
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// remoteError classifies a client error: API refusals exit 1, transport
// failures exit 2.
func remoteError(action string, err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return WrapExitError(ExitFailure, action, err)
	}
	return WrapExitError(ExitCommandError, action, err)
}

// printer writes a result either as indented JSON or through a text renderer.
type printer struct {
	format string
	w      io.Writer
}

func (p printer) print(data any, text func(w io.Writer)) error {
	if p.format == "json" {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	text(p.w)
	return nil
}
