package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/loomworks/weft/internal/fabric"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Verification mismatch, drift rejection, etc.
	ExitCommandError = 2 // Command error (bad flags, missing config, ...)
)

// ExitError carries a specific exit code out of a command.
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

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError creates an ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Formatter handles JSON vs text output for CLI commands.
type Formatter struct {
	Format  string
	Writer  io.Writer
	Verbose bool
}

// Response is the standard JSON envelope for CLI output.
type Response struct {
	Status string         `json:"status"` // "ok" or "error"
	Data   interface{}    `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError is the error structure for CLI responses. Code carries
// the fabric error category when one applies.
type ResponseError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// JSON outputs data wrapped in the ok envelope when the format is json
// and returns true; text-format callers print their own representation.
func (f *Formatter) JSON(data interface{}) (bool, error) {
	if f.Format != "json" {
		return false, nil
	}
	return true, json.NewEncoder(f.Writer).Encode(Response{Status: "ok", Data: data})
}

// Textf prints formatted text output unless the format is json.
func (f *Formatter) Textf(format string, args ...interface{}) {
	if f.Format == "json" {
		return
	}
	fmt.Fprintf(f.Writer, format+"\n", args...)
}

// Fail emits the error in the configured format and wraps it with the
// exit code. The fabric error category, when present, becomes the
// response code.
func (f *Formatter) Fail(exitCode int, message string, err error) error {
	code := ""
	var fe *fabric.FabricError
	if errors.As(err, &fe) {
		code = string(fe.Code)
	}
	if f.Format == "json" {
		_ = json.NewEncoder(f.Writer).Encode(Response{
			Status: "error",
			Error:  &ResponseError{Code: code, Message: fmt.Sprintf("%s: %v", message, err)},
		})
	}
	return WrapExitError(exitCode, message, err)
}
