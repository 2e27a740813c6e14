package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/roach88/parlapi/internal/httpapi"
	"github.com/roach88/parlapi/internal/store"
	"github.com/roach88/parlapi/internal/table"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failed (rejected data, failed feed, etc.)
	ExitCommandError = 2 // Command error (bad config, unreachable database, unknown resource)
)

// Error codes reported in CLI output.
const (
	ErrCodeGeneric  = "E001" // Generic/unknown error
	ErrCodeConfig   = "E002" // Config or catalog could not be loaded
	ErrCodeInput    = "E003" // Rejected arguments or data
	ErrCodeDatabase = "E004" // Database unreachable or failing
	ErrCodeNotFound = "E005" // Unknown resource or path
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	ErrCode string // Output error code (ErrCodeConfig, ...); empty means ErrCodeGeneric
	Message string // Error message
	Err     error  // Underlying error (optional)
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

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// Fail reports err and returns it as an ExitError. Errors caused by the
// input exit with ExitFailure, everything else with ExitCommandError.
func (f *OutputFormatter) Fail(message string, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ErrCode
		if code == "" {
			code = ErrCodeGeneric
		}
		_ = f.Error(code, exitErr.Error(), nil)
		return exitErr
	}

	var argErr *ArgError
	code, exit := ErrCodeGeneric, ExitCommandError
	switch status := httpapi.StatusOf(err); {
	case errors.As(err, &argErr):
		code, exit = ErrCodeInput, ExitFailure
	case status == http.StatusNotFound:
		code = ErrCodeNotFound
	case status >= 400 && status < 500:
		code, exit = ErrCodeInput, ExitFailure
	case store.IsQueryError(err):
		code = ErrCodeDatabase
	}
	_ = f.Error(code, fmt.Sprintf("%s: %v", message, err), nil)
	return WrapExitError(exit, message, err)
}

// Rows writes read rows: a JSON array of objects, or an aligned table with
// one header line. NULL renders as nullToken.
func (f *OutputFormatter) Rows(columns []string, rows []store.Row, nullToken string) error {
	if f.Format == "json" {
		return f.Success(rows)
	}
	if len(columns) == 0 {
		columns = rowColumns(rows)
	}

	tw := tabwriter.NewWriter(f.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(columns, "\t"))
	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, col := range columns {
			cells[i] = cell(row[col], nullToken)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	f.VerboseLog("%d row(s)", len(rows))
	return nil
}

// Result writes the outcome of a write operation.
func (f *OutputFormatter) Result(verb string, res table.Result) error {
	if f.Format == "json" {
		return f.Success(res)
	}

	fmt.Fprintf(f.Writer, "✓ %s %d row(s)\n", verb, res.Count)
	for _, k := range res.Keys {
		fmt.Fprintf(f.Writer, "  %s\n", keyText(k))
	}
	return nil
}

func cell(v any, nullToken string) string {
	switch x := v.(type) {
	case nil:
		return nullToken
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func keyText(k any) string {
	row, ok := k.(store.Row)
	if !ok {
		return cell(k, "null")
	}
	cols := rowColumns([]store.Row{row})
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = col + "=" + cell(row[col], "null")
	}
	return strings.Join(parts, " ")
}

// rowColumns returns the sorted union of the columns of rows.
func rowColumns(rows []store.Row) []string {
	seen := map[string]bool{}
	var columns []string
	for _, row := range rows {
		for col := range row {
			if !seen[col] {
				seen[col] = true
				columns = append(columns, col)
			}
		}
	}
	sort.Strings(columns)
	return columns
}
