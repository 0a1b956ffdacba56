package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ignite/recruit-cdp/internal/cdp"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the operation ran but reported failures
	ExitCommandError = 2 // bad flags, config or backends
	ExitLocked       = 3 // another run holds the sweep lock
)

// ExitError carries an exit code out of a command.
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

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// CLIResponse is the JSON envelope for --format json.
type CLIResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// OutputFormatter writes reports as text summaries or JSON.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Success writes one report.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, summarize(data))
	return err
}

// Error writes a failure. Text mode leaves printing to the caller.
func (f *OutputFormatter) Error(err error) {
	if f.Format == "json" {
		_ = json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Error: err.Error()})
	}
}

func summarize(data any) string {
	switch r := data.(type) {
	case *cdp.PendingReport:
		return withErrors(fmt.Sprintf("processed %d enrollments, sent %d emails", r.Processed, r.EmailsSent), r.Errors)
	case *cdp.AudienceSyncSummary:
		return withErrors(fmt.Sprintf("synced %d segments, %d failed", r.Synced, r.Failed), r.Errors)
	case *cdp.BatchResult:
		return withErrors(fmt.Sprintf("%d submissions: %d created, %d updated, %d failed",
			r.Total, r.Created, r.Updated, r.Failed), r.Errors)
	case *cdp.TriggerResult:
		line := fmt.Sprintf("%s (%s): enrolled=%t", r.FlowName, r.FlowID, r.Enrolled)
		if r.Result != nil {
			line += fmt.Sprintf(" action=%s emails=%d", r.Result.Action, r.Result.EmailsSent)
		}
		if r.Error != "" {
			line += " error: " + r.Error
		}
		return line
	case map[string]any:
		if evals, ok := r["segments"].([]cdp.SegmentEvaluation); ok {
			var b strings.Builder
			fmt.Fprintf(&b, "evaluated %d segments", len(evals))
			for _, e := range evals {
				fmt.Fprintf(&b, "\n  %s: %d members (+%d -%d)", e.SegmentName, len(e.Members), len(e.Added), len(e.Removed))
				if e.Error != "" {
					fmt.Fprintf(&b, " error: %s", e.Error)
				}
			}
			return b.String()
		}
	case fmt.Stringer:
		return r.String()
	}
	return fmt.Sprintf("%v", data)
}

func withErrors(line string, errs []string) string {
	if len(errs) == 0 {
		return line
	}
	return line + "\n  " + strings.Join(errs, "\n  ")
}
