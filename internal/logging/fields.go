package logging

import (
	"log/slog"
	"time"
)

// Stable field names used across every log record. Tooling that tails the
// stderr stream keys off these; do not rename.
const (
	FieldProjectName   = "project_name"
	FieldBranchName    = "branch_name"
	FieldDocumentPath  = "document_path"
	FieldToolName      = "tool_name"
	FieldElapsedMS     = "elapsed_ms"
	FieldCorrelationID = "correlation_id"
	FieldEventType     = "event_type"
	FieldAttemptNumber = "attempt_number"
	FieldErrorCode     = "error_code"
)

// Project returns the project_name attribute.
func Project(name string) slog.Attr { return slog.String(FieldProjectName, name) }

// Branch returns the branch_name attribute.
func Branch(name string) slog.Attr { return slog.String(FieldBranchName, name) }

// DocPath returns the document_path attribute.
func DocPath(path string) slog.Attr { return slog.String(FieldDocumentPath, path) }

// Tool returns the tool_name attribute.
func Tool(name string) slog.Attr { return slog.String(FieldToolName, name) }

// Elapsed returns the elapsed_ms attribute for a duration.
func Elapsed(d time.Duration) slog.Attr { return slog.Int64(FieldElapsedMS, d.Milliseconds()) }

// Correlation returns the correlation_id attribute.
func Correlation(id string) slog.Attr { return slog.String(FieldCorrelationID, id) }

// EventType returns the event_type attribute.
func EventType(t string) slog.Attr { return slog.String(FieldEventType, t) }

// Attempt returns the attempt_number attribute.
func Attempt(n int) slog.Attr { return slog.Int(FieldAttemptNumber, n) }

// ErrorCode returns the error_code attribute.
func ErrorCode(code string) slog.Attr { return slog.String(FieldErrorCode, code) }
