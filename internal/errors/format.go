package errors

import (
	"encoding/json"
	"log/slog"
)

// jsonError is the JSON representation of an error returned to tool callers.
type jsonError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Category   string         `json:"category"`
	Severity   string         `json:"severity"`
	Details    map[string]any `json:"details,omitempty"`
	Suggestion string         `json:"suggestion,omitempty"`
	Retryable  bool           `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error.
// Causes are deliberately omitted: they may carry driver-level detail
// (SQL text, host addresses) that does not belong in tool responses.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	ee := AsEngineError(err)
	if ee == nil {
		ee = Internal(err)
	}

	return json.Marshal(jsonError{
		Code:       ee.Code,
		Message:    ee.Message,
		Category:   string(ee.Category),
		Severity:   string(ee.Severity),
		Details:    ee.Details,
		Suggestion: ee.Suggestion,
		Retryable:  ee.Retryable,
	})
}

// LogAttrs returns slog attributes for an error using the stable field names.
func LogAttrs(err error) []slog.Attr {
	if err == nil {
		return nil
	}

	ee := AsEngineError(err)
	if ee == nil {
		return []slog.Attr{slog.String("error", err.Error())}
	}

	attrs := []slog.Attr{
		slog.String("error_code", ee.Code),
		slog.String("message", ee.Message),
		slog.String("category", string(ee.Category)),
		slog.Bool("retryable", ee.Retryable),
	}
	if ee.Cause != nil {
		attrs = append(attrs, slog.String("cause", ee.Cause.Error()))
	}
	if id, ok := ee.Detail("correlation_id").(string); ok {
		attrs = append(attrs, slog.String("correlation_id", id))
	}
	return attrs
}
