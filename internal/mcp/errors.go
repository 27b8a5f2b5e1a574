package mcp

import (
	"fmt"

	enginerr "github.com/compoundkb/compoundmcp/internal/errors"
)

// toolError renders an engine error as the structured JSON payload the
// client contract promises: stable code, message, details, suggestion.
// The SDK puts the error message into the tool result, so the message IS
// the payload.
func toolError(err error) error {
	if err == nil {
		return nil
	}
	data, ferr := enginerr.FormatJSON(err)
	if ferr != nil {
		return err
	}
	return fmt.Errorf("%s", data)
}
