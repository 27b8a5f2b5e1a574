// Package main provides the entry point for the compoundmcp MCP server.
package main

import (
	"os"

	"github.com/compoundkb/compoundmcp/cmd/compoundmcp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
