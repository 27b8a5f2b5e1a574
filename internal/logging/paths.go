package logging

import (
	"os"
	"path/filepath"
)

// StateDir returns the per-user state directory (~/.compoundmcp).
// Falls back to the temp directory when the home directory is unavailable.
func StateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".compoundmcp")
	}
	return filepath.Join(home, ".compoundmcp")
}

// DefaultLogDir returns the default log directory (~/.compoundmcp/logs).
func DefaultLogDir() string {
	return filepath.Join(StateDir(), "logs")
}

// DefaultLogPath returns the default server log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "server.log")
}
