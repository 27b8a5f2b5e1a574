// Package tenant holds the single-active-project session state and the
// tenant keying scheme.
//
// Every store query issued anywhere in the engine carries the tenant triple
// (project name, branch name, path hash); this package is the only source of
// that triple. At most one project is active per process, and only the
// activation orchestrator transitions the state.
package tenant

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// Key is the tenant triple identifying a project+branch+worktree.
type Key struct {
	ProjectName string `json:"project_name"`
	BranchName  string `json:"branch_name"`
	PathHash    string `json:"path_hash"`
}

// Info describes the currently active project.
type Info struct {
	// ConfigPath is the project config file the activation used.
	ConfigPath string `json:"config_path"`
	// RepoRoot is the absolute repository root the path hash derives from.
	RepoRoot string `json:"repo_root"`
	// Key is the tenant triple.
	Key Key `json:"key"`
	// ActivatedAt is when activation completed.
	ActivatedAt time.Time `json:"activated_at"`
}

// State is the process-wide session state: either inactive or active with
// exactly one Info. Readers vastly outnumber writers (activation only), so
// access goes through a reader/writer lock.
type State struct {
	mu     sync.RWMutex
	active *Info
}

// NewState returns an inactive session state.
func NewState() *State {
	return &State{}
}

// Active returns the active project info and whether a project is active.
// The returned Info is a copy; callers cannot mutate the state through it.
func (s *State) Active() (Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.active == nil {
		return Info{}, false
	}
	return *s.active, true
}

// SetActive installs info as the active project, replacing any previous one.
func (s *State) SetActive(info Info) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := info
	s.active = &copied
}

// Clear transitions the state to inactive.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = nil
}

// PathHash computes the worktree key for an absolute repository path: the
// first 16 lowercase hex characters of SHA-256 over the path with separators
// normalized to "/" and trailing separators removed. The same tree addressed
// from Windows and Unix notation hashes identically.
func PathHash(absPath string) string {
	normalized := NormalizePath(absPath)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}

// NormalizePath converts separators to "/" and strips trailing separators.
// The filesystem root itself stays "/".
func NormalizePath(p string) string {
	normalized := strings.ReplaceAll(p, "\\", "/")
	trimmed := strings.TrimRight(normalized, "/")
	if trimmed == "" && strings.HasPrefix(normalized, "/") {
		return "/"
	}
	return trimmed
}
