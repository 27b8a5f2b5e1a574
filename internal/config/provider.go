package config

import (
	"sync"
)

// SwitchFunc is notified after the provider swaps to a new project config.
// Callbacks run synchronously under the provider's write lock, so a reader
// never observes a half-switched state.
type SwitchFunc func(cfg *Project, generation uint64)

// Provider holds the currently active project configuration. Exactly one
// project is active at a time; Switch replaces the whole config atomically
// and bumps the generation so long-running loops can detect staleness.
type Provider struct {
	mu         sync.RWMutex
	current    *Project
	configPath string
	generation uint64
	onSwitch   []SwitchFunc
}

// NewProvider returns an empty provider with no active config.
func NewProvider() *Provider {
	return &Provider{}
}

// Switch loads the config at path and installs it as the active one.
// Watchers registered via OnSwitch are invoked before Switch returns.
func (p *Provider) Switch(path string) (*Project, error) {
	cfg, err := LoadProject(path)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = cfg
	p.configPath = path
	p.generation++
	for _, fn := range p.onSwitch {
		fn(cfg, p.generation)
	}
	return cfg, nil
}

// Install sets an already-loaded config without touching the filesystem.
// Used by activation when the config has been validated upstream.
func (p *Provider) Install(cfg *Project, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = cfg
	p.configPath = path
	p.generation++
	for _, fn := range p.onSwitch {
		fn(cfg, p.generation)
	}
}

// Clear drops the active config. Subsequent Current calls return nil.
func (p *Provider) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = nil
	p.configPath = ""
	p.generation++
}

// Current returns the active config, or nil when no project is active.
// The returned pointer is shared; callers must treat it as read-only.
func (p *Provider) Current() *Project {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Path returns the file the active config was loaded from.
func (p *Provider) Path() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.configPath
}

// Generation returns a counter that increments on every Switch, Install,
// and Clear.
func (p *Provider) Generation() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.generation
}

// OnSwitch registers a callback for future switches. Not safe to call
// concurrently with Switch; register all watchers during startup.
func (p *Provider) OnSwitch(fn SwitchFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSwitch = append(p.onSwitch, fn)
}
