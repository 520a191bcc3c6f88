//go:build no_automation

package automation

import "log/slog"

// Manager is a no-op stub when automation is disabled.
type Manager struct{}

// NewManager returns a nil manager when automation is disabled.
func NewManager(string, *slog.Logger) (*Manager, error) { return nil, nil }

// List returns nil.
func (m *Manager) List() ([]*Script, error) { return nil, nil }

// Get returns nil.
func (m *Manager) Get(string) (*Script, error) { return nil, nil }

// Save returns the script unchanged.
func (m *Manager) Save(s *Script) (*Script, error) { return s, nil }

// Delete is a no-op.
func (m *Manager) Delete(string) error { return nil }

// Engine is a no-op stub when automation is disabled.
type Engine struct{}

// NewEngine returns a no-op engine when automation is disabled.
func NewEngine(Devices, Entities, *Manager, *slog.Logger) *Engine { return &Engine{} }

func (e *Engine) Start()                    {}
func (e *Engine) Stop()                     {}
func (e *Engine) ReloadScript(string) error { return nil }
func (e *Engine) StopScript(string)         {}
func (e *Engine) Running(string) bool       { return false }

// RunScript returns a stub result.
func (e *Engine) RunScript(string) *RunResult {
	return &RunResult{OK: false, Error: "automation disabled"}
}

// RunLuaCode returns a stub result.
func (e *Engine) RunLuaCode(string) *RunResult {
	return &RunResult{OK: false, Error: "automation disabled"}
}
