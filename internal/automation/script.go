package automation

import (
	"errors"

	"tuya-go-home/internal/host"
	"tuya-go-home/internal/tuya"
)

// ErrScriptNotFound is returned for unknown script IDs.
var ErrScriptNotFound = errors.New("script not found")

// ScriptMeta holds user-editable metadata for a script.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script is a single automation script stored on disk as <id>.lua with a
// one-line JSON metadata header.
type Script struct {
	ID       string     `json:"id"` // filename stem (no .lua)
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"` // source without the header
	FilePath string     `json:"-"`
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// Devices is the device side visible to scripts.
type Devices interface {
	Events() *tuya.EventBus
	Device(id string) (*tuya.Device, bool)
}

// Entities is the set of controllable entities scripts can drive.
type Entities interface {
	Get(uniqueID string) (host.Controllable, bool)
	List() []host.Controllable
}
