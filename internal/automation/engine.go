//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"tuya-go-home/internal/tuya"
)

const runTimeout = 5 * time.Second

// luaEventHandler is a registered Lua callback for an event type.
type luaEventHandler struct {
	eventType string
	deviceID  string // only match this device (empty = any)
	code      string // only match this data point (empty = any)
	fn        *lua.LFunction
}

// scriptVM is a running Lua VM for a single script.
type scriptVM struct {
	state    *lua.LState
	commands chan func(*lua.LState) // serializes Lua access
	ctx      context.Context
	cancel   context.CancelFunc

	// dryRun makes turn_on/turn_off log instead of sending. Only touched
	// by the goroutine running the VM.
	dryRun bool

	mu       sync.Mutex
	handlers []luaEventHandler
}

func newScriptVM(ctx context.Context, cancel context.CancelFunc) *scriptVM {
	L := lua.NewState()
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetContext(ctx)
	return &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (vm *scriptVM) handlersSnapshot() []luaEventHandler {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return append([]luaEventHandler(nil), vm.handlers...)
}

// Engine runs enabled scripts and dispatches device events to their
// handlers.
type Engine struct {
	devices  Devices
	entities Entities
	manager  *Manager
	logger   *slog.Logger

	mu    sync.Mutex
	vms   map[string]*scriptVM // script ID -> running VM
	unsub func()
}

// NewEngine creates an automation engine.
func NewEngine(devices Devices, entities Entities, mgr *Manager, logger *slog.Logger) *Engine {
	return &Engine{
		devices:  devices,
		entities: entities,
		manager:  mgr,
		logger:   logger.With("component", "automation"),
		vms:      make(map[string]*scriptVM),
	}
}

// Start subscribes to device events and starts all enabled scripts.
func (e *Engine) Start() {
	e.unsub = e.devices.Events().OnAll(e.dispatchEvent)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}

	e.mu.Lock()
	running := len(e.vms)
	e.mu.Unlock()
	e.logger.Info("automation engine started", "scripts", running)
}

// Stop cancels all VMs and unsubscribes from events.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}
	e.mu.Lock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.mu.Unlock()
	e.logger.Info("automation engine stopped")
}

// ReloadScript restarts a script from disk. Disabled scripts are only stopped.
func (e *Engine) ReloadScript(id string) error {
	e.StopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script.
func (e *Engine) StopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

// Running reports whether a script has a live VM.
func (e *Engine) Running(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.vms[id]
	return ok
}

// RunScript executes a saved script once in a temporary VM.
func (e *Engine) RunScript(id string) *RunResult {
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{OK: false, Error: err.Error(), Duration: "0s"}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode executes code once in a temporary VM. Handlers registered with
// tuya.on are then invoked with a synthetic event built from their filter in
// dry-run mode: their turn_on/turn_off calls are logged, not sent. Log output
// is captured in the result.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	vm := newScriptVM(ctx, cancel)
	L := vm.state
	defer L.Close()

	var (
		logMu sync.Mutex
		logs  []string
	)
	registerTuyaModule(L, vm, e, func(msg string) {
		logMu.Lock()
		logs = append(logs, msg)
		logMu.Unlock()
		e.logger.Info("script run log", "msg", msg)
	})

	fail := func(err error) *RunResult {
		msg := err.Error()
		if strings.Contains(msg, context.DeadlineExceeded.Error()) {
			msg = fmt.Sprintf("timeout (%s)", runTimeout)
		}
		return &RunResult{OK: false, Error: msg, Logs: logs, Duration: time.Since(start).String()}
	}

	if err := L.DoString(code); err != nil {
		return fail(err)
	}

	// Handlers see a made-up event, so their controls are only logged.
	vm.dryRun = true
	for _, h := range vm.handlersSnapshot() {
		data := map[string]any{}
		if h.deviceID != "" {
			data["device_id"] = h.deviceID
		}
		if h.code != "" {
			data["code"] = h.code
		}
		if err := e.invoke(L, h.fn, tuya.Event{Type: h.eventType, Data: data}); err != nil {
			return fail(err)
		}
	}
	return &RunResult{OK: true, Logs: logs, Duration: time.Since(start).String()}
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	vm := newScriptVM(ctx, cancel)
	L := vm.state

	logger := e.logger.With("script", s.ID)
	registerTuyaModule(L, vm, e, func(msg string) {
		logger.Info("script log", "msg", msg)
	})

	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	if prev, ok := e.vms[s.ID]; ok {
		prev.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// dispatchEvent queues matching handlers on their VMs.
func (e *Engine) dispatchEvent(event tuya.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		for _, h := range vm.handlersSnapshot() {
			if !matchesHandler(h, event) {
				continue
			}
			fn := h.fn
			select {
			case <-vm.ctx.Done():
			case vm.commands <- func(L *lua.LState) {
				if err := e.invoke(L, fn, event); err != nil {
					e.logger.Error("lua handler error", "type", event.Type, "err", err)
				}
			}:
			default:
				e.logger.Warn("script command channel full, dropping event", "type", event.Type)
			}
		}
	}
}

func matchesHandler(h luaEventHandler, event tuya.Event) bool {
	if h.eventType != event.Type {
		return false
	}
	data, ok := event.Data.(map[string]any)
	if !ok {
		return h.deviceID == "" && h.code == ""
	}
	if h.deviceID != "" {
		if id, _ := data["device_id"].(string); id != h.deviceID {
			return false
		}
	}
	if h.code != "" {
		if code, _ := data["code"].(string); code != h.code {
			return false
		}
	}
	return true
}

// invoke calls fn with the event as a table.
func (e *Engine) invoke(L *lua.LState, fn *lua.LFunction, event tuya.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua handler panic: %v", r)
		}
	}()

	tbl := L.NewTable()
	tbl.RawSetString("type", lua.LString(event.Type))
	if data, ok := event.Data.(map[string]any); ok {
		for k, v := range data {
			tbl.RawSetString(k, goToLua(L, v))
		}
	}
	return L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, tbl)
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case tuya.DPCode:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case []string:
		t := L.NewTable()
		for i, s := range val {
			t.RawSetInt(i+1, lua.LString(s))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []tuya.Command:
		t := L.NewTable()
		for i, c := range val {
			ct := L.NewTable()
			ct.RawSetString("code", lua.LString(c.Code))
			ct.RawSetString("value", goToLua(L, c.Value))
			t.RawSetInt(i+1, ct)
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
