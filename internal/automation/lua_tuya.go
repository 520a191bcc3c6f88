//go:build !no_automation

package automation

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"

	"tuya-go-home/internal/host"
	"tuya-go-home/internal/tuya"
)

const (
	maxHandlersPerScript = 100
	controlTimeout       = 5 * time.Second
)

// registerTuyaModule installs the `tuya` global table. logf receives
// tuya.log output.
func registerTuyaModule(L *lua.LState, vm *scriptVM, e *Engine, logf func(string)) {
	mod := L.NewTable()
	fns := map[string]lua.LGFunction{
		"on":       func(L *lua.LState) int { return tuyaOn(L, vm) },
		"turn_on":  func(L *lua.LState) int { return tuyaTurnOn(L, vm, e, logf) },
		"turn_off": func(L *lua.LState) int { return tuyaTurnOff(L, vm, e, logf) },
		"is_on":    func(L *lua.LState) int { return tuyaIsOn(L, e) },
		"status":   func(L *lua.LState) int { return tuyaStatus(L, e) },
		"sirens":   func(L *lua.LState) int { return tuyaSirens(L, e) },
		"after":    func(L *lua.LState) int { return tuyaAfter(L, vm, e) },
		"log": func(L *lua.LState) int {
			logf(L.CheckString(1))
			return 0
		},
	}
	for name, fn := range fns {
		mod.RawSetString(name, L.NewFunction(fn))
	}
	L.SetGlobal("tuya", mod)
}

// tuya.on(event_type, {device_id=..., code=...}, fn)
func tuyaOn(L *lua.LState, vm *scriptVM) int {
	h := luaEventHandler{eventType: L.CheckString(1)}
	filter := L.OptTable(2, L.NewTable())
	h.fn = L.CheckFunction(3)

	if v := filter.RawGetString("device_id"); v != lua.LNil {
		h.deviceID = v.String()
	}
	if v := filter.RawGetString("code"); v != lua.LNil {
		h.code = v.String()
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	return 0
}

// tuya.turn_on(uid[, {volume_level=0..1, duration=seconds}]) -> ok, err
func tuyaTurnOn(L *lua.LState, vm *scriptVM, e *Engine, logf func(string)) int {
	entity, ok := checkEntity(L, e)
	if !ok {
		return 2
	}

	var opts host.TurnOnOptions
	if tbl, ok := L.Get(2).(*lua.LTable); ok {
		if n, ok := tbl.RawGetString("volume_level").(lua.LNumber); ok {
			level := float64(n)
			opts.VolumeLevel = &level
		}
		if n, ok := tbl.RawGetString("duration").(lua.LNumber); ok {
			d, err := host.DurationFromSeconds(float64(n))
			if err != nil {
				return pushResult(L, err)
			}
			opts.Duration = &d
		}
	}

	if vm.dryRun {
		logf("dry run: turn_on " + entity.UniqueID())
		return pushResult(L, nil)
	}
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()
	return pushResult(L, entity.TurnOn(ctx, opts))
}

// tuya.turn_off(uid) -> ok, err
func tuyaTurnOff(L *lua.LState, vm *scriptVM, e *Engine, logf func(string)) int {
	entity, ok := checkEntity(L, e)
	if !ok {
		return 2
	}
	if vm.dryRun {
		logf("dry run: turn_off " + entity.UniqueID())
		return pushResult(L, nil)
	}
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()
	return pushResult(L, entity.TurnOff(ctx))
}

// tuya.is_on(uid) -> bool, or nil for an unknown entity
func tuyaIsOn(L *lua.LState, e *Engine) int {
	entity, ok := e.entities.Get(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LBool(entity.IsOn()))
	return 1
}

// tuya.status(device_id, code) -> value or nil
func tuyaStatus(L *lua.LState, e *Engine) int {
	id := L.CheckString(1)
	code := tuya.DPCode(L.CheckString(2))
	dev, ok := e.devices.Device(id)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	v, _ := dev.Value(code)
	L.Push(goToLua(L, v))
	return 1
}

// tuya.sirens() -> list of {uid, name, device_id, on, features}
func tuyaSirens(L *lua.LState, e *Engine) int {
	list := L.NewTable()
	for i, entity := range e.entities.List() {
		t := L.NewTable()
		t.RawSetString("uid", lua.LString(entity.UniqueID()))
		t.RawSetString("name", lua.LString(entity.Name()))
		t.RawSetString("device_id", lua.LString(entity.DeviceID()))
		t.RawSetString("on", lua.LBool(entity.IsOn()))
		features := L.NewTable()
		for j, name := range entity.Features().Names() {
			features.RawSetInt(j+1, lua.LString(name))
		}
		t.RawSetString("features", features)
		list.RawSetInt(i+1, t)
	}
	L.Push(list)
	return 1
}

// tuya.after(seconds, fn) runs fn on the script's VM after a delay.
func tuyaAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	delay, err := host.DurationFromSeconds(float64(L.CheckNumber(1)))
	if err != nil {
		L.ArgError(1, err.Error())
		return 0
	}
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}
		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		case <-vm.ctx.Done():
		default:
			e.logger.Warn("after: command channel full")
		}
	}()
	return 0
}

// checkEntity resolves argument 1 to an entity. On failure it pushes
// false plus a message and returns ok=false.
func checkEntity(L *lua.LState, e *Engine) (host.Controllable, bool) {
	uid := L.CheckString(1)
	entity, ok := e.entities.Get(uid)
	if !ok {
		e.logger.Warn("script referenced unknown entity", "uid", uid)
		L.Push(lua.LFalse)
		L.Push(lua.LString("unknown entity " + uid))
		return nil, false
	}
	return entity, true
}

func pushResult(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}
