//go:build !no_automation

package automation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"tuya-go-home/internal/host"
	"tuya-go-home/internal/tuya"
)

// fakeEntity records turn on/off calls.
type fakeEntity struct {
	uid, deviceID string
	err           error

	mu    sync.Mutex
	on    bool
	calls []string
	opts  host.TurnOnOptions
	done  chan string
}

func (f *fakeEntity) UniqueID() string                    { return f.uid }
func (f *fakeEntity) Name() string                        { return "Siren" }
func (f *fakeEntity) Icon() string                        { return "" }
func (f *fakeEntity) DeviceID() string                    { return f.deviceID }
func (f *fakeEntity) EntityCategory() host.EntityCategory { return host.EntityCategoryNone }
func (f *fakeEntity) Features() host.Feature {
	return host.FeatureTurnOn | host.FeatureTurnOff | host.FeatureVolumeSet
}

func (f *fakeEntity) IsOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

func (f *fakeEntity) TurnOn(_ context.Context, opts host.TurnOnOptions) error {
	f.record("on", opts)
	return f.err
}

func (f *fakeEntity) TurnOff(context.Context) error {
	f.record("off", host.TurnOnOptions{})
	return f.err
}

func (f *fakeEntity) record(call string, opts host.TurnOnOptions) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.opts = opts
	if f.err == nil {
		f.on = call == "on"
	}
	f.mu.Unlock()
	if f.done != nil {
		f.done <- call
	}
}

type fakeDevices struct {
	events  *tuya.EventBus
	devices map[string]*tuya.Device
}

func (f *fakeDevices) Events() *tuya.EventBus { return f.events }
func (f *fakeDevices) Device(id string) (*tuya.Device, bool) {
	d, ok := f.devices[id]
	return d, ok
}

func newTestEngine(t *testing.T, entities ...host.Controllable) (*Engine, *fakeDevices, *Manager) {
	t.Helper()
	devs := &fakeDevices{
		events: tuya.NewEventBus(testLogger()),
		devices: map[string]*tuya.Device{
			"bf01": tuya.NewDevice(tuya.DeviceInfo{
				ID:       "bf01",
				Category: tuya.CategorySirenAlarm,
				Status:   map[tuya.DPCode]any{tuya.DPCodeAlarmState: "normal", tuya.DPCodeAlarmVolume: "low"},
			}),
		},
	}
	reg := host.NewRegistry(testLogger())
	reg.AddEntities(entities)
	mgr := newTestManager(t)
	e := NewEngine(devs, reg, mgr, testLogger())
	t.Cleanup(e.Stop)
	return e, devs, mgr
}

func TestGoToLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		val  any
		want lua.LValueType
	}{
		{"nil", nil, lua.LTNil},
		{"bool", true, lua.LTBool},
		{"string", "alarm_sound", lua.LTString},
		{"dpcode", tuya.DPCodeAlarmState, lua.LTString},
		{"int", 42, lua.LTNumber},
		{"float64", 3.5, lua.LTNumber},
		{"ids", []string{"a", "b"}, lua.LTTable},
		{"map", map[string]any{"a": 1}, lua.LTTable},
		{"slice", []any{1, "x"}, lua.LTTable},
		{"commands", []tuya.Command{{Code: tuya.DPCodeSirenSwitch, Value: true}}, lua.LTTable},
		{"unknown", struct{}{}, lua.LTString},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := goToLua(L, tt.val).Type(); got != tt.want {
				t.Errorf("goToLua(%v) type = %v, want %v", tt.val, got, tt.want)
			}
		})
	}
}

func TestGoToLuaCommands(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	v := goToLua(L, []tuya.Command{{Code: tuya.DPCodeAlarmState, Value: "alarm_sound"}})
	first, ok := v.(*lua.LTable).RawGetInt(1).(*lua.LTable)
	if !ok {
		t.Fatal("expected nested table")
	}
	if got := first.RawGetString("code"); got.String() != "alarm_state" {
		t.Errorf("code = %v", got)
	}
	if got := first.RawGetString("value"); got.String() != "alarm_sound" {
		t.Errorf("value = %v", got)
	}
}

func TestMatchesHandler(t *testing.T) {
	tests := []struct {
		name    string
		handler luaEventHandler
		event   tuya.Event
		want    bool
	}{
		{
			"exact match",
			luaEventHandler{eventType: tuya.EventStatusUpdate, deviceID: "bf01", code: "alarm_state"},
			tuya.Event{Type: tuya.EventStatusUpdate, Data: map[string]any{"device_id": "bf01", "code": "alarm_state"}},
			true,
		},
		{
			"wrong event type",
			luaEventHandler{eventType: tuya.EventStatusUpdate},
			tuya.Event{Type: tuya.EventDeviceRemoved, Data: map[string]any{}},
			false,
		},
		{
			"device filter mismatch",
			luaEventHandler{eventType: tuya.EventStatusUpdate, deviceID: "bf01"},
			tuya.Event{Type: tuya.EventStatusUpdate, Data: map[string]any{"device_id": "cam1"}},
			false,
		},
		{
			"code filter mismatch",
			luaEventHandler{eventType: tuya.EventStatusUpdate, code: "alarm_state"},
			tuya.Event{Type: tuya.EventStatusUpdate, Data: map[string]any{"code": "alert_state"}},
			false,
		},
		{
			"no filters",
			luaEventHandler{eventType: tuya.EventDeviceDiscovered},
			tuya.Event{Type: tuya.EventDeviceDiscovered, Data: map[string]any{"device_ids": []string{"a"}}},
			true,
		},
		{
			"filter on non-map data",
			luaEventHandler{eventType: "custom", deviceID: "bf01"},
			tuya.Event{Type: "custom", Data: "x"},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesHandler(tt.handler, tt.event); got != tt.want {
				t.Errorf("matchesHandler() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunLuaCodeLogsAndStatus(t *testing.T) {
	e, _, _ := newTestEngine(t)

	res := e.RunLuaCode(`
tuya.log("state " .. tuya.status("bf01", "alarm_state"))
tuya.log(tostring(tuya.status("missing", "alarm_state")))
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	want := []string{"state normal", "nil"}
	if strings.Join(res.Logs, "|") != strings.Join(want, "|") {
		t.Errorf("logs = %v, want %v", res.Logs, want)
	}
}

func TestRunLuaCodeSandbox(t *testing.T) {
	e, _, _ := newTestEngine(t)
	for _, code := range []string{`os.exit(1)`, `io.write("x")`, `require("x")`, `load("return 1")`} {
		if res := e.RunLuaCode(code); res.OK {
			t.Errorf("%s: expected sandbox error", code)
		}
	}
}

func TestRunLuaCodeTimeout(t *testing.T) {
	e, _, _ := newTestEngine(t)
	res := e.RunLuaCode(`while true do end`)
	if res.OK || !strings.Contains(res.Error, "timeout") {
		t.Errorf("result = %+v, want timeout", res)
	}
}

func TestRunLuaCodeControlsEntities(t *testing.T) {
	siren := &fakeEntity{uid: "tuya.bf01alarm_state", deviceID: "bf01"}
	e, _, _ := newTestEngine(t, siren)

	res := e.RunLuaCode(`
local ok, err = tuya.turn_on("tuya.bf01alarm_state", {volume_level = 0.5, duration = 30})
tuya.log(tostring(ok))
tuya.log(tostring(tuya.is_on("tuya.bf01alarm_state")))
local ok2, err2 = tuya.turn_off("tuya.nope")
tuya.log(tostring(ok2) .. " " .. err2)
tuya.log(tostring(tuya.is_on("tuya.nope")))
local list = tuya.sirens()
tuya.log(list[1].uid .. " " .. list[1].features[3])
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	want := []string{
		"true",
		"true",
		"false unknown entity tuya.nope",
		"nil",
		"tuya.bf01alarm_state volume_set",
	}
	if strings.Join(res.Logs, "|") != strings.Join(want, "|") {
		t.Errorf("logs = %v, want %v", res.Logs, want)
	}
	if siren.opts.VolumeLevel == nil || *siren.opts.VolumeLevel != 0.5 {
		t.Errorf("volume = %v", siren.opts.VolumeLevel)
	}
	if siren.opts.Duration == nil || *siren.opts.Duration != 30*time.Second {
		t.Errorf("duration = %v", siren.opts.Duration)
	}
}

func TestRunLuaCodeReportsControlError(t *testing.T) {
	siren := &fakeEntity{uid: "tuya.cam1siren_switch", deviceID: "cam1", err: errors.New("gateway offline")}
	e, _, _ := newTestEngine(t, siren)

	res := e.RunLuaCode(`
local ok, err = tuya.turn_on("tuya.cam1siren_switch")
tuya.log(tostring(ok) .. " " .. err)
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "false gateway offline" {
		t.Errorf("logs = %v", res.Logs)
	}
}

func TestRunLuaCodeInvokesHandlersDryRun(t *testing.T) {
	siren := &fakeEntity{uid: "tuya.cam1siren_switch", deviceID: "cam1"}
	e, _, _ := newTestEngine(t, siren)

	res := e.RunLuaCode(`
tuya.on("status_update", {device_id = "bf01", code = "alarm_state"}, function(event)
  tuya.log(event.type .. " " .. event.device_id .. " " .. event.code)
  local ok = tuya.turn_on("tuya.cam1siren_switch")
  tuya.turn_off("tuya.cam1siren_switch")
  tuya.log(tostring(ok))
end)
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	want := []string{
		"status_update bf01 alarm_state",
		"dry run: turn_on tuya.cam1siren_switch",
		"dry run: turn_off tuya.cam1siren_switch",
		"true",
	}
	if strings.Join(res.Logs, "|") != strings.Join(want, "|") {
		t.Errorf("logs = %v, want %v", res.Logs, want)
	}
	if len(siren.calls) != 0 {
		t.Errorf("handler controls reached the device: %v", siren.calls)
	}
}

func TestRunLuaCodeRejectsOutOfRangeDurations(t *testing.T) {
	siren := &fakeEntity{uid: "tuya.bf01alarm_state", deviceID: "bf01"}
	e, _, _ := newTestEngine(t, siren)

	res := e.RunLuaCode(`
local ok, err = tuya.turn_on("tuya.bf01alarm_state", {duration = 1e10})
tuya.log(tostring(ok) .. " " .. err)
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 1 || !strings.HasPrefix(res.Logs[0], "false ") || !strings.Contains(res.Logs[0], "out of range") {
		t.Errorf("logs = %v", res.Logs)
	}
	if len(siren.calls) != 0 {
		t.Errorf("calls = %v, want none", siren.calls)
	}

	res = e.RunLuaCode(`tuya.after(1e10, function() end)`)
	if res.OK || !strings.Contains(res.Error, "out of range") {
		t.Errorf("after result = %+v, want range error", res)
	}
}

func TestEngineDispatchesEvents(t *testing.T) {
	siren := &fakeEntity{uid: "tuya.cam1siren_switch", deviceID: "cam1", done: make(chan string, 4)}
	e, devs, mgr := newTestEngine(t, siren)

	_, err := mgr.Save(&Script{
		ID:   "mirror",
		Meta: ScriptMeta{Name: "Mirror", Enabled: true},
		LuaCode: `
tuya.on("status_update", {device_id = "bf01", code = "alarm_state"}, function(event)
  if event.value == "alarm_sound" then
    tuya.turn_on("tuya.cam1siren_switch")
  else
    tuya.turn_off("tuya.cam1siren_switch")
  end
end)
`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Save(&Script{ID: "disabled", Meta: ScriptMeta{Name: "Off"}, LuaCode: `error("must not run")`}); err != nil {
		t.Fatal(err)
	}

	e.Start()
	if !e.Running("mirror") || e.Running("disabled") {
		t.Fatalf("running mirror=%v disabled=%v", e.Running("mirror"), e.Running("disabled"))
	}

	emit := func(device, code, value string) {
		devs.events.Emit(tuya.Event{
			Type: tuya.EventStatusUpdate,
			Data: map[string]any{"device_id": device, "code": code, "value": value},
		})
	}
	emit("other", "alarm_state", "alarm_sound")
	emit("bf01", "alarm_state", "alarm_sound")
	waitCall(t, siren.done, "on")
	emit("bf01", "alarm_state", "normal")
	waitCall(t, siren.done, "off")

	e.StopScript("mirror")
	if e.Running("mirror") {
		t.Error("mirror still running after StopScript")
	}
	emit("bf01", "alarm_state", "alarm_sound")
	select {
	case call := <-siren.done:
		t.Errorf("stopped script handled event: %s", call)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngineReloadScript(t *testing.T) {
	e, _, mgr := newTestEngine(t)
	saved, err := mgr.Save(&Script{Meta: ScriptMeta{Name: "Reload"}, LuaCode: `tuya.log("x")`})
	if err != nil {
		t.Fatal(err)
	}

	if err := e.ReloadScript(saved.ID); err != nil {
		t.Fatal(err)
	}
	if e.Running(saved.ID) {
		t.Error("disabled script started")
	}

	saved.Meta.Enabled = true
	if _, err := mgr.Save(saved); err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript(saved.ID); err != nil {
		t.Fatal(err)
	}
	if !e.Running(saved.ID) {
		t.Error("enabled script not running after reload")
	}

	if err := e.ReloadScript("missing"); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("reload missing err = %v", err)
	}
}

func waitCall(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Errorf("call = %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}
