package tuya

import (
	"slices"
	"testing"
	"time"
)

func TestDeviceUniqueID(t *testing.T) {
	d := NewDevice(DeviceInfo{ID: "bf12ab"})
	if got := d.UniqueID(); got != "tuya.bf12ab" {
		t.Errorf("UniqueID = %q, want tuya.bf12ab", got)
	}
}

func TestDeviceStatusIsCopied(t *testing.T) {
	src := map[DPCode]any{DPCodeAlarmSwitch: false}
	d := NewDevice(DeviceInfo{ID: "x", Status: src})

	src[DPCodeAlarmSwitch] = true
	if v, _ := d.Value(DPCodeAlarmSwitch); v != false {
		t.Error("device status aliases the input map")
	}

	snap := d.Status()
	snap[DPCodeAlarmSwitch] = true
	if v, _ := d.Value(DPCodeAlarmSwitch); v != false {
		t.Error("Status() returned the internal map")
	}
}

func TestDeviceMerge(t *testing.T) {
	d := NewDevice(DeviceInfo{ID: "x", Status: map[DPCode]any{
		DPCodeAlarmState: "normal",
		DPCodeAlarmTime:  float64(10),
	}})

	changed := d.merge(map[DPCode]any{
		DPCodeAlarmState:  "normal",
		DPCodeAlarmTime:   float64(30),
		DPCodeAlarmVolume: "high",
	}, time.Now())
	slices.Sort(changed)

	want := []DPCode{DPCodeAlarmTime, DPCodeAlarmVolume}
	if !slices.Equal(changed, want) {
		t.Errorf("changed = %v, want %v", changed, want)
	}
	if !d.Has(DPCodeAlarmVolume) {
		t.Error("alarm_volume not merged")
	}
}
