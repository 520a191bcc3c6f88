package siren

import (
	"slices"

	"tuya-go-home/internal/host"
	"tuya-go-home/internal/tuya"
)

// Description declares one siren entity derived from one data point.
type Description struct {
	Key            tuya.DPCode
	Name           string
	Icon           string
	EntityCategory host.EntityCategory
}

// sirens maps a device category to the data points exposed as sirens.
// Read-only after package initialization.
var sirens = map[string][]Description{
	tuya.CategoryMultiFunctionSensor: {
		{Key: tuya.DPCodeAlarmSwitch, Name: "Siren"},
	},
	tuya.CategorySirenAlarm: {
		{Key: tuya.DPCodeAlarmState, Name: "Siren", Icon: "mdi:alarm-bell"},
		// Armed (alert_state). The siren won't sound while this is off.
		{Key: tuya.DPCodeAlertState, Name: "Armed", Icon: "mdi:shield-lock"},
	},
	tuya.CategorySmartCamera: {
		{Key: tuya.DPCodeSirenSwitch, Name: "Siren"},
	},
}

// Descriptions returns the siren descriptions for a device category in
// declared order. Unknown categories yield nil.
func Descriptions(category string) []Description {
	return slices.Clone(sirens[category])
}

// Categories returns the known device categories, sorted.
func Categories() []string {
	cats := make([]string, 0, len(sirens))
	for c := range sirens {
		cats = append(cats, c)
	}
	slices.Sort(cats)
	return cats
}
