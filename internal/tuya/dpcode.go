package tuya

// DPCode identifies one data point on a Tuya device.
// All descriptions can be found at
// https://developer.tuya.com/en/docs/iot/standarddescription?id=K9i5ql6waswzq
type DPCode string

// Data points used by siren-class devices.
const (
	DPCodeAlarmSwitch DPCode = "alarm_switch" // bool
	DPCodeAlarmState  DPCode = "alarm_state"  // enum: normal, alarm_sound, alarm_light, alarm_sound_light
	DPCodeAlertState  DPCode = "alert_state"  // bool, siren won't trigger if this is off
	DPCodeSirenSwitch DPCode = "siren_switch" // bool
	DPCodeAlarmVolume DPCode = "alarm_volume" // enum: low, middle, high, mute
	DPCodeAlarmTime   DPCode = "alarm_time"   // integer, seconds
)

// Device categories.
const (
	CategoryMultiFunctionSensor = "dgnbj" // https://developer.tuya.com/en/docs/iot/categorydgnbj?id=Kaiuz3yorvzg3
	CategorySirenAlarm          = "sgbj"  // https://developer.tuya.com/en/docs/iot/categorysgbj?id=Kaiuz37tlpbnu
	CategorySmartCamera         = "sp"    // https://developer.tuya.com/en/docs/iot/categorysp?id=Kaiuz35leyo12
)

// Command is a single data point write. A batch of commands is sent to a
// device in one request.
type Command struct {
	Code  DPCode `json:"code"`
	Value any    `json:"value"`
}
