package siren

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"tuya-go-home/internal/host"
	"tuya-go-home/internal/tuya"
)

// alarm_state enum values.
const (
	alarmStateNormal = "normal"
	alarmStateSound  = "alarm_sound"
)

// behavior describes how a data point maps to on/off.
type behavior struct {
	isOn func(v any) bool
	on   any
	off  any
	// sounds marks data points that produce sound, which is where volume and
	// duration apply.
	sounds bool
}

// behaviors holds data points that differ from a plain boolean switch.
var behaviors = map[tuya.DPCode]behavior{
	tuya.DPCodeAlarmState: {isOn: alarmStateOn, on: alarmStateSound, off: alarmStateNormal, sounds: true},
	tuya.DPCodeAlertState: {isOn: boolOn, on: true, off: false},
}

var switchBehavior = behavior{isOn: boolOn, on: true, off: false, sounds: true}

func behaviorFor(code tuya.DPCode) behavior {
	if b, ok := behaviors[code]; ok {
		return b
	}
	return switchBehavior
}

func boolOn(v any) bool {
	b, _ := v.(bool)
	return b
}

// alarmStateOn reports alarm_sound as on. normal, unrecognised values and a
// missing value are off.
func alarmStateOn(v any) bool {
	s, _ := v.(string)
	return s == alarmStateSound
}

// alarm_volume enum values, quietest first.
var volumeSteps = []string{"mute", "low", "middle", "high"}

// Entity is a siren backed by one data point of a Tuya device.
type Entity struct {
	device   *tuya.Device
	manager  DeviceManager
	desc     Description
	behavior behavior
	features host.Feature
	logger   *slog.Logger
}

var (
	_ host.Controllable   = (*Entity)(nil)
	_ host.VolumeReporter = (*Entity)(nil)
)

// NewEntity creates the siren for desc on device. The feature set is fixed
// from the data points the device reports at this point.
func NewEntity(device *tuya.Device, manager DeviceManager, desc Description, logger *slog.Logger) *Entity {
	b := behaviorFor(desc.Key)
	features := host.FeatureTurnOn | host.FeatureTurnOff
	if b.sounds && device.Has(tuya.DPCodeAlarmVolume) {
		features |= host.FeatureVolumeSet
	}
	if b.sounds && device.Has(tuya.DPCodeAlarmTime) {
		features |= host.FeatureDuration
	}
	return &Entity{
		device:   device,
		manager:  manager,
		desc:     desc,
		behavior: b,
		features: features,
		logger:   logger,
	}
}

// UniqueID is the device unique ID followed by the data point code.
func (e *Entity) UniqueID() string {
	return e.device.UniqueID() + string(e.desc.Key)
}

func (e *Entity) Name() string                        { return e.desc.Name }
func (e *Entity) Icon() string                        { return e.desc.Icon }
func (e *Entity) DeviceID() string                    { return e.device.ID() }
func (e *Entity) EntityCategory() host.EntityCategory { return e.desc.EntityCategory }
func (e *Entity) Features() host.Feature              { return e.features }

// Key returns the data point the entity controls.
func (e *Entity) Key() tuya.DPCode { return e.desc.Key }

// Device returns the backing device.
func (e *Entity) Device() *tuya.Device { return e.device }

// IsOn interprets the current status snapshot.
func (e *Entity) IsOn() bool {
	v, _ := e.device.Value(e.desc.Key)
	return e.behavior.isOn(v)
}

// VolumeLevel reports alarm_volume as 0..1 when the entity supports volume.
func (e *Entity) VolumeLevel() (float64, bool) {
	if !e.features.Has(host.FeatureVolumeSet) {
		return 0, false
	}
	v, _ := e.device.Value(tuya.DPCodeAlarmVolume)
	s, _ := v.(string)
	for i, step := range volumeSteps {
		if s == step {
			return float64(i) / float64(len(volumeSteps)-1), true
		}
	}
	return 0, false
}

// TurnOn sends the on value, preceded by volume and duration commands when
// requested. Transport errors are returned unchanged.
func (e *Entity) TurnOn(ctx context.Context, opts host.TurnOnOptions) error {
	cmds, err := e.optionCommands(opts)
	if err != nil {
		return err
	}
	if e.desc.Key == tuya.DPCodeAlarmState {
		if armed, ok := e.device.Value(tuya.DPCodeAlertState); ok && armed == false {
			e.logger.Warn("siren triggered while disarmed, device may ignore it", "device_id", e.device.ID())
		}
	}
	cmds = append(cmds, tuya.Command{Code: e.desc.Key, Value: e.behavior.on})
	return e.manager.SendCommands(ctx, e.device.ID(), cmds)
}

// TurnOff sends the off value.
func (e *Entity) TurnOff(ctx context.Context) error {
	return e.manager.SendCommands(ctx, e.device.ID(), []tuya.Command{
		{Code: e.desc.Key, Value: e.behavior.off},
	})
}

func (e *Entity) optionCommands(opts host.TurnOnOptions) ([]tuya.Command, error) {
	var cmds []tuya.Command
	if opts.VolumeLevel != nil {
		if !e.features.Has(host.FeatureVolumeSet) {
			return nil, fmt.Errorf("%s volume: %w", e.UniqueID(), ErrUnsupportedOption)
		}
		v, err := volumeValue(*opts.VolumeLevel)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, tuya.Command{Code: tuya.DPCodeAlarmVolume, Value: v})
	}
	if opts.Duration != nil {
		if !e.features.Has(host.FeatureDuration) {
			return nil, fmt.Errorf("%s duration: %w", e.UniqueID(), ErrUnsupportedOption)
		}
		d := *opts.Duration
		if d < 0 {
			return nil, fmt.Errorf("duration %s: %w", d, ErrInvalidOption)
		}
		cmds = append(cmds, tuya.Command{Code: tuya.DPCodeAlarmTime, Value: int(d.Round(time.Second) / time.Second)})
	}
	return cmds, nil
}

// volumeValue maps a 0..1 level onto the alarm_volume enum.
func volumeValue(level float64) (string, error) {
	if math.IsNaN(level) || level < 0 || level > 1 {
		return "", fmt.Errorf("volume level %v: %w", level, ErrInvalidOption)
	}
	switch {
	case level == 0:
		return "mute", nil
	case level <= 1.0/3:
		return "low", nil
	case level <= 2.0/3:
		return "middle", nil
	default:
		return "high", nil
	}
}
