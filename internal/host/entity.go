// Package host is the minimal entity runtime that capability platforms
// register with. It plays the part of the home-automation host: it keeps the
// registered entities and tells frontends (MQTT, web, scripts) about them.
package host

import (
	"context"
	"strings"
	"time"
)

// Feature is a bit set of capabilities an entity declares.
type Feature uint32

const (
	FeatureTurnOn Feature = 1 << iota
	FeatureTurnOff
	FeatureVolumeSet
	FeatureDuration
)

var featureNames = []struct {
	f    Feature
	name string
}{
	{FeatureTurnOn, "turn_on"},
	{FeatureTurnOff, "turn_off"},
	{FeatureVolumeSet, "volume_set"},
	{FeatureDuration, "duration"},
}

// Has reports whether every bit of x is set.
func (f Feature) Has(x Feature) bool {
	return f&x == x
}

// Names returns the names of the set features in declaration order.
func (f Feature) Names() []string {
	names := make([]string, 0, len(featureNames))
	for _, fn := range featureNames {
		if f.Has(fn.f) {
			names = append(names, fn.name)
		}
	}
	return names
}

func (f Feature) String() string {
	if f == 0 {
		return "none"
	}
	return strings.Join(f.Names(), "|")
}

// EntityCategory classifies entities that are not primary controls.
type EntityCategory string

const (
	EntityCategoryNone       EntityCategory = ""
	EntityCategoryConfig     EntityCategory = "config"
	EntityCategoryDiagnostic EntityCategory = "diagnostic"
)

// TurnOnOptions carries optional turn-on parameters. Nil means not requested.
type TurnOnOptions struct {
	VolumeLevel *float64       // 0..1
	Duration    *time.Duration // how long to sound
}

// Controllable is an on/off capability exposed to the host.
type Controllable interface {
	UniqueID() string
	Name() string
	Icon() string
	DeviceID() string
	EntityCategory() EntityCategory
	Features() Feature
	IsOn() bool
	TurnOn(ctx context.Context, opts TurnOnOptions) error
	TurnOff(ctx context.Context) error
}

// VolumeReporter is implemented by entities that can report their current volume.
type VolumeReporter interface {
	VolumeLevel() (float64, bool)
}

// AddEntitiesFunc registers a batch of entities with the host.
type AddEntitiesFunc func(entities []Controllable)
