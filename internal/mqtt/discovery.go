//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"tuya-go-home/internal/host"
	"tuya-go-home/internal/tuya"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/siren/tuya_bf01/alarm_state/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haSiren is the discovery payload for an MQTT siren.
type haSiren struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	CommandTopic      string   `json:"command_topic"`
	AvailabilityTopic string   `json:"availability_topic"`
	PayloadOn         string   `json:"payload_on"`
	PayloadOff        string   `json:"payload_off"`
	Icon              string   `json:"icon,omitempty"`
	EntityCategory    string   `json:"entity_category,omitempty"`
	SupportVolumeSet  bool     `json:"support_volume_set"`
	SupportDuration   bool     `json:"support_duration"`
	Device            haDevice `json:"device"`
}

// keyed entities expose the data point they control.
type keyed interface {
	Key() tuya.DPCode
}

// objectID names the entity within its device: the data point code when
// known, otherwise the unique ID.
func objectID(e host.Controllable) string {
	if k, ok := e.(keyed); ok {
		return topicSegment(string(k.Key()))
	}
	return topicSegment(e.UniqueID())
}

// nodeID is the HA device identifier.
func nodeID(deviceID string) string {
	return "tuya_" + topicSegment(deviceID)
}

// topicSegment encodes s as an MQTT topic level usable as an HA node or
// object id. Letters, digits and '_' are kept; every other byte, '-'
// included, becomes '-' and two hex digits, so distinct ids never share a
// topic.
func topicSegment(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "-%02x", c)
	}
	return b.String()
}

// parseTopicSegment reverses topicSegment. Only the canonical encoding is
// accepted.
func parseTopicSegment(seg string) (string, bool) {
	var b strings.Builder
	for i := 0; i < len(seg); i++ {
		if seg[i] != '-' {
			b.WriteByte(seg[i])
			continue
		}
		if i+2 >= len(seg) {
			return "", false
		}
		v, err := strconv.ParseUint(seg[i+1:i+3], 16, 8)
		if err != nil {
			return "", false
		}
		b.WriteByte(byte(v))
		i += 2
	}
	if topicSegment(b.String()) != seg {
		return "", false
	}
	return b.String(), true
}

func entityTopic(prefix string, e host.Controllable) string {
	return prefix + "/" + topicSegment(e.DeviceID()) + "/" + objectID(e)
}

func configTopic(discoveryPrefix string, e host.Controllable) string {
	return fmt.Sprintf("%s/siren/%s/%s/config", discoveryPrefix, nodeID(e.DeviceID()), objectID(e))
}

// deviceDisplayName returns a display name for the device.
func deviceDisplayName(dev *tuya.Device, fallback string) string {
	switch {
	case dev == nil:
		return fallback
	case dev.Name() != "":
		return dev.Name()
	case dev.ProductName() != "":
		return dev.ProductName()
	}
	return dev.ID()
}

// buildSirenDiscovery generates the HA discovery message for a siren entity.
// dev may be nil when the device has already been forgotten.
func buildSirenDiscovery(e host.Controllable, dev *tuya.Device, prefix, discoveryPrefix string) discoveryMsg {
	haDev := haDevice{
		Identifiers:  []string{nodeID(e.DeviceID())},
		Manufacturer: "Tuya",
		Name:         deviceDisplayName(dev, e.DeviceID()),
	}
	if dev != nil {
		haDev.Model = dev.ProductName()
	}

	features := e.Features()
	topic := entityTopic(prefix, e)
	payload := haSiren{
		Name:              e.Name(),
		UniqueID:          e.UniqueID(),
		StateTopic:        topic,
		CommandTopic:      topic + "/set",
		AvailabilityTopic: availabilityTopic(prefix),
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		Icon:              e.Icon(),
		EntityCategory:    string(e.EntityCategory()),
		SupportVolumeSet:  features.Has(host.FeatureVolumeSet),
		SupportDuration:   features.Has(host.FeatureDuration),
		Device:            haDev,
	}
	return discoveryMsg{Topic: configTopic(discoveryPrefix, e), Payload: mustJSON(payload)}
}

// buildRemoveDiscovery generates the empty retained message that removes an
// entity from HA.
func buildRemoveDiscovery(e host.Controllable, discoveryPrefix string) discoveryMsg {
	return discoveryMsg{Topic: configTopic(discoveryPrefix, e)}
}

// sirenState is the JSON state HA sirens understand.
type sirenState struct {
	State       string   `json:"state"`
	VolumeLevel *float64 `json:"volume_level,omitempty"`
}

func buildState(e host.Controllable) []byte {
	st := sirenState{State: "OFF"}
	if e.IsOn() {
		st.State = "ON"
	}
	if vr, ok := e.(host.VolumeReporter); ok {
		if level, ok := vr.VolumeLevel(); ok {
			st.VolumeLevel = &level
		}
	}
	return mustJSON(st)
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
