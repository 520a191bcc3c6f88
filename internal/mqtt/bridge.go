//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tuya-go-home/internal/host"
	"tuya-go-home/internal/tuya"
)

// EntityRegistry is the entity set the bridge mirrors into Home Assistant.
type EntityRegistry interface {
	List() []host.Controllable
	ForDevice(deviceID string) []host.Controllable
	OnAdded(fn func([]host.Controllable)) func()
	OnRemoved(fn func([]host.Controllable)) func()
}

// DeviceSource provides device metadata and status events.
type DeviceSource interface {
	Device(id string) (*tuya.Device, bool)
	Events() *tuya.EventBus
}

var errInvalidCommand = errors.New("invalid siren command")

// Bridge exposes siren entities to Home Assistant via MQTT discovery.
type Bridge struct {
	conn            broker
	registry        EntityRegistry
	devices         DeviceSource
	prefix          string
	discoveryPrefix string
	logger          *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	unsubs []func()
}

// NewBridge creates a bridge on conn. Nothing is published until Start.
func NewBridge(conn broker, registry EntityRegistry, devices DeviceSource, cfg Config, logger *slog.Logger) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	discoveryPrefix := cfg.DiscoveryPrefix
	if discoveryPrefix == "" {
		discoveryPrefix = "homeassistant"
	}
	return &Bridge{
		conn:            conn,
		registry:        registry,
		devices:         devices,
		prefix:          cfg.TopicPrefix,
		discoveryPrefix: discoveryPrefix,
		logger:          logger.With("component", "ha_bridge"),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start subscribes to registry and device events and publishes discovery
// on every connect.
func (b *Bridge) Start() {
	b.unsubs = append(b.unsubs,
		b.registry.OnAdded(b.publishEntities),
		b.registry.OnRemoved(b.removeEntities),
		b.devices.Events().On(tuya.EventStatusUpdate, b.handleStatusUpdate),
	)
	b.conn.OnConnect(b.onConnect)
	b.logger.Info("HA bridge started", "prefix", b.prefix, "discovery_prefix", b.discoveryPrefix)
}

// Stop publishes offline state and unsubscribes from events.
func (b *Bridge) Stop() {
	b.cancel()
	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.conn.Publish(ctx, availabilityTopic(b.prefix), []byte("offline"), true); err != nil {
		b.logger.Warn("publish offline state", "err", err)
	}
	b.logger.Info("HA bridge stopped")
}

func (b *Bridge) onConnect() {
	b.conn.PublishAsync(availabilityTopic(b.prefix), []byte("online"), true)
	b.publishEntities(b.registry.List())

	topic := b.prefix + "/+/+/set"
	err := b.conn.Subscribe(topic, func(topic string, payload []byte) {
		// Commands wait on the gateway publish, which must not block the
		// client's message router.
		go b.handleCommand(topic, payload)
	})
	if err != nil {
		b.logger.Error("subscribe commands", "topic", topic, "err", err)
	}
}

func (b *Bridge) publishEntities(entities []host.Controllable) {
	for _, e := range entities {
		dev, _ := b.devices.Device(e.DeviceID())
		msg := buildSirenDiscovery(e, dev, b.prefix, b.discoveryPrefix)
		b.conn.PublishAsync(msg.Topic, msg.Payload, true)
		b.publishState(e)
	}
	if len(entities) > 0 {
		b.logger.Info("published HA discovery", "entities", len(entities))
	}
}

func (b *Bridge) removeEntities(entities []host.Controllable) {
	for _, e := range entities {
		msg := buildRemoveDiscovery(e, b.discoveryPrefix)
		b.conn.PublishAsync(msg.Topic, msg.Payload, true)
	}
}

func (b *Bridge) publishState(e host.Controllable) {
	b.conn.PublishAsync(entityTopic(b.prefix, e), buildState(e), true)
}

func (b *Bridge) handleStatusUpdate(event tuya.Event) {
	data, ok := event.Data.(map[string]any)
	if !ok {
		return
	}
	id, _ := data["device_id"].(string)
	if id == "" {
		return
	}
	for _, e := range b.registry.ForDevice(id) {
		b.publishState(e)
	}
}

func (b *Bridge) handleCommand(topic string, payload []byte) {
	target := b.commandTarget(topic)
	if target == nil {
		b.logger.Warn("command for unknown entity", "topic", topic)
		return
	}

	cmd, err := parseCommand(payload)
	if err != nil {
		b.logger.Warn("invalid command", "uid", target.UniqueID(), "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()

	if cmd.on {
		err = target.TurnOn(ctx, cmd.opts)
	} else {
		err = target.TurnOff(ctx)
	}
	if err != nil {
		b.logger.Warn("siren command failed", "uid", target.UniqueID(), "on", cmd.on, "err", err)
	}
}

// commandTarget resolves <prefix>/<device>/<object>/set to an entity.
func (b *Bridge) commandTarget(topic string) host.Controllable {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/")
	if !ok {
		return nil
	}
	rest, ok = strings.CutSuffix(rest, "/set")
	if !ok {
		return nil
	}
	devSeg, object, ok := strings.Cut(rest, "/")
	if !ok {
		return nil
	}
	deviceID, ok := parseTopicSegment(devSeg)
	if !ok {
		return nil
	}
	for _, e := range b.registry.ForDevice(deviceID) {
		if objectID(e) == object {
			return e
		}
	}
	return nil
}

type sirenCommand struct {
	on   bool
	opts host.TurnOnOptions
}

// parseCommand accepts a bare ON/OFF payload or the JSON form HA sends when
// turn_on carries options: {"state":"ON","volume_level":0.5,"duration":10}.
// duration is in seconds.
func parseCommand(payload []byte) (sirenCommand, error) {
	text := strings.TrimSpace(string(payload))
	if !strings.HasPrefix(text, "{") {
		return parseState(text)
	}

	var raw struct {
		State       string   `json:"state"`
		VolumeLevel *float64 `json:"volume_level"`
		Duration    *float64 `json:"duration"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return sirenCommand{}, fmt.Errorf("%w: %v", errInvalidCommand, err)
	}
	cmd, err := parseState(raw.State)
	if err != nil {
		return sirenCommand{}, err
	}
	if !cmd.on {
		return cmd, nil
	}
	cmd.opts.VolumeLevel = raw.VolumeLevel
	if raw.Duration != nil {
		d, err := host.DurationFromSeconds(*raw.Duration)
		if err != nil {
			return sirenCommand{}, fmt.Errorf("%w: %v", errInvalidCommand, err)
		}
		cmd.opts.Duration = &d
	}
	return cmd, nil
}

func parseState(s string) (sirenCommand, error) {
	switch strings.ToUpper(s) {
	case "ON":
		return sirenCommand{on: true}, nil
	case "OFF":
		return sirenCommand{}, nil
	}
	return sirenCommand{}, fmt.Errorf("%w: state %q", errInvalidCommand, s)
}
