//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"tuya-go-home/internal/tuya"
)

// DeviceSink receives the device feed.
type DeviceSink interface {
	AddDevices(infos []tuya.DeviceInfo) error
	UpdateStatus(id string, status map[tuya.DPCode]any) error
	RemoveDevice(id string) error
}

// Gateway exchanges device reports and commands with a Tuya gateway over
// MQTT:
//
//	<prefix>/devices      retained device list
//	<prefix>/<id>/status  status report, code -> value
//	<prefix>/<id>/removed device left the account
//	<prefix>/<id>/commands outbound command batches
type Gateway struct {
	conn   broker
	prefix string
	sink   DeviceSink
	logger *slog.Logger
}

var _ tuya.Transport = (*Gateway)(nil)

// NewGateway creates a gateway transport on conn.
func NewGateway(conn broker, prefix string, sink DeviceSink, logger *slog.Logger) *Gateway {
	return &Gateway{
		conn:   conn,
		prefix: prefix,
		sink:   sink,
		logger: logger.With("component", "gateway"),
	}
}

// Start subscribes to the device feed on every connect.
func (g *Gateway) Start() {
	g.conn.OnConnect(g.subscribe)
	g.logger.Info("gateway transport started", "prefix", g.prefix)
}

func (g *Gateway) subscribe() {
	for _, topic := range []string{
		g.prefix + "/devices",
		g.prefix + "/+/status",
		g.prefix + "/+/removed",
	} {
		if err := g.conn.Subscribe(topic, g.handleMessage); err != nil {
			g.logger.Error("subscribe", "topic", topic, "err", err)
		}
	}
}

// SendCommands publishes a command batch for a device and waits for the
// broker to accept it.
func (g *Gateway) SendCommands(ctx context.Context, deviceID string, cmds []tuya.Command) error {
	payload, err := json.Marshal(struct {
		Commands []tuya.Command `json:"commands"`
	}{cmds})
	if err != nil {
		return fmt.Errorf("encode commands: %w", err)
	}
	return g.conn.Publish(ctx, g.prefix+"/"+deviceID+"/commands", payload, false)
}

func (g *Gateway) handleMessage(topic string, payload []byte) {
	rest, ok := strings.CutPrefix(topic, g.prefix+"/")
	if !ok {
		return
	}
	if rest == "devices" {
		g.handleDevices(payload)
		return
	}

	id, kind, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		return
	}
	switch kind {
	case "status":
		g.handleStatus(id, payload)
	case "removed":
		if err := g.sink.RemoveDevice(id); err != nil {
			g.logger.Debug("remove device", "id", id, "err", err)
		}
	}
}

func (g *Gateway) handleDevices(payload []byte) {
	if len(payload) == 0 {
		return
	}
	var infos []tuya.DeviceInfo
	if err := json.Unmarshal(payload, &infos); err != nil {
		g.logger.Warn("invalid device list", "err", err)
		return
	}
	if err := g.sink.AddDevices(infos); err != nil {
		g.logger.Error("add devices", "err", err)
	}
}

func (g *Gateway) handleStatus(id string, payload []byte) {
	var status map[tuya.DPCode]any
	if err := json.Unmarshal(payload, &status); err != nil {
		g.logger.Warn("invalid status report", "id", id, "err", err)
		return
	}
	if err := g.sink.UpdateStatus(id, status); err != nil {
		g.logger.Warn("status update", "id", id, "err", err)
	}
}
