//go:build !no_mqtt

package main

import (
	"log/slog"

	mqttbridge "tuya-go-home/internal/mqtt"

	"tuya-go-home/internal/host"
	"tuya-go-home/internal/tuya"
)

type mqttStopper struct {
	conn    *mqttbridge.Conn
	bridge  *mqttbridge.Bridge
	devices *tuya.Manager
}

func (m *mqttStopper) Stop() {
	if m.bridge != nil {
		m.bridge.Stop()
	}
	if m.devices != nil {
		m.devices.SetTransport(nil)
	}
	if m.conn != nil {
		m.conn.Close()
	}
}

func initMQTT(devices *tuya.Manager, registry *host.Registry, cfg *Config, logger *slog.Logger) *mqttStopper {
	if !cfg.MQTT.Enabled {
		logger.Warn("mqtt disabled, sirens cannot be controlled")
		return &mqttStopper{}
	}
	mcfg := mqttbridge.Config{
		Broker:          cfg.MQTT.Broker,
		Username:        cfg.MQTT.Username,
		Password:        cfg.MQTT.Password,
		ClientID:        cfg.MQTT.ClientID,
		TopicPrefix:     cfg.MQTT.TopicPrefix,
		DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		GatewayPrefix:   cfg.Gateway.Prefix,
	}
	conn, err := mqttbridge.Connect(mcfg, logger)
	if err != nil {
		logger.Error("mqtt connect", "err", err)
		return &mqttStopper{}
	}

	gateway := mqttbridge.NewGateway(conn, mcfg.GatewayPrefix, devices, logger)
	gateway.Start()
	devices.SetTransport(gateway)

	bridge := mqttbridge.NewBridge(conn, registry, devices, mcfg, logger)
	bridge.Start()
	return &mqttStopper{conn: conn, bridge: bridge, devices: devices}
}
