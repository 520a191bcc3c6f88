//go:build no_mqtt

package main

import (
	"log/slog"

	"tuya-go-home/internal/host"
	"tuya-go-home/internal/tuya"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *tuya.Manager, _ *host.Registry, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
