//go:build no_automation

package main

import (
	"log/slog"

	"tuya-go-home/internal/host"
	"tuya-go-home/internal/tuya"
	"tuya-go-home/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *tuya.Manager, _ *host.Registry, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
