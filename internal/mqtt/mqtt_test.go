//go:build !no_mqtt

package mqtt

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"tuya-go-home/internal/host"
	"tuya-go-home/internal/tuya"
)

type published struct {
	topic    string
	payload  string
	retained bool
}

// fakeBroker records publishes and lets tests deliver messages.
type fakeBroker struct {
	mu         sync.Mutex
	published  []published
	subs       map[string]MessageHandler
	publishErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{subs: make(map[string]MessageHandler)}
}

func (f *fakeBroker) Publish(_ context.Context, topic string, payload []byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{topic, string(payload), retained})
	return nil
}

func (f *fakeBroker) PublishAsync(topic string, payload []byte, retained bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic, string(payload), retained})
}

func (f *fakeBroker) Subscribe(topic string, handler MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = handler
	return nil
}

func (f *fakeBroker) OnConnect(fn func()) { fn() }

func (f *fakeBroker) last(topic string) (published, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.published) - 1; i >= 0; i-- {
		if f.published[i].topic == topic {
			return f.published[i], true
		}
	}
	return published{}, false
}

func (f *fakeBroker) reset() {
	f.mu.Lock()
	f.published = nil
	f.mu.Unlock()
}

// fakeSiren is a minimal controllable entity.
type fakeSiren struct {
	mu       sync.Mutex
	uid      string
	deviceID string
	key      tuya.DPCode
	features host.Feature
	on       bool
	volume   *float64
	calls    []string
	lastOpts host.TurnOnOptions
	done     chan struct{}
}

func (f *fakeSiren) UniqueID() string                    { return f.uid }
func (f *fakeSiren) Name() string                        { return "Siren" }
func (f *fakeSiren) Icon() string                        { return "mdi:alarm-bell" }
func (f *fakeSiren) DeviceID() string                    { return f.deviceID }
func (f *fakeSiren) EntityCategory() host.EntityCategory { return host.EntityCategoryNone }
func (f *fakeSiren) Features() host.Feature              { return f.features }
func (f *fakeSiren) Key() tuya.DPCode                    { return f.key }

func (f *fakeSiren) IsOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

func (f *fakeSiren) VolumeLevel() (float64, bool) {
	if f.volume == nil {
		return 0, false
	}
	return *f.volume, true
}

func (f *fakeSiren) TurnOn(_ context.Context, opts host.TurnOnOptions) error {
	f.mu.Lock()
	f.calls = append(f.calls, "on")
	f.lastOpts = opts
	f.mu.Unlock()
	f.signal()
	return nil
}

func (f *fakeSiren) TurnOff(context.Context) error {
	f.mu.Lock()
	f.calls = append(f.calls, "off")
	f.mu.Unlock()
	f.signal()
	return nil
}

func (f *fakeSiren) signal() {
	if f.done != nil {
		f.done <- struct{}{}
	}
}

func (f *fakeSiren) wait(t testing.TB) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command")
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
