//go:build !no_mqtt

package mqtt

import (
	"context"
	"errors"
	"testing"

	"tuya-go-home/internal/tuya"
)

type fakeSink struct {
	added   [][]tuya.DeviceInfo
	status  map[string]map[tuya.DPCode]any
	removed []string
}

func (s *fakeSink) AddDevices(infos []tuya.DeviceInfo) error {
	s.added = append(s.added, infos)
	return nil
}

func (s *fakeSink) UpdateStatus(id string, status map[tuya.DPCode]any) error {
	if s.status == nil {
		s.status = make(map[string]map[tuya.DPCode]any)
	}
	s.status[id] = status
	return nil
}

func (s *fakeSink) RemoveDevice(id string) error {
	s.removed = append(s.removed, id)
	return nil
}

func TestGatewaySubscribes(t *testing.T) {
	b := newFakeBroker()
	g := NewGateway(b, "tuya-gateway", &fakeSink{}, testLogger())
	g.Start()

	for _, topic := range []string{"tuya-gateway/devices", "tuya-gateway/+/status", "tuya-gateway/+/removed"} {
		if _, ok := b.subs[topic]; !ok {
			t.Errorf("missing subscription %s", topic)
		}
	}
}

func TestGatewayDeviceList(t *testing.T) {
	sink := &fakeSink{}
	g := NewGateway(newFakeBroker(), "tuya-gateway", sink, testLogger())

	g.handleMessage("tuya-gateway/devices", []byte(`[
		{"id":"bf01","name":"Hall siren","category":"sgbj","online":true,
		 "status":{"alarm_state":"normal","alert_state":true,"alarm_volume":"middle"}},
		{"id":"cam1","category":"sp","status":{"siren_switch":false}}
	]`))

	if len(sink.added) != 1 || len(sink.added[0]) != 2 {
		t.Fatalf("added = %+v", sink.added)
	}
	first := sink.added[0][0]
	if first.ID != "bf01" || first.Category != "sgbj" || first.Name != "Hall siren" || !first.Online {
		t.Errorf("first device = %+v", first)
	}
	if first.Status[tuya.DPCodeAlarmState] != "normal" || first.Status[tuya.DPCodeAlertState] != true {
		t.Errorf("first status = %v", first.Status)
	}
}

func TestGatewayStatusAndRemoved(t *testing.T) {
	sink := &fakeSink{}
	g := NewGateway(newFakeBroker(), "tuya-gateway", sink, testLogger())

	g.handleMessage("tuya-gateway/bf01/status", []byte(`{"alarm_state":"alarm_sound"}`))
	g.handleMessage("tuya-gateway/bf01/removed", nil)
	g.handleMessage("tuya-gateway/bf01/unknown", []byte(`{}`))
	g.handleMessage("other/bf01/status", []byte(`{"alarm_state":"normal"}`))

	if got := sink.status["bf01"][tuya.DPCodeAlarmState]; got != "alarm_sound" {
		t.Errorf("status alarm_state = %v", got)
	}
	if len(sink.status) != 1 {
		t.Errorf("status updates = %d, want 1", len(sink.status))
	}
	if len(sink.removed) != 1 || sink.removed[0] != "bf01" {
		t.Errorf("removed = %v", sink.removed)
	}
}

func TestGatewayInvalidPayload(t *testing.T) {
	sink := &fakeSink{}
	g := NewGateway(newFakeBroker(), "tuya-gateway", sink, testLogger())

	g.handleMessage("tuya-gateway/devices", []byte(`not json`))
	g.handleMessage("tuya-gateway/bf01/status", []byte(`[1,2]`))

	if len(sink.added) != 0 || len(sink.status) != 0 {
		t.Errorf("invalid payloads reached the sink: %+v %+v", sink.added, sink.status)
	}
}

func TestGatewaySendCommands(t *testing.T) {
	b := newFakeBroker()
	g := NewGateway(b, "tuya-gateway", &fakeSink{}, testLogger())

	err := g.SendCommands(context.Background(), "bf01", []tuya.Command{
		{Code: tuya.DPCodeAlarmVolume, Value: "high"},
		{Code: tuya.DPCodeAlarmState, Value: "alarm_sound"},
	})
	if err != nil {
		t.Fatal(err)
	}

	msg, ok := b.last("tuya-gateway/bf01/commands")
	if !ok {
		t.Fatal("no command published")
	}
	want := `{"commands":[{"code":"alarm_volume","value":"high"},{"code":"alarm_state","value":"alarm_sound"}]}`
	if msg.payload != want {
		t.Errorf("payload = %s, want %s", msg.payload, want)
	}
	if msg.retained {
		t.Error("commands must not be retained")
	}
}

func TestGatewaySendCommandsError(t *testing.T) {
	b := newFakeBroker()
	b.publishErr = errors.New("not connected")
	g := NewGateway(b, "tuya-gateway", &fakeSink{}, testLogger())

	err := g.SendCommands(context.Background(), "bf01", []tuya.Command{{Code: tuya.DPCodeSirenSwitch, Value: true}})
	if !errors.Is(err, b.publishErr) {
		t.Errorf("err = %v, want %v", err, b.publishErr)
	}
}
