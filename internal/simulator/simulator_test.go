package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-link/internal/catalog"
	"github.com/nerrad567/gray-logic-link/internal/devicebus"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

func startSim(t *testing.T, opts Options) (*Simulator, *devicebus.MemoryBroker) {
	t.Helper()
	b := devicebus.NewRecordingBroker()
	opts.Broker = b
	if opts.Devices == nil {
		opts.Devices = []Device{{ID: "kettle-01", State: map[string]any{"power": false, "temperature": 40.0}}}
	}
	sim, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := sim.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(sim.Stop)
	return sim, b
}

func publishCommand(t *testing.T, b *devicebus.MemoryBroker, id, cmd string, params map[string]any) {
	t.Helper()
	payload, err := json.Marshal(devicebus.CommandEnvelope{
		DeviceID:      id,
		Command:       cmd,
		Parameters:    params,
		CorrelationID: "corr-" + cmd,
		Timestamp:     devicebus.Now(),
	})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if err := b.Publish(devicebus.Topics{}.Command(id), payload, 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
}

// responses decodes every response published for a device.
func responses(t *testing.T, b *devicebus.MemoryBroker, id string) []devicebus.ResponseEnvelope {
	t.Helper()
	topic := devicebus.Topics{}.Response(id)
	var out []devicebus.ResponseEnvelope
	for _, m := range b.PublishedTo(topic) {
		msg, err := devicebus.Decode(topic, m.Payload)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		out = append(out, *msg.Response)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ─── Construction ───────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"no broker", Options{}},
		{"bad drop rate", Options{Broker: devicebus.NewRecordingBroker(), DropRate: 1.5}},
		{"bad device id", Options{Broker: devicebus.NewRecordingBroker(), Devices: []Device{{ID: "a/b"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestFromCatalog(t *testing.T) {
	cat, err := catalog.Parse([]byte(`
user_id: u1
devices:
  - id: curtain-01
    name: Curtain
    type: devices.types.openable.curtain
    capabilities:
      - type: devices.capabilities.on_off
        retrievable: true
      - type: devices.capabilities.range
        retrievable: true
        parameters:
          instance: open
          range: {min: 10, max: 100, precision: 1}
      - type: devices.capabilities.mode
        retrievable: true
        parameters:
          instance: program
          modes: [{value: auto}, {value: manual}]
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	devices := FromCatalog(cat)
	if len(devices) != 1 {
		t.Fatalf("len(devices) = %d, want 1", len(devices))
	}
	st := devices[0].State
	if st["power"] != false {
		t.Errorf("power = %v, want false", st["power"])
	}
	if st["open"] != 10.0 {
		t.Errorf("open = %v, want 10", st["open"])
	}
	if st["program"] != "auto" {
		t.Errorf("program = %v, want auto", st["program"])
	}
}

// ─── Commands ───────────────────────────────────────────────────────────────

func TestStart_PublishesInitialStatus(t *testing.T) {
	_, b := startSim(t, Options{})

	msgs := b.PublishedTo(devicebus.Topics{}.Status("kettle-01"))
	if len(msgs) != 1 {
		t.Fatalf("status publishes = %d, want 1", len(msgs))
	}
	msg, err := devicebus.Decode(devicebus.Topics{}.Status("kettle-01"), msgs[0].Payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if msg.Status.State["power"] != false {
		t.Errorf("power = %v, want false", msg.Status.State["power"])
	}
}

func TestCommand_SetPower(t *testing.T) {
	sim, b := startSim(t, Options{})

	publishCommand(t, b, "kettle-01", "set_power", map[string]any{"power": true})
	waitFor(t, "response", func() bool { return len(responses(t, b, "kettle-01")) == 1 })

	resp := responses(t, b, "kettle-01")[0]
	if resp.Status != devicebus.ResponseSuccess {
		t.Errorf("Status = %q, want success", resp.Status)
	}
	if resp.CorrelationID != "corr-set_power" {
		t.Errorf("CorrelationID = %q, want corr-set_power", resp.CorrelationID)
	}
	if resp.Data["power"] != true {
		t.Errorf("Data[power] = %v, want true", resp.Data["power"])
	}

	st, _ := sim.State("kettle-01")
	if st["power"] != true {
		t.Errorf("State power = %v, want true", st["power"])
	}
	waitFor(t, "feedback", func() bool {
		return len(b.PublishedTo(devicebus.Topics{}.Feedback("kettle-01"))) == 1
	})
}

func TestCommand_SetRange(t *testing.T) {
	sim, b := startSim(t, Options{})

	publishCommand(t, b, "kettle-01", "set_range", map[string]any{"instance": "temperature", "value": 80})
	waitFor(t, "response", func() bool { return len(responses(t, b, "kettle-01")) == 1 })

	st, _ := sim.State("kettle-01")
	if st["temperature"] != 80.0 {
		t.Errorf("temperature = %v, want 80", st["temperature"])
	}
}

func TestCommand_Errors(t *testing.T) {
	tests := []struct {
		name   string
		cmd    string
		params map[string]any
	}{
		{"unknown command", "self_destruct", nil},
		{"power not bool", "set_power", map[string]any{"power": "yes"}},
		{"range without instance", "set_range", map[string]any{"value": 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim, b := startSim(t, Options{})
			publishCommand(t, b, "kettle-01", tt.cmd, tt.params)
			waitFor(t, "response", func() bool { return len(responses(t, b, "kettle-01")) == 1 })

			resp := responses(t, b, "kettle-01")[0]
			if resp.Status != devicebus.ResponseError {
				t.Errorf("Status = %q, want error", resp.Status)
			}
			if resp.Error == "" {
				t.Error("Error is empty")
			}
			if sim.Stats().Failed != 1 {
				t.Errorf("Failed = %d, want 1", sim.Stats().Failed)
			}
		})
	}
}

func TestCommand_Acknowledge(t *testing.T) {
	_, b := startSim(t, Options{Acknowledge: true})

	publishCommand(t, b, "kettle-01", "set_power", map[string]any{"power": true})
	waitFor(t, "responses", func() bool { return len(responses(t, b, "kettle-01")) == 2 })

	got := responses(t, b, "kettle-01")
	if got[0].Status != devicebus.ResponseAcknowledged {
		t.Errorf("first Status = %q, want acknowledged", got[0].Status)
	}
	if got[1].Status != devicebus.ResponseSuccess {
		t.Errorf("second Status = %q, want success", got[1].Status)
	}
}

func TestCommand_Dropped(t *testing.T) {
	sim, b := startSim(t, Options{DropRate: 0.5, Rand: func() float64 { return 0.1 }})

	publishCommand(t, b, "kettle-01", "set_power", map[string]any{"power": true})
	waitFor(t, "drop", func() bool { return sim.Stats().Dropped == 1 })

	if n := len(responses(t, b, "kettle-01")); n != 0 {
		t.Errorf("responses = %d, want 0", n)
	}
}

func TestCommand_UnknownDeviceIgnored(t *testing.T) {
	sim, b := startSim(t, Options{})

	publishCommand(t, b, "ghost-01", "set_power", map[string]any{"power": true})
	sim.Stop()

	if n := len(b.PublishedTo(devicebus.Topics{}.Response("ghost-01"))); n != 0 {
		t.Errorf("responses = %d, want 0", n)
	}
	if sim.Stats().Commands != 0 {
		t.Errorf("Commands = %d, want 0", sim.Stats().Commands)
	}
}

func TestStop_CancelsDelayedReply(t *testing.T) {
	sim, b := startSim(t, Options{Delay: time.Hour})

	publishCommand(t, b, "kettle-01", "set_power", map[string]any{"power": true})
	waitFor(t, "command received", func() bool { return sim.Stats().Commands == 1 })

	done := make(chan struct{})
	go func() {
		sim.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}
	if n := len(responses(t, b, "kettle-01")); n != 0 {
		t.Errorf("responses = %d, want 0", n)
	}
}

// ─── Status ─────────────────────────────────────────────────────────────────

func TestStatusRequest(t *testing.T) {
	sim, b := startSim(t, Options{})

	payload, _ := json.Marshal(devicebus.NewStatusRequest())
	if err := b.Publish(devicebus.Topics{}.StatusRequest("kettle-01"), payload, 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	waitFor(t, "status push", func() bool {
		return len(b.PublishedTo(devicebus.Topics{}.Status("kettle-01"))) == 2
	})
	if sim.Stats().StatusResponses != 1 {
		t.Errorf("StatusResponses = %d, want 1", sim.Stats().StatusResponses)
	}
}

func TestSet(t *testing.T) {
	sim, b := startSim(t, Options{})

	if err := sim.Set("kettle-01", "power", true); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if n := len(b.PublishedTo(devicebus.Topics{}.Feedback("kettle-01"))); n != 1 {
		t.Errorf("feedback publishes = %d, want 1", n)
	}
	if err := sim.Set("ghost", "power", true); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Set() error = %v, want ErrUnknownDevice", err)
	}
}
