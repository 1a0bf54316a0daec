package natsbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/nerrad567/gray-logic-link/internal/devicebus"
	"github.com/nerrad567/gray-logic-link/internal/infrastructure/config"
)

// startServer runs an embedded NATS server on a random port.
func startServer(t *testing.T) *server.Server {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("server.NewServer() error = %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func connectTest(t *testing.T, ns *server.Server) *Broker {
	t.Helper()
	b, err := Connect(context.Background(), config.NATSConfig{URL: ns.ClientURL(), Name: "graylink-test"}, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

// =============================================================================
// Subject Translation Tests
// =============================================================================

func TestToSubject(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"devices/kettle-01/command", "devices.kettle-01.command"},
		{"devices/+/response", "devices.*.response"},
		{"devices/+/status/request", "devices.*.status.request"},
		{"devices/#", "devices.>"},
	}
	for _, tt := range tests {
		if got := ToSubject(tt.topic); got != tt.want {
			t.Errorf("ToSubject(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}

func TestFromSubject(t *testing.T) {
	got := FromSubject("devices.kettle-01.status.request")
	if got != "devices/kettle-01/status/request" {
		t.Errorf("FromSubject() = %q", got)
	}

	id, family, err := devicebus.ParseTopic(got)
	if err != nil || id != "kettle-01" || family != devicebus.FamilyStatusRequest {
		t.Errorf("ParseTopic(FromSubject()) = %q, %q, %v", id, family, err)
	}
}

// =============================================================================
// Broker Tests
// =============================================================================

func TestConnect_Refused(t *testing.T) {
	_, err := Connect(context.Background(), config.NATSConfig{
		URL:            "nats://127.0.0.1:1",
		ConnectTimeout: 200 * time.Millisecond,
	}, nil)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Connect(ctx, config.NATSConfig{URL: "nats://127.0.0.1:4222"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Connect() error = %v, want context.Canceled", err)
	}
}

func TestBroker_WildcardRoundtrip(t *testing.T) {
	b := connectTest(t, startServer(t))

	got := make(chan string, 1)
	err := b.Subscribe(devicebus.Topics{}.All(devicebus.FamilyResponse), 1, func(topic string, payload []byte) error {
		got <- topic + " " + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := b.Publish(devicebus.Topics{}.Response("kettle-01"), []byte(`{"ok":true}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-got:
		if msg != `devices/kettle-01/response {"ok":true}` {
			t.Errorf("received %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestBroker_HandlerPanicContained(t *testing.T) {
	b := connectTest(t, startServer(t))

	calls := make(chan struct{}, 2)
	err := b.Subscribe("devices/+/status", 0, func(string, []byte) error {
		calls <- struct{}{}
		panic("boom")
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for range 2 {
		if err := b.Publish("devices/kettle-01/status", []byte("{}"), 0, false); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	for range 2 {
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatal("subscription died after handler panic")
		}
	}
}

func TestBroker_CloseIdempotent(t *testing.T) {
	b := connectTest(t, startServer(t))

	if !b.IsConnected() {
		t.Fatal("IsConnected() = false after Connect()")
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if b.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := b.Publish("devices/kettle-01/command", nil, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() after Close() error = %v, want ErrNotConnected", err)
	}
}

func TestBroker_DrivesAdapter(t *testing.T) {
	b := connectTest(t, startServer(t))

	responses := make(chan devicebus.ResponseEnvelope, 1)
	adapter, err := devicebus.NewAdapter(devicebus.Options{
		Broker:     b,
		OnResponse: func(env devicebus.ResponseEnvelope) { responses <- env },
	})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := adapter.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer adapter.Stop()

	payload := []byte(`{"correlation_id":"cmd_1","device_id":"kettle-01","status":"success"}`)
	if err := b.Publish(devicebus.Topics{}.Response("kettle-01"), payload, 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case env := <-responses:
		if env.CorrelationID != "cmd_1" || env.DeviceID != "kettle-01" {
			t.Errorf("response = %+v", env)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("adapter never delivered the response")
	}
}

func TestErrors_WrapDevicebus(t *testing.T) {
	if !errors.Is(ErrConnectionFailed, devicebus.ErrConnectionFailed) {
		t.Error("ErrConnectionFailed does not wrap devicebus.ErrConnectionFailed")
	}
	if !errors.Is(ErrNotConnected, devicebus.ErrNotConnected) {
		t.Error("ErrNotConnected does not wrap devicebus.ErrNotConnected")
	}
}
