package devicebus

import (
	"sync"
)

// PublishedMessage is a message recorded by MemoryBroker.
type PublishedMessage struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type memorySubscription struct {
	filter  string
	handler MessageHandler
}

// MemoryBroker is an in-process Broker.
//
// Publish delivers synchronously to every matching subscription on the
// calling goroutine, in subscription order. Retained messages are replayed to
// new subscribers. It backs the "memory" transport and the package tests.
//
// Only brokers built with NewRecordingBroker keep published messages.
type MemoryBroker struct {
	mu         sync.RWMutex
	subs       []memorySubscription
	retained   map[string][]byte
	record     bool
	published  []PublishedMessage
	connected  bool
	publishErr error
	logger     Logger
}

// NewMemoryBroker returns a connected in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		retained:  make(map[string][]byte),
		connected: true,
		logger:    noopLogger{},
	}
}

// NewRecordingBroker returns a connected in-process broker that keeps every
// published message for Published and PublishedTo. Its memory grows with
// traffic; use it in tests only.
func NewRecordingBroker() *MemoryBroker {
	b := NewMemoryBroker()
	b.record = true
	return b
}

// SetLogger sets a logger for handler errors.
func (b *MemoryBroker) SetLogger(logger Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	b.logger = logger
}

// SetPublishError makes every subsequent Publish fail with err.
// Pass nil to restore normal behaviour.
func (b *MemoryBroker) SetPublishError(err error) {
	b.mu.Lock()
	b.publishErr = err
	b.mu.Unlock()
}

// Publish implements Broker.
func (b *MemoryBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return ErrNotConnected
	}
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.Unlock()
		return err
	}

	data := append([]byte(nil), payload...)
	if b.record {
		b.published = append(b.published, PublishedMessage{Topic: topic, Payload: data, QoS: qos, Retained: retained})
	}
	if retained {
		b.retained[topic] = data
	}

	var handlers []MessageHandler
	for _, sub := range b.subs {
		if TopicMatches(sub.filter, topic) {
			handlers = append(handlers, sub.handler)
		}
	}
	logger := b.logger
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h(topic, data); err != nil {
			logger.Warn("memory broker handler returned error", "topic", topic, "error", err)
		}
	}
	return nil
}

// Subscribe implements Broker.
func (b *MemoryBroker) Subscribe(topic string, _ byte, handler MessageHandler) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return ErrNotConnected
	}
	b.subs = append(b.subs, memorySubscription{filter: topic, handler: handler})

	type replay struct {
		topic   string
		payload []byte
	}
	var pending []replay
	for t, p := range b.retained {
		if TopicMatches(topic, t) {
			pending = append(pending, replay{topic: t, payload: p})
		}
	}
	b.mu.Unlock()

	for _, r := range pending {
		handler(r.topic, r.payload) //nolint:errcheck // replay is best effort
	}
	return nil
}

// IsConnected implements Broker.
func (b *MemoryBroker) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// Close implements Broker. Subscriptions are dropped.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.connected = false
	b.subs = nil
	b.mu.Unlock()
	return nil
}

// Published returns a copy of every message published so far. It is empty
// unless the broker was built with NewRecordingBroker.
func (b *MemoryBroker) Published() []PublishedMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]PublishedMessage, len(b.published))
	copy(out, b.published)
	return out
}

// PublishedTo returns the messages published to one exact topic.
func (b *MemoryBroker) PublishedTo(topic string) []PublishedMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []PublishedMessage
	for _, m := range b.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
