package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-link/internal/command"
	"github.com/nerrad567/gray-logic-link/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-link/internal/infrastructure/logging"
)

// Frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameEvent       = "event"
	FrameAck         = "response"
	FrameError       = "error"

	subscriberQueue = 256
)

// Event channels.
const (
	ChannelStatusChanged   = "device.status_changed"
	ChannelCommandResolved = "command.resolved"
)

// Frame is one JSON message on the event socket, in either direction.
type Frame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// ChannelList is the payload of subscribe and unsubscribe frames.
type ChannelList struct {
	Channels []string `json:"channels"`
}

// StatusEvent is broadcast on ChannelStatusChanged.
type StatusEvent struct {
	DeviceID string         `json:"device_id"`
	State    map[string]any `json:"state"`
}

// CommandEvent is broadcast on ChannelCommandResolved.
type CommandEvent struct {
	DeviceID      string         `json:"device_id"`
	CommandType   string         `json:"command_type"`
	CorrelationID string         `json:"correlation_id"`
	Status        command.Status `json:"status"`
	Error         string         `json:"error,omitempty"`
	LatencyMS     int64          `json:"latency_ms"`
}

// Hub fans status and command events out to socket subscribers.
type Hub struct {
	logger    *logging.Logger
	readMax   int64
	pingEvery time.Duration
	pongWait  time.Duration

	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

// Subscriber is one connected socket and the channels it listens on.
// Frames queue on out; gone is closed when the hub drops the subscriber.
type Subscriber struct {
	hub  *Hub
	conn *websocket.Conn
	out  chan []byte
	gone chan struct{}
	once sync.Once

	mu       sync.RWMutex
	channels map[string]struct{}
}

// NewHub creates an empty hub. Ping and pong timings come from cfg in seconds.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		logger:    logger,
		readMax:   int64(cfg.MaxMessageSize),
		pingEvery: time.Duration(cfg.PingInterval) * time.Second,
		pongWait:  time.Duration(cfg.PongTimeout) * time.Second,
		subs:      make(map[*Subscriber]struct{}),
	}
}

func newSubscriber(h *Hub, conn *websocket.Conn, channels ...string) *Subscriber {
	s := &Subscriber{
		hub:      h,
		conn:     conn,
		out:      make(chan []byte, subscriberQueue),
		gone:     make(chan struct{}),
		channels: make(map[string]struct{}, len(channels)),
	}
	for _, ch := range channels {
		s.channels[ch] = struct{}{}
	}
	return s
}

// Run waits for ctx and then drops every subscriber.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*Subscriber]struct{})
	h.mu.Unlock()

	for s := range subs {
		s.drop()
	}
}

// Register adds a subscriber.
func (h *Hub) Register(s *Subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.Debug("event subscriber connected", "subscribers", n)
}

// Unregister removes a subscriber. Repeated calls are no-ops.
func (h *Hub) Unregister(s *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()

	if ok {
		s.drop()
		h.logger.Debug("event subscriber disconnected", "subscribers", n)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast queues an event frame for every subscriber of channel. A
// subscriber whose queue is full misses the event.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(Frame{
		Type:      FrameEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding event frame", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.subs))
	for s := range h.subs {
		if s.listens(channel) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.queue(data)
	}
}

// ObserveStatus is a status.Observer publishing to ChannelStatusChanged.
func (h *Hub) ObserveStatus(deviceID string, state map[string]any) error {
	h.Broadcast(ChannelStatusChanged, StatusEvent{DeviceID: deviceID, State: state})
	return nil
}

// CommandResolved publishes a finished command to ChannelCommandResolved.
func (h *Hub) CommandResolved(cmd command.Command) {
	h.Broadcast(ChannelCommandResolved, CommandEvent{
		DeviceID:      cmd.DeviceID,
		CommandType:   cmd.CommandType,
		CorrelationID: cmd.CorrelationID,
		Status:        cmd.Status,
		Error:         cmd.Error,
		LatencyMS:     cmd.Latency().Milliseconds(),
	})
}

// handleWebSocket attaches a subscriber to the hub. A ?channels= list
// subscribes on connect; browsers must send an origin the CORS list allows.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("event socket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sub := newSubscriber(s.hub, conn, r.URL.Query()["channels"]...)
	s.hub.Register(sub)

	go sub.writeLoop()
	go sub.readLoop()
}

// drop closes gone once; writeLoop then sends a close frame and closes the
// connection, which ends readLoop.
func (s *Subscriber) drop() {
	s.once.Do(func() { close(s.gone) })
}

func (s *Subscriber) listens(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.channels[channel]
	return ok
}

// queue never blocks; frames for a dropped or backed-up subscriber are lost.
func (s *Subscriber) queue(data []byte) {
	select {
	case <-s.gone:
		return
	default:
	}
	select {
	case s.out <- data:
	default:
	}
}

func (s *Subscriber) readLoop() {
	defer s.hub.Unregister(s)

	h := s.hub
	s.conn.SetReadLimit(h.readMax)
	extend := func() error {
		return s.conn.SetReadDeadline(time.Now().Add(h.pingEvery + h.pongWait))
	}
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	s.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("event socket read failed", "error", err)
			}
			return
		}
		extend() //nolint:errcheck // a failed deadline surfaces as a read error
		s.handleFrame(data)
	}
}

func (s *Subscriber) writeLoop() {
	h := s.hub
	ticker := time.NewTicker(h.pingEvery)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	write := func(kind int, data []byte) bool {
		s.conn.SetWriteDeadline(time.Now().Add(h.pongWait)) //nolint:errcheck // a failed deadline surfaces as a write error
		return s.conn.WriteMessage(kind, data) == nil
	}

	for {
		select {
		case <-s.gone:
			write(websocket.CloseMessage, nil)
			return
		case data := <-s.out:
			if !write(websocket.TextMessage, data) {
				h.Unregister(s)
				return
			}
		case <-ticker.C:
			if !write(websocket.PingMessage, nil) {
				h.Unregister(s)
				return
			}
		}
	}
}

func (s *Subscriber) handleFrame(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		s.reply("", FrameError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch f.Type {
	case FrameSubscribe, FrameUnsubscribe:
		s.changeChannels(f)
	case FramePing:
		s.reply(f.ID, FramePong, nil)
	default:
		s.reply(f.ID, FrameError, map[string]string{"message": "unknown message type: " + f.Type})
	}
}

func (s *Subscriber) changeChannels(f Frame) {
	raw, err := json.Marshal(f.Payload)
	var list ChannelList
	if err == nil {
		err = json.Unmarshal(raw, &list)
	}
	if err != nil {
		s.reply(f.ID, FrameError, map[string]string{"message": "invalid " + f.Type + " payload"})
		return
	}

	add := f.Type == FrameSubscribe
	s.mu.Lock()
	for _, ch := range list.Channels {
		if add {
			s.channels[ch] = struct{}{}
		} else {
			delete(s.channels, ch)
		}
	}
	s.mu.Unlock()

	key := "unsubscribed"
	if add {
		key = "subscribed"
	}
	s.hub.logger.Debug("event subscriber channels changed", key, list.Channels)
	s.reply(f.ID, FrameAck, map[string]any{key: list.Channels})
}

func (s *Subscriber) reply(id, kind string, payload any) {
	data, err := json.Marshal(Frame{
		Type:      kind,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	s.queue(data)
}
