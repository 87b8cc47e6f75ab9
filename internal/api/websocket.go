package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tiles-iot/tiles-gateway/internal/gateway"
	"github.com/tiles-iot/tiles-gateway/internal/infrastructure/config"
	"github.com/tiles-iot/tiles-gateway/internal/infrastructure/logging"
)

// Frame types on the live event feed.
const (
	feedSubscribe   = "subscribe"
	feedUnsubscribe = "unsubscribe"
	feedPing        = "ping"
	feedPong        = "pong"
	feedEvent       = "event"
	feedAck         = "response"
	feedError       = "error"

	// anyKind follows every gateway event kind.
	anyKind = "*"

	// feedQueue bounds the frames waiting for a slow subscriber.
	feedQueue = 256
)

// envelope is the JSON frame written to feed subscribers.
type envelope struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// inbound is a frame read from a subscriber. Payload stays raw until the
// frame type says how to read it.
type inbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// kindFilter lists the event kinds to follow, e.g. "devices.changed" or
// "event.received".
type kindFilter struct {
	Channels []string `json:"channels"`
}

// Hub is the live event feed. The coordinator notifies it of every tile
// state change and received event; it forwards each one to the operators
// following that kind.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

var _ gateway.Notifier = (*Hub)(nil)

// subscriber is one operator connection on the feed.
type subscriber struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	subject string

	mu    sync.Mutex
	kinds map[string]struct{}
	queue chan []byte
	done  bool
}

// Browsers are admitted by the CORS middleware before the upgrade.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// NewHub returns an empty feed.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
	}
}

// Run holds the feed open until ctx ends, then drops every subscriber.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.shutdown()
}

// Notify forwards a gateway event to subscribers following its kind.
func (h *Hub) Notify(ev gateway.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	h.fanOut(string(ev.Kind), ev)
}

// Subscribers returns the number of attached operators.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// attach admits s to the feed. It fails once the feed has shut down.
func (h *Hub) attach(s *subscriber) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	h.logger.Debug("feed subscriber attached", "subscriber", s.id, "subject", s.subject, "subscribers", n)
	return true
}

// detach removes s and ends its writer. Safe to call more than once.
func (h *Hub) detach(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()

	if s.stop() {
		h.logger.Debug("feed subscriber detached", "subscriber", s.id, "subscribers", n)
	}
}

// fanOut encodes payload once and queues it for every subscriber following
// kind. Subscribers whose queue is full miss the frame.
func (h *Hub) fanOut(kind string, payload any) {
	data, err := encodeFrame(envelope{Type: feedEvent, EventType: kind, Payload: payload})
	if err != nil {
		h.logger.Error("encoding feed event", "kind", kind, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var delivered, lagging int
	for _, s := range targets {
		if !s.follows(kind) {
			continue
		}
		if s.push(data) {
			delivered++
		} else {
			lagging++
		}
	}
	if lagging > 0 {
		h.logger.Warn("feed subscribers lagging", "kind", kind, "dropped", lagging)
	}
	if delivered > 0 {
		h.logger.Debug("feed event delivered", "kind", kind, "subscribers", delivered)
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	h.closed = true
	gone := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		gone = append(gone, s)
	}
	clear(h.subs)
	h.mu.Unlock()

	for _, s := range gone {
		s.stop()
		if s.conn != nil {
			s.conn.Close()
		}
	}
}

func newSubscriber(h *Hub, conn *websocket.Conn) *subscriber {
	return &subscriber{
		id:    uuid.NewString(),
		hub:   h,
		conn:  conn,
		kinds: make(map[string]struct{}),
		queue: make(chan []byte, feedQueue),
	}
}

// push queues data without blocking. It reports false when the subscriber
// is gone or its queue is full.
func (s *subscriber) push(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	select {
	case s.queue <- data:
		return true
	default:
		return false
	}
}

// stop closes the queue so the writer sends a close frame and exits.
// Only the first call does anything.
func (s *subscriber) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.done = true
	close(s.queue)
	return true
}

func (s *subscriber) follows(kind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.kinds[anyKind]; ok {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

func (s *subscriber) follow(kinds []string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range kinds {
		if on {
			s.kinds[k] = struct{}{}
		} else {
			delete(s.kinds, k)
		}
	}
}

// handleWebSocket upgrades an authenticated request onto the event feed.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeUnavailable(w, "websocket hub not running")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	sub := newSubscriber(s.hub, conn)
	if claims := claimsFromContext(r.Context()); claims != nil {
		sub.subject = claims.Subject
	}
	if !s.hub.attach(sub) {
		conn.Close()
		return
	}

	go sub.write(s.wsCfg)
	go sub.read(s.wsCfg)
}

// keepalive returns the ping period and how long a ping may go unanswered.
func keepalive(cfg config.WebSocketConfig) (every, grace time.Duration) {
	return time.Duration(cfg.PingInterval) * time.Second, time.Duration(cfg.PongTimeout) * time.Second
}

// read handles operator frames until the connection fails or goes quiet
// for longer than one ping period plus grace.
func (s *subscriber) read(cfg config.WebSocketConfig) {
	defer func() {
		s.hub.detach(s)
		s.conn.Close()
	}()

	every, grace := keepalive(cfg)
	extend := func() error {
		return s.conn.SetReadDeadline(time.Now().Add(every + grace))
	}

	s.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	_ = extend()
	s.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("feed subscriber read failed", "subscriber", s.id, "error", err)
			} else {
				s.hub.logger.Debug("feed subscriber closed", "subscriber", s.id)
			}
			return
		}
		_ = extend()
		s.dispatch(data)
	}
}

// write drains the queue onto the connection and pings on every period.
func (s *subscriber) write(cfg config.WebSocketConfig) {
	every, grace := keepalive(cfg)
	ticker := time.NewTicker(every)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	send := func(kind int, data []byte) error {
		_ = s.conn.SetWriteDeadline(time.Now().Add(grace))
		return s.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-s.queue:
			if !ok {
				_ = send(websocket.CloseMessage, nil)
				return
			}
			if send(websocket.TextMessage, data) != nil {
				return
			}
		case <-ticker.C:
			if send(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

// dispatch acts on one operator frame.
func (s *subscriber) dispatch(data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		s.reply("", feedError, errorBody("invalid JSON message"))
		return
	}

	switch in.Type {
	case feedSubscribe, feedUnsubscribe:
		var f kindFilter
		if len(in.Payload) == 0 || json.Unmarshal(in.Payload, &f) != nil {
			s.reply(in.ID, feedError, errorBody("invalid subscription payload"))
			return
		}
		on := in.Type == feedSubscribe
		s.follow(f.Channels, on)
		if on {
			s.hub.logger.Debug("feed subscriber following", "subscriber", s.id, "kinds", f.Channels)
			s.reply(in.ID, feedAck, map[string]any{"subscribed": f.Channels})
		} else {
			s.reply(in.ID, feedAck, map[string]any{"unsubscribed": f.Channels})
		}
	case feedPing:
		s.reply(in.ID, feedPong, nil)
	default:
		s.reply(in.ID, feedError, errorBody("unknown message type: "+in.Type))
	}
}

func (s *subscriber) reply(id, typ string, payload any) {
	data, err := encodeFrame(envelope{Type: typ, ID: id, Payload: payload})
	if err != nil {
		return
	}
	s.push(data)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"message": msg}
}

func encodeFrame(e envelope) ([]byte, error) {
	e.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(e)
}
