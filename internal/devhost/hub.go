package devhost

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeSnapshot    = "snapshot"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSAllChannels subscribes a client to every event channel.
	WSAllChannels = "*"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	snapshotTimeout = 2 * time.Second
)

// WSMessage is a message sent to or from a websocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe messages,
// and of their responses, which carry the client's whole subscription.
//
// Feedbacks and Controls narrow feedback.values to the listed feedback
// instance ids or control ids; a value passes when either matches.
// Variables narrows variables.values the same way. A filter that was never
// set passes everything.
type WSSubscribePayload struct {
	Channels  []string `json:"channels"`
	Feedbacks []string `json:"feedbacks,omitempty"`
	Controls  []string `json:"controls,omitempty"`
	Variables []string `json:"variables,omitempty"`
}

// StateSource provides the current values a new subscriber starts from.
// *Host implements it.
type StateSource interface {
	FeedbackValues() []protocol.FeedbackValue
	VariableValues(ctx context.Context) (map[string]any, error)
}

// Hub fans host events out to websocket clients, each seeing only the
// feedbacks, controls and variables it asked for.
//
// A client whose buffer fills up is disconnected instead of missing values.
// On reconnect it subscribes again and starts from a fresh snapshot.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	source  StateSource
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// The dev host binds to loopback by default.
		return true
	},
}

// NewHub creates a hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*hubClient]struct{}),
	}
}

// SetSource sets where subscription snapshots come from. Without a source
// subscribers only get live events.
func (h *Hub) SetSource(src StateSource) {
	h.mu.Lock()
	h.source = src
	h.mu.Unlock()
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*hubClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		close(c.send)
		c.conn.Close()
	}
}

// Broadcast sends an event to every client whose subscription admits some
// of it. Feedback and variable batches are cut down per client.
func (h *Hub) Broadcast(channel string, payload any) {
	h.mu.RLock()
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	var whole []byte
	sent := 0
	for _, c := range clients {
		view, narrowed, ok := c.view(channel, payload)
		if !ok {
			continue
		}
		data := whole
		if narrowed || whole == nil {
			encoded, err := encodeEvent(WSTypeEvent, channel, view)
			if err != nil {
				h.logger.Error("failed to marshal broadcast message", "channel", channel, "error", err)
				return
			}
			data = encoded
			if !narrowed {
				whole = encoded
			}
		}
		if h.deliver(c, data) {
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", sent)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and starts the client's pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &hubClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", count)

	go c.writePump()
	go c.readPump()
}

// drop removes c. Only the caller that removes it closes its send channel.
func (h *Hub) drop(c *hubClient, reason string) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(c.send)
		h.logger.Debug("websocket client disconnected", "reason", reason, "clients", count)
	}
}

// deliver queues data for c, evicting it when its buffer is full.
func (h *Hub) deliver(c *hubClient, data []byte) bool {
	h.mu.RLock()
	_, live := h.clients[c]
	if live {
		select {
		case c.send <- data:
			h.mu.RUnlock()
			return true
		default:
		}
	}
	h.mu.RUnlock()

	if live {
		h.logger.Warn("websocket client too slow, disconnecting", "buffered", wsSendBufferSize)
		h.drop(c, "slow consumer")
	}
	return false
}

// snapshot sends c the current values of the value channels it just
// subscribed to.
func (h *Hub) snapshot(c *hubClient, channels []string) {
	h.mu.RLock()
	src := h.source
	h.mu.RUnlock()
	if src == nil {
		return
	}

	for _, channel := range channels {
		var current any
		switch channel {
		case EventFeedbackValues:
			current = src.FeedbackValues()
		case EventVariableValues:
			ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
			values, err := src.VariableValues(ctx)
			cancel()
			if err != nil {
				h.logger.Warn("variable snapshot failed", "error", err)
				continue
			}
			current = variableList(values)
		default:
			continue
		}

		view, _, ok := c.view(channel, current)
		if !ok {
			continue
		}
		data, err := encodeEvent(WSTypeSnapshot, channel, view)
		if err != nil {
			h.logger.Error("failed to marshal snapshot", "channel", channel, "error", err)
			continue
		}
		h.deliver(c, data)
	}
}

func (h *Hub) pingInterval() time.Duration {
	if h.cfg.PingInterval <= 0 {
		return 30 * time.Second
	}
	return time.Duration(h.cfg.PingInterval) * time.Second
}

func (h *Hub) pongWait() time.Duration {
	if h.cfg.PongTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(h.cfg.PongTimeout) * time.Second
}

// hubClient is one connected websocket client.
type hubClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu  sync.RWMutex
	sub subscription
}

func (c *hubClient) view(channel string, payload any) (any, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub.view(channel, payload)
}

func (c *hubClient) readPump() {
	defer func() {
		c.hub.drop(c, "closed")
		c.conn.Close()
	}()

	if c.hub.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	}
	deadline := c.hub.pingInterval() + c.hub.pongWait()
	c.conn.SetReadDeadline(time.Now().Add(deadline)) //nolint:errcheck // Best-effort deadline
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(deadline)) //nolint:errcheck // Best-effort deadline
		c.handleMessage(message)
	}
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	wait := c.hub.pongWait()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // Best-effort close
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(wait)) //nolint:errcheck // Write error caught below
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wait)) //nolint:errcheck // Ping error caught below
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *hubClient) handleMessage(data []byte) {
	var msg struct {
		Type    string          `json:"type"`
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var p WSSubscribePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.reply(msg.ID, WSTypeError, map[string]string{"message": "invalid " + msg.Type + " payload"})
			return
		}
		c.mu.Lock()
		var added []string
		if msg.Type == WSTypeSubscribe {
			added = c.sub.add(p)
		} else {
			c.sub.remove(p)
		}
		state := c.sub.payload()
		c.mu.Unlock()
		c.reply(msg.ID, WSTypeResponse, state)
		c.hub.snapshot(c, added)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.reply(msg.ID, WSTypeError, map[string]string{"message": "unknown message type: " + msg.Type})
	}
}

func (c *hubClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.hub.deliver(c, data)
}

func encodeEvent(msgType, channel string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      msgType,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
}

func variableList(values map[string]any) []protocol.VariableValue {
	out := make([]protocol.VariableValue, 0, len(values))
	for id, v := range values {
		out = append(out, protocol.VariableValue{ID: id, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// idSet is an id filter. A nil set was never narrowed and admits every id.
type idSet map[string]struct{}

func (s idSet) has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s idSet) add(ids []string) idSet {
	if len(ids) == 0 {
		return s
	}
	if s == nil {
		s = make(idSet, len(ids))
	}
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s idSet) remove(ids []string) {
	for _, id := range ids {
		delete(s, id)
	}
}

func (s idSet) sorted() []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// subscription is what one client asked to see.
type subscription struct {
	channels  idSet
	feedbacks idSet
	controls  idSet
	variables idSet
}

// add merges p and returns the channels that were not subscribed before.
func (s *subscription) add(p WSSubscribePayload) []string {
	var added []string
	for _, ch := range p.Channels {
		if s.channels.has(ch) || slices.Contains(added, ch) {
			continue
		}
		if ch == WSAllChannels {
			// A wildcard subscription also starts from the current values.
			added = append(added, EventFeedbackValues, EventVariableValues)
		}
		added = append(added, ch)
	}
	s.channels = s.channels.add(p.Channels)
	s.feedbacks = s.feedbacks.add(p.Feedbacks)
	s.controls = s.controls.add(p.Controls)
	s.variables = s.variables.add(p.Variables)
	return added
}

// remove drops channels and ids. A filter emptied this way admits nothing.
func (s *subscription) remove(p WSSubscribePayload) {
	s.channels.remove(p.Channels)
	s.feedbacks.remove(p.Feedbacks)
	s.controls.remove(p.Controls)
	s.variables.remove(p.Variables)
}

func (s *subscription) payload() WSSubscribePayload {
	channels := s.channels.sorted()
	if channels == nil {
		channels = []string{}
	}
	return WSSubscribePayload{
		Channels:  channels,
		Feedbacks: s.feedbacks.sorted(),
		Controls:  s.controls.sorted(),
		Variables: s.variables.sorted(),
	}
}

// view returns the part of an event the subscriber should see, whether it
// had to be cut down, and false when nothing is left.
func (s *subscription) view(channel string, payload any) (any, bool, bool) {
	if !s.channels.has(channel) && !s.channels.has(WSAllChannels) {
		return nil, false, false
	}

	switch values := payload.(type) {
	case []protocol.FeedbackValue:
		if s.feedbacks == nil && s.controls == nil {
			return payload, false, len(values) > 0
		}
		var kept []protocol.FeedbackValue
		for _, v := range values {
			if s.feedbacks.has(v.ID) || s.controls.has(v.ControlID) {
				kept = append(kept, v)
			}
		}
		return kept, true, len(kept) > 0
	case []protocol.VariableValue:
		if s.variables == nil {
			return payload, false, len(values) > 0
		}
		var kept []protocol.VariableValue
		for _, v := range values {
			if s.variables.has(v.ID) {
				kept = append(kept, v)
			}
		}
		return kept, true, len(kept) > 0
	}
	return payload, false, true
}
