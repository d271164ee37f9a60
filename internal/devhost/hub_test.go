package devhost

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

var testFeedbackBatch = []protocol.FeedbackValue{
	{ID: "fb1", ControlID: "bank1-1", Value: true},
	{ID: "fb2", ControlID: "bank1-2", Value: false},
	{ID: "fb3", ControlID: "bank1-1", Value: 7.0},
}

func TestSubscription_View(t *testing.T) {
	variables := []protocol.VariableValue{{ID: "count", Value: 3.0}, {ID: "last", Value: "reset"}}

	tests := []struct {
		name    string
		sub     WSSubscribePayload
		channel string
		payload any
		want    any
		wantOK  bool
	}{
		{
			name:    "not subscribed",
			sub:     WSSubscribePayload{Channels: []string{EventStatus}},
			channel: EventFeedbackValues,
			payload: testFeedbackBatch,
		},
		{
			name:    "whole batch without filters",
			sub:     WSSubscribePayload{Channels: []string{EventFeedbackValues}},
			channel: EventFeedbackValues,
			payload: testFeedbackBatch,
			want:    testFeedbackBatch,
			wantOK:  true,
		},
		{
			name:    "by control",
			sub:     WSSubscribePayload{Channels: []string{EventFeedbackValues}, Controls: []string{"bank1-1"}},
			channel: EventFeedbackValues,
			payload: testFeedbackBatch,
			want:    []protocol.FeedbackValue{testFeedbackBatch[0], testFeedbackBatch[2]},
			wantOK:  true,
		},
		{
			name: "by feedback or control",
			sub: WSSubscribePayload{
				Channels:  []string{EventFeedbackValues},
				Feedbacks: []string{"fb2"},
				Controls:  []string{"bank9-9"},
			},
			channel: EventFeedbackValues,
			payload: testFeedbackBatch,
			want:    []protocol.FeedbackValue{testFeedbackBatch[1]},
			wantOK:  true,
		},
		{
			name:    "nothing left",
			sub:     WSSubscribePayload{Channels: []string{EventFeedbackValues}, Feedbacks: []string{"fb9"}},
			channel: EventFeedbackValues,
			payload: testFeedbackBatch,
		},
		{
			name:    "variables by id through wildcard",
			sub:     WSSubscribePayload{Channels: []string{WSAllChannels}, Variables: []string{"count"}},
			channel: EventVariableValues,
			payload: variables,
			want:    []protocol.VariableValue{variables[0]},
			wantOK:  true,
		},
		{
			name:    "feedback filter leaves variables alone",
			sub:     WSSubscribePayload{Channels: []string{EventVariableValues}, Feedbacks: []string{"fb1"}},
			channel: EventVariableValues,
			payload: variables,
			want:    variables,
			wantOK:  true,
		},
		{
			name:    "other payloads pass",
			sub:     WSSubscribePayload{Channels: []string{EventStatus}, Controls: []string{"bank1-1"}},
			channel: EventStatus,
			payload: map[string]any{"status": protocol.StatusOK},
			want:    map[string]any{"status": protocol.StatusOK},
			wantOK:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s subscription
			s.add(tt.sub)

			got, _, ok := s.view(tt.channel, tt.payload)
			if ok != tt.wantOK {
				t.Fatalf("view() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("view() (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSubscription_AddRemove(t *testing.T) {
	var s subscription

	added := s.add(WSSubscribePayload{Channels: []string{EventStatus, EventStatus, EventFeedbackValues}})
	if diff := cmp.Diff([]string{EventStatus, EventFeedbackValues}, added); diff != "" {
		t.Errorf("first add (-want +got):\n%s", diff)
	}
	if added := s.add(WSSubscribePayload{Channels: []string{EventStatus}}); len(added) != 0 {
		t.Errorf("repeated add = %v, want nothing new", added)
	}
	added = s.add(WSSubscribePayload{Channels: []string{WSAllChannels}})
	if diff := cmp.Diff([]string{EventFeedbackValues, EventVariableValues, WSAllChannels}, added); diff != "" {
		t.Errorf("wildcard add (-want +got):\n%s", diff)
	}

	s.add(WSSubscribePayload{Feedbacks: []string{"fb1"}})
	s.remove(WSSubscribePayload{Channels: []string{WSAllChannels}, Feedbacks: []string{"fb1"}})

	want := WSSubscribePayload{Channels: []string{EventFeedbackValues, EventStatus}}
	if diff := cmp.Diff(want, s.payload()); diff != "" {
		t.Errorf("payload (-want +got):\n%s", diff)
	}
	// The emptied feedback filter no longer admits anything.
	if _, _, ok := s.view(EventFeedbackValues, testFeedbackBatch); ok {
		t.Error("view() admitted values after the last feedback id was removed")
	}
}

func TestHub_EvictsSlowClient(t *testing.T) {
	h := NewHub(config.WebSocketConfig{}, logging.Discard())
	c := &hubClient{hub: h, send: make(chan []byte, 1)}
	c.sub.add(WSSubscribePayload{Channels: []string{EventStatus}})
	h.clients[c] = struct{}{}

	h.Broadcast(EventStatus, map[string]any{"status": protocol.StatusOK})
	if h.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d after one event, want 1", h.ClientCount())
	}
	h.Broadcast(EventStatus, map[string]any{"status": protocol.StatusDisconnected})
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d after overflow, want 0", h.ClientCount())
	}

	if _, ok := <-c.send; !ok {
		t.Fatal("first event lost")
	}
	if _, ok := <-c.send; ok {
		t.Error("send channel still open after eviction")
	}
}

// stateSource is a StateSource with fixed values.
type stateSource struct {
	feedbacks []protocol.FeedbackValue
	variables map[string]any
}

func (s stateSource) FeedbackValues() []protocol.FeedbackValue { return s.feedbacks }

func (s stateSource) VariableValues(context.Context) (map[string]any, error) {
	return s.variables, nil
}

// wsFrame is WSMessage with the payload left encoded.
type wsFrame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

func TestHub_FilteredSubscription(t *testing.T) {
	h := NewHub(config.WebSocketConfig{}, logging.Discard())
	h.SetSource(stateSource{
		feedbacks: testFeedbackBatch,
		variables: map[string]any{"count": 3.0, "last": "reset"},
	})
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline

	read := func() wsFrame {
		t.Helper()
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		return f
	}
	feedbacks := func(f wsFrame) []protocol.FeedbackValue {
		t.Helper()
		var out []protocol.FeedbackValue
		if err := json.Unmarshal(f.Payload, &out); err != nil {
			t.Fatalf("decoding feedback values: %v", err)
		}
		return out
	}

	sub := WSSubscribePayload{Channels: []string{EventFeedbackValues}, Controls: []string{"bank1-2"}}
	if err := conn.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "s1", Payload: sub}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	ack := read()
	var state WSSubscribePayload
	if err := json.Unmarshal(ack.Payload, &state); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "s1" {
		t.Fatalf("ack = %+v, want response to s1", ack)
	}
	if diff := cmp.Diff(sub, state); diff != "" {
		t.Errorf("subscription state (-want +got):\n%s", diff)
	}

	snap := read()
	if snap.Type != WSTypeSnapshot || snap.EventType != EventFeedbackValues {
		t.Fatalf("second frame = %+v, want feedback snapshot", snap)
	}
	if diff := cmp.Diff([]protocol.FeedbackValue{testFeedbackBatch[1]}, feedbacks(snap)); diff != "" {
		t.Errorf("snapshot (-want +got):\n%s", diff)
	}

	// Neither of these concerns bank1-2, so the client sees only the third.
	h.Broadcast(EventFeedbackValues, []protocol.FeedbackValue{{ID: "fb1", ControlID: "bank1-1", Value: false}})
	h.Broadcast(EventVariableValues, []protocol.VariableValue{{ID: "count", Value: 4.0}})
	h.Broadcast(EventFeedbackValues, []protocol.FeedbackValue{
		{ID: "fb1", ControlID: "bank1-1", Value: true},
		{ID: "fb2", ControlID: "bank1-2", Value: true},
	})

	ev := read()
	if ev.Type != WSTypeEvent || ev.EventType != EventFeedbackValues {
		t.Fatalf("event = %+v, want feedback values", ev)
	}
	want := []protocol.FeedbackValue{{ID: "fb2", ControlID: "bank1-2", Value: true}}
	if diff := cmp.Diff(want, feedbacks(ev)); diff != "" {
		t.Errorf("filtered event (-want +got):\n%s", diff)
	}
}
