package ipc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/mqtt"
)

// MockMQTTClient records publishes and lets tests inject messages.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions map[string]mqtt.MessageHandler
	resumes       map[string]func()
	publishErr    error
	unsubscribed  []string
}

type mockPublish struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func newMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		subscriptions: make(map[string]mqtt.MessageHandler),
		resumes:       make(map[string]func()),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{topic, payload, qos, retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler, opts ...mqtt.SubscribeOption) error {
	var o mqtt.SubscribeOptions
	for _, opt := range opts {
		opt(&o)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[topic] = handler
	if o.OnResume != nil {
		m.resumes[topic] = o.OnResume
	}
	return nil
}

func (m *MockMQTTClient) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, topic)
	m.unsubscribed = append(m.unsubscribed, topic)
	return nil
}

// SimulateMessage delivers payload to the handler subscribed on topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) bool {
	m.mu.Lock()
	h, ok := m.subscriptions[topic]
	m.mu.Unlock()
	if !ok {
		return false
	}
	_ = h(topic, payload)
	return true
}

// SimulateReconnect runs the resume hook registered for topic, as the client
// does once a lost connection is back.
func (m *MockMQTTClient) SimulateReconnect(topic string) bool {
	m.mu.Lock()
	fn, ok := m.resumes[topic]
	m.mu.Unlock()
	if !ok {
		return false
	}
	fn()
	return true
}

func TestMQTTCarrier_TopicsPerSide(t *testing.T) {
	client := newMockMQTTClient()

	module := ModuleCarrier(client, "generic-1", 1)
	host := HostCarrier(client, "generic-1", 1)

	if module.inbound != host.outbound || module.outbound != host.inbound {
		t.Fatalf("module %+v and host %+v topics do not mirror", module, host)
	}
	if module.inbound != "graylogic/module/generic-1/module" {
		t.Errorf("module inbound = %q", module.inbound)
	}
}

func TestMQTTCarrier_SendAndListen(t *testing.T) {
	client := newMockMQTTClient()
	carrier := ModuleCarrier(client, "generic-1", 1)

	var got [][]byte
	if err := carrier.Listen(func(frame []byte) { got = append(got, frame) }); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if !client.SimulateMessage("graylogic/module/generic-1/module", []byte(`{"kind":"call"}`)) {
		t.Fatal("carrier did not subscribe to its inbound topic")
	}
	if len(got) != 1 {
		t.Fatalf("received %d frames, want 1", len(got))
	}

	if err := carrier.Send(context.Background(), []byte("frame")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(client.published) != 1 {
		t.Fatalf("published %d, want 1", len(client.published))
	}
	pub := client.published[0]
	if pub.topic != "graylogic/module/generic-1/host" || pub.retained || pub.qos != 1 {
		t.Errorf("published %+v", pub)
	}

	if err := carrier.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(client.unsubscribed) != 1 {
		t.Errorf("unsubscribed = %v", client.unsubscribed)
	}
}

func TestMQTTCarrier_SendErrors(t *testing.T) {
	client := newMockMQTTClient()
	client.publishErr = mqtt.ErrNotConnected
	carrier := HostCarrier(client, "generic-1", 1)

	err := carrier.Send(context.Background(), []byte("x"))
	if !errors.Is(err, ErrSendFailed) || !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrSendFailed wrapping ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := carrier.Send(ctx, []byte("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("Send(cancelled) error = %v", err)
	}
}

// Peers talk over a simulated broker exactly as they do over a pipe.
func TestMQTTCarrier_PeerRoundtrip(t *testing.T) {
	broker := newLoopbackBroker()
	host, err := NewPeer(Options{Carrier: HostCarrier(broker, "generic-1", 1)})
	if err != nil {
		t.Fatalf("NewPeer() error = %v", err)
	}
	defer host.Close()
	module, err := NewPeer(Options{Carrier: ModuleCarrier(broker, "generic-1", 1)})
	if err != nil {
		t.Fatalf("NewPeer() error = %v", err)
	}
	defer module.Close()

	module.Handle("ping", func(context.Context, *Request) (any, error) { return "pong", nil })
	if err := host.Start(); err != nil {
		t.Fatal(err)
	}
	if err := module.Start(); err != nil {
		t.Fatal(err)
	}

	var got string
	if err := host.Call(context.Background(), "ping", nil, &got); err != nil || got != "pong" {
		t.Errorf("Call() = %q, %v", got, err)
	}
}

// loopbackBroker routes publishes to subscribers on its own goroutine, in order.
type loopbackBroker struct {
	*MockMQTTClient
	in *PipeEnd
}

func newLoopbackBroker() *loopbackBroker {
	a, b := NewPipe()
	lb := &loopbackBroker{MockMQTTClient: newMockMQTTClient(), in: a}
	_ = b.Listen(func(frame []byte) {
		topicLen := int(frame[0])
		lb.SimulateMessage(string(frame[1:1+topicLen]), frame[1+topicLen:])
	})
	return lb
}

func (lb *loopbackBroker) Publish(topic string, payload []byte, _ byte, _ bool) error {
	msg := append([]byte{byte(len(topic))}, topic...)
	msg = append(msg, payload...)
	return lb.in.Send(context.Background(), msg)
}

// A reconnect fails calls whose responses may have been dropped, rather
// than leaving them to the call timeout.
func TestMQTTCarrier_ReconnectFailsPendingCalls(t *testing.T) {
	client := newMockMQTTClient()
	host, err := NewPeer(Options{Carrier: HostCarrier(client, "generic-1", 1)})
	if err != nil {
		t.Fatalf("NewPeer() error = %v", err)
	}
	defer host.Close()
	if err := host.Start(); err != nil {
		t.Fatal(err)
	}

	// Nobody answers on the module side.
	f := host.Go(context.Background(), "getConfigFields", nil)
	if host.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", host.Pending())
	}

	if !client.SimulateReconnect("graylogic/module/generic-1/host") {
		t.Fatal("carrier did not register a resume hook on its inbound topic")
	}

	select {
	case <-f.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pending call not failed after reconnect")
	}
	if err := f.Wait(context.Background(), nil); !errors.Is(err, ErrSendFailed) {
		t.Errorf("Wait() error = %v, want ErrSendFailed", err)
	}
	if host.Pending() != 0 {
		t.Errorf("Pending() = %d after reconnect, want 0", host.Pending())
	}

	// Later calls are unaffected.
	client.SimulateReconnect("graylogic/module/generic-1/host")
	later := host.Go(context.Background(), "getConfigFields", nil)
	select {
	case <-later.Done():
		t.Error("call made after the reconnect was failed")
	default:
	}
}

func TestPipe_ClosedEndRejectsFrames(t *testing.T) {
	a, b := NewPipe()
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if err := a.Send(context.Background(), []byte("x")); !errors.Is(err, ErrSendFailed) {
		t.Errorf("Send() to closed end error = %v", err)
	}
	if err := b.Listen(func([]byte) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Listen() on closed end error = %v", err)
	}
}
