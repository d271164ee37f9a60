package instance

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-modkit/internal/ipc"
	"github.com/nerrad567/gray-logic-modkit/internal/options"
	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

// hostCall is one module → host call as the fake host received it.
type hostCall struct {
	method  string
	payload json.RawMessage
}

// fakeHost records module → host calls in arrival order.
type fakeHost struct {
	peer *ipc.Peer

	mu    sync.Mutex
	calls []hostCall
}

func newFakeHost(peer *ipc.Peer) *fakeHost {
	h := &fakeHost{peer: peer}
	record := func(req *ipc.Request) {
		h.mu.Lock()
		h.calls = append(h.calls, hostCall{method: req.Name, payload: append(json.RawMessage(nil), req.Payload...)})
		h.mu.Unlock()
	}
	for _, m := range []string{
		protocol.MethodUpgradedItems,
		protocol.MethodSetActionDefinitions,
		protocol.MethodSetFeedbackDefinitions,
		protocol.MethodSetPresetDefinitions,
		protocol.MethodSetVariableDefinitions,
		protocol.MethodSetVariableValues,
		protocol.MethodUpdateFeedbackValues,
		protocol.MethodSaveConfig,
		protocol.MethodSendOSC,
		protocol.MethodSetStatus,
		protocol.MethodLogMessage,
	} {
		peer.HandleRequest(m, func(req *ipc.Request) {
			record(req)
			req.Reply(nil, nil)
		})
	}
	peer.HandleRequest(protocol.MethodParseVariables, func(req *ipc.Request) {
		record(req)
		var msg protocol.ParseVariablesMessage
		if err := req.Decode(&msg); err != nil {
			req.Reply(nil, err)
			return
		}
		req.Reply(protocol.ParseVariablesResponse{Text: strings.ReplaceAll(msg.Text, "$(test:count)", "5")}, nil)
	})
	return h
}

// call invokes a host → module method.
func (h *fakeHost) call(t *testing.T, method string, payload, out any) error {
	t.Helper()
	return h.peer.Call(context.Background(), method, payload, out)
}

// sync returns once every frame the module sent so far has been recorded.
// The module answers on the same ordered link, after anything it sent
// earlier.
func (h *fakeHost) sync(t *testing.T) {
	t.Helper()
	if err := h.call(t, protocol.MethodGetConfigFields, nil, nil); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

func (h *fakeHost) reset() {
	h.mu.Lock()
	h.calls = nil
	h.mu.Unlock()
}

// received returns the payloads of every recorded call to method.
func (h *fakeHost) received(method string) []json.RawMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []json.RawMessage
	for _, c := range h.calls {
		if c.method == method {
			out = append(out, c.payload)
		}
	}
	return out
}

func (h *fakeHost) feedbackBatches(t *testing.T) [][]protocol.FeedbackValue {
	t.Helper()
	var out [][]protocol.FeedbackValue
	for _, raw := range h.received(protocol.MethodUpdateFeedbackValues) {
		var msg protocol.UpdateFeedbackValuesMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("decoding feedback values: %v", err)
		}
		out = append(out, msg.Values)
	}
	return out
}

func (h *fakeHost) variableBatches(t *testing.T) [][]protocol.VariableValue {
	t.Helper()
	var out [][]protocol.VariableValue
	for _, raw := range h.received(protocol.MethodSetVariableValues) {
		var msg protocol.SetVariableValuesMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("decoding variable values: %v", err)
		}
		out = append(out, msg.NewValues)
	}
	return out
}

func (h *fakeHost) upgradedItems(t *testing.T) []protocol.UpgradedItemsMessage {
	t.Helper()
	var out []protocol.UpgradedItemsMessage
	for _, raw := range h.received(protocol.MethodUpgradedItems) {
		var msg protocol.UpgradedItemsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("decoding upgraded items: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

// testModule is a scriptable Module.
type testModule struct {
	mu          sync.Mutex
	initErr     error
	destroyErr  error
	configErr   error
	initBlock   chan struct{}
	initConfigs []map[string]any
	configs     []map[string]any
	destroys    int
	fields      []options.Field
}

func (m *testModule) Init(_ context.Context, config map[string]any) error {
	if m.initBlock != nil {
		<-m.initBlock
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initConfigs = append(m.initConfigs, config)
	return m.initErr
}

func (m *testModule) Destroy(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroys++
	return m.destroyErr
}

func (m *testModule) ConfigUpdated(_ context.Context, config map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.configErr != nil {
		return m.configErr
	}
	m.configs = append(m.configs, config)
	return nil
}

func (m *testModule) ConfigFields() []options.Field {
	return m.fields
}

func (m *testModule) setDestroyErr(err error) {
	m.mu.Lock()
	m.destroyErr = err
	m.mu.Unlock()
}

// httpModule adds the HTTP capability.
type httpModule struct {
	testModule
	HTTPHandler
}

// newTestInstance wires mod to a fake host over an in-process pipe.
func newTestInstance(t *testing.T, mod Module, opts Options) (*Instance, *fakeHost) {
	t.Helper()
	a, b := ipc.NewPipe()

	modPeer, err := ipc.NewPeer(ipc.Options{Carrier: a})
	if err != nil {
		t.Fatalf("NewPeer() error = %v", err)
	}
	hostPeer, err := ipc.NewPeer(ipc.Options{Carrier: b})
	if err != nil {
		t.Fatalf("NewPeer() error = %v", err)
	}
	host := newFakeHost(hostPeer)

	opts.Peer = modPeer
	inst, err := New(func(*Instance) Module { return mod }, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := modPeer.Start(); err != nil {
		t.Fatalf("module Start() error = %v", err)
	}
	if err := hostPeer.Start(); err != nil {
		t.Fatalf("host Start() error = %v", err)
	}

	t.Cleanup(func() {
		inst.Close()
		modPeer.Close()
		hostPeer.Close()
	})
	return inst, host
}

// initInstance runs a successful init with no stored items and waits for
// the bootstrap pass.
func initInstance(t *testing.T, inst *Instance, host *fakeHost, msg protocol.InitMessage) protocol.InitResponse {
	t.Helper()
	var res protocol.InitResponse
	if err := host.call(t, protocol.MethodInit, msg, &res); err != nil {
		t.Fatalf("init error = %v", err)
	}
	inst.bootstrapping.Wait()
	host.sync(t)
	return res
}

func feedbackDiff(entries map[string]*protocol.FeedbackInstance) protocol.UpdateFeedbacksMessage {
	return protocol.UpdateFeedbacksMessage{Feedbacks: entries}
}

func actionDiff(entries map[string]*protocol.ActionInstance) protocol.UpdateActionsMessage {
	return protocol.UpdateActionsMessage{Actions: entries}
}
