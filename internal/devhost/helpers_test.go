package devhost

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-modkit/internal/instance"
	"github.com/nerrad567/gray-logic-modkit/internal/ipc"
	"github.com/nerrad567/gray-logic-modkit/internal/modules/counter"
	"github.com/nerrad567/gray-logic-modkit/migrations"
)

const (
	testInstanceID = "instance-001"
	testLabel      = "counter"
)

// recordedEvent is one Broadcast call.
type recordedEvent struct {
	channel string
	payload any
}

// eventRecorder is a Broadcaster that keeps every event.
type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) Broadcast(channel string, payload any) {
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{channel: channel, payload: payload})
	r.mu.Unlock()
}

func (r *eventRecorder) on(channel string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, e := range r.events {
		if e.channel == channel {
			out = append(out, e.payload)
		}
	}
	return out
}

// fakeHistory is a HistoryWriter that keeps every write.
type fakeHistory struct {
	mu        sync.Mutex
	variables map[string]any
	feedbacks map[string]any
	statuses  []string
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{variables: map[string]any{}, feedbacks: map[string]any{}}
}

func (f *fakeHistory) WriteVariableValue(_, _, variableID string, value any) {
	f.mu.Lock()
	f.variables[variableID] = value
	f.mu.Unlock()
}

func (f *fakeHistory) WriteFeedbackValue(_, feedbackID, _ string, value any) {
	f.mu.Lock()
	f.feedbacks[feedbackID] = value
	f.mu.Unlock()
}

func (f *fakeHistory) WriteStatus(_, status, _ string) {
	f.mu.Lock()
	f.statuses = append(f.statuses, status)
	f.mu.Unlock()
}

func (f *fakeHistory) variable(id string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.variables[id]
}

// harness is a Host driving a real counter instance over an in-process pipe.
type harness struct {
	host    *Host
	store   *Store
	inst    *instance.Instance
	counter *counter.Counter
	events  *eventRecorder
	history *fakeHistory
}

// openTestStore returns a store on a migrated in-memory database.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewStore(db)
}

// newHarness builds a harness. seed runs against the store before the host
// exists, with the instance row already created.
func newHarness(t *testing.T, seed func(ctx context.Context, s *Store) error) *harness {
	t.Helper()
	ctx := context.Background()

	store := openTestStore(t)
	if seed != nil {
		if err := store.EnsureInstance(ctx, testInstanceID, testLabel); err != nil {
			t.Fatalf("EnsureInstance() error = %v", err)
		}
		if err := seed(ctx, store); err != nil {
			t.Fatalf("seed error = %v", err)
		}
	}

	h := &harness{store: store, events: &eventRecorder{}, history: newFakeHistory()}
	h.host, h.inst = connect(t, store, h.events, h.history, func(i *instance.Instance) instance.Module {
		h.counter = counter.New(i)
		return h.counter
	}, counter.UpgradeScripts())
	return h
}

// connect wires a Host on store to a fresh module instance over a pipe.
func connect(
	t *testing.T,
	store *Store,
	events Broadcaster,
	history HistoryWriter,
	factory func(*instance.Instance) instance.Module,
	scripts []instance.UpgradeScript,
) (*Host, *instance.Instance) {
	t.Helper()
	ctx := context.Background()

	a, b := ipc.NewPipe()
	modPeer, err := ipc.NewPeer(ipc.Options{Carrier: a})
	if err != nil {
		t.Fatalf("NewPeer() error = %v", err)
	}
	hostPeer, err := ipc.NewPeer(ipc.Options{Carrier: b, CallTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewPeer() error = %v", err)
	}

	host, err := New(ctx, Options{
		InstanceID: testInstanceID,
		Label:      testLabel,
		Peer:       hostPeer,
		Store:      store,
		Events:     events,
		History:    history,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	inst, err := instance.New(factory, instance.Options{Peer: modPeer, UpgradeScripts: scripts})
	if err != nil {
		t.Fatalf("instance.New() error = %v", err)
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
	return host, inst
}

// start runs a successful init.
func (h *harness) start(t *testing.T) {
	t.Helper()
	if _, err := h.host.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
}

// eventually polls cond until it holds or a deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func feedbackValue(h *Host, id string) (any, bool) {
	for _, v := range h.FeedbackValues() {
		if v.ID == id {
			return v.Value, true
		}
	}
	return nil, false
}
