package ipc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

// newPeerPair connects two peers over an in-process pipe. Handlers must be
// registered by the caller before start is invoked.
func newPeerPair(t *testing.T, opts Options) (caller, callee *Peer, start func()) {
	t.Helper()
	a, b := NewPipe()

	optsA := opts
	optsA.Carrier = a
	caller, err := NewPeer(optsA)
	if err != nil {
		t.Fatalf("NewPeer() error = %v", err)
	}
	optsB := opts
	optsB.Carrier = b
	callee, err = NewPeer(optsB)
	if err != nil {
		t.Fatalf("NewPeer() error = %v", err)
	}
	t.Cleanup(func() {
		caller.Close()
		callee.Close()
	})

	return caller, callee, func() {
		if err := caller.Start(); err != nil {
			t.Fatalf("caller.Start() error = %v", err)
		}
		if err := callee.Start(); err != nil {
			t.Fatalf("callee.Start() error = %v", err)
		}
	}
}

type echoPayload struct {
	Text string `json:"text"`
}

func TestPeer_CallRoundtrip(t *testing.T) {
	caller, callee, start := newPeerPair(t, Options{})
	callee.Handle("echo", func(_ context.Context, req *Request) (any, error) {
		var in echoPayload
		if err := req.Decode(&in); err != nil {
			return nil, err
		}
		return echoPayload{Text: in.Text + "!"}, nil
	})
	start()

	var out echoPayload
	if err := caller.Call(context.Background(), "echo", echoPayload{Text: "hi"}, &out); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if out.Text != "hi!" {
		t.Errorf("Call() result = %q, want %q", out.Text, "hi!")
	}
	if caller.Pending() != 0 {
		t.Errorf("Pending() = %d after response, want 0", caller.Pending())
	}
}

func TestPeer_ErrorCodesCrossTheBoundary(t *testing.T) {
	caller, callee, start := newPeerPair(t, Options{})
	sentinel := errors.New("instance: not initialized")
	callee.Handle("coded", func(context.Context, *Request) (any, error) {
		return nil, WithCode(protocol.CodeNotInitialized, sentinel)
	})
	callee.Handle("plain", func(context.Context, *Request) (any, error) {
		return nil, errors.New("boom")
	})
	callee.Handle("badpayload", func(_ context.Context, req *Request) (any, error) {
		var in echoPayload
		return nil, req.Decode(&in)
	})
	start()

	tests := []struct {
		method   string
		payload  any
		wantCode string
	}{
		{"coded", nil, protocol.CodeNotInitialized},
		{"plain", nil, protocol.CodeInternal},
		{"badpayload", []int{1, 2}, protocol.CodeBadRequest},
		{"missing", nil, protocol.CodeUnknownMethod},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			err := caller.Call(context.Background(), tt.method, tt.payload, nil)
			var remote *RemoteError
			if !errors.As(err, &remote) {
				t.Fatalf("Call() error = %v, want *RemoteError", err)
			}
			if remote.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", remote.Code, tt.wantCode)
			}
			if remote.Method != tt.method {
				t.Errorf("Method = %q, want %q", remote.Method, tt.method)
			}
			if CodeOf(err) != tt.wantCode {
				t.Errorf("CodeOf() = %q, want %q", CodeOf(err), tt.wantCode)
			}
		})
	}
}

func TestPeer_InlineHandlersSeeArrivalOrder(t *testing.T) {
	caller, callee, start := newPeerPair(t, Options{})

	var mu sync.Mutex
	var seen []int
	callee.HandleRequest("ordered", func(req *Request) {
		var n int
		if err := req.Decode(&n); err != nil {
			req.Reply(nil, err)
			return
		}
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
		go req.Reply(n, nil)
	})
	start()

	const total = 100
	futures := make([]*Future, total)
	for i := 0; i < total; i++ {
		futures[i] = caller.Go(context.Background(), "ordered", i)
	}
	for i, f := range futures {
		var got int
		if err := f.Wait(context.Background(), &got); err != nil {
			t.Fatalf("call %d error = %v", i, err)
		}
		if got != i {
			t.Errorf("call %d answered %d", i, got)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, n := range seen {
		if n != i {
			t.Fatalf("handler saw %d at position %d, want arrival order", n, i)
		}
	}
}

func TestPeer_CallTimeout(t *testing.T) {
	caller, callee, start := newPeerPair(t, Options{CallTimeout: 50 * time.Millisecond})
	callee.HandleRequest("silent", func(*Request) {})
	start()

	err := caller.Call(context.Background(), "silent", nil, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Call() error = %v, want ErrTimeout", err)
	}
	if caller.Pending() != 0 {
		t.Errorf("Pending() = %d after timeout, want 0", caller.Pending())
	}
}

func TestPeer_CloseFailsPendingCalls(t *testing.T) {
	caller, callee, start := newPeerPair(t, Options{})
	callee.HandleRequest("silent", func(*Request) {})
	start()

	f := caller.Go(context.Background(), "silent", nil)
	if err := caller.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := f.Wait(context.Background(), nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Wait() error = %v, want ErrClosed", err)
	}
	if err := caller.Call(context.Background(), "silent", nil, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Call() after Close error = %v, want ErrClosed", err)
	}
	// Second close is a no-op.
	if err := caller.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestPeer_WaitHonoursContext(t *testing.T) {
	caller, callee, start := newPeerPair(t, Options{})
	callee.HandleRequest("silent", func(*Request) {})
	start()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := caller.Call(ctx, "silent", nil, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Call() error = %v, want DeadlineExceeded", err)
	}
}

func TestPeer_ReplyOnlyOnce(t *testing.T) {
	caller, callee, start := newPeerPair(t, Options{})
	callee.HandleRequest("twice", func(req *Request) {
		req.Reply("first", nil)
		req.Reply("second", nil)
	})
	callee.Handle("after", func(context.Context, *Request) (any, error) { return "ok", nil })
	start()

	var got string
	if err := caller.Call(context.Background(), "twice", nil, &got); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != "first" {
		t.Errorf("result = %q, want first", got)
	}
	// The link still works and no stray response resolves a later call.
	if err := caller.Call(context.Background(), "after", nil, &got); err != nil || got != "ok" {
		t.Errorf("follow-up Call() = %q, %v", got, err)
	}
}

func TestPeer_HandlerPanicBecomesError(t *testing.T) {
	caller, callee, start := newPeerPair(t, Options{})
	callee.Handle("pooled", func(context.Context, *Request) (any, error) { panic("pooled boom") })
	callee.HandleRequest("inline", func(*Request) { panic("inline boom") })
	start()

	for _, method := range []string{"pooled", "inline"} {
		err := caller.Call(context.Background(), method, nil, nil)
		if CodeOf(err) != protocol.CodeInternal {
			t.Errorf("%s: error = %v, want INTERNAL", method, err)
		}
	}
}

func TestPeer_DropsMalformedFrames(t *testing.T) {
	a, b := NewPipe()
	callee, err := NewPeer(Options{Carrier: b})
	if err != nil {
		t.Fatalf("NewPeer() error = %v", err)
	}
	defer callee.Close()
	callee.Handle("ping", func(context.Context, *Request) (any, error) { return "pong", nil })
	if err := callee.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	caller, err := NewPeer(Options{Carrier: a})
	if err != nil {
		t.Fatalf("NewPeer() error = %v", err)
	}
	defer caller.Close()
	if err := caller.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, junk := range []string{"not json", `{"kind":"bogus"}`, `{"kind":"response","callId":"nobody"}`} {
		if err := a.Send(context.Background(), []byte(junk)); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	var got string
	if err := caller.Call(context.Background(), "ping", nil, &got); err != nil || got != "pong" {
		t.Errorf("Call() after junk = %q, %v", got, err)
	}
}

func TestPeer_ConcurrentCalls(t *testing.T) {
	caller, callee, start := newPeerPair(t, Options{PoolSize: 50})
	callee.Handle("square", func(_ context.Context, req *Request) (any, error) {
		var n int
		if err := req.Decode(&n); err != nil {
			return nil, err
		}
		return n * n, nil
	})
	start()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			var got int
			if err := caller.Call(context.Background(), "square", n, &got); err != nil {
				errs <- err
				return
			}
			if got != n*n {
				errs <- fmt.Errorf("square(%d) = %d", n, got)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestPeer_FullPoolRefusesInsteadOfBlocking(t *testing.T) {
	caller, callee, start := newPeerPair(t, Options{PoolSize: 2})

	// Every callee worker calls back to the caller and stays busy until
	// gate closes. Calls arriving meanwhile must be refused while the
	// callbacks still get their responses.
	gate := make(chan struct{})
	caller.Handle("lookup", func(ctx context.Context, _ *Request) (any, error) {
		select {
		case <-gate:
			return "resolved", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	callee.Handle("work", func(ctx context.Context, _ *Request) (any, error) {
		var text string
		if err := callee.Call(ctx, "lookup", nil, &text); err != nil {
			return nil, err
		}
		return text, nil
	})
	start()

	const calls = 4
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var busy sync.WaitGroup
	busy.Add(calls - 2)
	results := make(chan error, calls)
	for i := 0; i < calls; i++ {
		go func() {
			err := caller.Call(ctx, "work", nil, nil)
			if errors.Is(err, ErrBusy) || CodeOf(err) == protocol.CodeBusy {
				busy.Done()
			}
			results <- err
		}()
	}

	refused := make(chan struct{})
	go func() {
		busy.Wait()
		close(refused)
	}()
	select {
	case <-refused:
	case <-ctx.Done():
		t.Fatal("calls beyond the pool were not refused")
	}
	close(gate)

	var ok, refusedCount int
	for i := 0; i < calls; i++ {
		select {
		case err := <-results:
			switch {
			case err == nil:
				ok++
			case CodeOf(err) == protocol.CodeBusy:
				refusedCount++
			default:
				t.Errorf("Call() error = %v, want nil or BUSY", err)
			}
		case <-ctx.Done():
			t.Fatalf("only %d of %d calls returned", ok+refusedCount, calls)
		}
	}
	if ok != 2 || refusedCount != calls-2 {
		t.Errorf("completed %d, refused %d; want 2 and %d", ok, refusedCount, calls-2)
	}
}

func TestNewPeer_RequiresCarrier(t *testing.T) {
	if _, err := NewPeer(Options{}); err == nil {
		t.Error("NewPeer() without carrier error = nil")
	}
}
