package ipc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

func TestMetrics_CountCallsAndHandledCalls(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry(), "host")
	caller, callee, start := newPeerPair(t, Options{Metrics: m})
	callee.Handle("echo", func(context.Context, *Request) (any, error) { return "ok", nil })
	callee.Handle("fail", func(context.Context, *Request) (any, error) {
		return nil, WithCode(protocol.CodeUnknownAction, errors.New("no such action"))
	})
	start()

	if err := caller.Call(context.Background(), "echo", nil, nil); err != nil {
		t.Fatalf("Call(echo) error = %v", err)
	}
	if err := caller.Call(context.Background(), "fail", nil, nil); err == nil {
		t.Fatal("Call(fail) error = nil")
	}

	// The callee records before it replies.
	if got := testutil.ToFloat64(m.handled.WithLabelValues("echo", "ok")); got != 1 {
		t.Errorf("handled echo ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.handled.WithLabelValues("fail", protocol.CodeUnknownAction)); got != 1 {
		t.Errorf("handled fail UNKNOWN_ACTION = %v, want 1", got)
	}

	// The caller records once the future resolves, off the calling goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(m.calls.WithLabelValues("echo", "ok")) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("calls echo ok never reached 1")
		}
		time.Sleep(5 * time.Millisecond)
	}
	for testutil.ToFloat64(m.pending) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("pending = %v, want 0", testutil.ToFloat64(m.pending))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMetrics_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg, "module")

	defer func() {
		if recover() == nil {
			t.Error("second NewMetrics on the same registry did not panic")
		}
	}()
	NewMetrics(reg, "module")
}
