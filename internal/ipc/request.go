package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Request is an inbound call.
type Request struct {
	Name    string
	Payload json.RawMessage

	callID  string
	peer    *Peer
	start   time.Time
	replied atomic.Bool
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (r *Request) Decode(v any) error {
	if len(r.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBadPayload, r.Name, err)
	}
	return nil
}

// Reply sends the single response for this call. Later calls are ignored.
func (r *Request) Reply(result any, err error) {
	if !r.replied.CompareAndSwap(false, true) {
		return
	}

	fr := frame{Kind: kindResponse, CallID: r.callID}
	if err != nil {
		fr.Error = &errorBody{Code: CodeOf(err), Message: err.Error()}
	} else {
		raw, encErr := encodePayload(result)
		if encErr != nil {
			fr.Error = &errorBody{Code: CodeOf(encErr), Message: fmt.Sprintf("encoding response: %v", encErr)}
		} else {
			fr.Payload = raw
		}
	}

	r.peer.metrics.observeHandled(r.Name, errorCode(fr.Error), time.Since(r.start))

	data, mErr := json.Marshal(fr)
	if mErr != nil {
		r.peer.logger.Error("encoding response frame", "method", r.Name, "error", mErr)
		return
	}
	if sErr := r.peer.send(data); sErr != nil {
		r.peer.logger.Warn("sending response failed", "method", r.Name, "error", sErr)
	}
}

func errorCode(e *errorBody) string {
	if e == nil {
		return "ok"
	}
	return e.Code
}

// Future is the pending result of an outbound call.
type Future struct {
	name   string
	done   chan struct{}
	once   sync.Once
	result json.RawMessage
	err    error
}

func newFuture(name string) *Future {
	return &Future{name: name, done: make(chan struct{})}
}

func (f *Future) resolve(result json.RawMessage, err error) {
	f.once.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
	})
}

// Done is closed once the response (or a local failure) is in.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the call completes or ctx ends. A non-nil out receives
// the decoded payload.
func (f *Future) Wait(ctx context.Context, out any) error {
	select {
	case <-f.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if f.err != nil {
		return f.err
	}
	if out == nil || len(f.result) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.result, out); err != nil {
		return fmt.Errorf("%w: decoding %s response: %w", ErrBadPayload, f.name, err)
	}
	return nil
}
