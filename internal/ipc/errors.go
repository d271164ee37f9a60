package ipc

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

var (
	// ErrClosed is returned for calls made on, or pending when, a peer closes.
	ErrClosed = errors.New("ipc: peer closed")

	// ErrTimeout is returned when no response arrives within the call timeout.
	ErrTimeout = errors.New("ipc: call timed out")

	// ErrUnknownMethod is returned to a caller that invoked a method with no handler.
	ErrUnknownMethod = errors.New("ipc: unknown method")

	// ErrBadPayload is returned when a payload cannot be decoded.
	ErrBadPayload = errors.New("ipc: bad payload")

	// ErrSendFailed is returned when the carrier rejects a frame.
	ErrSendFailed = errors.New("ipc: send failed")

	// ErrBusy is returned to a caller whose call arrived while every pool
	// worker was taken. The call did not run and may be retried.
	ErrBusy = errors.New("ipc: peer busy")
)

// RemoteError is the failure reported by the other side of a call.
type RemoteError struct {
	Method  string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("ipc: %s failed: %s (%s)", e.Method, e.Message, e.Code)
}

// codedError attaches a wire error code to a local error.
type codedError struct {
	code string
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

// WithCode marks err with a wire error code. Handlers use it so callers in
// another process can tell failure classes apart.
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, err: err}
}

// CodeOf returns the wire code for err: the code of a RemoteError or of a
// WithCode wrapper, else INTERNAL. Nil errors have no code.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Code
	}
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	if errors.Is(err, ErrUnknownMethod) {
		return protocol.CodeUnknownMethod
	}
	if errors.Is(err, ErrBadPayload) {
		return protocol.CodeBadRequest
	}
	if errors.Is(err, ErrBusy) {
		return protocol.CodeBusy
	}
	return protocol.CodeInternal
}
