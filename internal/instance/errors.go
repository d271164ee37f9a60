package instance

import (
	"errors"

	"github.com/nerrad567/gray-logic-modkit/internal/ipc"
	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

// Domain errors for the instance package.
//
// Errors returned to the host keep their class across the process boundary:
// the host sees an ipc.RemoteError whose Code is the matching protocol code.
var (
	// ErrAlreadyInitialized is returned by init when the instance is running.
	ErrAlreadyInitialized = errors.New("instance: already initialized")

	// ErrNotInitialized is returned by destroy and updateConfig before init.
	ErrNotInitialized = errors.New("instance: not initialized")

	// ErrUnknownAction is returned when an action references no known definition.
	ErrUnknownAction = errors.New("instance: unknown action")

	// ErrUnknownFeedback is returned when a feedback references no known definition.
	ErrUnknownFeedback = errors.New("instance: unknown feedback")

	// ErrHTTPUnsupported is returned by handleHttpRequest when the module has
	// no HTTP handler.
	ErrHTTPUnsupported = errors.New("instance: http handler not implemented")

	// ErrClosed is returned for lifecycle calls after Close.
	ErrClosed = errors.New("instance: closed")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrAlreadyInitialized, protocol.CodeAlreadyInitialized},
	{ErrNotInitialized, protocol.CodeNotInitialized},
	{ErrUnknownAction, protocol.CodeUnknownAction},
	{ErrUnknownFeedback, protocol.CodeUnknownFeedback},
	{ErrHTTPUnsupported, protocol.CodeUnsupported},
}

// coded attaches the wire code matching err's class. Errors of no known
// class pass through and are reported as INTERNAL.
func coded(err error) error {
	if err == nil {
		return nil
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ipc.WithCode(ec.code, err)
		}
	}
	return err
}
