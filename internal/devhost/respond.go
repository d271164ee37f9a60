package devhost

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-modkit/internal/ipc"
	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

// Error is the body of every error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeConflict    = "conflict"
	ErrCodeInternal    = "internal_error"
	ErrCodeModule      = "module_error"
	ErrCodeUnavailable = "module_unavailable"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeHostError maps a Host error to a response. Failures reported by the
// module keep their protocol code in the message.
func writeHostError(w http.ResponseWriter, err error) {
	var remote *ipc.RemoteError
	switch {
	case errors.Is(err, ErrInstanceNotFound),
		errors.Is(err, ErrActionNotFound),
		errors.Is(err, ErrFeedbackNotFound),
		errors.Is(err, ErrNoHTTPHandler):
		writeNotFound(w, err.Error())
	case errors.Is(err, ErrInvalidItem):
		writeBadRequest(w, err.Error())
	case errors.As(err, &remote):
		switch remote.Code {
		case protocol.CodeAlreadyInitialized, protocol.CodeNotInitialized:
			writeError(w, http.StatusConflict, ErrCodeConflict, remote.Message)
		case protocol.CodeUnknownAction, protocol.CodeUnknownFeedback, protocol.CodeUnsupported:
			writeNotFound(w, remote.Message)
		case protocol.CodeBadRequest:
			writeBadRequest(w, remote.Message)
		case protocol.CodeBusy:
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, remote.Message)
		default:
			writeError(w, http.StatusBadGateway, ErrCodeModule, remote.Message)
		}
	case errors.Is(err, ipc.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeUnavailable, err.Error())
	case errors.Is(err, ipc.ErrClosed), errors.Is(err, ipc.ErrSendFailed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}

// decodeBody decodes a JSON request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
