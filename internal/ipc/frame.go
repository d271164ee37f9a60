package ipc

import "encoding/json"

// Frame kinds.
const (
	kindCall     = "call"
	kindResponse = "response"
)

// frame is the unit a Carrier moves. Every call frame is answered by exactly
// one response frame with the same CallID.
type frame struct {
	Kind    string          `json:"kind"`
	Name    string          `json:"name,omitempty"`
	CallID  string          `json:"callId"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *errorBody      `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encodePayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
