package protocol

import "github.com/nerrad567/gray-logic-modkit/internal/options"

// InitMessage brings an instance from Uninitialized to Initialized.
// LastUpgradeIndex is the number of upgrade scripts already applied to the
// persisted state; scripts from that index onwards run before the module's
// init hook.
type InitMessage struct {
	Label            string                      `json:"label"`
	Config           map[string]any              `json:"config"`
	LastUpgradeIndex int                         `json:"lastUpgradeIndex"`
	Actions          map[string]ActionInstance   `json:"actions"`
	Feedbacks        map[string]FeedbackInstance `json:"feedbacks"`
}

// InitResponse acknowledges a successful init.
type InitResponse struct {
	HasHTTPHandler  bool           `json:"hasHttpHandler"`
	NewUpgradeIndex int            `json:"newUpgradeIndex"`
	UpdatedConfig   map[string]any `json:"updatedConfig"`
}

// UpdateConfigMessage replaces the instance configuration.
type UpdateConfigMessage struct {
	Label  string         `json:"label,omitempty"`
	Config map[string]any `json:"config"`
}

// ExecuteActionMessage runs one action. DeviceID names the surface that
// triggered it, if any.
type ExecuteActionMessage struct {
	Action   ActionInstance `json:"action"`
	DeviceID string         `json:"deviceId,omitempty"`
}

// UpdateActionsMessage is a diff over action instances. A nil entry deletes.
type UpdateActionsMessage struct {
	Actions map[string]*ActionInstance `json:"actions"`
}

// UpdateFeedbacksMessage is a diff over feedback instances. A nil entry deletes.
type UpdateFeedbacksMessage struct {
	Feedbacks map[string]*FeedbackInstance `json:"feedbacks"`
}

// GetConfigFieldsResponse carries the module's configuration schema.
type GetConfigFieldsResponse struct {
	Fields []options.Field `json:"fields"`
}

// HTTPRequest is an inbound HTTP request forwarded by the host.
// Path is relative to the instance's mount point.
type HTTPRequest struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Query   map[string]string `json:"query,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	BaseURL string            `json:"baseUrl,omitempty"`
}

// HTTPResponse is the module's answer to an HTTPRequest.
type HTTPResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// HandleHTTPRequestMessage wraps a forwarded request.
type HandleHTTPRequestMessage struct {
	Request HTTPRequest `json:"request"`
}

// HandleHTTPRequestResponse wraps the module's response.
type HandleHTTPRequestResponse struct {
	Response HTTPResponse `json:"response"`
}

// LearnActionMessage asks the module to capture current device state as
// option values for an action.
type LearnActionMessage struct {
	Action ActionInstance `json:"action"`
}

// LearnFeedbackMessage is the feedback counterpart of LearnActionMessage.
type LearnFeedbackMessage struct {
	Feedback FeedbackInstance `json:"feedback"`
}

// LearnResponse carries learned options. Nil options mean nothing was
// learned and the host should keep the existing values.
type LearnResponse struct {
	Options map[string]any `json:"options,omitempty"`
}
