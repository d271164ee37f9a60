package protocol

import "github.com/nerrad567/gray-logic-modkit/internal/options"

// UpgradedItemsMessage reports the result of running upgrade scripts so the
// host can persist it. UpdatedConfig is nil when the config was not changed
// or was not part of the batch.
//
// NewUpgradeIndex is set when the batch ran at init: the host stores it
// together with the items, so items and config it did not receive here are
// already at that index. It is zero for batches after init, where every
// reported item carries its own progress.
type UpgradedItemsMessage struct {
	NewUpgradeIndex  int                         `json:"newUpgradeIndex,omitempty"`
	UpdatedConfig    map[string]any              `json:"updatedConfig,omitempty"`
	UpdatedActions   map[string]ActionInstance   `json:"updatedActions"`
	UpdatedFeedbacks map[string]FeedbackInstance `json:"updatedFeedbacks"`
}

// ActionDefinition is the transmittable part of an action definition.
type ActionDefinition struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Options     []options.Field `json:"options"`
	HasLearn    bool            `json:"hasLearn"`
}

// SetActionDefinitionsMessage replaces the host's action catalogue.
type SetActionDefinitionsMessage struct {
	Actions []ActionDefinition `json:"actions"`
}

// Feedback types.
const (
	FeedbackTypeBoolean  = "boolean"
	FeedbackTypeAdvanced = "advanced"
)

// FeedbackDefinition is the transmittable part of a feedback definition.
type FeedbackDefinition struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Type         string          `json:"type"`
	Options      []options.Field `json:"options"`
	DefaultStyle map[string]any  `json:"defaultStyle,omitempty"`
	ShowInvert   bool            `json:"showInvert,omitempty"`
	HasLearn     bool            `json:"hasLearn"`
}

// SetFeedbackDefinitionsMessage replaces the host's feedback catalogue.
type SetFeedbackDefinitionsMessage struct {
	Feedbacks []FeedbackDefinition `json:"feedbacks"`
}

// PresetAction is an action template inside a preset.
type PresetAction struct {
	ActionID string         `json:"actionId"`
	Options  map[string]any `json:"options"`
}

// PresetFeedback is a feedback template inside a preset.
type PresetFeedback struct {
	FeedbackID string         `json:"feedbackId"`
	Options    map[string]any `json:"options"`
	Style      map[string]any `json:"style,omitempty"`
}

// PresetDefinition is a ready-made control a user can drop onto a page.
type PresetDefinition struct {
	ID        string           `json:"id"`
	Category  string           `json:"category"`
	Name      string           `json:"name"`
	Style     map[string]any   `json:"style,omitempty"`
	Actions   []PresetAction   `json:"actions"`
	Feedbacks []PresetFeedback `json:"feedbacks"`
}

// SetPresetDefinitionsMessage replaces the host's preset catalogue.
type SetPresetDefinitionsMessage struct {
	Presets []PresetDefinition `json:"presets"`
}

// VariableDefinition declares a variable the module publishes.
type VariableDefinition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SetVariableDefinitionsMessage replaces the host's variable catalogue.
type SetVariableDefinitionsMessage struct {
	Variables []VariableDefinition `json:"variables"`
}

// VariableValue is one entry of a value batch. A nil Value is the delete
// marker: the host clears the variable downstream.
type VariableValue struct {
	ID    string `json:"id"`
	Value any    `json:"value,omitempty"`
}

// SetVariableValuesMessage is a batch of variable values.
type SetVariableValuesMessage struct {
	NewValues []VariableValue `json:"newValues"`
}

// FeedbackValue is one evaluated feedback. A nil Value means unknown.
type FeedbackValue struct {
	ID        string `json:"id"`
	ControlID string `json:"controlId"`
	Value     any    `json:"value,omitempty"`
}

// UpdateFeedbackValuesMessage is a batch of feedback values.
type UpdateFeedbackValuesMessage struct {
	Values []FeedbackValue `json:"values"`
}

// SaveConfigMessage asks the host to persist a module-modified config.
type SaveConfigMessage struct {
	Config map[string]any `json:"config"`
}

// OSC argument types.
const (
	OSCInt    = "i"
	OSCFloat  = "f"
	OSCString = "s"
	OSCBlob   = "b"
)

// OSCArgument is one typed OSC argument.
type OSCArgument struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// SendOSCMessage asks the host to emit an OSC packet on the module's behalf.
type SendOSCMessage struct {
	Host string        `json:"host"`
	Port int           `json:"port"`
	Path string        `json:"path"`
	Args []OSCArgument `json:"args"`
}

// Instance status levels reported with set-status.
const (
	StatusOK                = "ok"
	StatusConnecting        = "connecting"
	StatusDisconnected      = "disconnected"
	StatusConnectionFailure = "connection_failure"
	StatusBadConfig         = "bad_config"
	StatusUnknownError      = "unknown_error"
	StatusUnknownWarning    = "unknown_warning"
)

// SetStatusMessage reports the instance's connection status.
type SetStatusMessage struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// LogMessage forwards a module log line to the host's log.
type LogMessage struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ParseVariablesMessage asks the host to expand variable references.
type ParseVariablesMessage struct {
	Text string `json:"text"`
}

// ParseVariablesResponse carries the expanded text.
type ParseVariablesResponse struct {
	Text string `json:"text"`
}
