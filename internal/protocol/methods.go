// Package protocol defines the messages exchanged between a host and a
// module instance.
//
// Names are the wire method identifiers; payload types are plain structs
// that encode to JSON. Both the module runtime (internal/instance) and the
// development host (internal/devhost) speak this vocabulary, so changes here
// are protocol changes.
package protocol

// Host → module methods.
const (
	MethodInit              = "init"
	MethodDestroy           = "destroy"
	MethodUpdateConfig      = "updateConfig"
	MethodExecuteAction     = "executeAction"
	MethodUpdateFeedbacks   = "updateFeedbacks"
	MethodUpdateActions     = "updateActions"
	MethodGetConfigFields   = "getConfigFields"
	MethodHandleHTTPRequest = "handleHttpRequest"
	MethodLearnAction       = "learnAction"
	MethodLearnFeedback     = "learnFeedback"
)

// Module → host methods.
const (
	MethodUpgradedItems          = "upgradedItems"
	MethodSetActionDefinitions   = "setActionDefinitions"
	MethodSetFeedbackDefinitions = "setFeedbackDefinitions"
	MethodSetPresetDefinitions   = "setPresetDefinitions"
	MethodSetVariableDefinitions = "setVariableDefinitions"
	MethodSetVariableValues      = "setVariableValues"
	MethodUpdateFeedbackValues   = "updateFeedbackValues"
	MethodSaveConfig             = "saveConfig"
	MethodSendOSC                = "send-osc"
	MethodSetStatus              = "set-status"
	MethodLogMessage             = "log-message"
	MethodParseVariables         = "parseVariablesInString"
)

// Error codes carried in response frames so the caller can recover the
// failure class across the process boundary.
const (
	CodeAlreadyInitialized = "ALREADY_INITIALIZED"
	CodeNotInitialized     = "NOT_INITIALIZED"
	CodeUnknownAction      = "UNKNOWN_ACTION"
	CodeUnknownFeedback    = "UNKNOWN_FEEDBACK"
	CodeUnsupported        = "UNSUPPORTED"
	CodeUnknownMethod      = "UNKNOWN_METHOD"
	CodeBadRequest         = "BAD_REQUEST"
	CodeBusy               = "BUSY"
	CodeInternal           = "INTERNAL"
)
