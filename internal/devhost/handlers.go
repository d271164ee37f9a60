package devhost

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-modkit/internal/ipc"
	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

// handlerTimeout bounds the store work done for a single module call.
const handlerTimeout = 5 * time.Second

// unknownVariable replaces references to variables the host does not know.
const unknownVariable = "$NA"

// variableRef matches $(label:variable).
var variableRef = regexp.MustCompile(`\$\(([^:)]+):([^)]+)\)`)

// register installs the module-facing handlers. Everything that changes
// stored state runs inline so effects land in the order the module sent
// them.
func (h *Host) register() {
	h.inline(protocol.MethodUpgradedItems, h.onUpgradedItems)
	h.inline(protocol.MethodSetActionDefinitions, h.onActionDefinitions)
	h.inline(protocol.MethodSetFeedbackDefinitions, h.onFeedbackDefinitions)
	h.inline(protocol.MethodSetPresetDefinitions, h.onPresetDefinitions)
	h.inline(protocol.MethodSetVariableDefinitions, h.onVariableDefinitions)
	h.inline(protocol.MethodSetVariableValues, h.onVariableValues)
	h.inline(protocol.MethodUpdateFeedbackValues, h.onFeedbackValues)
	h.inline(protocol.MethodSaveConfig, h.onSaveConfig)
	h.inline(protocol.MethodSetStatus, h.onSetStatus)
	h.inline(protocol.MethodLogMessage, h.onLogMessage)
	h.inline(protocol.MethodSendOSC, h.onSendOSC)

	h.peer.Handle(protocol.MethodParseVariables, h.onParseVariables)
}

// inline registers fn to run on the receive goroutine and replies with its
// error.
func (h *Host) inline(name string, fn func(ctx context.Context, req *ipc.Request) error) {
	h.peer.HandleRequest(name, func(req *ipc.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		err := fn(ctx, req)
		if err != nil {
			h.logger.Warn("module call failed", "method", req.Name, "error", err)
		}
		req.Reply(nil, err)
	})
}

func (h *Host) onUpgradedItems(ctx context.Context, req *ipc.Request) error {
	var msg protocol.UpgradedItemsMessage
	if err := req.Decode(&msg); err != nil {
		return err
	}
	if msg.NewUpgradeIndex == 0 && msg.UpdatedConfig == nil &&
		len(msg.UpdatedActions) == 0 && len(msg.UpdatedFeedbacks) == 0 {
		return nil
	}
	if err := h.store.ApplyUpgradedItems(ctx, h.id, msg); err != nil {
		return err
	}
	h.logger.Info("upgraded items stored",
		"upgrade_index", msg.NewUpgradeIndex,
		"config", msg.UpdatedConfig != nil,
		"actions", len(msg.UpdatedActions),
		"feedbacks", len(msg.UpdatedFeedbacks),
	)
	return nil
}

func (h *Host) onActionDefinitions(_ context.Context, req *ipc.Request) error {
	var msg protocol.SetActionDefinitionsMessage
	if err := req.Decode(&msg); err != nil {
		return err
	}
	h.mu.Lock()
	h.defs.Actions = msg.Actions
	h.mu.Unlock()
	h.broadcast(EventDefinitions, map[string]any{"kind": "actions", "count": len(msg.Actions)})
	return nil
}

func (h *Host) onFeedbackDefinitions(_ context.Context, req *ipc.Request) error {
	var msg protocol.SetFeedbackDefinitionsMessage
	if err := req.Decode(&msg); err != nil {
		return err
	}
	h.mu.Lock()
	h.defs.Feedbacks = msg.Feedbacks
	h.mu.Unlock()
	h.broadcast(EventDefinitions, map[string]any{"kind": "feedbacks", "count": len(msg.Feedbacks)})
	return nil
}

func (h *Host) onPresetDefinitions(_ context.Context, req *ipc.Request) error {
	var msg protocol.SetPresetDefinitionsMessage
	if err := req.Decode(&msg); err != nil {
		return err
	}
	h.mu.Lock()
	h.defs.Presets = msg.Presets
	h.mu.Unlock()
	h.broadcast(EventDefinitions, map[string]any{"kind": "presets", "count": len(msg.Presets)})
	return nil
}

func (h *Host) onVariableDefinitions(ctx context.Context, req *ipc.Request) error {
	var msg protocol.SetVariableDefinitionsMessage
	if err := req.Decode(&msg); err != nil {
		return err
	}
	if err := h.store.SetVariableDefinitions(ctx, h.id, msg.Variables); err != nil {
		return err
	}
	h.mu.Lock()
	h.defs.Variables = msg.Variables
	h.mu.Unlock()
	h.broadcast(EventDefinitions, map[string]any{"kind": "variables", "count": len(msg.Variables)})
	return nil
}

func (h *Host) onVariableValues(ctx context.Context, req *ipc.Request) error {
	var msg protocol.SetVariableValuesMessage
	if err := req.Decode(&msg); err != nil {
		return err
	}
	if len(msg.NewValues) == 0 {
		return nil
	}
	if err := h.store.SetVariableValues(ctx, h.id, msg.NewValues); err != nil {
		return err
	}
	if h.history != nil {
		label := h.Label()
		for _, v := range msg.NewValues {
			h.history.WriteVariableValue(h.id, label, v.ID, v.Value)
		}
	}
	h.broadcast(EventVariableValues, msg.NewValues)
	return nil
}

func (h *Host) onFeedbackValues(_ context.Context, req *ipc.Request) error {
	var msg protocol.UpdateFeedbackValuesMessage
	if err := req.Decode(&msg); err != nil {
		return err
	}
	h.mu.Lock()
	for _, v := range msg.Values {
		if v.Value == nil {
			delete(h.feedbackValues, v.ID)
			continue
		}
		h.feedbackValues[v.ID] = v
	}
	h.mu.Unlock()

	if h.history != nil {
		for _, v := range msg.Values {
			h.history.WriteFeedbackValue(h.id, v.ID, v.ControlID, v.Value)
		}
	}
	h.broadcast(EventFeedbackValues, msg.Values)
	return nil
}

func (h *Host) onSaveConfig(ctx context.Context, req *ipc.Request) error {
	var msg protocol.SaveConfigMessage
	if err := req.Decode(&msg); err != nil {
		return err
	}
	if msg.Config == nil {
		msg.Config = map[string]any{}
	}
	return h.store.SaveConfig(ctx, h.id, msg.Config)
}

func (h *Host) onSetStatus(_ context.Context, req *ipc.Request) error {
	var msg protocol.SetStatusMessage
	if err := req.Decode(&msg); err != nil {
		return err
	}
	status := Status{Status: msg.Status, Message: msg.Message}
	h.mu.Lock()
	h.status = status
	h.mu.Unlock()

	if h.history != nil {
		h.history.WriteStatus(h.id, msg.Status, msg.Message)
	}
	h.logger.Info("instance status", "status", msg.Status, "message", msg.Message)
	h.broadcast(EventStatus, status)
	return nil
}

func (h *Host) onLogMessage(_ context.Context, req *ipc.Request) error {
	var msg protocol.LogMessage
	if err := req.Decode(&msg); err != nil {
		return err
	}
	switch msg.Level {
	case "error":
		h.logger.Error(msg.Message, "source", "module")
	case "warn":
		h.logger.Warn(msg.Message, "source", "module")
	case "debug":
		h.logger.Debug(msg.Message, "source", "module")
	default:
		h.logger.Info(msg.Message, "source", "module")
	}
	h.broadcast(EventLog, msg)
	return nil
}

func (h *Host) onSendOSC(_ context.Context, req *ipc.Request) error {
	var msg protocol.SendOSCMessage
	if err := req.Decode(&msg); err != nil {
		return err
	}
	// Nothing is put on the network; the message is recorded for inspection.
	h.logger.Info("osc message", "host", msg.Host, "port", msg.Port, "path", msg.Path, "args", len(msg.Args))
	h.broadcast(EventOSC, msg)
	return nil
}

func (h *Host) onParseVariables(ctx context.Context, req *ipc.Request) (any, error) {
	var msg protocol.ParseVariablesMessage
	if err := req.Decode(&msg); err != nil {
		return nil, err
	}
	text, err := h.ParseVariables(ctx, msg.Text)
	if err != nil {
		return nil, err
	}
	return protocol.ParseVariablesResponse{Text: text}, nil
}

// ParseVariables substitutes $(label:variable) references to this
// instance's variables. References to other labels or unset variables
// become $NA.
func (h *Host) ParseVariables(ctx context.Context, text string) (string, error) {
	if !variableRef.MatchString(text) {
		return text, nil
	}
	values, err := h.store.VariableValues(ctx, h.id)
	if err != nil {
		return "", err
	}
	label := h.Label()

	return variableRef.ReplaceAllStringFunc(text, func(ref string) string {
		m := variableRef.FindStringSubmatch(ref)
		if m[1] != label {
			return unknownVariable
		}
		v, ok := values[m[2]]
		if !ok || v == nil {
			return unknownVariable
		}
		return formatValue(v)
	}), nil
}

func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return unknownVariable
		}
		return string(b)
	default:
		return fmt.Sprint(v)
	}
}
