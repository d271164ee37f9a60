package instance

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-modkit/internal/options"
	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

func (i *Instance) executeAction(ctx context.Context, msg protocol.ExecuteActionMessage) error {
	def, ok := i.actionDefinition(msg.Action.ActionID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, msg.Action.ActionID)
	}
	if def.Callback == nil {
		return nil
	}
	return def.Callback(ctx, ActionEvent{ActionInstance: msg.Action.Clone(), DeviceID: msg.DeviceID})
}

func (i *Instance) configFields() protocol.GetConfigFieldsResponse {
	fields := i.module.ConfigFields()
	if fields == nil {
		fields = []options.Field{}
	}
	return protocol.GetConfigFieldsResponse{Fields: fields}
}

func (i *Instance) handleHTTPRequest(ctx context.Context, msg protocol.HandleHTTPRequestMessage) (protocol.HandleHTTPRequestResponse, error) {
	h, ok := i.module.(HTTPHandler)
	if !ok {
		return protocol.HandleHTTPRequestResponse{}, ErrHTTPUnsupported
	}
	res, err := h.HandleHTTPRequest(ctx, msg.Request)
	if err != nil {
		return protocol.HandleHTTPRequestResponse{}, err
	}
	if res.Status == 0 {
		res.Status = 200
	}
	return protocol.HandleHTTPRequestResponse{Response: res}, nil
}

// learnAction returns the options learned for an action. A definition
// without a Learn hook, or no definition at all, learns nothing.
func (i *Instance) learnAction(ctx context.Context, msg protocol.LearnActionMessage) (protocol.LearnResponse, error) {
	def, ok := i.actionDefinition(msg.Action.ActionID)
	if !ok || def.Learn == nil {
		return protocol.LearnResponse{}, nil
	}
	opts, err := def.Learn(ctx, msg.Action.Clone())
	if err != nil {
		return protocol.LearnResponse{}, fmt.Errorf("learning action %q: %w", msg.Action.ActionID, err)
	}
	return protocol.LearnResponse{Options: opts}, nil
}

func (i *Instance) learnFeedback(ctx context.Context, msg protocol.LearnFeedbackMessage) (protocol.LearnResponse, error) {
	def, ok := i.feedbackDefinition(msg.Feedback.FeedbackID)
	if !ok || def.Learn == nil {
		return protocol.LearnResponse{}, nil
	}
	opts, err := def.Learn(ctx, FeedbackEvent{FeedbackInstance: msg.Feedback.Clone(), Type: def.Type})
	if err != nil {
		return protocol.LearnResponse{}, fmt.Errorf("learning feedback %q: %w", msg.Feedback.FeedbackID, err)
	}
	return protocol.LearnResponse{Options: opts}, nil
}
