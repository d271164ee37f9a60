package instance

import (
	"context"
	"sort"

	"github.com/nerrad567/gray-logic-modkit/internal/options"
	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

// ActionEvent is passed to an action callback.
type ActionEvent struct {
	protocol.ActionInstance

	// DeviceID names the surface that triggered the action, if any.
	DeviceID string
}

// FeedbackEvent is passed to feedback callbacks and learn hooks.
type FeedbackEvent struct {
	protocol.FeedbackInstance

	// Type is the definition's feedback type.
	Type string
}

// ActionDefinition describes one kind of action a module offers.
// Only Callback is required.
type ActionDefinition struct {
	Name        string
	Description string
	Options     []options.Field

	// Callback performs the action.
	Callback func(ctx context.Context, event ActionEvent) error

	// Subscribe is called when an instance of this action is placed or
	// changed, Unsubscribe before it is changed or removed.
	Subscribe   func(ctx context.Context, action protocol.ActionInstance) error
	Unsubscribe func(ctx context.Context, action protocol.ActionInstance) error

	// Learn returns option values captured from the live device.
	Learn func(ctx context.Context, action protocol.ActionInstance) (map[string]any, error)
}

// FeedbackDefinition describes one kind of feedback a module offers.
//
// A boolean feedback's Callback returns a bool; an advanced one returns a
// partial style map. Returning nil means the value is unknown.
type FeedbackDefinition struct {
	Name         string
	Description  string
	Type         string
	Options      []options.Field
	DefaultStyle map[string]any

	// ShowInvert lets users invert a boolean feedback per instance.
	ShowInvert bool

	Callback    func(ctx context.Context, event FeedbackEvent) (any, error)
	Subscribe   func(ctx context.Context, feedback protocol.FeedbackInstance) error
	Unsubscribe func(ctx context.Context, feedback protocol.FeedbackInstance) error
	Learn       func(ctx context.Context, event FeedbackEvent) (map[string]any, error)
}

// SetActionDefinitions replaces the action catalogue and sends it to the
// host. Instances already registered keep their ids and are resolved
// against the new catalogue from now on.
func (i *Instance) SetActionDefinitions(defs map[string]ActionDefinition) {
	next := make(map[string]ActionDefinition, len(defs))
	wire := make([]protocol.ActionDefinition, 0, len(defs))
	for id, def := range defs {
		next[id] = def
		wire = append(wire, protocol.ActionDefinition{
			ID:          id,
			Name:        def.Name,
			Description: def.Description,
			Options:     def.Options,
			HasLearn:    def.Learn != nil,
		})
	}
	sort.Slice(wire, func(a, b int) bool { return wire[a].ID < wire[b].ID })

	i.defsMu.Lock()
	i.actionDefs = next
	i.defsMu.Unlock()

	i.peer.Notify(protocol.MethodSetActionDefinitions, protocol.SetActionDefinitionsMessage{Actions: wire})
}

// SetFeedbackDefinitions replaces the feedback catalogue and sends it to
// the host. A definition without a Type is treated as boolean.
func (i *Instance) SetFeedbackDefinitions(defs map[string]FeedbackDefinition) {
	next := make(map[string]FeedbackDefinition, len(defs))
	wire := make([]protocol.FeedbackDefinition, 0, len(defs))
	for id, def := range defs {
		if def.Type == "" {
			def.Type = protocol.FeedbackTypeBoolean
		}
		next[id] = def
		wire = append(wire, protocol.FeedbackDefinition{
			ID:           id,
			Name:         def.Name,
			Description:  def.Description,
			Type:         def.Type,
			Options:      def.Options,
			DefaultStyle: def.DefaultStyle,
			ShowInvert:   def.ShowInvert,
			HasLearn:     def.Learn != nil,
		})
	}
	sort.Slice(wire, func(a, b int) bool { return wire[a].ID < wire[b].ID })

	i.defsMu.Lock()
	i.feedbackDefs = next
	i.defsMu.Unlock()

	i.peer.Notify(protocol.MethodSetFeedbackDefinitions, protocol.SetFeedbackDefinitionsMessage{Feedbacks: wire})
}

// SetPresetDefinitions sends the preset catalogue to the host. Presets are
// not used by the runtime itself.
func (i *Instance) SetPresetDefinitions(presets []protocol.PresetDefinition) {
	i.peer.Notify(protocol.MethodSetPresetDefinitions, protocol.SetPresetDefinitionsMessage{Presets: presets})
}

func (i *Instance) actionDefinition(id string) (ActionDefinition, bool) {
	i.defsMu.RLock()
	defer i.defsMu.RUnlock()
	def, ok := i.actionDefs[id]
	return def, ok
}

func (i *Instance) feedbackDefinition(id string) (FeedbackDefinition, bool) {
	i.defsMu.RLock()
	defer i.defsMu.RUnlock()
	def, ok := i.feedbackDefs[id]
	return def, ok
}
