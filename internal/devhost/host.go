package devhost

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-modkit/internal/ipc"
	"github.com/nerrad567/gray-logic-modkit/internal/options"
	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

// Event channels broadcast to websocket subscribers.
const (
	EventFeedbackValues = "feedback.values"
	EventVariableValues = "variables.values"
	EventDefinitions    = "definitions.changed"
	EventStatus         = "instance.status"
	EventLog            = "instance.log"
	EventOSC            = "instance.osc"
)

// Broadcaster fans events out to live subscribers. *Hub implements it.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// HistoryWriter records values as time series. *influxdb.Client implements it.
type HistoryWriter interface {
	WriteVariableValue(instanceID, label, variableID string, value any)
	WriteFeedbackValue(instanceID, feedbackID, controlID string, value any)
	WriteStatus(instanceID, status, message string)
}

// Options configures a Host.
type Options struct {
	// InstanceID is the instance this host drives. Required.
	InstanceID string

	// Label is used when the instance is first created in the store.
	Label string

	// Peer is the link to the module process. Required. The caller starts
	// it after New returns.
	Peer *ipc.Peer

	// Store persists instance state. Required.
	Store *Store

	// Logger is optional.
	Logger *logging.Logger

	// Events receives live events. Optional.
	Events Broadcaster

	// History records values. Optional.
	History HistoryWriter
}

// Status is the last status a module reported.
type Status struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Definitions is the catalogue a module has published.
type Definitions struct {
	Actions   []protocol.ActionDefinition   `json:"actions"`
	Feedbacks []protocol.FeedbackDefinition `json:"feedbacks"`
	Presets   []protocol.PresetDefinition   `json:"presets"`
	Variables []protocol.VariableDefinition `json:"variables"`
}

// Host is a development host for a single module instance. It answers the
// module's calls and persists their effects, and exposes every host call as
// a Go method.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Host struct {
	id      string
	peer    *ipc.Peer
	store   *Store
	logger  *logging.Logger
	events  Broadcaster
	history HistoryWriter

	mu             sync.RWMutex
	label          string
	defs           Definitions
	feedbackValues map[string]protocol.FeedbackValue
	status         Status
	initialized    bool
	hasHTTP        bool
}

// New creates a host, ensures its instance exists in the store and
// registers the module-facing handlers on opts.Peer.
func New(ctx context.Context, opts Options) (*Host, error) {
	if opts.InstanceID == "" {
		return nil, errors.New("devhost: instance id is required")
	}
	if opts.Peer == nil {
		return nil, errors.New("devhost: peer is required")
	}
	if opts.Store == nil {
		return nil, errors.New("devhost: store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	label := opts.Label
	if label == "" {
		label = opts.InstanceID
	}

	if err := opts.Store.EnsureInstance(ctx, opts.InstanceID, label); err != nil {
		return nil, err
	}
	rec, err := opts.Store.Instance(ctx, opts.InstanceID)
	if err != nil {
		return nil, err
	}

	h := &Host{
		id:             opts.InstanceID,
		peer:           opts.Peer,
		store:          opts.Store,
		logger:         logger.With("instance_id", opts.InstanceID),
		events:         opts.Events,
		history:        opts.History,
		label:          rec.Label,
		feedbackValues: make(map[string]protocol.FeedbackValue),
		status:         Status{Status: protocol.StatusDisconnected},
	}
	h.register()
	return h, nil
}

// InstanceID returns the id of the driven instance.
func (h *Host) InstanceID() string {
	return h.id
}

// Label returns the instance label.
func (h *Host) Label() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.label
}

// Initialized reports whether the last init succeeded and no destroy has
// followed.
func (h *Host) Initialized() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.initialized
}

// HasHTTPHandler reports whether the module declared an HTTP handler at init.
func (h *Host) HasHTTPHandler() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.hasHTTP
}

// Status returns the last status the module reported.
func (h *Host) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Definitions returns a copy of the published catalogue.
func (h *Host) Definitions() Definitions {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Definitions{
		Actions:   append([]protocol.ActionDefinition(nil), h.defs.Actions...),
		Feedbacks: append([]protocol.FeedbackDefinition(nil), h.defs.Feedbacks...),
		Presets:   append([]protocol.PresetDefinition(nil), h.defs.Presets...),
		Variables: append([]protocol.VariableDefinition(nil), h.defs.Variables...),
	}
}

// FeedbackValues returns the latest known value of every feedback
// instance, ordered by id.
func (h *Host) FeedbackValues() []protocol.FeedbackValue {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]protocol.FeedbackValue, 0, len(h.feedbackValues))
	for _, v := range h.feedbackValues {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// VariableValues returns the stored variable values.
func (h *Host) VariableValues(ctx context.Context) (map[string]any, error) {
	return h.store.VariableValues(ctx, h.id)
}

// Actions returns the stored action instances by id.
func (h *Host) Actions(ctx context.Context) (map[string]protocol.ActionInstance, error) {
	return h.store.Actions(ctx, h.id)
}

// Feedbacks returns the stored feedback instances by id.
func (h *Host) Feedbacks(ctx context.Context) (map[string]protocol.FeedbackInstance, error) {
	return h.store.Feedbacks(ctx, h.id)
}

// Init sends the stored state to the module and records the new upgrade
// index and effective config once the module accepts it.
func (h *Host) Init(ctx context.Context) (protocol.InitResponse, error) {
	var res protocol.InitResponse

	rec, err := h.store.Instance(ctx, h.id)
	if err != nil {
		return res, err
	}
	actions, err := h.store.Actions(ctx, h.id)
	if err != nil {
		return res, err
	}
	feedbacks, err := h.store.Feedbacks(ctx, h.id)
	if err != nil {
		return res, err
	}

	msg := protocol.InitMessage{
		Label:            rec.Label,
		Config:           rec.Config,
		LastUpgradeIndex: rec.LastUpgradeIndex,
		Actions:          actions,
		Feedbacks:        feedbacks,
	}
	if err := h.peer.Call(ctx, protocol.MethodInit, msg, &res); err != nil {
		return res, err
	}

	if err := h.store.SetUpgradeIndex(ctx, h.id, res.NewUpgradeIndex); err != nil {
		return res, err
	}
	if res.UpdatedConfig != nil {
		if err := h.store.SaveConfig(ctx, h.id, res.UpdatedConfig); err != nil {
			return res, err
		}
	}

	h.mu.Lock()
	h.initialized = true
	h.hasHTTP = res.HasHTTPHandler
	h.mu.Unlock()

	h.logger.Info("instance initialized",
		"upgrade_index", res.NewUpgradeIndex,
		"actions", len(actions),
		"feedbacks", len(feedbacks),
		"http", res.HasHTTPHandler,
	)
	return res, nil
}

// Destroy tears the module instance down. Feedback values are forgotten.
func (h *Host) Destroy(ctx context.Context) error {
	if err := h.peer.Call(ctx, protocol.MethodDestroy, nil, nil); err != nil {
		return err
	}
	h.mu.Lock()
	h.initialized = false
	h.hasHTTP = false
	h.feedbackValues = make(map[string]protocol.FeedbackValue)
	h.mu.Unlock()
	h.logger.Info("instance destroyed")
	return nil
}

// UpdateConfig stores a new config and label and pushes them to the module.
// An empty label keeps the current one.
func (h *Host) UpdateConfig(ctx context.Context, label string, config map[string]any) error {
	if config == nil {
		config = map[string]any{}
	}
	if err := h.store.SaveConfig(ctx, h.id, config); err != nil {
		return err
	}
	if label != "" {
		if err := h.store.SetLabel(ctx, h.id, label); err != nil {
			return err
		}
		h.mu.Lock()
		h.label = label
		h.mu.Unlock()
	}
	return h.peer.Call(ctx, protocol.MethodUpdateConfig, protocol.UpdateConfigMessage{Label: label, Config: config}, nil)
}

// Config returns the stored config.
func (h *Host) Config(ctx context.Context) (map[string]any, error) {
	rec, err := h.store.Instance(ctx, h.id)
	if err != nil {
		return nil, err
	}
	return rec.Config, nil
}

// ConfigField is a config field with its visibility resolved against the
// stored config.
type ConfigField struct {
	options.Field
	Visible bool `json:"visible"`
}

// ConfigFields asks the module for its config schema and resolves each
// field's visibility.
func (h *Host) ConfigFields(ctx context.Context) ([]ConfigField, error) {
	var res protocol.GetConfigFieldsResponse
	if err := h.peer.Call(ctx, protocol.MethodGetConfigFields, nil, &res); err != nil {
		return nil, err
	}
	config, err := h.Config(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ConfigField, len(res.Fields))
	for i, f := range res.Fields {
		out[i] = ConfigField{Field: f, Visible: f.Visible(config)}
	}
	return out, nil
}

// PutAction stores an action instance and sends it to the module. The
// module answers with any feedback effects through its own calls.
func (h *Host) PutAction(ctx context.Context, a protocol.ActionInstance) error {
	if err := h.store.PutAction(ctx, h.id, a); err != nil {
		return err
	}
	return h.peer.Call(ctx, protocol.MethodUpdateActions,
		protocol.UpdateActionsMessage{Actions: map[string]*protocol.ActionInstance{a.ID: &a}}, nil)
}

// DeleteAction removes an action instance here and in the module.
func (h *Host) DeleteAction(ctx context.Context, id string) error {
	if err := h.store.DeleteAction(ctx, h.id, id); err != nil {
		return err
	}
	return h.peer.Call(ctx, protocol.MethodUpdateActions,
		protocol.UpdateActionsMessage{Actions: map[string]*protocol.ActionInstance{id: nil}}, nil)
}

// PutFeedback stores a feedback instance and sends it to the module.
func (h *Host) PutFeedback(ctx context.Context, f protocol.FeedbackInstance) error {
	if err := h.store.PutFeedback(ctx, h.id, f); err != nil {
		return err
	}
	return h.peer.Call(ctx, protocol.MethodUpdateFeedbacks,
		protocol.UpdateFeedbacksMessage{Feedbacks: map[string]*protocol.FeedbackInstance{f.ID: &f}}, nil)
}

// DeleteFeedback removes a feedback instance here and in the module, and
// forgets its value.
func (h *Host) DeleteFeedback(ctx context.Context, id string) error {
	if err := h.store.DeleteFeedback(ctx, h.id, id); err != nil {
		return err
	}
	h.mu.Lock()
	delete(h.feedbackValues, id)
	h.mu.Unlock()
	return h.peer.Call(ctx, protocol.MethodUpdateFeedbacks,
		protocol.UpdateFeedbacksMessage{Feedbacks: map[string]*protocol.FeedbackInstance{id: nil}}, nil)
}

// ExecuteAction runs a stored action instance.
func (h *Host) ExecuteAction(ctx context.Context, id, deviceID string) error {
	a, err := h.store.Action(ctx, h.id, id)
	if err != nil {
		return err
	}
	return h.peer.Call(ctx, protocol.MethodExecuteAction,
		protocol.ExecuteActionMessage{Action: a, DeviceID: deviceID}, nil)
}

// LearnAction asks the module to learn options for a stored action. Learned
// options replace the stored ones and are pushed back to the module. The
// returned instance is the stored one after learning.
func (h *Host) LearnAction(ctx context.Context, id string) (protocol.ActionInstance, error) {
	a, err := h.store.Action(ctx, h.id, id)
	if err != nil {
		return a, err
	}
	var res protocol.LearnResponse
	if err := h.peer.Call(ctx, protocol.MethodLearnAction, protocol.LearnActionMessage{Action: a}, &res); err != nil {
		return a, err
	}
	if res.Options == nil {
		return a, nil
	}
	a.Options = mergeOptions(a.Options, res.Options)
	return a, h.PutAction(ctx, a)
}

// LearnFeedback is the feedback counterpart of LearnAction.
func (h *Host) LearnFeedback(ctx context.Context, id string) (protocol.FeedbackInstance, error) {
	f, err := h.store.Feedback(ctx, h.id, id)
	if err != nil {
		return f, err
	}
	var res protocol.LearnResponse
	if err := h.peer.Call(ctx, protocol.MethodLearnFeedback, protocol.LearnFeedbackMessage{Feedback: f}, &res); err != nil {
		return f, err
	}
	if res.Options == nil {
		return f, nil
	}
	f.Options = mergeOptions(f.Options, res.Options)
	return f, h.PutFeedback(ctx, f)
}

func mergeOptions(current, learned map[string]any) map[string]any {
	out := protocol.CloneOptions(current)
	if out == nil {
		out = make(map[string]any, len(learned))
	}
	for k, v := range learned {
		out[k] = v
	}
	return out
}

// HTTP forwards a request to the module's HTTP handler.
func (h *Host) HTTP(ctx context.Context, req protocol.HTTPRequest) (protocol.HTTPResponse, error) {
	if !h.HasHTTPHandler() {
		return protocol.HTTPResponse{}, ErrNoHTTPHandler
	}
	var res protocol.HandleHTTPRequestResponse
	if err := h.peer.Call(ctx, protocol.MethodHandleHTTPRequest, protocol.HandleHTTPRequestMessage{Request: req}, &res); err != nil {
		return protocol.HTTPResponse{}, err
	}
	return res.Response, nil
}

func (h *Host) broadcast(channel string, payload any) {
	if h.events != nil {
		h.events.Broadcast(channel, payload)
	}
}

func (h *Host) String() string {
	return fmt.Sprintf("devhost(%s)", h.id)
}
