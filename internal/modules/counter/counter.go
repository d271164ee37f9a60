// Package counter is an example module that keeps a single number. It
// exercises every part of the instance runtime: actions with learn,
// boolean and advanced feedbacks with subscription tracking, variables,
// upgrade scripts, config fields with visibility rules, OSC and an HTTP
// handler.
package counter

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-modkit/internal/instance"
	"github.com/nerrad567/gray-logic-modkit/internal/options"
	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

// Config keys.
const (
	ConfigStart        = "start"
	ConfigStep         = "step"
	ConfigLimitEnabled = "limit_enabled"
	ConfigLimit        = "limit"
	ConfigOSCHost      = "osc_host"
	ConfigOSCPort      = "osc_port"
)

// Action ids.
const (
	ActionIncrement = "increment"
	ActionDecrement = "decrement"
	ActionSet       = "set"
	ActionReset     = "reset"
	ActionAnnounce  = "announce"
)

// Feedback ids.
const (
	FeedbackCountAbove = "count_above"
	FeedbackCountStyle = "count_style"
)

// Variable ids.
const (
	VariableCount      = "count"
	VariableLastAction = "last_action"
)

const defaultOSCPort = 53000

// ErrNoOSCHost is returned by the announce action when no OSC host is set.
var ErrNoOSCHost = errors.New("counter: osc host not configured")

var errZeroStep = errors.New("counter: step must not be zero")

// settings is the parsed instance config.
type settings struct {
	start   float64
	step    float64
	limit   *float64
	oscHost string
	oscPort int
}

func parseSettings(config map[string]any) settings {
	s := settings{
		start:   number(config[ConfigStart], 0),
		step:    number(config[ConfigStep], 1),
		oscHost: text(config[ConfigOSCHost]),
		oscPort: int(number(config[ConfigOSCPort], defaultOSCPort)),
	}
	if enabled, _ := config[ConfigLimitEnabled].(bool); enabled {
		limit := number(config[ConfigLimit], 0)
		s.limit = &limit
	}
	return s
}

// Counter is the module. Action callbacks run concurrently; all state is
// guarded by mu.
type Counter struct {
	inst *instance.Instance
	http instance.HTTPHandler

	mu         sync.Mutex
	settings   settings
	count      float64
	lastAction string
	watched    map[string]float64
}

// New creates a counter bound to inst. Use it as the instance factory.
func New(inst *instance.Instance) *Counter {
	c := &Counter{
		inst:    inst,
		watched: make(map[string]float64),
	}
	c.http = instance.ServeHTTP(c.router())
	return c
}

// Init applies the config, publishes the catalogue and the initial values.
func (c *Counter) Init(_ context.Context, config map[string]any) error {
	s := parseSettings(config)
	if s.step == 0 {
		c.inst.SetStatus(protocol.StatusBadConfig, "step must not be zero")
		return errZeroStep
	}

	c.mu.Lock()
	c.settings = s
	c.count = c.clamp(s.start)
	c.lastAction = ""
	c.mu.Unlock()

	c.inst.SetActionDefinitions(c.actionDefinitions())
	c.inst.SetFeedbackDefinitions(c.feedbackDefinitions())
	c.inst.SetPresetDefinitions(presets())
	c.inst.SetVariableDefinitions([]protocol.VariableDefinition{
		{ID: VariableCount, Name: "Current count"},
		{ID: VariableLastAction, Name: "Last action"},
	})
	c.publish()
	c.inst.SetStatus(protocol.StatusOK, "")
	return nil
}

// Destroy forgets feedback subscriptions.
func (c *Counter) Destroy(_ context.Context) error {
	c.mu.Lock()
	c.watched = make(map[string]float64)
	c.mu.Unlock()
	c.inst.SetStatus(protocol.StatusDisconnected, "")
	return nil
}

// ConfigUpdated applies a new config without resetting the count beyond
// clamping it to a new limit.
func (c *Counter) ConfigUpdated(_ context.Context, config map[string]any) error {
	s := parseSettings(config)
	if s.step == 0 {
		c.inst.SetStatus(protocol.StatusBadConfig, "step must not be zero")
		return errZeroStep
	}

	c.mu.Lock()
	c.settings = s
	c.count = c.clamp(c.count)
	c.mu.Unlock()

	c.inst.SetStatus(protocol.StatusOK, "")
	c.changed()
	return nil
}

// ConfigFields returns the config schema. The limit is only shown when
// limiting is on, the OSC port only when a host is set.
func (c *Counter) ConfigFields() []options.Field {
	return []options.Field{
		{ID: ConfigStart, Type: options.TypeNumber, Label: "Start value", Default: 0.0},
		{ID: ConfigStep, Type: options.TypeNumber, Label: "Step", Default: 1.0, Required: true},
		{ID: ConfigLimitEnabled, Type: options.TypeCheckbox, Label: "Limit the count", Default: false},
		{
			ID: ConfigLimit, Type: options.TypeNumber, Label: "Upper limit", Default: 100.0,
			IsVisible: options.Truthy(ConfigLimitEnabled),
		},
		{ID: ConfigOSCHost, Type: options.TypeText, Label: "OSC target host"},
		{
			ID: ConfigOSCPort, Type: options.TypeNumber, Label: "OSC target port", Default: float64(defaultOSCPort),
			Min: options.Float(1), Max: options.Float(65535),
			IsVisible: options.Truthy(ConfigOSCHost),
		},
	}
}

// HandleHTTPRequest serves the module's HTTP routes.
func (c *Counter) HandleHTTPRequest(ctx context.Context, req protocol.HTTPRequest) (protocol.HTTPResponse, error) {
	return c.http.HandleHTTPRequest(ctx, req)
}

// Count returns the current count.
func (c *Counter) Count() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Watched returns the ids of the count_above feedbacks currently
// subscribed.
func (c *Counter) Watched() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.watched))
	for id := range c.watched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// apply runs fn under the lock and reports the change.
func (c *Counter) apply(action string, fn func(current float64, s settings) float64) {
	c.mu.Lock()
	c.count = c.clamp(fn(c.count, c.settings))
	c.lastAction = action
	c.mu.Unlock()
	c.changed()
}

// changed publishes the variables and re-checks every feedback.
func (c *Counter) changed() {
	c.publish()
	c.inst.CheckFeedbacks(FeedbackCountAbove, FeedbackCountStyle)
}

func (c *Counter) publish() {
	c.mu.Lock()
	values := map[string]any{
		VariableCount:      c.count,
		VariableLastAction: c.lastAction,
	}
	c.mu.Unlock()
	c.inst.SetVariableValues(values)
}

// clamp must be called with mu held.
func (c *Counter) clamp(v float64) float64 {
	if c.settings.limit != nil && v > *c.settings.limit {
		return *c.settings.limit
	}
	return v
}

func (c *Counter) reset() {
	c.apply(ActionReset, func(_ float64, s settings) float64 { return s.start })
}

func number(v any, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return def
	}
}

func text(v any) string {
	s, _ := v.(string)
	return s
}
