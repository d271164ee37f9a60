package counter

import (
	"context"
	"strings"

	"github.com/nerrad567/gray-logic-modkit/internal/instance"
	"github.com/nerrad567/gray-logic-modkit/internal/options"
	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

// Action option keys.
const (
	OptionAmount = "amount"
	OptionValue  = "value"
	OptionPath   = "path"
)

const defaultAnnouncePath = "/counter"

func (c *Counter) actionDefinitions() map[string]instance.ActionDefinition {
	amount := options.Field{
		ID: OptionAmount, Type: options.TypeNumber, Label: "Amount",
		Tooltip: "Leave empty to use the configured step",
	}

	return map[string]instance.ActionDefinition{
		ActionIncrement: {
			Name:    "Increment",
			Options: []options.Field{amount},
			Callback: func(_ context.Context, e instance.ActionEvent) error {
				c.apply(ActionIncrement, func(cur float64, s settings) float64 {
					return cur + number(e.Options[OptionAmount], s.step)
				})
				return nil
			},
		},
		ActionDecrement: {
			Name:    "Decrement",
			Options: []options.Field{amount},
			Callback: func(_ context.Context, e instance.ActionEvent) error {
				c.apply(ActionDecrement, func(cur float64, s settings) float64 {
					return cur - number(e.Options[OptionAmount], s.step)
				})
				return nil
			},
		},
		ActionSet: {
			Name:        "Set",
			Description: "Set the count to a fixed value",
			Options: []options.Field{
				{ID: OptionValue, Type: options.TypeNumber, Label: "Value", Default: 0.0, Required: true},
			},
			Callback: func(_ context.Context, e instance.ActionEvent) error {
				c.apply(ActionSet, func(cur float64, _ settings) float64 {
					return number(e.Options[OptionValue], cur)
				})
				return nil
			},
			Learn: func(_ context.Context, _ protocol.ActionInstance) (map[string]any, error) {
				return map[string]any{OptionValue: c.Count()}, nil
			},
		},
		ActionReset: {
			Name: "Reset",
			Callback: func(_ context.Context, _ instance.ActionEvent) error {
				c.reset()
				return nil
			},
		},
		ActionAnnounce: {
			Name:        "Announce over OSC",
			Description: "Send the count to the configured OSC target",
			Options: []options.Field{
				{ID: OptionPath, Type: options.TypeText, Label: "OSC path", Default: defaultAnnouncePath},
			},
			Callback: c.announce,
		},
	}
}

// announce sends the count as a float argument. Variable references in the
// path are resolved by the host first.
func (c *Counter) announce(ctx context.Context, e instance.ActionEvent) error {
	c.mu.Lock()
	host, port, count := c.settings.oscHost, c.settings.oscPort, c.count
	c.mu.Unlock()

	if host == "" {
		c.inst.Log(instance.LogWarn, "announce skipped: no OSC host configured")
		return ErrNoOSCHost
	}

	path := text(e.Options[OptionPath])
	if path == "" {
		path = defaultAnnouncePath
	}
	if strings.Contains(path, "$(") {
		parsed, err := c.inst.ParseVariablesInString(ctx, path)
		if err != nil {
			return err
		}
		path = parsed
	}

	c.inst.SendOSC(host, port, path, protocol.OSCArgument{Type: protocol.OSCFloat, Value: count})
	return nil
}
