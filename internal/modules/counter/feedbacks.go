package counter

import (
	"context"

	"github.com/nerrad567/gray-logic-modkit/internal/instance"
	"github.com/nerrad567/gray-logic-modkit/internal/options"
	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

// Feedback option keys.
const (
	OptionThreshold = "threshold"
	OptionColor     = "color"
)

const (
	colorRed   = 0xff0000
	colorWhite = 0xffffff
)

func (c *Counter) feedbackDefinitions() map[string]instance.FeedbackDefinition {
	threshold := options.Field{ID: OptionThreshold, Type: options.TypeNumber, Label: "Threshold", Default: 10.0}

	return map[string]instance.FeedbackDefinition{
		FeedbackCountAbove: {
			Name:         "Count above threshold",
			Type:         protocol.FeedbackTypeBoolean,
			Options:      []options.Field{threshold},
			DefaultStyle: map[string]any{"bgcolor": float64(colorRed), "color": float64(colorWhite)},
			ShowInvert:   true,
			Callback: func(_ context.Context, e instance.FeedbackEvent) (any, error) {
				return c.Count() > number(e.Options[OptionThreshold], 0), nil
			},
			Subscribe: func(_ context.Context, f protocol.FeedbackInstance) error {
				c.mu.Lock()
				c.watched[f.ID] = number(f.Options[OptionThreshold], 0)
				c.mu.Unlock()
				return nil
			},
			Unsubscribe: func(_ context.Context, f protocol.FeedbackInstance) error {
				c.mu.Lock()
				delete(c.watched, f.ID)
				c.mu.Unlock()
				return nil
			},
			Learn: func(_ context.Context, _ instance.FeedbackEvent) (map[string]any, error) {
				return map[string]any{OptionThreshold: c.Count()}, nil
			},
		},
		FeedbackCountStyle: {
			Name: "Colour by count",
			Type: protocol.FeedbackTypeAdvanced,
			Options: []options.Field{
				threshold,
				{ID: OptionColor, Type: options.TypeColor, Label: "Colour", Default: float64(colorRed)},
			},
			Callback: func(_ context.Context, e instance.FeedbackEvent) (any, error) {
				if c.Count() < number(e.Options[OptionThreshold], 0) {
					return map[string]any{}, nil
				}
				return map[string]any{
					"bgcolor": number(e.Options[OptionColor], colorRed),
					"text":    formatCount(c.Count()),
				}, nil
			},
		},
	}
}

func presets() []protocol.PresetDefinition {
	return []protocol.PresetDefinition{
		{
			ID:       "increment_button",
			Category: "Counter",
			Name:     "Increment",
			Style:    map[string]any{"text": "+1"},
			Actions:  []protocol.PresetAction{{ActionID: ActionIncrement, Options: map[string]any{}}},
			Feedbacks: []protocol.PresetFeedback{{
				FeedbackID: FeedbackCountAbove,
				Options:    map[string]any{OptionThreshold: 10.0},
				Style:      map[string]any{"bgcolor": float64(colorRed)},
			}},
		},
		{
			ID:        "reset_button",
			Category:  "Counter",
			Name:      "Reset",
			Style:     map[string]any{"text": "Reset"},
			Actions:   []protocol.PresetAction{{ActionID: ActionReset, Options: map[string]any{}}},
			Feedbacks: []protocol.PresetFeedback{},
		},
	}
}
