package counter

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/nerrad567/gray-logic-modkit/internal/instance"
	"github.com/nerrad567/gray-logic-modkit/internal/options"
	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

func TestParseSettings(t *testing.T) {
	limit := 20.0
	tests := []struct {
		name   string
		config map[string]any
		want   settings
	}{
		{
			name:   "defaults",
			config: map[string]any{},
			want:   settings{start: 0, step: 1, oscPort: defaultOSCPort},
		},
		{
			name: "everything set",
			config: map[string]any{
				ConfigStart: 5.0, ConfigStep: 2.0, ConfigLimitEnabled: true, ConfigLimit: 20.0,
				ConfigOSCHost: "10.0.0.1", ConfigOSCPort: 9000.0,
			},
			want: settings{start: 5, step: 2, limit: &limit, oscHost: "10.0.0.1", oscPort: 9000},
		},
		{
			name:   "limit ignored when disabled",
			config: map[string]any{ConfigLimitEnabled: false, ConfigLimit: 20.0},
			want:   settings{step: 1, oscPort: defaultOSCPort},
		},
		{
			name:   "wrong types fall back",
			config: map[string]any{ConfigStart: "5", ConfigStep: true, ConfigOSCHost: 3.0},
			want:   settings{step: 1, oscPort: defaultOSCPort},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseSettings(tt.config)
			if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(settings{})); diff != "" {
				t.Errorf("parseSettings() (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClamp(t *testing.T) {
	c := &Counter{}
	if got := c.clamp(500); got != 500 {
		t.Errorf("clamp() without limit = %v, want 500", got)
	}

	c.settings = parseSettings(map[string]any{ConfigLimitEnabled: true, ConfigLimit: 10.0})
	tests := []struct {
		in, want float64
	}{
		{5, 5},
		{10, 10},
		{11, 10},
		{-50, -50},
	}
	for _, tt := range tests {
		if got := c.clamp(tt.in); got != tt.want {
			t.Errorf("clamp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConfigFieldsVisibility(t *testing.T) {
	fields := (&Counter{}).ConfigFields()
	if err := options.ValidateFields(fields); err != nil {
		t.Fatalf("ValidateFields() error = %v", err)
	}

	ids := func(fs []options.Field) []string {
		out := make([]string, len(fs))
		for i, f := range fs {
			out[i] = f.ID
		}
		return out
	}

	tests := []struct {
		name   string
		values map[string]any
		want   []string
	}{
		{
			name:   "minimal",
			values: map[string]any{},
			want:   []string{ConfigStart, ConfigStep, ConfigLimitEnabled, ConfigOSCHost},
		},
		{
			name:   "limit and osc",
			values: map[string]any{ConfigLimitEnabled: true, ConfigOSCHost: "h"},
			want:   []string{ConfigStart, ConfigStep, ConfigLimitEnabled, ConfigLimit, ConfigOSCHost, ConfigOSCPort},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(options.VisibleFields(fields, tt.values))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("visible fields (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRenameAddAction(t *testing.T) {
	props := instance.UpgradeProps{
		Config: map[string]any{"initial": 4.0, ConfigStep: 2.0},
		Actions: []protocol.ActionInstance{
			{ID: "a1", ActionID: "add", Options: map[string]any{"by": 3.0}},
			{ID: "a2", ActionID: "add"},
			{ID: "a3", ActionID: ActionReset},
		},
	}
	original := protocol.CloneOptions(props.Config)

	res := renameAddAction(props)

	if diff := cmp.Diff(map[string]any{ConfigStart: 4.0, ConfigStep: 2.0}, res.UpdatedConfig); diff != "" {
		t.Errorf("UpdatedConfig (-want +got):\n%s", diff)
	}
	want := []protocol.ActionInstance{
		{ID: "a1", ActionID: ActionIncrement, Options: map[string]any{OptionAmount: 3.0}},
		{ID: "a2", ActionID: ActionIncrement, Options: map[string]any{}},
	}
	if diff := cmp.Diff(want, res.UpdatedActions); diff != "" {
		t.Errorf("UpdatedActions (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(original, props.Config); diff != "" {
		t.Errorf("input config was modified (-want +got):\n%s", diff)
	}
	if _, ok := props.Actions[0].Options["by"]; !ok {
		t.Error("input action options were modified")
	}
}

func TestRenameAddActionKeepsExistingStart(t *testing.T) {
	res := renameAddAction(instance.UpgradeProps{
		Config: map[string]any{"initial": 4.0, ConfigStart: 9.0},
	})
	if diff := cmp.Diff(map[string]any{ConfigStart: 9.0}, res.UpdatedConfig); diff != "" {
		t.Errorf("UpdatedConfig (-want +got):\n%s", diff)
	}
}

func TestRenameThresholdOption(t *testing.T) {
	props := instance.UpgradeProps{
		Feedbacks: []protocol.FeedbackInstance{
			{ID: "f1", FeedbackID: FeedbackCountAbove, Options: map[string]any{"value": 4.0}},
			{ID: "f2", FeedbackID: FeedbackCountAbove, Options: map[string]any{OptionThreshold: 1.0}},
			{ID: "f3", FeedbackID: FeedbackCountStyle, Options: map[string]any{"value": 4.0}},
		},
	}

	res := renameThresholdOption(props)

	want := []protocol.FeedbackInstance{
		{ID: "f1", FeedbackID: FeedbackCountAbove, Options: map[string]any{OptionThreshold: 4.0}},
	}
	if diff := cmp.Diff(want, res.UpdatedFeedbacks); diff != "" {
		t.Errorf("UpdatedFeedbacks (-want +got):\n%s", diff)
	}
	if res.UpdatedConfig != nil || len(res.UpdatedActions) != 0 {
		t.Errorf("unexpected changes: %+v", res)
	}
}

func TestUpgradeScriptsNothingToDo(t *testing.T) {
	props := instance.UpgradeProps{
		Config:    map[string]any{ConfigStart: 1.0},
		Actions:   []protocol.ActionInstance{{ID: "a1", ActionID: ActionIncrement}},
		Feedbacks: []protocol.FeedbackInstance{{ID: "f1", FeedbackID: FeedbackCountAbove}},
	}
	for i, script := range UpgradeScripts() {
		res := script(props)
		if diff := cmp.Diff(instance.UpgradeResult{}, res, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("script %d changed current items (-want +got):\n%s", i, diff)
		}
	}
}

func TestFormatCount(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{12, "12"},
		{-3, "-3"},
		{1.5, "1.5"},
	}
	for _, tt := range tests {
		if got := formatCount(tt.in); got != tt.want {
			t.Errorf("formatCount(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
