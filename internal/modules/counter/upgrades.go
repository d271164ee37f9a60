package counter

import (
	"github.com/nerrad567/gray-logic-modkit/internal/instance"
	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

// Keys used by earlier releases.
const (
	legacyConfigInitial = "initial"
	legacyActionAdd     = "add"
	legacyOptionBy      = "by"
	legacyOptionValue   = "value"
)

// UpgradeScripts returns the counter's upgrade list. Entries are only ever
// appended.
func UpgradeScripts() []instance.UpgradeScript {
	return []instance.UpgradeScript{
		renameAddAction,
		renameThresholdOption,
	}
}

// renameAddAction moves the config key "initial" to "start" and turns the
// old "add" action with option "by" into "increment" with "amount".
func renameAddAction(props instance.UpgradeProps) instance.UpgradeResult {
	var res instance.UpgradeResult

	if props.Config != nil {
		if v, ok := props.Config[legacyConfigInitial]; ok {
			cfg := protocol.CloneOptions(props.Config)
			delete(cfg, legacyConfigInitial)
			if _, exists := cfg[ConfigStart]; !exists {
				cfg[ConfigStart] = v
			}
			res.UpdatedConfig = cfg
		}
	}

	for _, a := range props.Actions {
		if a.ActionID != legacyActionAdd {
			continue
		}
		a.ActionID = ActionIncrement
		a.Options = protocol.CloneOptions(a.Options)
		if a.Options == nil {
			a.Options = map[string]any{}
		}
		if by, ok := a.Options[legacyOptionBy]; ok {
			a.Options[OptionAmount] = by
			delete(a.Options, legacyOptionBy)
		}
		res.UpdatedActions = append(res.UpdatedActions, a)
	}
	return res
}

// renameThresholdOption renames count_above's "value" option to
// "threshold".
func renameThresholdOption(props instance.UpgradeProps) instance.UpgradeResult {
	var res instance.UpgradeResult
	for _, f := range props.Feedbacks {
		if f.FeedbackID != FeedbackCountAbove {
			continue
		}
		v, ok := f.Options[legacyOptionValue]
		if !ok {
			continue
		}
		f.Options = protocol.CloneOptions(f.Options)
		delete(f.Options, legacyOptionValue)
		f.Options[OptionThreshold] = v
		res.UpdatedFeedbacks = append(res.UpdatedFeedbacks, f)
	}
	return res
}
