package instance

import (
	"fmt"
	"sort"

	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

// UpgradeProps is the state an upgrade script sees.
//
// Actions and Feedbacks hold only the items the script applies to. Config
// is nil when the config is not part of the run, which is always the case
// for diffs arriving after init.
type UpgradeProps struct {
	Config    map[string]any
	Actions   []protocol.ActionInstance
	Feedbacks []protocol.FeedbackInstance
}

// UpgradeResult lists what a script changed. Leave a field empty for
// "unchanged". Items are matched by ID; items the script was not given are
// ignored.
type UpgradeResult struct {
	UpdatedConfig    map[string]any
	UpdatedActions   []protocol.ActionInstance
	UpdatedFeedbacks []protocol.FeedbackInstance
}

// UpgradeScript is one step of a module's upgrade list. Scripts are pure:
// they get copies and report changes through the result. The list is
// append-only; a shipped script never moves or changes.
type UpgradeScript func(props UpgradeProps) UpgradeResult

// upgradeBatch is the input of one pipeline run. Items without their own
// UpgradeIndex start at defaultIndex.
type upgradeBatch struct {
	config        map[string]any
	includeConfig bool
	actions       map[string]protocol.ActionInstance
	feedbacks     map[string]protocol.FeedbackInstance
	defaultIndex  int
}

// upgradeOutcome is the state after a pipeline run.
type upgradeOutcome struct {
	config        map[string]any
	configChanged bool

	// actions and feedbacks hold every item of the batch, current.
	actions   map[string]protocol.ActionInstance
	feedbacks map[string]protocol.FeedbackInstance

	// updatedActions and updatedFeedbacks hold the items the host must
	// persist: those a script changed and those that carried an index.
	updatedActions   map[string]protocol.ActionInstance
	updatedFeedbacks map[string]protocol.FeedbackInstance

	ran []int
}

// runUpgrades applies scripts to b. Each script runs at most once, in
// ascending index order, and sees the state left by the scripts before it.
// At init every script from defaultIndex runs; otherwise a script runs only
// when some item needs it.
func runUpgrades(scripts []UpgradeScript, b upgradeBatch) (upgradeOutcome, error) {
	out := upgradeOutcome{
		config:           protocol.CloneOptions(b.config),
		actions:          make(map[string]protocol.ActionInstance, len(b.actions)),
		feedbacks:        make(map[string]protocol.FeedbackInstance, len(b.feedbacks)),
		updatedActions:   make(map[string]protocol.ActionInstance),
		updatedFeedbacks: make(map[string]protocol.FeedbackInstance),
	}

	defaultIndex := clampIndex(b.defaultIndex, len(scripts))
	first := len(scripts)
	if b.includeConfig {
		first = defaultIndex
	}

	actionStart := make(map[string]int, len(b.actions))
	touchedActions := make(map[string]bool)
	for id, a := range b.actions {
		a = a.Clone()
		a.ID = id
		start := defaultIndex
		if a.UpgradeIndex != nil {
			start = clampIndex(*a.UpgradeIndex, len(scripts))
			touchedActions[id] = true
		}
		actionStart[id] = start
		first = min(first, start)
		out.actions[id] = a
	}

	feedbackStart := make(map[string]int, len(b.feedbacks))
	touchedFeedbacks := make(map[string]bool)
	for id, f := range b.feedbacks {
		f = f.Clone()
		f.ID = id
		start := defaultIndex
		if f.UpgradeIndex != nil {
			start = clampIndex(*f.UpgradeIndex, len(scripts))
			touchedFeedbacks[id] = true
		}
		feedbackStart[id] = start
		first = min(first, start)
		out.feedbacks[id] = f
	}

	actionIDs := sortedKeys(out.actions)
	feedbackIDs := sortedKeys(out.feedbacks)

	for idx := first; idx < len(scripts); idx++ {
		var props UpgradeProps
		if b.includeConfig && idx >= defaultIndex {
			props.Config = protocol.CloneOptions(out.config)
			if props.Config == nil {
				props.Config = map[string]any{}
			}
		}
		for _, id := range actionIDs {
			if actionStart[id] <= idx {
				props.Actions = append(props.Actions, out.actions[id].Clone())
			}
		}
		for _, id := range feedbackIDs {
			if feedbackStart[id] <= idx {
				props.Feedbacks = append(props.Feedbacks, out.feedbacks[id].Clone())
			}
		}
		if props.Config == nil && len(props.Actions) == 0 && len(props.Feedbacks) == 0 {
			continue
		}

		res, err := callScript(scripts[idx], props)
		if err != nil {
			return out, fmt.Errorf("upgrade script %d: %w", idx, err)
		}
		out.ran = append(out.ran, idx)

		if props.Config != nil && res.UpdatedConfig != nil {
			out.config = protocol.CloneOptions(res.UpdatedConfig)
			out.configChanged = true
		}
		for _, a := range res.UpdatedActions {
			if start, ok := actionStart[a.ID]; ok && start <= idx {
				out.actions[a.ID] = a.Clone()
				touchedActions[a.ID] = true
			}
		}
		for _, f := range res.UpdatedFeedbacks {
			if start, ok := feedbackStart[f.ID]; ok && start <= idx {
				out.feedbacks[f.ID] = f.Clone()
				touchedFeedbacks[f.ID] = true
			}
		}
	}

	// Everything in the batch is now current.
	for id, a := range out.actions {
		a.UpgradeIndex = nil
		out.actions[id] = a
		if touchedActions[id] {
			out.updatedActions[id] = a.Clone()
		}
	}
	for id, f := range out.feedbacks {
		f.UpgradeIndex = nil
		out.feedbacks[id] = f
		if touchedFeedbacks[id] {
			out.updatedFeedbacks[id] = f.Clone()
		}
	}
	return out, nil
}

func callScript(script UpgradeScript, props UpgradeProps) (res UpgradeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return script(props), nil
}

func clampIndex(idx, n int) int {
	if idx < 0 {
		return 0
	}
	if idx > n {
		return n
	}
	return idx
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
