package instance

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

// State is the lifecycle state of an instance.
type State int32

const (
	// StateUninitialized is the initial state and the state after destroy.
	StateUninitialized State = iota

	// StateInitialized is entered when the module's Init hook succeeds.
	StateInitialized
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// job is one entry of the lifecycle queue.
type job struct {
	name  string
	run   func(ctx context.Context) (any, error)
	reply func(result any, err error)
}

// enqueue appends a job to the lifecycle queue. Jobs run one at a time in
// the order they were enqueued.
func (i *Instance) enqueue(name string, run func(ctx context.Context) (any, error), reply func(any, error)) {
	j := &job{name: name, run: run, reply: reply}
	if err := i.queue.Put(j); err != nil {
		reply(nil, fmt.Errorf("%w: %s", ErrClosed, name))
		return
	}
	i.metrics.setQueueDepth(i.queue.Len())
}

// runLifecycle drains the lifecycle queue until it is disposed.
func (i *Instance) runLifecycle() {
	defer close(i.lifecycleDone)
	for {
		items, err := i.queue.Get(1)
		if err != nil {
			return
		}
		i.metrics.setQueueDepth(i.queue.Len())
		for _, item := range items {
			i.runJob(item.(*job))
		}
	}
}

func (i *Instance) runJob(j *job) {
	start := time.Now()
	result, err := func() (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				i.logger.Error("lifecycle panic", "method", j.name, "panic", r)
				err = fmt.Errorf("%s panic: %v", j.name, r)
			}
		}()
		return j.run(i.ctx)
	}()
	i.metrics.observeLifecycle(j.name, err, time.Since(start))
	j.reply(result, err)
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	return State(i.state.Load())
}

func (i *Instance) init(ctx context.Context, msg protocol.InitMessage) (protocol.InitResponse, error) {
	if i.State() != StateUninitialized {
		return protocol.InitResponse{}, ErrAlreadyInitialized
	}

	upgraded, err := runUpgrades(i.scripts, upgradeBatch{
		config:        msg.Config,
		includeConfig: true,
		actions:       msg.Actions,
		feedbacks:     msg.Feedbacks,
		defaultIndex:  msg.LastUpgradeIndex,
	})
	if err != nil {
		return protocol.InitResponse{}, err
	}
	if len(upgraded.ran) > 0 {
		i.logger.Info("upgrade scripts applied",
			"from", msg.LastUpgradeIndex,
			"scripts", upgraded.ran,
			"actions", len(upgraded.updatedActions),
			"feedbacks", len(upgraded.updatedFeedbacks),
		)
	}

	// The upgrade result goes out before the module's Init so a failing
	// Init cannot make the same scripts run again on the next attempt.
	notice := protocol.UpgradedItemsMessage{
		NewUpgradeIndex:  len(i.scripts),
		UpdatedActions:   upgraded.updatedActions,
		UpdatedFeedbacks: upgraded.updatedFeedbacks,
	}
	if upgraded.configChanged {
		notice.UpdatedConfig = upgraded.config
	}
	sent := i.peer.Go(ctx, protocol.MethodUpgradedItems, notice)

	config := upgraded.config
	if config == nil {
		config = map[string]any{}
	}
	prevLabel, prevConfig := i.Label(), i.Config()
	i.setLabel(msg.Label)
	i.setConfig(config)

	initErr := i.module.Init(ctx, protocol.CloneOptions(config))

	if err := sent.Wait(ctx, nil); err != nil {
		i.logger.Warn("host did not acknowledge upgraded items", "error", err)
	}
	if initErr != nil {
		i.setLabel(prevLabel)
		i.setConfig(prevConfig)
		i.logger.Error("module init failed", "error", initErr)
		return protocol.InitResponse{}, initErr
	}

	i.state.Store(int32(StateInitialized))
	i.metrics.setState(StateInitialized)
	i.logger.Info("instance initialized", "label", msg.Label,
		"actions", len(upgraded.actions), "feedbacks", len(upgraded.feedbacks))

	i.bootstrap(upgraded.actions, upgraded.feedbacks)

	_, hasHTTP := i.module.(HTTPHandler)
	return protocol.InitResponse{
		HasHTTPHandler:  hasHTTP,
		NewUpgradeIndex: len(i.scripts),
		UpdatedConfig:   protocol.CloneOptions(config),
	}, nil
}

// bootstrap feeds the initial instance sets through the diff engine in the
// background. Upgrades have already been applied.
func (i *Instance) bootstrap(actions map[string]protocol.ActionInstance, feedbacks map[string]protocol.FeedbackInstance) {
	actionDiff := make(map[string]*protocol.ActionInstance, len(actions))
	for id, a := range actions {
		actionDiff[id] = &a
	}
	feedbackDiff := make(map[string]*protocol.FeedbackInstance, len(feedbacks))
	for id, f := range feedbacks {
		feedbackDiff[id] = &f
	}

	i.bootstrapping.Add(1)
	go func() {
		defer i.bootstrapping.Done()
		i.applyActions(i.ctx, actionDiff)
		i.applyFeedbacks(i.ctx, feedbackDiff)
	}()
}

func (i *Instance) destroy(ctx context.Context) error {
	if i.State() != StateInitialized {
		return ErrNotInitialized
	}

	i.bootstrapping.Wait()

	if err := i.module.Destroy(ctx); err != nil {
		i.logger.Error("module destroy failed", "error", err)
		return err
	}

	i.state.Store(int32(StateUninitialized))
	i.metrics.setState(StateUninitialized)
	i.resetRegistries()
	i.logger.Info("instance destroyed")
	return nil
}

func (i *Instance) updateConfig(ctx context.Context, msg protocol.UpdateConfigMessage) error {
	if i.State() != StateInitialized {
		return ErrNotInitialized
	}

	config := msg.Config
	if config == nil {
		config = map[string]any{}
	}
	if err := i.module.ConfigUpdated(ctx, protocol.CloneOptions(config)); err != nil {
		return err
	}

	if msg.Label != "" {
		i.setLabel(msg.Label)
	}
	i.setConfig(config)
	i.logger.Info("config updated")
	return nil
}

// Label returns the instance label the host assigned.
func (i *Instance) Label() string {
	i.configMu.RLock()
	defer i.configMu.RUnlock()
	return i.label
}

// Config returns a copy of the current config.
func (i *Instance) Config() map[string]any {
	i.configMu.RLock()
	defer i.configMu.RUnlock()
	return protocol.CloneOptions(i.config)
}

func (i *Instance) setLabel(label string) {
	i.configMu.Lock()
	i.label = label
	i.configMu.Unlock()
}

func (i *Instance) setConfig(config map[string]any) {
	i.configMu.Lock()
	i.config = protocol.CloneOptions(config)
	i.configMu.Unlock()
}
