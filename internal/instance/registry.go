package instance

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

// store is an id-keyed map guarded by its own lock. It is written only by
// the diff engine and the lifecycle.
type store[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

func newStore[T any]() *store[T] {
	return &store[T]{items: make(map[string]T)}
}

func (s *store[T]) get(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[id]
	return v, ok
}

func (s *store[T]) set(id string, v T) {
	s.mu.Lock()
	s.items[id] = v
	s.mu.Unlock()
}

func (s *store[T]) remove(id string) {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}

func (s *store[T]) snapshot() map[string]T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]T, len(s.items))
	for k, v := range s.items {
		out[k] = v
	}
	return out
}

func (s *store[T]) clear() {
	s.mu.Lock()
	s.items = make(map[string]T)
	s.mu.Unlock()
}

func (s *store[T]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Action returns the registered action instance with the given id.
// The returned value is a copy.
func (i *Instance) Action(id string) (protocol.ActionInstance, bool) {
	a, ok := i.actions.get(id)
	if !ok {
		return protocol.ActionInstance{}, false
	}
	return a.Clone(), true
}

// Feedback returns the registered feedback instance with the given id.
// The returned value is a copy.
func (i *Instance) Feedback(id string) (protocol.FeedbackInstance, bool) {
	f, ok := i.feedbacks.get(id)
	if !ok {
		return protocol.FeedbackInstance{}, false
	}
	return f.Clone(), true
}

// Actions returns copies of all registered action instances.
func (i *Instance) Actions() []protocol.ActionInstance {
	snap := i.actions.snapshot()
	out := make([]protocol.ActionInstance, 0, len(snap))
	for _, id := range sortedKeys(snap) {
		out = append(out, snap[id].Clone())
	}
	return out
}

// Feedbacks returns copies of all registered feedback instances.
func (i *Instance) Feedbacks() []protocol.FeedbackInstance {
	snap := i.feedbacks.snapshot()
	out := make([]protocol.FeedbackInstance, 0, len(snap))
	for _, id := range sortedKeys(snap) {
		out = append(out, snap[id].Clone())
	}
	return out
}

// applyActions applies a diff to the action registry. For each id the
// previous instance is unsubscribed, then the new one is stored and
// subscribed. A nil entry deletes.
func (i *Instance) applyActions(ctx context.Context, diff map[string]*protocol.ActionInstance) {
	i.actionsMu.Lock()
	defer i.actionsMu.Unlock()

	for _, id := range sortedKeys(diff) {
		next := diff[id]

		if prev, ok := i.actions.get(id); ok && !prev.Disabled {
			if def, ok := i.actionDefinition(prev.ActionID); ok && def.Unsubscribe != nil {
				i.callHook("action unsubscribe", id, func() error {
					return def.Unsubscribe(ctx, prev.Clone())
				})
			}
		}

		if next == nil {
			i.actions.remove(id)
			continue
		}

		v := next.Clone()
		v.ID = id
		i.actions.set(id, v)
		if v.Disabled {
			continue
		}
		if def, ok := i.actionDefinition(v.ActionID); ok && def.Subscribe != nil {
			i.callHook("action subscribe", id, func() error {
				return def.Subscribe(ctx, v.Clone())
			})
		}
	}
	i.metrics.setRegistrySize("action", i.actions.len())
}

// applyFeedbacks applies a diff to the feedback registry like applyActions,
// then evaluates every stored, enabled feedback with a known definition and
// sends the values as one batch.
func (i *Instance) applyFeedbacks(ctx context.Context, diff map[string]*protocol.FeedbackInstance) {
	var evaluate []protocol.FeedbackInstance

	func() {
		i.feedbacksMu.Lock()
		defer i.feedbacksMu.Unlock()

		for _, id := range sortedKeys(diff) {
			next := diff[id]

			if prev, ok := i.feedbacks.get(id); ok && !prev.Disabled {
				if def, ok := i.feedbackDefinition(prev.FeedbackID); ok && def.Unsubscribe != nil {
					i.callHook("feedback unsubscribe", id, func() error {
						return def.Unsubscribe(ctx, prev.Clone())
					})
				}
			}

			if next == nil {
				i.feedbacks.remove(id)
				continue
			}

			v := next.Clone()
			v.ID = id
			i.feedbacks.set(id, v)
			if v.Disabled {
				continue
			}
			def, ok := i.feedbackDefinition(v.FeedbackID)
			if !ok {
				continue
			}
			if def.Subscribe != nil {
				i.callHook("feedback subscribe", id, func() error {
					return def.Subscribe(ctx, v.Clone())
				})
			}
			evaluate = append(evaluate, v)
		}
		i.metrics.setRegistrySize("feedback", i.feedbacks.len())
	}()

	i.sendFeedbackValues(i.evaluateFeedbacks(ctx, evaluate))
}

// resetRegistries drops every instance without calling hooks.
func (i *Instance) resetRegistries() {
	i.actionsMu.Lock()
	i.actions.clear()
	i.actionsMu.Unlock()

	i.feedbacksMu.Lock()
	i.feedbacks.clear()
	i.feedbacksMu.Unlock()

	i.metrics.setRegistrySize("action", 0)
	i.metrics.setRegistrySize("feedback", 0)
}

// callHook runs a subscribe or unsubscribe hook. Failures are logged and
// never stop the batch.
func (i *Instance) callHook(kind, id string, fn func() error) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}()
	if err != nil {
		i.logger.Warn("hook failed", "hook", kind, "id", id, "error", err)
		i.metrics.hookFailed(kind)
	}
}
