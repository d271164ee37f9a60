package instance

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

// CheckFeedbacks re-evaluates every registered feedback whose definition id
// is in types, or all feedbacks when types is empty, and sends the values
// to the host. Modules call it when their own state changes.
func (i *Instance) CheckFeedbacks(types ...string) {
	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}

	snap := i.feedbacks.snapshot()
	items := make([]protocol.FeedbackInstance, 0, len(snap))
	for _, id := range sortedKeys(snap) {
		f := snap[id]
		if len(want) > 0 && !want[f.FeedbackID] {
			continue
		}
		items = append(items, f)
	}
	i.sendFeedbackValues(i.evaluateFeedbacks(i.ctx, items))
}

// CheckFeedbacksByID re-evaluates the given feedback instances. Ids that
// are not registered are skipped.
func (i *Instance) CheckFeedbacksByID(ids ...string) {
	items := make([]protocol.FeedbackInstance, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if f, ok := i.feedbacks.get(id); ok {
			items = append(items, f)
		}
	}
	i.sendFeedbackValues(i.evaluateFeedbacks(i.ctx, items))
}

// evaluateFeedbacks runs the callbacks of items concurrently on the
// evaluation pool and returns the values in input order. Disabled items and
// items without a known definition produce no value. A failing callback
// produces a nil value for its item only.
func (i *Instance) evaluateFeedbacks(ctx context.Context, items []protocol.FeedbackInstance) []protocol.FeedbackValue {
	type slot struct {
		value protocol.FeedbackValue
		ok    bool
	}
	slots := make([]slot, len(items))

	var wg sync.WaitGroup
	for n, item := range items {
		if item.Disabled {
			continue
		}
		def, ok := i.feedbackDefinition(item.FeedbackID)
		if !ok || def.Callback == nil {
			continue
		}

		n, item := n, item
		task := func() {
			defer wg.Done()
			slots[n] = slot{
				value: protocol.FeedbackValue{
					ID:        item.ID,
					ControlID: item.ControlID,
					Value:     i.evaluateFeedback(ctx, def, item),
				},
				ok: true,
			}
		}

		wg.Add(1)
		if err := i.evalPool.Submit(task); err != nil {
			// Saturated or released pool: evaluate on this goroutine.
			task()
		}
	}
	wg.Wait()

	values := make([]protocol.FeedbackValue, 0, len(items))
	for _, s := range slots {
		if s.ok {
			values = append(values, s.value)
		}
	}
	return values
}

func (i *Instance) evaluateFeedback(ctx context.Context, def FeedbackDefinition, item protocol.FeedbackInstance) any {
	value, err := func() (v any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return def.Callback(ctx, FeedbackEvent{FeedbackInstance: item.Clone(), Type: def.Type})
	}()
	if err != nil {
		i.logger.Warn("feedback callback failed", "id", item.ID, "feedback", item.FeedbackID, "error", err)
		i.metrics.feedbackEvaluated("error")
		return nil
	}
	i.metrics.feedbackEvaluated("ok")

	if def.Type == protocol.FeedbackTypeBoolean && def.ShowInvert && item.IsInverted {
		if b, ok := value.(bool); ok {
			return !b
		}
	}
	return value
}

func (i *Instance) sendFeedbackValues(values []protocol.FeedbackValue) {
	if len(values) == 0 {
		return
	}
	i.peer.Notify(protocol.MethodUpdateFeedbackValues, protocol.UpdateFeedbackValuesMessage{Values: values})
}
