package instance

import (
	"sync"

	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

// variableCache mirrors the values this instance has reported. Its value
// key-set always equals the defined id set outside of a definitions update.
type variableCache struct {
	mu     sync.RWMutex
	defs   map[string]protocol.VariableDefinition
	values map[string]any
}

func newVariableCache() *variableCache {
	return &variableCache{
		defs:   make(map[string]protocol.VariableDefinition),
		values: make(map[string]any),
	}
}

// SetVariableDefinitions replaces the variable catalogue. New ids get an
// empty value; values of ids no longer defined are dropped and cleared on
// the host.
func (i *Instance) SetVariableDefinitions(defs []protocol.VariableDefinition) {
	c := i.variables

	c.mu.Lock()
	next := make(map[string]protocol.VariableDefinition, len(defs))
	for _, d := range defs {
		next[d.ID] = d
		if _, ok := c.values[d.ID]; !ok {
			c.values[d.ID] = nil
		}
	}
	var cleared []protocol.VariableValue
	for _, id := range sortedKeys(c.values) {
		if _, ok := next[id]; !ok {
			delete(c.values, id)
			cleared = append(cleared, protocol.VariableValue{ID: id})
		}
	}
	c.defs = next
	c.mu.Unlock()

	list := make([]protocol.VariableDefinition, len(defs))
	copy(list, defs)
	i.peer.Notify(protocol.MethodSetVariableDefinitions, protocol.SetVariableDefinitionsMessage{Variables: list})
	if len(cleared) > 0 {
		i.peer.Notify(protocol.MethodSetVariableValues, protocol.SetVariableValuesMessage{NewValues: cleared})
	}
}

// SetVariableValues records and reports variable values. Values for ids
// that are not defined are not cached and are reported with the delete
// marker so the host drops stale references.
func (i *Instance) SetVariableValues(values map[string]any) {
	c := i.variables

	batch := make([]protocol.VariableValue, 0, len(values))
	c.mu.Lock()
	for _, id := range sortedKeys(values) {
		if _, ok := c.defs[id]; !ok {
			i.logger.Warn("value for undefined variable", "variable", id)
			batch = append(batch, protocol.VariableValue{ID: id})
			continue
		}
		c.values[id] = values[id]
		batch = append(batch, protocol.VariableValue{ID: id, Value: values[id]})
	}
	c.mu.Unlock()

	if len(batch) > 0 {
		i.peer.Notify(protocol.MethodSetVariableValues, protocol.SetVariableValuesMessage{NewValues: batch})
	}
}

// GetVariableValue returns the cached value of a variable. ok is false when
// the variable is not defined; a defined variable with no value yet returns
// (nil, true).
func (i *Instance) GetVariableValue(id string) (value any, ok bool) {
	c := i.variables
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok = c.values[id]
	return value, ok
}

// VariableDefinitions returns the current variable catalogue.
func (i *Instance) VariableDefinitions() []protocol.VariableDefinition {
	c := i.variables
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.VariableDefinition, 0, len(c.defs))
	for _, id := range sortedKeys(c.defs) {
		out = append(out, c.defs[id])
	}
	return out
}
