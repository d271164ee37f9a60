// Package instance is the module-side runtime of a Gray Logic module
// instance.
//
// A host drives an instance over an ipc.Peer. The runtime owns the
// lifecycle state machine, the upgrade pipeline, the action and feedback
// instance registries with their subscribe/unsubscribe pairing, feedback
// evaluation, and the variable value cache. Module authors supply a Module
// and their definitions; everything else is handled here.
//
// Architecture:
//
//	host ──▶ ipc.Peer ──┬──▶ lifecycle queue (init, destroy, updateConfig)
//	                    │        │  one worker, FIFO
//	                    │        ▼
//	                    │    upgrade pipeline ──▶ Module.Init
//	                    │
//	                    ├──▶ diff engine (updateActions, updateFeedbacks)
//	                    │        unsubscribe ▶ store ▶ subscribe ▶ evaluate
//	                    │
//	                    └──▶ executeAction, learn*, getConfigFields,
//	                         handleHttpRequest
//
// # Key Types
//
//   - Instance: the runtime; created with New, started by starting its peer
//   - Module: the lifecycle hooks a module author implements
//   - ActionDefinition, FeedbackDefinition: catalogue entries with callbacks
//   - UpgradeScript: one step of the append-only upgrade list
//
// # Thread Safety
//
// Lifecycle calls are serialised through a single queue. Every other host
// call runs concurrently on the peer's worker pool unless SerializeAll is
// set, in which case all host calls share the lifecycle queue. All exported
// methods are safe for concurrent use.
//
// # Usage
//
//	inst, err := instance.New(func(inst *instance.Instance) instance.Module {
//	    return counter.New(inst)
//	}, instance.Options{Peer: peer, Logger: logger, UpgradeScripts: counter.UpgradeScripts})
//	if err != nil {
//	    return err
//	}
//	defer inst.Close()
//	return peer.Start()
package instance
