package instance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/panjf2000/ants/v2"

	"github.com/nerrad567/gray-logic-modkit/internal/ipc"
	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

// defaultPoolSize bounds concurrent feedback evaluations.
const defaultPoolSize = 32

// Logger defines the logging interface used by the runtime.
// Compatible with *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures an Instance.
type Options struct {
	// Peer is the link to the host. Required. The caller starts it after
	// New returns and closes it after Close.
	Peer *ipc.Peer

	// Logger is optional.
	Logger Logger

	// UpgradeScripts is the module's append-only upgrade list.
	UpgradeScripts []UpgradeScript

	// SerializeAll routes every host call through the lifecycle queue,
	// not just init, destroy and updateConfig.
	SerializeAll bool

	// PoolSize bounds concurrent feedback evaluations.
	// Default: 32
	PoolSize int

	// Metrics is optional.
	Metrics *Metrics
}

// Instance is the module-side runtime for one module instance.
type Instance struct {
	module       Module
	peer         *ipc.Peer
	logger       Logger
	metrics      *Metrics
	scripts      []UpgradeScript
	serializeAll bool

	queue         *queue.Queue
	lifecycleDone chan struct{}
	state         atomic.Int32
	bootstrapping sync.WaitGroup

	label    string
	config   map[string]any
	configMu sync.RWMutex

	actionDefs   map[string]ActionDefinition
	feedbackDefs map[string]FeedbackDefinition
	defsMu       sync.RWMutex

	actions     *store[protocol.ActionInstance]
	feedbacks   *store[protocol.FeedbackInstance]
	actionsMu   sync.Mutex
	feedbacksMu sync.Mutex

	variables *variableCache
	evalPool  *ants.Pool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New creates an instance and registers its handlers on opts.Peer. factory
// receives the instance so the module can keep it for publishing
// definitions, values and status.
func New(factory func(inst *Instance) Module, opts Options) (*Instance, error) {
	if factory == nil {
		return nil, errors.New("instance: module factory is required")
	}
	if opts.Peer == nil {
		return nil, errors.New("instance: peer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	size := opts.PoolSize
	if size <= 0 {
		size = defaultPoolSize
	}

	pool, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(r any) {
			logger.Error("feedback worker panic", "panic", r)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("instance: creating evaluation pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	i := &Instance{
		peer:          opts.Peer,
		logger:        logger,
		metrics:       opts.Metrics,
		scripts:       append([]UpgradeScript(nil), opts.UpgradeScripts...),
		serializeAll:  opts.SerializeAll,
		queue:         queue.New(8),
		lifecycleDone: make(chan struct{}),
		actionDefs:    make(map[string]ActionDefinition),
		feedbackDefs:  make(map[string]FeedbackDefinition),
		actions:       newStore[protocol.ActionInstance](),
		feedbacks:     newStore[protocol.FeedbackInstance](),
		variables:     newVariableCache(),
		evalPool:      pool,
		ctx:           ctx,
		cancel:        cancel,
	}

	i.module = factory(i)
	if i.module == nil {
		cancel()
		pool.Release()
		return nil, errors.New("instance: module factory returned nil")
	}

	i.register()
	go i.runLifecycle()
	return i, nil
}

// Close stops the lifecycle queue and fails the calls still waiting in it.
// The running job sees its context cancelled, so a job waiting on the host
// returns instead of holding Close. It does not destroy the module or close
// the peer.
func (i *Instance) Close() error {
	i.closeOnce.Do(func() {
		for _, item := range i.queue.Dispose() {
			j := item.(*job)
			j.reply(nil, coded(fmt.Errorf("%w: %s", ErrClosed, j.name)))
		}
		i.cancel()
		<-i.lifecycleDone
		i.bootstrapping.Wait()
		i.evalPool.Release()
	})
	return nil
}

func (i *Instance) register() {
	i.lifecycle(protocol.MethodInit, func(ctx context.Context, req *ipc.Request) (any, error) {
		var msg protocol.InitMessage
		if err := req.Decode(&msg); err != nil {
			return nil, err
		}
		return i.init(ctx, msg)
	})
	i.lifecycle(protocol.MethodDestroy, func(ctx context.Context, _ *ipc.Request) (any, error) {
		return nil, i.destroy(ctx)
	})
	i.lifecycle(protocol.MethodUpdateConfig, func(ctx context.Context, req *ipc.Request) (any, error) {
		var msg protocol.UpdateConfigMessage
		if err := req.Decode(&msg); err != nil {
			return nil, err
		}
		return nil, i.updateConfig(ctx, msg)
	})

	i.handle(protocol.MethodExecuteAction, func(ctx context.Context, req *ipc.Request) (any, error) {
		var msg protocol.ExecuteActionMessage
		if err := req.Decode(&msg); err != nil {
			return nil, err
		}
		return nil, i.executeAction(ctx, msg)
	})
	i.handle(protocol.MethodUpdateActions, func(ctx context.Context, req *ipc.Request) (any, error) {
		var msg protocol.UpdateActionsMessage
		if err := req.Decode(&msg); err != nil {
			return nil, err
		}
		return nil, i.updateActions(ctx, msg)
	})
	i.handle(protocol.MethodUpdateFeedbacks, func(ctx context.Context, req *ipc.Request) (any, error) {
		var msg protocol.UpdateFeedbacksMessage
		if err := req.Decode(&msg); err != nil {
			return nil, err
		}
		return nil, i.updateFeedbacks(ctx, msg)
	})
	i.handle(protocol.MethodGetConfigFields, func(context.Context, *ipc.Request) (any, error) {
		return i.configFields(), nil
	})
	i.handle(protocol.MethodHandleHTTPRequest, func(ctx context.Context, req *ipc.Request) (any, error) {
		var msg protocol.HandleHTTPRequestMessage
		if err := req.Decode(&msg); err != nil {
			return nil, err
		}
		return i.handleHTTPRequest(ctx, msg)
	})
	i.handle(protocol.MethodLearnAction, func(ctx context.Context, req *ipc.Request) (any, error) {
		var msg protocol.LearnActionMessage
		if err := req.Decode(&msg); err != nil {
			return nil, err
		}
		return i.learnAction(ctx, msg)
	})
	i.handle(protocol.MethodLearnFeedback, func(ctx context.Context, req *ipc.Request) (any, error) {
		var msg protocol.LearnFeedbackMessage
		if err := req.Decode(&msg); err != nil {
			return nil, err
		}
		return i.learnFeedback(ctx, msg)
	})
}

// lifecycle registers fn to run on the lifecycle queue. The request is
// enqueued on the peer's receive goroutine so arrival order is kept.
func (i *Instance) lifecycle(name string, fn ipc.HandlerFunc) {
	i.peer.HandleRequest(name, func(req *ipc.Request) {
		i.enqueue(name,
			func(ctx context.Context) (any, error) { return fn(ctx, req) },
			func(result any, err error) { req.Reply(result, coded(err)) },
		)
	})
}

// handle registers fn to run concurrently, or on the lifecycle queue when
// SerializeAll is set.
func (i *Instance) handle(name string, fn ipc.HandlerFunc) {
	if i.serializeAll {
		i.lifecycle(name, fn)
		return
	}
	i.peer.Handle(name, func(ctx context.Context, req *ipc.Request) (any, error) {
		result, err := fn(ctx, req)
		return result, coded(err)
	})
}

// updateActions upgrades marked items, reports them, then applies the diff.
func (i *Instance) updateActions(ctx context.Context, msg protocol.UpdateActionsMessage) error {
	diff := msg.Actions
	marked := make(map[string]protocol.ActionInstance)
	for id, a := range diff {
		if a != nil && a.UpgradeIndex != nil {
			marked[id] = *a
		}
	}
	if len(marked) > 0 {
		out, err := runUpgrades(i.scripts, upgradeBatch{actions: marked, defaultIndex: len(i.scripts)})
		if err != nil {
			return err
		}
		for id, a := range out.actions {
			diff[id] = &a
		}
		i.peer.Notify(protocol.MethodUpgradedItems, protocol.UpgradedItemsMessage{
			UpdatedActions:   out.updatedActions,
			UpdatedFeedbacks: map[string]protocol.FeedbackInstance{},
		})
	}
	i.applyActions(ctx, diff)
	return nil
}

// updateFeedbacks is the feedback counterpart of updateActions.
func (i *Instance) updateFeedbacks(ctx context.Context, msg protocol.UpdateFeedbacksMessage) error {
	diff := msg.Feedbacks
	marked := make(map[string]protocol.FeedbackInstance)
	for id, f := range diff {
		if f != nil && f.UpgradeIndex != nil {
			marked[id] = *f
		}
	}
	if len(marked) > 0 {
		out, err := runUpgrades(i.scripts, upgradeBatch{feedbacks: marked, defaultIndex: len(i.scripts)})
		if err != nil {
			return err
		}
		for id, f := range out.feedbacks {
			diff[id] = &f
		}
		i.peer.Notify(protocol.MethodUpgradedItems, protocol.UpgradedItemsMessage{
			UpdatedActions:   map[string]protocol.ActionInstance{},
			UpdatedFeedbacks: out.updatedFeedbacks,
		})
	}
	i.applyFeedbacks(ctx, diff)
	return nil
}
