package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
)

// defaultPoolSize bounds concurrently running pooled handlers.
const defaultPoolSize = 64

// Logger is the logging interface used by the peer.
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

// HandlerFunc answers a call on the worker pool. The returned value is
// encoded as the response payload.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// RequestHandler runs on the carrier's receive goroutine and must not block.
// It owns the request and must eventually call Reply exactly once, typically
// from another goroutine. Use it when the arrival order of calls matters.
type RequestHandler func(req *Request)

type handlerEntry struct {
	pooled HandlerFunc
	inline RequestHandler
}

// Options configures a Peer.
type Options struct {
	// Carrier moves frames to and from the other side. Required.
	Carrier Carrier

	// Logger receives transport diagnostics. Optional.
	Logger Logger

	// PoolSize bounds concurrently running pooled handlers. A call that
	// arrives while all of them run is refused with ErrBusy; the receive
	// goroutine never waits for a worker.
	// Default: 64
	PoolSize int

	// CallTimeout fails outbound calls that get no response in time.
	// Zero disables the timeout.
	CallTimeout time.Duration

	// Metrics records call counts and latency. Optional.
	Metrics *Metrics
}

// Peer correlates outbound calls with their responses and dispatches
// inbound calls to registered handlers.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Peer struct {
	carrier     Carrier
	logger      Logger
	metrics     *Metrics
	callTimeout time.Duration

	pool    *ants.Pool
	pending cmap.ConcurrentMap[string, *Future]

	handlers map[string]handlerEntry
	mu       sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	once   sync.Once
}

// NewPeer creates a peer. Register handlers, then call Start.
func NewPeer(opts Options) (*Peer, error) {
	if opts.Carrier == nil {
		return nil, errors.New("ipc: carrier is required")
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
			logger.Error("ipc worker panic", "panic", r)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("ipc: creating worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Peer{
		carrier:     opts.Carrier,
		logger:      logger,
		metrics:     opts.Metrics,
		callTimeout: opts.CallTimeout,
		pool:        pool,
		pending:     cmap.New[*Future](),
		handlers:    make(map[string]handlerEntry),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Handle registers fn for method name. Calls run concurrently on the
// worker pool.
func (p *Peer) Handle(name string, fn HandlerFunc) {
	p.mu.Lock()
	p.handlers[name] = handlerEntry{pooled: fn}
	p.mu.Unlock()
}

// HandleRequest registers fn for method name. fn runs inline on the receive
// goroutine, in arrival order.
func (p *Peer) HandleRequest(name string, fn RequestHandler) {
	p.mu.Lock()
	p.handlers[name] = handlerEntry{inline: fn}
	p.mu.Unlock()
}

// Start begins receiving frames.
func (p *Peer) Start() error {
	if p.closed.Load() {
		return ErrClosed
	}
	if ic, ok := p.carrier.(Interruptible); ok {
		ic.OnInterrupt(p.interrupted)
	}
	return p.carrier.Listen(p.receive)
}

// interrupted fails every pending call with ErrSendFailed. Their calls or
// responses may have been dropped with the link, and the remote side may
// have restarted without them.
func (p *Peer) interrupted() {
	failed := 0
	for item := range p.pending.IterBuffered() {
		if f, ok := p.pending.Pop(item.Key); ok {
			f.resolve(nil, fmt.Errorf("%w: %s: link interrupted", ErrSendFailed, f.name))
			failed++
		}
	}
	if failed > 0 {
		p.logger.Warn("link interrupted, failed pending calls", "calls", failed)
	}
}

// Close fails all pending calls with ErrClosed, stops the worker pool and
// closes the carrier. It is safe to call more than once.
func (p *Peer) Close() error {
	var err error
	p.once.Do(func() {
		p.closed.Store(true)
		p.cancel()
		for item := range p.pending.IterBuffered() {
			if f, ok := p.pending.Pop(item.Key); ok {
				f.resolve(nil, ErrClosed)
			}
		}
		p.pool.Release()
		err = p.carrier.Close()
	})
	return err
}

// Call sends a call and waits for its response. A non-nil out receives the
// decoded response payload.
func (p *Peer) Call(ctx context.Context, name string, payload, out any) error {
	return p.Go(ctx, name, payload).Wait(ctx, out)
}

// Go sends a call and returns without waiting. The frame is on the carrier
// when Go returns, so successive Go calls are delivered in order.
func (p *Peer) Go(ctx context.Context, name string, payload any) *Future {
	f := newFuture(name)
	if p.closed.Load() {
		f.resolve(nil, ErrClosed)
		return f
	}

	raw, err := encodePayload(payload)
	if err != nil {
		f.resolve(nil, fmt.Errorf("%w: encoding %s: %w", ErrBadPayload, name, err))
		return f
	}

	id := uuid.NewString()
	data, err := json.Marshal(frame{Kind: kindCall, Name: name, CallID: id, Payload: raw})
	if err != nil {
		f.resolve(nil, fmt.Errorf("%w: %w", ErrBadPayload, err))
		return f
	}

	p.pending.Set(id, f)
	if p.metrics != nil {
		p.metrics.pendingInc()
		start := time.Now()
		go func() {
			<-f.done
			p.metrics.pendingDec()
			p.metrics.observeCall(name, outcome(f.err), time.Since(start))
		}()
	}

	if err := p.carrier.Send(ctx, data); err != nil {
		if pf, ok := p.pending.Pop(id); ok {
			pf.resolve(nil, fmt.Errorf("%w: %s: %w", ErrSendFailed, name, err))
		}
		return f
	}

	if p.callTimeout > 0 {
		time.AfterFunc(p.callTimeout, func() {
			if pf, ok := p.pending.Pop(id); ok {
				pf.resolve(nil, fmt.Errorf("%w: %s after %v", ErrTimeout, name, p.callTimeout))
			}
		})
	}
	return f
}

// Notify sends a call whose outcome nobody waits for. Failures are logged.
func (p *Peer) Notify(name string, payload any) {
	f := p.Go(p.ctx, name, payload)
	go func() {
		if err := f.Wait(context.Background(), nil); err != nil {
			p.logger.Warn("notification failed", "method", name, "error", err)
		}
	}()
}

// Pending returns the number of calls awaiting a response.
func (p *Peer) Pending() int {
	return p.pending.Count()
}

func (p *Peer) receive(data []byte) {
	var fr frame
	if err := json.Unmarshal(data, &fr); err != nil {
		p.logger.Warn("dropping malformed frame", "error", err, "bytes", len(data))
		return
	}

	switch fr.Kind {
	case kindResponse:
		p.resolve(fr)
	case kindCall:
		p.dispatch(fr)
	default:
		p.logger.Warn("dropping frame with unknown kind", "kind", fr.Kind, "call_id", fr.CallID)
	}
}

func (p *Peer) resolve(fr frame) {
	f, ok := p.pending.Pop(fr.CallID)
	if !ok {
		p.logger.Debug("response for unknown call", "call_id", fr.CallID)
		return
	}
	if fr.Error != nil {
		f.resolve(nil, &RemoteError{Method: f.name, Code: fr.Error.Code, Message: fr.Error.Message})
		return
	}
	f.resolve(fr.Payload, nil)
}

func (p *Peer) dispatch(fr frame) {
	req := &Request{
		Name:    fr.Name,
		Payload: fr.Payload,
		callID:  fr.CallID,
		peer:    p,
		start:   time.Now(),
	}

	p.mu.RLock()
	entry, ok := p.handlers[fr.Name]
	p.mu.RUnlock()

	if !ok {
		req.Reply(nil, fmt.Errorf("%w: %s", ErrUnknownMethod, fr.Name))
		return
	}

	if entry.inline != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("ipc handler panic", "method", fr.Name, "panic", r)
					req.Reply(nil, fmt.Errorf("handler panic: %v", r))
				}
			}()
			entry.inline(req)
		}()
		return
	}

	err := p.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("ipc handler panic", "method", fr.Name, "panic", r)
				req.Reply(nil, fmt.Errorf("handler panic: %v", r))
			}
		}()
		result, err := entry.pooled(p.ctx, req)
		req.Reply(result, err)
	})
	switch {
	case errors.Is(err, ants.ErrPoolOverload):
		p.logger.Warn("refusing call, all workers busy", "method", fr.Name, "workers", p.pool.Cap())
		req.Reply(nil, fmt.Errorf("%w: %s", ErrBusy, fr.Name))
	case err != nil:
		req.Reply(nil, fmt.Errorf("ipc: scheduling %s: %w", fr.Name, err))
	}
}

func (p *Peer) send(data []byte) error {
	return p.carrier.Send(p.ctx, data)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return CodeOf(err)
}
