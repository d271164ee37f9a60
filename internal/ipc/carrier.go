package ipc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Workiva/go-datastructures/queue"

	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/mqtt"
)

// Carrier moves encoded frames between two peers.
//
// Implementations must deliver frames to the Listen callback one at a time
// in the order they were sent.
type Carrier interface {
	Send(ctx context.Context, frame []byte) error
	Listen(receive func(frame []byte)) error
	Close() error
}

// Interruptible is implemented by carriers whose link can drop and come
// back with frames silently lost in between. Peer.Start registers fn, which
// fails the calls still waiting for a response.
type Interruptible interface {
	OnInterrupt(fn func())
}

// MQTTClient is the subset of *mqtt.Client a carrier needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler, opts ...mqtt.SubscribeOption) error
	Unsubscribe(topic string) error
}

// MQTTCarrier sends frames on one topic and receives them on another.
type MQTTCarrier struct {
	client   MQTTClient
	inbound  string
	outbound string
	qos      byte

	mu          sync.Mutex
	interrupted func()
}

// NewMQTTCarrier creates a carrier over explicit topics.
func NewMQTTCarrier(client MQTTClient, inbound, outbound string, qos byte) *MQTTCarrier {
	return &MQTTCarrier{
		client:   client,
		inbound:  inbound,
		outbound: outbound,
		qos:      qos,
	}
}

// ModuleCarrier is the module process end of an instance's topic pair.
func ModuleCarrier(client MQTTClient, instanceID string, qos byte) *MQTTCarrier {
	t := mqtt.Topics{}
	return NewMQTTCarrier(client, t.ToModule(instanceID), t.ToHost(instanceID), qos)
}

// HostCarrier is the host end of an instance's topic pair.
func HostCarrier(client MQTTClient, instanceID string, qos byte) *MQTTCarrier {
	t := mqtt.Topics{}
	return NewMQTTCarrier(client, t.ToHost(instanceID), t.ToModule(instanceID), qos)
}

// Send publishes frame on the outbound topic.
func (c *MQTTCarrier) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.client.Publish(c.outbound, frame, c.qos, false); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil
}

// Listen subscribes to the inbound topic. When the broker connection is
// restored after a drop, the function registered with OnInterrupt runs.
func (c *MQTTCarrier) Listen(receive func(frame []byte)) error {
	return c.client.Subscribe(c.inbound, c.qos, func(_ string, payload []byte) error {
		receive(payload)
		return nil
	}, mqtt.OnResume(c.resume))
}

// OnInterrupt sets the function run after the link to the broker came back.
func (c *MQTTCarrier) OnInterrupt(fn func()) {
	c.mu.Lock()
	c.interrupted = fn
	c.mu.Unlock()
}

func (c *MQTTCarrier) resume() {
	c.mu.Lock()
	fn := c.interrupted
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Close drops the inbound subscription. A disconnected client is not an error.
func (c *MQTTCarrier) Close() error {
	if err := c.client.Unsubscribe(c.inbound); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
		return err
	}
	return nil
}

// PipeEnd is one side of an in-process carrier pair.
type PipeEnd struct {
	inbox *queue.Queue
	peer  *PipeEnd
}

// NewPipe returns two connected in-process carriers. Frames sent on one are
// received on the other in order. Buffering is unbounded so neither side can
// deadlock the other.
func NewPipe() (*PipeEnd, *PipeEnd) {
	a := &PipeEnd{inbox: queue.New(64)}
	b := &PipeEnd{inbox: queue.New(64)}
	a.peer, b.peer = b, a
	return a, b
}

// Send delivers a copy of frame to the other end.
func (p *PipeEnd) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := append([]byte(nil), frame...)
	if err := p.peer.inbox.Put(buf); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, ErrClosed)
	}
	return nil
}

// Listen starts delivering inbound frames to receive on a dedicated goroutine.
func (p *PipeEnd) Listen(receive func(frame []byte)) error {
	if p.inbox.Disposed() {
		return ErrClosed
	}
	go func() {
		for {
			items, err := p.inbox.Get(1)
			if err != nil {
				return
			}
			for _, item := range items {
				receive(item.([]byte))
			}
		}
	}()
	return nil
}

// Close stops delivery and rejects further frames sent to this end.
func (p *PipeEnd) Close() error {
	p.inbox.Dispose()
	return nil
}
