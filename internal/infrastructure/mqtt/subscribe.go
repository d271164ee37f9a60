package mqtt

import (
	"fmt"
)

// SubscribeOptions holds the optional behaviour of a subscription.
// Callers build it through SubscribeOption values.
type SubscribeOptions struct {
	// OnResume runs after a reconnect has restored the subscription.
	OnResume func()
}

// SubscribeOption adjusts a subscription.
type SubscribeOption func(*SubscribeOptions)

// OnResume registers fn to run each time the subscription is restored after
// the connection was lost.
//
// Sessions are clean, so anything published to the topic while the link was
// down never arrives. A request/response user reacts in fn, typically by
// failing the calls it is still waiting on instead of letting them time out.
//
// fn runs on paho's connect goroutine after the route is back in place and
// must not block. It does not run for the initial connect.
//
// Example:
//
//	err := client.Subscribe(topic, 1, handler, mqtt.OnResume(func() {
//	    log.Warn("responses may have been lost", "topic", topic)
//	}))
func OnResume(fn func()) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.OnResume = fn
	}
}

// route is a tracked subscription.
type route struct {
	topic    string
	qos      byte
	handler  MessageHandler
	onResume func()
}

// Subscribe registers a handler for frames on the specified topic.
//
// Module topics are point-to-point (see Topics), so subscriptions are exact
// topic names. A second Subscribe on the same topic replaces the handler.
//
// Frames are delivered in broker order on a single goroutine (see
// MessageHandler). The subscription is tracked and restored automatically if
// the connection is lost and reconnected; pass OnResume to learn when that
// happened.
//
// Parameters:
//   - topic: The topic to subscribe to
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - handler: Callback invoked for each frame
//   - opts: Optional behaviour such as OnResume
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
//
// Example:
//
//	err := client.Subscribe(mqtt.Topics{}.ToModule("generic-1"), 1,
//	    func(topic string, payload []byte) error {
//	        receive(payload)
//	        return nil
//	    })
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler, opts ...SubscribeOption) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	var o SubscribeOptions
	for _, opt := range opts {
		opt(&o)
	}

	c.routesMu.Lock()
	if c.routes == nil {
		c.routes = make(map[string]*route)
	}
	c.routes[topic] = &route{
		topic:    topic,
		qos:      qos,
		handler:  handler,
		onResume: o.OnResume,
	}
	c.routesMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.forget(topic)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.forget(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// Unsubscribe removes a subscription.
//
// The route is forgotten before the broker confirms, so it is not restored
// by a reconnect that races with this call. Frames already in flight may
// still be delivered.
//
// Parameters:
//   - topic: The exact topic passed to Subscribe
//
// Returns:
//   - error: nil on success, ErrNotConnected, or wrapped ErrUnsubscribeFailed
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.forget(topic)

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

func (c *Client) forget(topic string) {
	c.routesMu.Lock()
	delete(c.routes, topic)
	c.routesMu.Unlock()
}

// HasSubscription reports whether topic is tracked for restoration.
func (c *Client) HasSubscription(topic string) bool {
	c.routesMu.RLock()
	defer c.routesMu.RUnlock()
	_, exists := c.routes[topic]
	return exists
}
