package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/config"
)

// Retained status values published on Topics.ClientStatus.
const (
	statusOnline  = "online"
	statusOffline = "offline"
)

// Client wraps paho.mqtt.golang as a frame transport for module peers.
//
// Module calls and responses travel as a strictly ordered stream per
// instance topic, so the client is tuned for that stream rather than for
// fan-out telemetry:
//   - Handlers run in arrival order on one goroutine (no per-message goroutines)
//   - Sessions are clean, so frames published while the link is down are gone
//   - Routes are re-subscribed after every reconnect and then told they resumed
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Route restoration and resume hooks run on paho's connect goroutine.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	// routes tracks active subscriptions for restoration on reconnect.
	routes   map[string]*route
	routesMu sync.RWMutex

	// sessions counts broker sessions; anything after the first is a resume.
	sessions  atomic.Int64
	connected atomic.Bool

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler is the callback signature for received frames.
//
// Handlers are invoked one at a time in the order the broker delivered the
// messages, which is the order the remote peer published them on a single
// topic. A handler that blocks stalls every later frame on the connection.
//
// Parameters:
//   - topic: The topic the message was received on
//   - payload: The raw frame (one encoded call, response or notification)
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// Connect establishes a connection to the MQTT broker.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS, ordering)
//  2. Configures Last Will and Testament so a crashed process reads offline
//  3. Enables paho auto-reconnect for links lost after this call succeeds
//  4. Makes one connection attempt bounded by defaultConnectTimeout
//
// Waiting for a broker that is not up yet is the caller's job, see
// ConnectWithRetry.
//
// Parameters:
//   - cfg: MQTT configuration from modkit.yaml
//
// Returns:
//   - *Client: Connected client ready to carry frames
//   - error: ErrConnectionFailed wrapping the cause
func Connect(cfg config.MQTTConfig) (*Client, error) {
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)

	c := &Client{cfg: cfg}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// OnConnectHandler runs asynchronously; mark connected here so
	// IsConnected is true as soon as Connect returns.
	c.connected.Store(true)

	return c, nil
}

// handleConnect runs on the initial connect and on every reconnect.
//
// On a reconnect the broker has no memory of the old session. Routes are
// re-subscribed first, then their resume hooks run so peers can fail the
// calls whose responses were lost in the gap.
func (c *Client) handleConnect() {
	c.connected.Store(true)
	resumed := c.sessions.Add(1) > 1

	routes := c.restoreRoutes()
	c.publishStatus(statusOnline, "")

	if !resumed {
		return
	}
	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT reconnected, frames sent while offline were dropped", "routes", len(routes))
	}
	for _, r := range routes {
		if r.onResume != nil {
			c.guard(r.topic, r.onResume)
		}
	}
}

// handleDisconnect is called by paho when the connection is lost.
// paho starts reconnecting on its own.
func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}
}

// restoreRoutes re-subscribes every tracked route and returns them.
// A route the broker refuses stays tracked and is retried on the next connect.
func (c *Client) restoreRoutes() []*route {
	c.routesMu.RLock()
	routes := make([]*route, 0, len(c.routes))
	for _, r := range c.routes {
		routes = append(routes, r)
	}
	c.routesMu.RUnlock()

	for _, r := range routes {
		token := c.client.Subscribe(r.topic, r.qos, c.wrapHandler(r.handler))
		if !token.WaitTimeout(defaultPublishTimeout) || token.Error() != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT route not restored", "topic", r.topic, "error", token.Error())
			}
		}
	}
	return routes
}

func (c *Client) publishStatus(status, reason string) pahomqtt.Token {
	topic := Topics{}.ClientStatus(c.cfg.Broker.ClientID)
	return c.client.Publish(topic, byte(c.cfg.QoS), true, buildStatusPayload(c.cfg.Broker.ClientID, status, reason))
}

// Close gracefully disconnects from the MQTT broker.
//
// It performs:
//  1. Publishes a graceful offline status (distinct from the LWT crash status)
//  2. Disconnects, giving paho defaultDisconnectQuiesce to flush in-flight frames
//
// Peers using the client should be closed first so their own unsubscribe
// reaches the broker.
//
// Returns:
//   - error: Always nil; a client that never connected is not an error
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		c.publishStatus(statusOffline, "graceful_shutdown").WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)

	return nil
}

// HealthCheck verifies the MQTT connection is usable.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, ErrNotConnected or the context error otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
//
// Note: This reflects the last known state. A link that dropped a moment ago
// may still read as connected until paho notices.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// SetLogger sets a logger for connection changes and handler failures.
// If not set, they are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho with panic recovery.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(handler, msg.Topic(), msg.Payload())
	}
}

// dispatch delivers one frame. A panicking handler must not take down
// paho's single delivery goroutine, or every later frame would stall.
func (c *Client) dispatch(handler MessageHandler, topic string, payload []byte) {
	defer c.recoverPanic(topic)

	if err := handler(topic, payload); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT handler returned error",
				"topic", topic,
				"error", err,
			)
		}
	}
}

func (c *Client) guard(topic string, fn func()) {
	defer c.recoverPanic(topic)
	fn()
}

func (c *Client) recoverPanic(topic string) {
	if r := recover(); r != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Error("MQTT handler panic recovered",
				"topic", topic,
				"panic", r,
			)
		}
	}
}
