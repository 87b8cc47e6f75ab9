package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tiles-iot/tiles-gateway/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for the gateway's single broker connection.
//
// Unlike a blocking connect, Dial returns immediately and reports the outcome
// through Handlers. Reconnection after a drop is left to paho's own
// auto-reconnect; the Client only tracks state and restores subscriptions.
//
// All methods are safe for concurrent use.
type Client struct {
	client   pahomqtt.Client
	cfg      config.MQTTConfig
	handlers Handlers

	// subscriptions are replayed after every (re)connect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Handlers receive connection state transitions. Any field may be nil.
// Callbacks run on paho goroutines and must not block.
type Handlers struct {
	// OnConnect fires on the initial connect and after every reconnect.
	OnConnect func()

	// OnConnectionLost fires when an established connection drops.
	OnConnectionLost func(err error)

	// OnReconnecting fires before each automatic reconnect attempt.
	OnReconnecting func()

	// OnConnectError fires when the initial connection attempt fails.
	OnConnectError func(err error)
}

// Logger is the subset of logging.Logger the client needs.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
// A returned error is logged; it does not affect acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// Dial starts connecting to the broker described by cfg and returns at once.
// The result of the attempt arrives through h.OnConnect or h.OnConnectError.
func Dial(cfg config.MQTTConfig, h Handlers) *Client {
	c := &Client{
		cfg:           cfg,
		handlers:      h,
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		if c.handlers.OnReconnecting != nil {
			c.handlers.OnReconnecting()
		}
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil && c.handlers.OnConnectError != nil {
			c.handlers.OnConnectError(fmt.Errorf("%w: %w", ErrConnectionFailed, err))
		}
	}()

	return c
}

func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.restoreSubscriptions()

	if c.handlers.OnConnect != nil {
		c.handlers.OnConnect()
	}
}

func (c *Client) handleConnectionLost(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if c.handlers.OnConnectionLost != nil {
		c.handlers.OnConnectionLost(err)
	}
}

// restoreSubscriptions re-subscribes to all tracked topics after a reconnect.
// Errors are ignored; paho will retry on the next reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// Close disconnects from the broker, giving in-flight work a short quiesce
// period. It does not fire OnConnectionLost.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// HealthCheck reports ErrNotConnected unless the connection is up.
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

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	if c.client == nil {
		return false
	}
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SetLogger sets a logger for handler errors and recovered panics.
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

// wrapHandler adapts a MessageHandler to paho, recovering panics so a bad
// payload can never take down the connection's delivery goroutine.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
