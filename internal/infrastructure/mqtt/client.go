package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang with an explicit connection state machine
// and a per-role connect retry policy.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are automatically restored on reconnection.
type Client struct {
	client   pahomqtt.Client
	cfg      config.MQTTConfig
	clientID string
	status   string
	policy   RetryPolicy
	timeout  time.Duration
	machine  *Machine
	logger   Logger

	// ackTimeout bounds the wait for a publish or subscribe acknowledgment.
	ackTimeout time.Duration

	// sleep waits between connect attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	// subscriptions tracks active subscriptions for re-subscription on reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex
}

// Logger is the logging surface the client needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Options configures a Client beyond the broker settings.
type Options struct {
	// Role names the process ("publisher", "ingestor"). It seeds the
	// generated client ID when none is configured.
	Role string

	// StatusPrefix is the namespace for the retained presence topic.
	StatusPrefix string

	// Policy governs retries of the initial connection. Defaults to a
	// single attempt.
	Policy RetryPolicy

	// Logger receives connection and handler diagnostics. Optional.
	Logger Logger
}

// subscription holds subscription details for re-subscription on reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked one at a time in arrival order. A returned error is
// logged and does not affect message acknowledgment.
type MessageHandler func(topic string, payload []byte) error

// New builds a disconnected client. Call Connect to establish the session.
func New(cfg config.MQTTConfig, opts Options) *Client {
	return newClient(cfg, opts, pahomqtt.NewClient)
}

func newClient(cfg config.MQTTConfig, opts Options, factory func(*pahomqtt.ClientOptions) pahomqtt.Client) *Client {
	clientID := resolveClientID(cfg.Broker.ClientID, opts.Role)
	prefix := opts.StatusPrefix
	if prefix == "" {
		prefix = "telemetry"
	}

	c := &Client{
		cfg:           cfg,
		clientID:      clientID,
		status:        StatusTopic(prefix, clientID),
		policy:        opts.Policy,
		timeout:       connectTimeout(cfg),
		machine:       NewMachine(),
		logger:        opts.Logger,
		ackTimeout:    defaultPublishTimeout,
		sleep:         sleepContext,
		subscriptions: make(map[string]subscription),
	}
	if c.policy == nil {
		c.policy = FixedRetry{Attempts: 1}
	}
	if c.logger == nil {
		c.logger = nopLogger{}
	}

	po := buildClientOptions(cfg, clientID)
	configureLWT(po, c.status, clientID)
	po.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})
	po.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.logger.Info("reconnecting to MQTT broker")
	})

	c.client = factory(po)
	return c
}

// ClientID returns the MQTT client identifier in use.
func (c *Client) ClientID() string {
	return c.clientID
}

// State returns the current connection state.
func (c *Client) State() State {
	return c.machine.State()
}

// SetOnStateChange registers a callback for connection state changes.
func (c *Client) SetOnStateChange(fn StateChangeFunc) {
	c.machine.SetOnChange(fn)
}

// Connect establishes the broker session, retrying per the client's policy.
//
// It returns nil once connected, an error wrapping ErrRetriesExhausted when
// a bounded policy gives up, or the context error when ctx is cancelled.
func (c *Client) Connect(ctx context.Context) error {
	for failures := 0; ; {
		if _, err := c.machine.Fire(EventConnectStart); err != nil {
			return err
		}

		err := c.attempt(ctx)
		if err == nil {
			c.machine.FireIf(StateConnecting, EventConnectSuccess)
			c.logger.Info("connected to MQTT broker",
				"client_id", c.clientID,
				"attempts", failures+1,
			)
			return nil
		}
		c.machine.FireIf(StateConnecting, EventConnectFailure)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("mqtt connect: %w", ctxErr)
		}

		failures++
		delay, ok := c.policy.NextDelay(failures)
		if !ok {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, failures, err)
		}
		c.logger.Warn("MQTT connection attempt failed",
			"attempt", failures,
			"retry_in", delay,
			"error", err,
		)
		if err := c.sleep(ctx, delay); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
	}
}

// attempt makes one connection attempt bounded by the connect timeout.
func (c *Client) attempt(ctx context.Context) error {
	token := c.client.Connect()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %w after %v", ErrConnectionFailed, ErrTimeout, c.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleConnect runs on the initial connection and on every reconnect.
func (c *Client) handleConnect() {
	c.machine.FireIf(StateConnecting, EventConnectSuccess)
	c.restoreSubscriptions()
	c.publishStatus(statusOnline, "")
}

// handleConnectionLost is called by paho before it starts auto-reconnecting.
func (c *Client) handleConnectionLost(err error) {
	c.machine.FireIf(StateConnected, EventConnectionLost)
	c.logger.Warn("MQTT connection lost", "error", err)
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		// Errors surface again on the next reconnect; nothing to do here.
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

func (c *Client) publishStatus(status, reason string) {
	token := c.client.Publish(c.status, byte(c.cfg.QoS), true, statusPayload(status, c.clientID, reason))
	token.WaitTimeout(c.ackTimeout)
}

// Close gracefully disconnects from the MQTT broker.
//
// It publishes a graceful offline status, waits for pending operations,
// and disconnects. Closing a client that never connected is a no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	from := c.machine.State()
	if _, err := c.machine.Fire(EventDisconnectRequest); err != nil {
		return err
	}
	if from == StateDisconnected {
		return nil
	}

	if from == StateConnected {
		c.publishStatus(statusOffline, "graceful_shutdown")
	}
	c.client.Disconnect(defaultDisconnectQuiesce)

	_, err := c.machine.Fire(EventDisconnectDone)
	return err
}

// HealthCheck verifies the MQTT connection is alive.
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

// IsConnected reports whether the state machine and paho both consider the
// session up.
func (c *Client) IsConnected() bool {
	return c.machine.State() == StateConnected && c.client.IsConnected()
}

// wrapHandler adapts a MessageHandler to paho, dropping messages received
// outside StateConnected and recovering from handler panics.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if _, err := c.machine.Fire(EventMessageReceived); err != nil {
			c.logger.Debug("dropping MQTT message received while not connected",
				"topic", msg.Topic(),
				"state", c.machine.State().String(),
			)
			return
		}

		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("MQTT handler returned error",
				"topic", msg.Topic(),
				"error", err,
			)
		}
	}
}
