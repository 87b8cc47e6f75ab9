package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tiles-iot/tiles-gateway/internal/infrastructure/config"
	"github.com/tiles-iot/tiles-gateway/internal/infrastructure/mqtt"
	"github.com/tiles-iot/tiles-gateway/internal/tiles"
)

// DefaultConnectTimeout bounds how long a connection attempt may go without
// a connected acknowledgement.
const DefaultConnectTimeout = 10 * time.Second

const (
	payloadActive   = "true"
	payloadInactive = "false"
)

// Logger defines the logging interface used by the bridge.
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

// Conn is one physical broker connection. *mqtt.Client satisfies it.
type Conn interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
	Close() error
}

// Dialer opens a connection and returns at once; the outcome arrives
// through h.
type Dialer func(cfg config.MQTTConfig, h mqtt.Handlers) Conn

// DialMQTT is the production Dialer.
func DialMQTT(cfg config.MQTTConfig, h mqtt.Handlers) Conn {
	return mqtt.Dial(cfg, h)
}

// VirtualTiles lists the virtual tiles an application binds to a tile.
type VirtualTiles interface {
	BoundVirtualTiles(ctx context.Context, appID, tileID string) ([]tiles.VirtualTile, error)
}

// Credentials select a broker and the user whose topics are used.
type Credentials struct {
	User     string `json:"user"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	TLS      bool   `json:"tls,omitempty"`
}

// Validate checks that the credentials can address a broker and topics.
func (c Credentials) Validate() error {
	switch {
	case c.User == "":
		return fmt.Errorf("%w: user is required", ErrInvalidCredentials)
	case c.Host == "":
		return fmt.Errorf("%w: host is required", ErrInvalidCredentials)
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("%w: port must be 1-65535", ErrInvalidCredentials)
	}
	return nil
}

// CredentialsFromConfig builds Credentials from the mqtt config section.
func CredentialsFromConfig(cfg config.MQTTConfig) Credentials {
	return Credentials{
		User:     cfg.User,
		Host:     cfg.Broker.Host,
		Port:     cfg.Broker.Port,
		Username: cfg.Auth.Username,
		Password: cfg.Auth.Password,
		TLS:      cfg.Broker.TLS,
	}
}

// Options configures a Bridge.
type Options struct {
	// Base supplies client id prefix, QoS, keep-alive and reconnect policy.
	// Broker address and auth come from Credentials.
	Base config.MQTTConfig

	Catalog        VirtualTiles
	Dialer         Dialer
	ConnectTimeout time.Duration
	Logger         Logger

	// OnConnectivity receives every connectivity change.
	OnConnectivity func(ConnectivityEvent)

	// OnCommand receives well-formed inbound commands.
	OnCommand func(tileID string, cmd tiles.CommandObject)
}

type registration struct {
	active  string
	command string
}

// Bridge owns the single broker connection and the per-tile topic
// subscriptions on it.
//
// A new Connect always supersedes the previous connection. Each connection
// carries a generation number; callbacks from older generations are
// ignored.
type Bridge struct {
	opts   Options
	topics mqtt.Topics
	logger Logger

	mu         sync.Mutex
	conn       Conn
	gen        uint64
	connected  bool
	timer      *time.Timer
	scope      tiles.Scope
	subs       map[string]string // command topic -> tile id
	registered map[string][]registration
}

// New creates a disconnected bridge.
func New(opts Options) *Bridge {
	if opts.Dialer == nil {
		opts.Dialer = DialMQTT
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bridge{
		opts:       opts,
		logger:     logger,
		scope:      tiles.Scope{User: opts.Base.User},
		subs:       make(map[string]string),
		registered: make(map[string][]registration),
	}
}

// Connect closes any existing connection and starts a new one. It returns
// once the attempt is under way; the outcome is reported through
// OnConnectivity. If no connected acknowledgement arrives within the
// connect timeout the attempt is closed and a timeout is reported.
func (b *Bridge) Connect(creds Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}

	cfg := b.opts.Base
	cfg.User = creds.User
	cfg.Broker.Host = creds.Host
	cfg.Broker.Port = creds.Port
	cfg.Broker.TLS = creds.TLS
	cfg.Auth.Username = creds.Username
	cfg.Auth.Password = creds.Password
	cfg.Broker.ClientID = clientID(cfg.Broker.ClientID)

	b.mu.Lock()
	old := b.detachLocked()
	b.gen++
	gen := b.gen
	b.scope.User = creds.User
	b.mu.Unlock()

	if old != nil {
		go closeQuietly(old, b.logger)
	}

	b.logger.Info("connecting to broker", "broker", mqtt.BrokerURL(cfg), "client_id", cfg.Broker.ClientID)

	conn := b.opts.Dialer(cfg, mqtt.Handlers{
		OnConnect:        func() { b.handleConnect(gen) },
		OnConnectionLost: func(err error) { b.handleDown(gen, StateOffline, err) },
		OnReconnecting:   func() { b.handleDown(gen, StateReconnecting, nil) },
		OnConnectError:   func(err error) { b.handleConnectError(gen, err) },
	})

	b.mu.Lock()
	if b.gen != gen {
		b.mu.Unlock()
		go closeQuietly(conn, b.logger)
		return nil
	}
	b.conn = conn
	if b.connected {
		// Acknowledged before Dial returned.
		b.mu.Unlock()
		b.emit(ConnectivityEvent{State: StateConnected})
		return nil
	}
	b.timer = time.AfterFunc(b.opts.ConnectTimeout, func() { b.handleTimeout(gen) })
	b.mu.Unlock()
	return nil
}

// Close closes the current connection, if any.
func (b *Bridge) Close() error {
	b.mu.Lock()
	conn := b.detachLocked()
	b.gen++
	b.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	b.emit(ConnectivityEvent{State: StateClosed})
	return err
}

// detachLocked forgets the current connection and all per-connection state.
func (b *Bridge) detachLocked() Conn {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	conn := b.conn
	b.conn = nil
	b.connected = false
	b.subs = make(map[string]string)
	b.registered = make(map[string][]registration)
	return conn
}

func (b *Bridge) handleConnect(gen uint64) {
	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.connected = true
	pending := b.conn == nil
	b.mu.Unlock()

	if pending {
		// Connect reports it once the connection is stored.
		return
	}
	b.emit(ConnectivityEvent{State: StateConnected})
}

func (b *Bridge) handleDown(gen uint64, state State, err error) {
	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return
	}
	b.connected = false
	b.mu.Unlock()

	b.emit(ConnectivityEvent{State: state, Err: err})
}

func (b *Bridge) handleConnectError(gen uint64, err error) {
	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return
	}
	conn := b.detachLocked()
	b.gen++
	b.mu.Unlock()

	if conn != nil {
		closeQuietly(conn, b.logger)
	}
	b.emit(ConnectivityEvent{State: StateError, Err: err})
}

func (b *Bridge) handleTimeout(gen uint64) {
	b.mu.Lock()
	if gen != b.gen || b.connected {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	conn := b.detachLocked()
	b.gen++
	b.mu.Unlock()

	if conn != nil {
		closeQuietly(conn, b.logger)
	}
	b.emit(ConnectivityEvent{State: StateTimeout, Err: ErrConnectTimeout})
}

func (b *Bridge) emit(ev ConnectivityEvent) {
	if ev.State.Up() {
		b.logger.Info("broker connected")
	} else if ev.Err != nil {
		b.logger.Warn("broker connectivity down", "state", string(ev.State), "error", ev.Err)
	} else {
		b.logger.Info("broker connectivity down", "state", string(ev.State))
	}
	if b.opts.OnConnectivity != nil {
		b.opts.OnConnectivity(ev)
	}
}

// Connected reports whether the current connection is acknowledged.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && b.connected
}

// Scope returns the user and application used for topics.
func (b *Bridge) Scope() tiles.Scope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scope
}

// SetActiveApp changes the application segment used for new registrations
// and events. Existing registrations keep their topics until unregistered.
func (b *Bridge) SetActiveApp(appID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scope.ApplicationID = appID
}

// snapshot returns the connection if it is acknowledged, and the scope.
func (b *Bridge) snapshot() (Conn, tiles.Scope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, b.scope
	}
	return b.conn, b.scope
}

func (b *Bridge) qos() byte {
	q := b.opts.Base.QoS
	if q < 0 || q > 2 {
		return 1
	}
	return byte(q)
}

// boundTiles returns the virtual tiles bound to tileID in scope. A scope
// without an application serves nothing.
func (b *Bridge) boundTiles(ctx context.Context, scope tiles.Scope, tileID string) ([]tiles.VirtualTile, error) {
	if !scope.Complete() {
		return nil, nil
	}
	vts, err := b.opts.Catalog.BoundVirtualTiles(ctx, scope.ApplicationID, tileID)
	if err != nil {
		return nil, fmt.Errorf("broker: looking up virtual tiles for %s: %w", tileID, err)
	}
	return vts, nil
}

func appFor(vt tiles.VirtualTile, scope tiles.Scope) string {
	if vt.ApplicationID != "" {
		return vt.ApplicationID
	}
	return scope.ApplicationID
}

// RegisterDevice announces tileID on every virtual tile bound to it: a
// retained "true" on the active topic, the virtual tile's name retained on
// the name topic, and a subscription to the command topic. Without an
// acknowledged connection it does nothing. A tile bound to no virtual tile is left
// unregistered.
func (b *Bridge) RegisterDevice(ctx context.Context, tileID string) error {
	conn, scope := b.snapshot()
	if conn == nil {
		return nil
	}

	vts, err := b.boundTiles(ctx, scope, tileID)
	if err != nil {
		return err
	}
	if len(vts) == 0 {
		b.logger.Debug("tile bound to no virtual tile, not registering", "tile_id", tileID, "application_id", scope.ApplicationID)
		return nil
	}

	qos := b.qos()
	var errs []error
	for _, vt := range vts {
		app := appFor(vt, scope)
		reg := registration{
			active:  b.topics.Active(scope.User, app, tileID),
			command: b.topics.Command(scope.User, app, tileID),
		}

		if err := conn.Publish(reg.active, []byte(payloadActive), qos, true); err != nil {
			errs = append(errs, fmt.Errorf("publishing active for %s: %w", vt.Name, err))
		}
		if err := conn.Publish(b.topics.Name(scope.User, app, tileID), []byte(vt.Name), qos, true); err != nil {
			errs = append(errs, fmt.Errorf("publishing name for %s: %w", vt.Name, err))
		}

		subscribe, stale := b.track(conn, tileID, reg)
		if stale {
			return nil
		}
		if !subscribe {
			continue
		}
		if err := conn.Subscribe(reg.command, qos, b.handleMessage); err != nil {
			b.untrack(conn, tileID, reg)
			errs = append(errs, fmt.Errorf("subscribing for %s: %w", vt.Name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("broker: registering %s: %w", tileID, errors.Join(errs...))
	}
	b.logger.Info("registered tile", "tile_id", tileID, "virtual_tiles", len(vts))
	return nil
}

// track records reg for tileID on conn. subscribe is true the first time a
// command topic is seen on this connection. stale is true when conn has
// been superseded.
func (b *Bridge) track(conn Conn, tileID string, reg registration) (subscribe, stale bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != conn {
		return false, true
	}
	for _, r := range b.registered[tileID] {
		if r == reg {
			return false, false
		}
	}
	b.registered[tileID] = append(b.registered[tileID], reg)
	if _, ok := b.subs[reg.command]; ok {
		return false, false
	}
	b.subs[reg.command] = tileID
	return true, false
}

func (b *Bridge) untrack(conn Conn, tileID string, reg registration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != conn {
		return
	}
	delete(b.subs, reg.command)
	regs := b.registered[tileID]
	for i, r := range regs {
		if r == reg {
			b.registered[tileID] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(b.registered[tileID]) == 0 {
		delete(b.registered, tileID)
	}
}

// UnregisterDevice publishes a retained "false" on every active topic
// registered for tileID and unsubscribes its command topics. Without a
// connection, or for a tile that was never registered, it does nothing.
func (b *Bridge) UnregisterDevice(ctx context.Context, tileID string) error {
	b.mu.Lock()
	conn := b.conn
	regs := b.registered[tileID]
	if conn != nil {
		delete(b.registered, tileID)
		for _, r := range regs {
			delete(b.subs, r.command)
		}
	}
	b.mu.Unlock()

	if conn == nil || len(regs) == 0 {
		return nil
	}

	qos := b.qos()
	var errs []error
	for _, r := range regs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := conn.Publish(r.active, []byte(payloadInactive), qos, true); err != nil {
			errs = append(errs, fmt.Errorf("publishing inactive on %s: %w", r.active, err))
		}
		if err := conn.Unsubscribe(r.command); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribing %s: %w", r.command, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("broker: unregistering %s: %w", tileID, errors.Join(errs...))
	}
	b.logger.Info("unregistered tile", "tile_id", tileID)
	return nil
}

// Registered reports whether tileID currently has registrations.
func (b *Bridge) Registered(tileID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.registered[tileID]) > 0
}

// PublishEvent publishes cmd on the event topic of every virtual tile bound
// to tileID, with the name replaced by the virtual tile's name. It returns
// ErrNotConnected when there is no connection.
func (b *Bridge) PublishEvent(ctx context.Context, tileID string, cmd tiles.CommandObject) error {
	conn, scope := b.snapshot()
	if conn == nil {
		return ErrNotConnected
	}

	vts, err := b.boundTiles(ctx, scope, tileID)
	if err != nil {
		return err
	}
	if len(vts) == 0 {
		b.logger.Debug("event from tile bound to no virtual tile", "tile_id", tileID)
		return nil
	}

	qos := b.qos()
	var errs []error
	for _, vt := range vts {
		payload, err := json.Marshal(cmd.WithName(vt.Name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		topic := b.topics.Event(scope.User, appFor(vt, scope), tileID)
		if err := conn.Publish(topic, payload, qos, true); err != nil {
			errs = append(errs, fmt.Errorf("publishing event for %s: %w", vt.Name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("broker: publishing event from %s: %w", tileID, errors.Join(errs...))
	}
	return nil
}

// handleMessage parses an inbound command. Malformed payloads and commands
// without a name are dropped.
func (b *Bridge) handleMessage(topic string, payload []byte) error {
	var cmd tiles.CommandObject
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Debug("dropping malformed command", "topic", topic, "error", err)
		return nil
	}
	if err := cmd.Validate(); err != nil {
		b.logger.Debug("dropping invalid command", "topic", topic, "error", err)
		return nil
	}

	b.mu.Lock()
	tileID, ok := b.subs[topic]
	b.mu.Unlock()
	if !ok {
		path, err := mqtt.ParseTopic(topic)
		if err != nil {
			b.logger.Debug("dropping command on unknown topic", "topic", topic, "error", err)
			return nil
		}
		tileID = path.DeviceID
	}

	if b.opts.OnCommand != nil {
		b.opts.OnCommand(tileID, cmd)
	}
	return nil
}

func clientID(base string) string {
	if base == "" {
		base = "tiles-gateway"
	}
	return base + "-" + uuid.NewString()[:8]
}

func closeQuietly(c Conn, logger Logger) {
	if err := c.Close(); err != nil {
		logger.Debug("closing broker connection", "error", err)
	}
}
