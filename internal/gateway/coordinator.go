package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tiles-iot/tiles-gateway/internal/broker"
	"github.com/tiles-iot/tiles-gateway/internal/codec"
	"github.com/tiles-iot/tiles-gateway/internal/device"
	"github.com/tiles-iot/tiles-gateway/internal/radio"
	"github.com/tiles-iot/tiles-gateway/internal/session"
	"github.com/tiles-iot/tiles-gateway/internal/tiles"
)

const (
	defaultScanInterval   = 10 * time.Second
	defaultScanWindow     = 5 * time.Second
	defaultLocateDuration = 3 * time.Second
	brokerOpTimeout       = 5 * time.Second
	writeTimeout          = 5 * time.Second
	shutdownTimeout       = 5 * time.Second
)

// Logger defines the logging interface used by the coordinator.
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

// Broker is the part of the broker bridge the coordinator drives.
type Broker interface {
	RegisterDevice(ctx context.Context, tileID string) error
	UnregisterDevice(ctx context.Context, tileID string) error
	PublishEvent(ctx context.Context, tileID string, cmd tiles.CommandObject) error
	SetActiveApp(appID string)
	Connected() bool
}

// Options configures a Coordinator.
type Options struct {
	Transport radio.Transport
	Registry  *device.Registry
	Catalog   tiles.Catalog
	Broker    Broker

	// Binder edits virtual tiles and their bindings. Optional.
	Binder tiles.Binder

	Notifier Notifier
	Recorder Recorder
	Logger   Logger

	Profile        radio.Profile
	NamePrefix     string
	AutoConnect    bool
	ScanInterval   time.Duration
	ScanWindow     time.Duration
	ConnectTimeout time.Duration
	LocateDuration time.Duration
}

// Coordinator glues the registry, sessions and broker bridge together.
//
// It owns the active-session map: at most one session per tile id, and a
// superseded session is retired and settled before its replacement is
// installed. Supersession is serialized per tile id. Callbacks into sessions
// and the broker are never made with the map lock held.
type Coordinator struct {
	opts     Options
	logger   Logger
	notifier Notifier
	recorder Recorder

	mu        sync.Mutex
	sessions  map[string]*session.Session
	tileLocks map[string]*sync.Mutex

	appMu    sync.Mutex
	scanning atomic.Bool

	runMu    sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a coordinator. Start begins periodic scanning.
func New(opts Options) *Coordinator {
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = defaultScanInterval
	}
	if opts.ScanWindow <= 0 {
		opts.ScanWindow = defaultScanWindow
	}
	if opts.LocateDuration <= 0 {
		opts.LocateDuration = defaultLocateDuration
	}
	if opts.Profile == (radio.Profile{}) {
		opts.Profile = radio.DefaultProfile()
	}

	c := &Coordinator{
		opts:      opts,
		logger:    opts.Logger,
		notifier:  opts.Notifier,
		recorder:  opts.Recorder,
		sessions:  make(map[string]*session.Session),
		tileLocks: make(map[string]*sync.Mutex),
		done:      make(chan struct{}),
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	if c.notifier == nil {
		c.notifier = noopNotifier{}
	}
	if c.recorder == nil {
		c.recorder = noopRecorder{}
	}
	return c
}

// Start loads the active application into the broker bridge and starts the
// scan loop. The first sweep runs immediately.
func (c *Coordinator) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return
	}

	appID, err := c.opts.Catalog.ActiveApplication(ctx)
	switch {
	case err == nil:
		c.opts.Broker.SetActiveApp(appID)
	case errors.Is(err, tiles.ErrNoActiveApplication):
		c.logger.Info("no active application selected")
	default:
		c.logger.Warn("reading active application failed", "error", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.scanLoop(runCtx)
	c.logger.Info("coordinator started", "scan_interval", c.opts.ScanInterval, "auto_connect", c.opts.AutoConnect)
}

// Stop halts scanning, waits for background work and disconnects every
// session.
func (c *Coordinator) Stop() {
	c.runMu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.stopOnce.Do(func() { close(c.done) })
	c.wg.Wait()

	ctx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	for _, s := range c.snapshotSessions() {
		if err := s.Disconnect(ctx); err != nil {
			c.logger.Warn("disconnect on shutdown failed", "tile_id", s.TileID(), "error", err)
		}
	}
	c.logger.Info("coordinator stopped")
}

// goTracked runs fn on a goroutine that Stop waits for.
func (c *Coordinator) goTracked(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *Coordinator) notify(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	c.notifier.Notify(ev)
}

func (c *Coordinator) session(tileID string) *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[tileID]
}

// tileLock returns the mutex serializing supersession for tileID.
func (c *Coordinator) tileLock(tileID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.tileLocks[tileID]
	if !ok {
		l = &sync.Mutex{}
		c.tileLocks[tileID] = l
	}
	return l
}

func (c *Coordinator) snapshotSessions() []*session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*session.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	return out
}

// connectedTiles returns the tile ids of connected sessions, sorted.
func (c *Coordinator) connectedTiles() []string {
	var ids []string
	for _, s := range c.snapshotSessions() {
		if s.Connected() {
			ids = append(ids, s.TileID())
		}
	}
	sort.Strings(ids)
	return ids
}

// Devices returns all known peripherals.
func (c *Coordinator) Devices() []device.Peripheral {
	return c.opts.Registry.List()
}

// Device returns one peripheral.
func (c *Coordinator) Device(tileID string) (device.Peripheral, error) {
	p, ok := c.opts.Registry.Find(tileID)
	if !ok {
		return device.Peripheral{}, fmt.Errorf("%w: %s", ErrUnknownTile, tileID)
	}
	return p, nil
}

// Connect opens a session to tileID, superseding any existing one. It
// blocks until the connection succeeds or fails.
//
// The previous session is retired while it still owns the tile id, so its
// teardown releases its own radio link and registry state. Only then is
// the new session installed; anything the old session does afterwards is
// ignored.
func (c *Coordinator) Connect(ctx context.Context, tileID string) error {
	p, ok := c.opts.Registry.Find(tileID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTile, tileID)
	}

	l := &sessionListener{c: c}
	s := session.New(p, session.Config{
		Transport:      c.opts.Transport,
		Profile:        c.opts.Profile,
		Registry:       c.opts.Registry,
		Mapper:         c.opts.Catalog,
		Listener:       l,
		Logger:         c.logger,
		ConnectTimeout: c.opts.ConnectTimeout,
		Current:        l.current,
	})
	l.s = s

	lock := c.tileLock(tileID)
	lock.Lock()
	if old := c.session(tileID); old != nil {
		c.logger.Debug("superseding session", "tile_id", tileID)
		if err := old.Retire(ctx); err != nil {
			c.logger.Warn("retiring previous session failed", "tile_id", tileID, "error", err)
		}
		// Teardown of the old session may have swept the entry away.
		if _, err := c.opts.Registry.UpsertDiscovered(p); err != nil {
			c.logger.Warn("restoring registry entry failed", "tile_id", tileID, "error", err)
		}
	}
	c.mu.Lock()
	c.sessions[tileID] = s
	c.mu.Unlock()
	lock.Unlock()

	return s.Connect(ctx)
}

// Disconnect tears down the session for tileID. A tile without a session
// is a no-op.
func (c *Coordinator) Disconnect(ctx context.Context, tileID string) error {
	s := c.session(tileID)
	if s == nil {
		return nil
	}
	return s.Disconnect(ctx)
}

// HandleCommand routes an inbound broker command to its tile. Commands for
// a tile without a connected session are dropped.
func (c *Coordinator) HandleCommand(tileID string, cmd tiles.CommandObject) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err := c.SendCommand(ctx, tileID, cmd)
	switch {
	case err == nil:
		c.recorder.RecordCommand(tileID, cmd, true)
	case errors.Is(err, session.ErrNotConnected):
		c.logger.Info("dropping command for unreachable tile", "tile_id", tileID, "command", cmd.Text())
		c.recorder.RecordCommand(tileID, cmd, false)
	default:
		c.logger.Warn("sending command failed", "tile_id", tileID, "error", err)
		c.recorder.RecordCommand(tileID, cmd, false)
		c.notify(Event{Kind: EventCommandFailed, TileID: tileID, Command: &cmd, Error: err.Error()})
	}
}

// SendCommand writes cmd to tileID's connected session.
func (c *Coordinator) SendCommand(ctx context.Context, tileID string, cmd tiles.CommandObject) error {
	s := c.session(tileID)
	if s == nil {
		return session.ErrNotConnected
	}
	return s.SendCommand(ctx, codec.EncodeCommandObject(cmd))
}

// HandleConnectivity reflects a broker connectivity change to the UI. When
// the broker comes up every connected tile is registered again.
func (c *Coordinator) HandleConnectivity(ev broker.ConnectivityEvent) {
	out := Event{Kind: serverEventKind(ev.State)}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
	}
	c.notify(out)
	c.recorder.RecordBrokerState(string(ev.State), ev.State.Up())

	if ev.State.Up() {
		c.goTracked(c.registerConnected)
	}
}

func (c *Coordinator) registerConnected() {
	for _, tileID := range c.connectedTiles() {
		c.register(tileID)
	}
}

func (c *Coordinator) register(tileID string) {
	ctx, cancel := context.WithTimeout(context.Background(), brokerOpTimeout)
	defer cancel()
	if err := c.opts.Broker.RegisterDevice(ctx, tileID); err != nil {
		c.logger.Warn("registering tile with broker failed", "tile_id", tileID, "error", err)
	}
}

func (c *Coordinator) unregister(tileID string) {
	ctx, cancel := context.WithTimeout(context.Background(), brokerOpTimeout)
	defer cancel()
	if err := c.opts.Broker.UnregisterDevice(ctx, tileID); err != nil {
		c.logger.Warn("unregistering tile from broker failed", "tile_id", tileID, "error", err)
	}
}

// SetActiveApp switches the application whose virtual tiles are served.
// Connected tiles are unregistered from the old application and registered
// under the new one.
func (c *Coordinator) SetActiveApp(ctx context.Context, appID string) error {
	c.appMu.Lock()
	defer c.appMu.Unlock()

	if err := c.opts.Catalog.SetActiveApplication(ctx, appID); err != nil {
		return fmt.Errorf("setting active application: %w", err)
	}

	connected := c.connectedTiles()
	for _, tileID := range connected {
		c.unregister(tileID)
	}
	c.opts.Broker.SetActiveApp(appID)
	for _, tileID := range connected {
		c.register(tileID)
	}

	c.logger.Info("active application changed", "application_id", appID, "connected_tiles", len(connected))
	c.notify(Event{Kind: EventDevicesChanged})
	return nil
}

// Pair binds a virtual tile to tileID, or unbinds it when tileID is empty.
func (c *Coordinator) Pair(ctx context.Context, virtualTileID, tileID string) error {
	return c.rebind(func(b tiles.Binder) error {
		if err := b.PairVirtualTile(ctx, virtualTileID, tileID); err != nil {
			return fmt.Errorf("pairing virtual tile %s: %w", virtualTileID, err)
		}
		return nil
	})
}

// SaveVirtualTile creates or updates a virtual tile, binding included.
func (c *Coordinator) SaveVirtualTile(ctx context.Context, v tiles.VirtualTile) error {
	return c.rebind(func(b tiles.Binder) error {
		if err := b.SaveVirtualTile(ctx, v); err != nil {
			return fmt.Errorf("saving virtual tile %s: %w", v.ID, err)
		}
		return nil
	})
}

// DeleteVirtualTile removes a virtual tile.
func (c *Coordinator) DeleteVirtualTile(ctx context.Context, id string) error {
	return c.rebind(func(b tiles.Binder) error {
		if err := b.DeleteVirtualTile(ctx, id); err != nil {
			return fmt.Errorf("deleting virtual tile %s: %w", id, err)
		}
		return nil
	})
}

// rebind applies a virtual tile edit with connected tiles unregistered, then
// registers them again so broker presence follows the new bindings.
func (c *Coordinator) rebind(edit func(tiles.Binder) error) error {
	if c.opts.Binder == nil {
		return ErrNoBinder
	}

	c.appMu.Lock()
	defer c.appMu.Unlock()

	connected := c.connectedTiles()
	for _, id := range connected {
		c.unregister(id)
	}
	err := edit(c.opts.Binder)
	for _, id := range connected {
		c.register(id)
	}
	if err != nil {
		return err
	}

	c.notify(Event{Kind: EventDevicesChanged})
	return nil
}

// sessionListener binds session callbacks to the session that raised them.
// Callbacks from a session that no longer owns its tile id are dropped, so a
// superseded session cannot unregister or sweep its replacement.
type sessionListener struct {
	c *Coordinator
	s *session.Session
}

// current reports whether l.s is the active session for its tile id.
func (l *sessionListener) current() bool {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	return l.c.sessions[l.s.TileID()] == l.s
}

func (l *sessionListener) forget() {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	if l.c.sessions[l.s.TileID()] == l.s {
		delete(l.c.sessions, l.s.TileID())
	}
}

func (l *sessionListener) SessionConnected(tileID string) {
	l.c.register(tileID)
	l.c.notify(Event{Kind: EventDevicesChanged, TileID: tileID})
}

func (l *sessionListener) SessionDisconnected(tileID string) {
	if !l.current() {
		l.c.logger.Debug("ignoring disconnect from superseded session", "tile_id", tileID)
		return
	}
	l.c.unregister(tileID)
	l.forget()
	l.c.opts.Registry.ClearDisconnected()
	l.c.notify(Event{Kind: EventDevicesChanged, TileID: tileID})
}

func (l *sessionListener) SessionFailed(tileID string, err error) {
	if !l.current() {
		l.c.logger.Debug("ignoring failure from superseded session", "tile_id", tileID, "error", err)
		return
	}
	l.forget()
	l.c.opts.Registry.ClearDisconnected()
	l.c.notify(Event{Kind: EventDevicesChanged, TileID: tileID, Error: err.Error()})
}

func (l *sessionListener) SessionEvent(tileID string, cmd tiles.CommandObject) {
	if !l.current() {
		return
	}
	l.c.notify(Event{Kind: EventReceived, TileID: tileID, Command: &cmd})
	l.c.recorder.RecordEvent(tileID, cmd)

	ctx, cancel := context.WithTimeout(context.Background(), brokerOpTimeout)
	defer cancel()
	if err := l.c.opts.Broker.PublishEvent(ctx, tileID, cmd); err != nil {
		if errors.Is(err, broker.ErrNotConnected) {
			l.c.logger.Debug("event not published, broker not connected", "tile_id", tileID)
			return
		}
		l.c.logger.Warn("publishing event failed", "tile_id", tileID, "error", err)
	}
}
