package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tiles-iot/tiles-gateway/internal/codec"
	"github.com/tiles-iot/tiles-gateway/internal/device"
	"github.com/tiles-iot/tiles-gateway/internal/radio"
	"github.com/tiles-iot/tiles-gateway/internal/tiles"
)

const (
	defaultConnectTimeout = 10 * time.Second
	releaseTimeout        = 3 * time.Second
	mapTimeout            = 2 * time.Second
)

// Logger defines the logging interface used by sessions.
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

// Registry is the part of the device registry a session updates.
type Registry interface {
	MarkConnecting(tileID string) error
	MarkConnected(tileID string) error
	MarkDisconnecting(tileID string) error
	MarkDisconnected(tileID string)
}

// EventMapper resolves decoded event text into a command.
type EventMapper interface {
	MapEvent(ctx context.Context, tileID, event string) (tiles.CommandObject, bool, error)
}

// Listener receives session lifecycle changes and mapped events.
//
// Callbacks run on session goroutines, never with a session lock held.
// Events for one session are delivered in arrival order.
type Listener interface {
	SessionConnected(tileID string)
	SessionDisconnected(tileID string)
	SessionFailed(tileID string, err error)
	SessionEvent(tileID string, cmd tiles.CommandObject)
}

// Config holds a session's collaborators.
type Config struct {
	Transport      radio.Transport
	Profile        radio.Profile
	Registry       Registry
	Mapper         EventMapper
	Listener       Listener
	Logger         Logger
	ConnectTimeout time.Duration

	// Current reports whether the session still owns its tile id. A
	// superseded session leaves the registry entry and the radio link to its
	// successor. Nil means always current.
	Current func() bool
}

// Session is the runtime connection object for one peripheral.
//
// States move disconnected → connecting → connected → disconnecting →
// disconnected. Notification delivery runs while connected; the stream
// ending is treated as a peripheral-initiated disconnect.
//
// A retired session never becomes connected again. The coordinator retires
// a session when another session supersedes it for the same tile id.
type Session struct {
	tileID      string
	transportID string
	cfg         Config
	logger      Logger

	mu            sync.Mutex
	state         device.ConnectionState
	retired       bool
	aborted       bool
	cancelAttempt context.CancelFunc
	attemptDone   chan struct{}
	cancelNotify  context.CancelFunc
	listenDone    chan struct{}
	teardownDone  chan struct{}
}

// New creates a disconnected session for p.
func New(p device.Peripheral, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	return &Session{
		tileID:      p.TileID,
		transportID: p.TransportID,
		cfg:         cfg,
		logger:      logger,
		state:       device.StateDisconnected,
	}
}

// TileID returns the logical tile id.
func (s *Session) TileID() string { return s.tileID }

// TransportID returns the radio address the session was created with.
func (s *Session) TransportID() string { return s.transportID }

// State returns the current connection state.
func (s *Session) State() device.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the session is connected.
func (s *Session) Connected() bool {
	return s.State() == device.StateConnected
}

// Retired reports whether the session has been superseded.
func (s *Session) Retired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retired
}

// Connect opens the radio connection and starts notification delivery.
//
// On radio failure the session returns to disconnected, the registry entry
// is marked disconnected, the radio link is released and the listener is
// told through SessionFailed. A failure to start notifications counts as a
// connect failure.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.retired {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != device.StateDisconnected {
		s.mu.Unlock()
		return ErrBusy
	}
	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	s.state = device.StateConnecting
	s.aborted = false
	s.cancelAttempt = cancel
	s.attemptDone = make(chan struct{})
	done := s.attemptDone
	s.mu.Unlock()

	defer close(done)
	defer cancel()

	if err := s.cfg.Registry.MarkConnecting(s.tileID); err != nil {
		s.logger.Debug("registry has no entry for connecting tile", "tile_id", s.tileID, "error", err)
	}

	s.logger.Debug("connecting", "tile_id", s.tileID, "transport_id", s.transportID)
	if err := s.cfg.Transport.Connect(attemptCtx, s.transportID); err != nil {
		return s.fail(fmt.Errorf("%w: %s: %w", ErrConnectFailed, s.tileID, err))
	}

	// The subscription outlives the attempt; it ends on teardown.
	notifyCtx, stopNotify := context.WithCancel(context.Background())
	frames, err := s.cfg.Transport.StartNotification(notifyCtx, s.transportID, s.cfg.Profile.Service, s.cfg.Profile.Receive)
	if err != nil {
		stopNotify()
		return s.fail(fmt.Errorf("%w: %s: starting notifications: %w", ErrConnectFailed, s.tileID, err))
	}

	s.mu.Lock()
	if s.retired || s.aborted {
		s.state = device.StateDisconnected
		s.mu.Unlock()
		stopNotify()
		if s.owned() {
			s.release()
			s.cfg.Registry.MarkDisconnected(s.tileID)
		}
		s.logger.Debug("connection attempt aborted", "tile_id", s.tileID)
		return ErrClosed
	}
	s.state = device.StateConnected
	s.cancelNotify = stopNotify
	s.listenDone = make(chan struct{})
	listenDone := s.listenDone
	s.mu.Unlock()

	if err := s.cfg.Registry.MarkConnected(s.tileID); err != nil {
		s.logger.Debug("registry has no entry for connected tile", "tile_id", s.tileID, "error", err)
	}
	s.logger.Info("tile connected", "tile_id", s.tileID, "transport_id", s.transportID)
	s.cfg.Listener.SessionConnected(s.tileID)

	go s.listen(frames, listenDone)
	return nil
}

// fail returns the session to disconnected after a failed attempt.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.state = device.StateDisconnected
	aborted := s.aborted || s.retired
	s.mu.Unlock()

	if s.owned() {
		s.cfg.Registry.MarkDisconnected(s.tileID)
		s.release()
	}

	if aborted {
		s.logger.Debug("connection attempt aborted", "tile_id", s.tileID, "error", err)
		return ErrClosed
	}
	s.logger.Warn("tile connection failed", "tile_id", s.tileID, "error", err)
	s.cfg.Listener.SessionFailed(s.tileID, err)
	return err
}

func (s *Session) owned() bool {
	return s.cfg.Current == nil || s.cfg.Current()
}

// release disconnects the radio link, ignoring failures.
func (s *Session) release() {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := s.cfg.Transport.Disconnect(ctx, s.transportID); err != nil {
		s.logger.Debug("radio disconnect failed", "tile_id", s.tileID, "error", err)
	}
}

func (s *Session) listen(frames <-chan []byte, done chan struct{}) {
	defer close(done)

	for frame := range frames {
		s.handleFrame(frame)
	}

	s.mu.Lock()
	if s.state != device.StateConnected {
		// Disconnect owns the teardown.
		s.mu.Unlock()
		return
	}
	s.state = device.StateDisconnected
	stop := s.cancelNotify
	s.cancelNotify = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if s.owned() {
		s.cfg.Registry.MarkDisconnected(s.tileID)
	}
	s.logger.Info("tile dropped connection", "tile_id", s.tileID)
	s.cfg.Listener.SessionDisconnected(s.tileID)
}

func (s *Session) handleFrame(frame []byte) {
	text := codec.DecodeEvent(frame)
	if text == "" {
		s.logger.Debug("dropping empty frame", "tile_id", s.tileID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mapTimeout)
	defer cancel()

	cmd, ok, err := s.cfg.Mapper.MapEvent(ctx, s.tileID, text)
	if err != nil {
		s.logger.Warn("event mapping failed", "tile_id", s.tileID, "event", text, "error", err)
		return
	}
	if !ok {
		s.logger.Debug("no mapping for event", "tile_id", s.tileID, "event", text)
		return
	}
	s.cfg.Listener.SessionEvent(s.tileID, cmd)
}

// Disconnect tears the session down. The session always ends disconnected,
// even when the radio reports an error. An in-flight Connect is aborted and
// awaited first.
//
// Disconnect returns only once every side effect of the session has run:
// a failed attempt, a dropped connection or a concurrent Disconnect are
// awaited even when the session already reports disconnected.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case device.StateDisconnected:
		attempt, listening := s.attemptDone, s.listenDone
		s.mu.Unlock()
		return settle(ctx, attempt, listening)
	case device.StateDisconnecting:
		teardown := s.teardownDone
		s.mu.Unlock()
		return settle(ctx, teardown)
	case device.StateConnecting:
		s.aborted = true
		cancel, done := s.cancelAttempt, s.attemptDone
		s.mu.Unlock()
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		// The attempt may have won the race and connected.
		return s.Disconnect(ctx)
	}

	s.state = device.StateDisconnecting
	stop := s.cancelNotify
	s.cancelNotify = nil
	listening := s.listenDone
	teardown := make(chan struct{})
	s.teardownDone = teardown
	s.mu.Unlock()
	defer close(teardown)

	owned := s.owned()
	if owned {
		if err := s.cfg.Registry.MarkDisconnecting(s.tileID); err != nil {
			s.logger.Debug("registry has no entry for disconnecting tile", "tile_id", s.tileID, "error", err)
		}
	}
	if stop != nil {
		stop()
	}
	// No events may follow SessionDisconnected.
	if listening != nil {
		select {
		case <-listening:
		case <-ctx.Done():
			s.logger.Warn("notification stream did not stop", "tile_id", s.tileID)
		}
	}
	if owned {
		if err := s.cfg.Transport.Disconnect(ctx, s.transportID); err != nil {
			s.logger.Warn("radio disconnect failed", "tile_id", s.tileID, "error", err)
		}
	}

	s.mu.Lock()
	s.state = device.StateDisconnected
	s.mu.Unlock()

	if owned {
		s.cfg.Registry.MarkDisconnected(s.tileID)
	}
	s.logger.Info("tile disconnected", "tile_id", s.tileID)
	s.cfg.Listener.SessionDisconnected(s.tileID)
	return nil
}

// settle waits for each non-nil channel to close.
func settle(ctx context.Context, chans ...chan struct{}) error {
	for _, ch := range chans {
		if ch == nil {
			continue
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Retire marks the session superseded and tears it down. A retired session
// rejects further Connect calls.
func (s *Session) Retire(ctx context.Context) error {
	s.mu.Lock()
	s.retired = true
	s.mu.Unlock()
	return s.Disconnect(ctx)
}

// SendCommand writes data to the tile's send characteristic. It returns
// ErrNotConnected unless the session is connected. A failed write does not
// change the session state.
func (s *Session) SendCommand(ctx context.Context, data []byte) error {
	if !s.Connected() {
		return ErrNotConnected
	}
	if err := s.cfg.Transport.WriteWithoutResponse(ctx, s.transportID, s.cfg.Profile.Service, s.cfg.Profile.Send, data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWriteFailed, s.tileID, err)
	}
	return nil
}
