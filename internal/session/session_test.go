package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tiles-iot/tiles-gateway/internal/codec"
	"github.com/tiles-iot/tiles-gateway/internal/device"
	"github.com/tiles-iot/tiles-gateway/internal/radio"
	"github.com/tiles-iot/tiles-gateway/internal/tiles"
)

// MockTransport is an in-memory radio.Transport.
type MockTransport struct {
	mu            sync.Mutex
	connectErr    error
	notifyErr     error
	writeErr      error
	disconnectErr error
	blockConnect  bool
	connects      []string
	disconnects   []string
	writes        []mockWrite
	streams       map[string]*mockStream

	// onDisconnect runs at the start of Disconnect, outside the lock.
	onDisconnect func()
}

type mockWrite struct {
	TransportID    string
	Characteristic string
	Data           []byte
}

type mockStream struct {
	ch   chan []byte
	once sync.Once
}

func (s *mockStream) close() { s.once.Do(func() { close(s.ch) }) }

func NewMockTransport() *MockTransport {
	return &MockTransport{streams: make(map[string]*mockStream)}
}

func (m *MockTransport) IsEnabled(context.Context) (bool, error) { return true, nil }
func (m *MockTransport) Enable(context.Context) error            { return nil }

func (m *MockTransport) Scan(context.Context, []string, time.Duration) (<-chan radio.Advertisement, error) {
	ch := make(chan radio.Advertisement)
	close(ch)
	return ch, nil
}

func (m *MockTransport) Connect(ctx context.Context, id string) error {
	m.mu.Lock()
	m.connects = append(m.connects, id)
	block, err := m.blockConnect, m.connectErr
	m.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (m *MockTransport) Disconnect(_ context.Context, id string) error {
	if m.onDisconnect != nil {
		m.onDisconnect()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects = append(m.disconnects, id)
	if s, ok := m.streams[id]; ok {
		s.close()
	}
	return m.disconnectErr
}

func (m *MockTransport) StartNotification(ctx context.Context, id, _, _ string) (<-chan []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notifyErr != nil {
		return nil, m.notifyErr
	}
	s := &mockStream{ch: make(chan []byte, 16)}
	m.streams[id] = s
	go func() {
		<-ctx.Done()
		s.close()
	}()
	return s.ch, nil
}

func (m *MockTransport) WriteWithoutResponse(_ context.Context, id, _, char string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes = append(m.writes, mockWrite{TransportID: id, Characteristic: char, Data: data})
	return nil
}

// emit delivers a notification frame from the peripheral.
func (m *MockTransport) emit(id string, frame []byte) {
	m.mu.Lock()
	s := m.streams[id]
	m.mu.Unlock()
	s.ch <- frame
}

// drop simulates the peripheral ending the connection.
func (m *MockTransport) drop(id string) {
	m.mu.Lock()
	s := m.streams[id]
	m.mu.Unlock()
	s.close()
}

func (m *MockTransport) disconnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.disconnects)
}

type mockListener struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
	failed       []error
	events       []tiles.CommandObject
}

func (l *mockListener) SessionConnected(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = append(l.connected, id)
}

func (l *mockListener) SessionDisconnected(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnected = append(l.disconnected, id)
}

func (l *mockListener) SessionFailed(_ string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = append(l.failed, err)
}

func (l *mockListener) SessionEvent(_ string, cmd tiles.CommandObject) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, cmd)
}

func (l *mockListener) counts() (connected, disconnected, failed, events int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.connected), len(l.disconnected), len(l.failed), len(l.events)
}

// gatedListener holds SessionDisconnected until gate is closed.
type gatedListener struct {
	mockListener
	gate chan struct{}
}

func (l *gatedListener) SessionDisconnected(id string) {
	<-l.gate
	l.mockListener.SessionDisconnected(id)
}

type mapperFunc func(ctx context.Context, tileID, event string) (tiles.CommandObject, bool, error)

func (f mapperFunc) MapEvent(ctx context.Context, tileID, event string) (tiles.CommandObject, bool, error) {
	return f(ctx, tileID, event)
}

// tapMapper maps "tap" and "tilt" and fails on "boom".
var tapMapper = mapperFunc(func(_ context.Context, tileID, event string) (tiles.CommandObject, bool, error) {
	switch event {
	case "tap", "tilt":
		return tiles.CommandObject{Name: tileID, Properties: []string{event}}, true, nil
	case "boom":
		return tiles.CommandObject{}, false, errors.New("catalog unavailable")
	default:
		return tiles.CommandObject{}, false, nil
	}
})

type fixture struct {
	transport *MockTransport
	registry  *device.Registry
	listener  *mockListener
	session   *Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg := device.NewRegistry()
	p, err := reg.UpsertDiscovered(device.Peripheral{TileID: "T1", TransportID: "AA:BB:CC:DD:EE:01", Name: "Tile_T1"})
	if err != nil {
		t.Fatalf("UpsertDiscovered() error = %v", err)
	}

	f := &fixture{
		transport: NewMockTransport(),
		registry:  reg,
		listener:  &mockListener{},
	}
	f.session = New(p, Config{
		Transport:      f.transport,
		Profile:        radio.DefaultProfile(),
		Registry:       reg,
		Mapper:         tapMapper,
		Listener:       f.listener,
		ConnectTimeout: time.Second,
	})
	return f
}

func (f *fixture) registryState(t *testing.T) device.ConnectionState {
	t.Helper()
	p, ok := f.registry.Find("T1")
	if !ok {
		t.Fatal("registry entry for T1 missing")
	}
	return p.State
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnect_Success(t *testing.T) {
	f := newFixture(t)

	if err := f.session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if f.session.State() != device.StateConnected {
		t.Errorf("State() = %q, want connected", f.session.State())
	}
	if got := f.registryState(t); got != device.StateConnected {
		t.Errorf("registry state = %q, want connected", got)
	}
	if c, _, _, _ := f.listener.counts(); c != 1 {
		t.Errorf("SessionConnected calls = %d, want 1", c)
	}

	if err := f.session.Connect(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("second Connect() error = %v, want ErrBusy", err)
	}
}

func TestConnect_TransportFailure(t *testing.T) {
	f := newFixture(t)
	f.transport.connectErr = errors.New("gatt error 133")

	err := f.session.Connect(context.Background())
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectFailed", err)
	}
	if f.session.State() != device.StateDisconnected {
		t.Errorf("State() = %q, want disconnected", f.session.State())
	}
	if got := f.registryState(t); got != device.StateDisconnected {
		t.Errorf("registry state = %q, want disconnected", got)
	}
	if _, _, failed, _ := f.listener.counts(); failed != 1 {
		t.Errorf("SessionFailed calls = %d, want 1", failed)
	}
	if f.transport.disconnectCount() != 1 {
		t.Errorf("radio Disconnect calls = %d, want 1", f.transport.disconnectCount())
	}
}

func TestConnect_NotificationFailure(t *testing.T) {
	f := newFixture(t)
	f.transport.notifyErr = errors.New("characteristic not found")

	if err := f.session.Connect(context.Background()); !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectFailed", err)
	}
	if f.session.State() != device.StateDisconnected {
		t.Errorf("State() = %q, want disconnected", f.session.State())
	}
	if c, _, failed, _ := f.listener.counts(); c != 0 || failed != 1 {
		t.Errorf("connected/failed = %d/%d, want 0/1", c, failed)
	}
}

func TestNotifications_DecodeAndMap(t *testing.T) {
	f := newFixture(t)
	if err := f.session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	id := f.session.TransportID()
	f.transport.emit(id, []byte("tap\n"))
	f.transport.emit(id, []byte("\n"))     // empty, dropped
	f.transport.emit(id, []byte("wave\n")) // no mapping
	f.transport.emit(id, []byte("boom\n")) // mapping error
	f.transport.emit(id, codec.Frame([]byte("tilt")))

	waitFor(t, "two events", func() bool {
		_, _, _, n := f.listener.counts()
		return n == 2
	})

	f.listener.mu.Lock()
	defer f.listener.mu.Unlock()
	if f.listener.events[0].Properties[0] != "tap" || f.listener.events[1].Properties[0] != "tilt" {
		t.Errorf("events = %+v, want tap then tilt", f.listener.events)
	}
	if f.listener.events[0].Name != "T1" {
		t.Errorf("event name = %q, want T1", f.listener.events[0].Name)
	}
}

func TestNotifications_StreamEndDisconnects(t *testing.T) {
	f := newFixture(t)
	if err := f.session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	f.transport.drop(f.session.TransportID())

	waitFor(t, "disconnect", func() bool {
		_, d, _, _ := f.listener.counts()
		return d == 1
	})
	if f.session.State() != device.StateDisconnected {
		t.Errorf("State() = %q, want disconnected", f.session.State())
	}
	if got := f.registryState(t); got != device.StateDisconnected {
		t.Errorf("registry state = %q, want disconnected", got)
	}

	// A dropped session can connect again.
	if err := f.session.Connect(context.Background()); err != nil {
		t.Errorf("reconnect error = %v", err)
	}
}

func TestDisconnect_AlwaysEndsDisconnected(t *testing.T) {
	f := newFixture(t)
	f.transport.disconnectErr = errors.New("not connected")
	if err := f.session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := f.session.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if f.session.State() != device.StateDisconnected {
		t.Errorf("State() = %q, want disconnected", f.session.State())
	}
	if _, d, _, _ := f.listener.counts(); d != 1 {
		t.Errorf("SessionDisconnected calls = %d, want 1", d)
	}

	// Second disconnect is a no-op.
	if err := f.session.Disconnect(context.Background()); err != nil {
		t.Errorf("second Disconnect() error = %v", err)
	}
	if _, d, _, _ := f.listener.counts(); d != 1 {
		t.Errorf("SessionDisconnected calls = %d after no-op, want 1", d)
	}
}

func TestDisconnect_AbortsConnecting(t *testing.T) {
	f := newFixture(t)
	f.transport.blockConnect = true

	errCh := make(chan error, 1)
	go func() { errCh <- f.session.Connect(context.Background()) }()

	waitFor(t, "connecting", func() bool { return f.session.State() == device.StateConnecting })

	if err := f.session.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := <-errCh; !errors.Is(err, ErrClosed) {
		t.Errorf("Connect() error = %v, want ErrClosed", err)
	}
	if f.session.State() != device.StateDisconnected {
		t.Errorf("State() = %q, want disconnected", f.session.State())
	}
	if c, _, failed, _ := f.listener.counts(); c != 0 || failed != 0 {
		t.Errorf("connected/failed = %d/%d, want 0/0", c, failed)
	}
}

func TestRetire(t *testing.T) {
	f := newFixture(t)
	if err := f.session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := f.session.Retire(context.Background()); err != nil {
		t.Fatalf("Retire() error = %v", err)
	}
	if !f.session.Retired() {
		t.Error("Retired() = false")
	}
	if f.session.State() != device.StateDisconnected {
		t.Errorf("State() = %q, want disconnected", f.session.State())
	}
	if err := f.session.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect() after Retire error = %v, want ErrClosed", err)
	}
}

func TestSendCommand(t *testing.T) {
	f := newFixture(t)

	if err := f.session.SendCommand(context.Background(), []byte("led,on")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendCommand() before connect error = %v, want ErrNotConnected", err)
	}

	if err := f.session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := f.session.SendCommand(context.Background(), []byte("led,on")); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}

	f.transport.mu.Lock()
	w := f.transport.writes[0]
	f.transport.mu.Unlock()
	if string(w.Data) != "led,on" || w.Characteristic != radio.DefaultProfile().Send {
		t.Errorf("write = %+v", w)
	}

	f.transport.mu.Lock()
	f.transport.writeErr = errors.New("write failed")
	f.transport.mu.Unlock()
	if err := f.session.SendCommand(context.Background(), []byte("led,off")); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("SendCommand() error = %v, want ErrWriteFailed", err)
	}
	if !f.session.Connected() {
		t.Error("failed write changed session state")
	}
}

func TestRetire_WaitsForDropTeardown(t *testing.T) {
	f := newFixture(t)
	l := &gatedListener{gate: make(chan struct{})}
	f.session.cfg.Listener = l
	if err := f.session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	f.transport.drop("AA:BB:CC:DD:EE:01")
	waitFor(t, "drop", func() bool { return f.session.State() == device.StateDisconnected })

	retired := make(chan error, 1)
	go func() { retired <- f.session.Retire(context.Background()) }()

	select {
	case err := <-retired:
		t.Fatalf("Retire() returned %v before the dropped connection was torn down", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(l.gate)
	select {
	case err := <-retired:
		if err != nil {
			t.Errorf("Retire() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Retire() did not return")
	}
	if _, d, _, _ := l.counts(); d != 1 {
		t.Errorf("SessionDisconnected calls = %d, want 1", d)
	}
}

func TestRetire_ContextExpiresWhileSettling(t *testing.T) {
	f := newFixture(t)
	l := &gatedListener{gate: make(chan struct{})}
	defer close(l.gate)
	f.session.cfg.Listener = l
	if err := f.session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	f.transport.drop("AA:BB:CC:DD:EE:01")
	waitFor(t, "drop", func() bool { return f.session.State() == device.StateDisconnected })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.session.Retire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Retire() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestDisconnect_SupersededLeavesRadioAndRegistry(t *testing.T) {
	f := newFixture(t)
	var current atomic.Bool
	current.Store(true)
	f.session.cfg.Current = current.Load

	if err := f.session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	current.Store(false)

	if err := f.session.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if n := f.transport.disconnectCount(); n != 0 {
		t.Errorf("radio disconnects = %d, want 0", n)
	}
	if got := f.registryState(t); got != device.StateConnected {
		t.Errorf("registry state = %q, want connected (owned by successor)", got)
	}
	if f.session.State() != device.StateDisconnected {
		t.Errorf("State() = %q, want disconnected", f.session.State())
	}
}

func TestConnect_SupersededFailureLeavesRadio(t *testing.T) {
	f := newFixture(t)
	f.session.cfg.Current = func() bool { return false }
	f.transport.connectErr = errors.New("le-connection-abort-by-local")

	if err := f.session.Connect(context.Background()); !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectFailed", err)
	}
	if n := f.transport.disconnectCount(); n != 0 {
		t.Errorf("radio disconnects = %d, want 0", n)
	}
}

func TestDisconnect_MarksRegistryDisconnecting(t *testing.T) {
	f := newFixture(t)
	if err := f.session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var during device.ConnectionState
	f.transport.onDisconnect = func() {
		p, _ := f.registry.Find("T1")
		during = p.State
	}

	if err := f.session.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if during != device.StateDisconnecting {
		t.Errorf("registry state during teardown = %q, want disconnecting", during)
	}
	if got := f.registryState(t); got != device.StateDisconnected {
		t.Errorf("registry state = %q, want disconnected", got)
	}
}
