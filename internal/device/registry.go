package device

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
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

// Registry is the in-memory set of known peripherals, unique by tile id.
//
// A transport id is never assumed unique across scans: when a tile is seen
// again under a new transport id the existing entry is updated in place.
//
// All public methods are safe for concurrent use. Returned values are copies.
type Registry struct {
	peripherals map[string]Peripheral
	mu          sync.RWMutex
	logger      Logger
	now         func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		peripherals: make(map[string]Peripheral),
		logger:      noopLogger{},
		now:         time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// UpsertDiscovered records a scan result and returns the stored entry.
//
// For a known tile id the transport id, name, signal strength and last-seen
// time are refreshed while the connection state is kept. A new tile id is
// inserted as disconnected.
func (r *Registry) UpsertDiscovered(p Peripheral) (Peripheral, error) {
	if p.TileID == "" || p.TransportID == "" {
		return Peripheral{}, fmt.Errorf("%w: tile id and transport id are required", ErrInvalidPeripheral)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := p.LastSeen
	if seen.IsZero() {
		seen = r.now()
	}

	existing, ok := r.peripherals[p.TileID]
	if !ok {
		p.State = StateDisconnected
		p.LastSeen = seen
		r.peripherals[p.TileID] = p
		r.logger.Debug("peripheral discovered", "tile_id", p.TileID, "transport_id", p.TransportID)
		return p, nil
	}

	if existing.TransportID != p.TransportID {
		r.logger.Debug("peripheral transport id changed",
			"tile_id", p.TileID,
			"old", existing.TransportID,
			"new", p.TransportID,
		)
	}
	existing.TransportID = p.TransportID
	if p.Name != "" {
		existing.Name = p.Name
	}
	existing.RSSI = p.RSSI
	existing.LastSeen = seen
	r.peripherals[p.TileID] = existing
	return existing, nil
}

// MarkConnecting records the start of a connection attempt.
func (r *Registry) MarkConnecting(tileID string) error {
	return r.setState(tileID, StateConnecting)
}

// MarkConnected records an established connection.
func (r *Registry) MarkConnected(tileID string) error {
	return r.setState(tileID, StateConnected)
}

// MarkDisconnecting records the start of an explicit teardown.
func (r *Registry) MarkDisconnecting(tileID string) error {
	return r.setState(tileID, StateDisconnecting)
}

// MarkDisconnected records that the peripheral is no longer connected.
// Unknown tile ids and already-disconnected entries are a no-op.
func (r *Registry) MarkDisconnected(tileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peripherals[tileID]
	if !ok || p.State == StateDisconnected {
		return
	}
	p.State = StateDisconnected
	r.peripherals[tileID] = p
}

func (r *Registry) setState(tileID string, state ConnectionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peripherals[tileID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPeripheralNotFound, tileID)
	}
	p.State = state
	r.peripherals[tileID] = p
	return nil
}

// ClearDisconnected removes every entry that is neither connected nor in
// the middle of a connection attempt, returning how many were removed.
func (r *Registry) ClearDisconnected() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, p := range r.peripherals {
		if p.busy() {
			continue
		}
		delete(r.peripherals, id)
		removed++
	}
	if removed > 0 {
		r.logger.Debug("cleared stale peripherals", "count", removed)
	}
	return removed
}

// Find returns the entry for tileID.
func (r *Registry) Find(tileID string) (Peripheral, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peripherals[tileID]
	return p, ok
}

// List returns all entries ordered by tile id.
func (r *Registry) List() []Peripheral {
	r.mu.RLock()
	out := make([]Peripheral, 0, len(r.peripherals))
	for _, p := range r.peripherals {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TileID < out[j].TileID })
	return out
}

// Connected returns the tile ids of all connected peripherals, sorted.
func (r *Registry) Connected() []string {
	r.mu.RLock()
	var ids []string
	for id, p := range r.peripherals {
		if p.Connected() {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Count returns the number of entries.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peripherals)
}
