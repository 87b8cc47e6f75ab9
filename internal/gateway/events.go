package gateway

import (
	"time"

	"github.com/tiles-iot/tiles-gateway/internal/broker"
	"github.com/tiles-iot/tiles-gateway/internal/tiles"
)

// EventKind identifies a UI-facing notification.
type EventKind string

const (
	EventDevicesChanged     EventKind = "devices.changed"
	EventServerConnected    EventKind = "server.connected"
	EventServerOffline      EventKind = "server.offline"
	EventServerClosed       EventKind = "server.closed"
	EventServerReconnecting EventKind = "server.reconnecting"
	EventServerError        EventKind = "server.error"
	EventReceived           EventKind = "event.received"
	EventBluetoothDisabled  EventKind = "bluetooth.disabled"
	EventCommandFailed      EventKind = "command.failed"
)

// Event is one notification for the UI.
type Event struct {
	Kind    EventKind            `json:"kind"`
	TileID  string               `json:"tile_id,omitempty"`
	Command *tiles.CommandObject `json:"command,omitempty"`
	Error   string               `json:"error,omitempty"`
	Time    time.Time            `json:"time"`
}

// Notifier receives UI-facing events. Notify must not block.
type Notifier interface {
	Notify(Event)
}

// Recorder stores gateway activity for later analysis. Implementations
// must not block.
type Recorder interface {
	RecordEvent(tileID string, cmd tiles.CommandObject)
	RecordCommand(tileID string, cmd tiles.CommandObject, delivered bool)
	RecordBrokerState(state string, up bool)
}

type noopNotifier struct{}

func (noopNotifier) Notify(Event) {}

type noopRecorder struct{}

func (noopRecorder) RecordEvent(string, tiles.CommandObject)         {}
func (noopRecorder) RecordCommand(string, tiles.CommandObject, bool) {}
func (noopRecorder) RecordBrokerState(string, bool)                  {}

// serverEventKind maps a broker connectivity state to its UI event.
func serverEventKind(s broker.State) EventKind {
	switch s {
	case broker.StateConnected:
		return EventServerConnected
	case broker.StateOffline:
		return EventServerOffline
	case broker.StateClosed:
		return EventServerClosed
	case broker.StateReconnecting:
		return EventServerReconnecting
	default:
		return EventServerError
	}
}
