package device

import "time"

// ConnectionState is a peripheral's radio connection state.
type ConnectionState string

const (
	StateDisconnected  ConnectionState = "disconnected"
	StateConnecting    ConnectionState = "connecting"
	StateConnected     ConnectionState = "connected"
	StateDisconnecting ConnectionState = "disconnecting"
)

// Peripheral is a tile discovered over the radio.
//
// TileID is the logical tile id derived from the advertised name and is stable
// across scans. TransportID is whatever the radio stack uses to address the
// device (a BlueZ MAC address, a platform UUID) and may change between scans.
type Peripheral struct {
	TileID      string          `json:"tile_id"`
	TransportID string          `json:"transport_id"`
	Name        string          `json:"name"`
	State       ConnectionState `json:"state"`
	RSSI        int16           `json:"rssi"`
	LastSeen    time.Time       `json:"last_seen"`
}

// Connected reports whether the peripheral has an open radio connection.
func (p Peripheral) Connected() bool {
	return p.State == StateConnected
}

// busy reports whether the entry must survive a ClearDisconnected sweep.
func (p Peripheral) busy() bool {
	return p.State == StateConnected || p.State == StateConnecting
}
