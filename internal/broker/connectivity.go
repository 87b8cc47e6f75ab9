package broker

// State is a broker connectivity state as reported to the UI.
type State string

const (
	StateConnected    State = "connected"
	StateOffline      State = "offline"
	StateClosed       State = "closed"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
	StateTimeout      State = "timeout"
)

// Up reports whether the state means the broker is reachable.
func (s State) Up() bool {
	return s == StateConnected
}

// ConnectivityEvent is one connectivity change. Err is set for offline,
// error and timeout when a cause is known.
type ConnectivityEvent struct {
	State State
	Err   error
}
