package broker

import "errors"

var (
	// ErrNotConnected is returned by PublishEvent when no broker connection
	// exists.
	ErrNotConnected = errors.New("broker: not connected")

	// ErrInvalidCredentials is returned by Connect for incomplete credentials.
	ErrInvalidCredentials = errors.New("broker: invalid credentials")

	// ErrConnectTimeout is reported when no connected acknowledgement arrives
	// within the establish timeout.
	ErrConnectTimeout = errors.New("broker: connection attempt timed out")
)
