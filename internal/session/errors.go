package session

import "errors"

var (
	// ErrNotConnected is returned when writing to a session that is not
	// connected. Callers treat it as "nothing to do".
	ErrNotConnected = errors.New("session: not connected")

	// ErrBusy is returned by Connect when the session is not disconnected.
	ErrBusy = errors.New("session: connection already active or in progress")

	// ErrClosed is returned when a retired session is asked to connect, or a
	// connection attempt is aborted by Disconnect or Retire.
	ErrClosed = errors.New("session: closed")

	// ErrConnectFailed wraps radio failures during connection setup.
	ErrConnectFailed = errors.New("session: connect failed")

	// ErrWriteFailed wraps radio write failures.
	ErrWriteFailed = errors.New("session: write failed")
)
