package radio

import "errors"

var (
	// ErrDisabled is returned when the adapter is powered off.
	ErrDisabled = errors.New("radio: adapter disabled")

	// ErrNotConnected is returned for operations on a peripheral without an
	// open connection.
	ErrNotConnected = errors.New("radio: peripheral not connected")

	// ErrCharacteristicNotFound is returned when the peripheral does not
	// expose the requested characteristic.
	ErrCharacteristicNotFound = errors.New("radio: characteristic not found")
)
