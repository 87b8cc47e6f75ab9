package device

import "errors"

var (
	// ErrPeripheralNotFound is returned when no entry exists for a tile id.
	ErrPeripheralNotFound = errors.New("device: peripheral not found")

	// ErrInvalidPeripheral is returned when a discovered peripheral lacks a
	// tile id or transport id.
	ErrInvalidPeripheral = errors.New("device: invalid peripheral")
)
