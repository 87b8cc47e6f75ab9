package gateway

import "errors"

var (
	// ErrUnknownTile is returned for a tile id the registry does not hold.
	ErrUnknownTile = errors.New("gateway: unknown tile")

	// ErrBluetoothDisabled is returned when the adapter is off and cannot be
	// enabled.
	ErrBluetoothDisabled = errors.New("gateway: bluetooth disabled")

	// ErrScanInProgress is returned by ScanOnce while another sweep runs.
	ErrScanInProgress = errors.New("gateway: scan already in progress")

	// ErrNoBinder is returned when a virtual tile edit is requested but no
	// catalog was configured to apply it.
	ErrNoBinder = errors.New("gateway: virtual tile editing not supported")
)
