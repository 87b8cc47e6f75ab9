package tiles

import "errors"

var (
	// ErrInvalidCommand is returned for a CommandObject without a name.
	ErrInvalidCommand = errors.New("tiles: invalid command")

	// ErrApplicationNotFound is returned when an application id is unknown.
	ErrApplicationNotFound = errors.New("tiles: application not found")

	// ErrVirtualTileNotFound is returned when a virtual tile id is unknown.
	ErrVirtualTileNotFound = errors.New("tiles: virtual tile not found")

	// ErrNoActiveApplication is returned when no application has been selected.
	ErrNoActiveApplication = errors.New("tiles: no active application")

	// ErrInvalidApplication is returned when an application lacks an id or name.
	ErrInvalidApplication = errors.New("tiles: invalid application")

	// ErrInvalidVirtualTile is returned when a virtual tile lacks an id, name
	// or application.
	ErrInvalidVirtualTile = errors.New("tiles: invalid virtual tile")

	// ErrInvalidMapping is returned for an event mapping without an event.
	ErrInvalidMapping = errors.New("tiles: invalid event mapping")

	// ErrMappingNotFound is returned when no mapping exists for a tile and event.
	ErrMappingNotFound = errors.New("tiles: event mapping not found")
)
