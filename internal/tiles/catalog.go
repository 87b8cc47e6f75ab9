package tiles

import "context"

// Catalog is the tile metadata the gateway consumes: which virtual tiles a
// peripheral backs, how raw event strings map to commands, and which
// application is active.
type Catalog interface {
	// BoundVirtualTiles lists the virtual tiles in appID bound to tileID.
	// An empty result is not an error.
	BoundVirtualTiles(ctx context.Context, appID, tileID string) ([]VirtualTile, error)

	// MapEvent resolves a decoded event string from tileID. ok is false when
	// no mapping exists; that is not an error.
	MapEvent(ctx context.Context, tileID, event string) (cmd CommandObject, ok bool, err error)

	// ActiveApplication returns the selected application id or
	// ErrNoActiveApplication.
	ActiveApplication(ctx context.Context) (string, error)

	// SetActiveApplication selects appID.
	SetActiveApplication(ctx context.Context, appID string) error
}

// Binder edits virtual tiles, including which peripheral backs them. An
// empty tileID unpairs.
type Binder interface {
	PairVirtualTile(ctx context.Context, virtualTileID, tileID string) error
	SaveVirtualTile(ctx context.Context, v VirtualTile) error
	DeleteVirtualTile(ctx context.Context, id string) error
}
