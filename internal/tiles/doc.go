// Package tiles holds the gateway's domain vocabulary and the tile metadata
// catalog.
//
// A physical tile (peripheral) is identified by its logical tile id. Cloud
// applications see virtual tiles; each virtual tile may be bound to one
// physical tile, and a physical tile may back several virtual tiles. The
// Catalog answers the three questions the bridge needs at runtime:
//
//   - which virtual tiles does this physical tile back in the active application
//   - what command does this raw event string stand for
//   - which application is active
//
// SQLiteCatalog is the local implementation backed by the embedded migrations.
package tiles
