// Package audit records operator actions taken through the gateway API
// (connecting tiles, sending commands, changing pairings, pointing the
// broker bridge elsewhere) in the local SQLite catalog, and lists them
// back newest first.
package audit
