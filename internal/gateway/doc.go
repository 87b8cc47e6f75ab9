// Package gateway implements the bridge coordinator.
//
// The Coordinator reacts to scan discoveries, session lifecycle changes and
// broker traffic:
//
//   - discovery of a recognised tile upserts the device registry and, for
//     tiles bound to the active application, opens a session
//   - a connected session is registered with the broker bridge
//   - a disconnected or failed session is unregistered and stale registry
//     entries are cleared
//   - an inbound broker command is encoded and written to the tile's
//     connected session, or dropped when there is none
//
// Every change visible to a user is reported to a Notifier as an Event.
package gateway
