// Package session implements the per-peripheral connection state machine.
//
// A Session connects one tile over a radio.Transport, subscribes to its
// notification characteristic, decodes and maps every frame, and reports
// mapped events and lifecycle changes to a Listener. The coordinator owns
// sessions and guarantees at most one connected session per tile id.
package session
