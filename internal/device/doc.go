// Package device provides the peripheral registry for the tiles gateway.
//
// The registry is the single source of truth for which tiles are in radio
// range, their connection state and the mapping from a tile's logical id to
// its current transport id.
//
// # Lifecycle
//
//	scan ──UpsertDiscovered──▶ disconnected ──MarkConnecting──▶ connecting
//	                                ▲                              │
//	                                │                        MarkConnected
//	                        MarkDisconnected                       ▼
//	                                └──────── disconnecting ◀── connected
//
// Before each scan sweep ClearDisconnected drops every entry that is neither
// connected nor connecting, so tiles that left range do not linger.
package device
