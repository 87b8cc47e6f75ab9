// Package api implements the gateway's HTTP API and WebSocket push channel.
//
// The REST surface under /api/v1 lets a local UI inspect discovered tiles,
// drive connections, send commands, manage virtual-tile pairings, switch
// the active application and point the broker bridge at a server. Gateway
// events (device changes, broker connectivity, received tile events) are
// pushed to WebSocket clients subscribed to the matching channel.
//
// # Security
//
// When api.jwt.secret is set every route except /health requires a bearer
// token. Viewers may read; operators may also act. WebSocket clients pass
// the token as the "token" query parameter since browsers cannot set
// headers on the upgrade request.
package api
