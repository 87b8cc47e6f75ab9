// Package auth issues and validates the bearer tokens that guard the
// gateway's HTTP API.
//
// Tokens are HS256-signed JWTs carrying a subject and a role. Two roles
// exist: viewers may read device and tile state, operators may also
// connect devices, send commands and change pairings. Role checks are a
// static lookup, no database is involved.
package auth
