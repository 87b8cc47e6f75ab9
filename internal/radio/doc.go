// Package radio defines the radio transport contract consumed by the
// gateway and the tile GATT profile.
//
// The gateway never talks to a Bluetooth stack directly. A driver such as
// radio/bluez implements Transport; tests substitute an in-memory fake.
package radio
