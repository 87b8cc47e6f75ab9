// Package broker bridges tiles to the MQTT broker.
//
// One Bridge owns one physical connection at a time and many logical device
// registrations on it. For every virtual tile bound to a connected
// peripheral it keeps a retained presence marker, a retained display name
// and a command subscription:
//
//	tiles/evt/{user}/{app}/{tile}/active   "true" | "false" (retained)
//	tiles/evt/{user}/{app}/{tile}/name     display name     (retained)
//	tiles/evt/{user}/{app}/{tile}          {"name","properties"} events (retained)
//	tiles/cmd/{user}/{app}/{tile}          inbound commands
//
// Reconnection after a drop is left to the MQTT client. The bridge only
// reports connectivity changes and enforces a bound on the initial
// connection attempt.
package broker
