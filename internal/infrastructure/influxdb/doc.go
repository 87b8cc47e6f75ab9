// Package influxdb records tile gateway telemetry in InfluxDB 2.x.
//
// Three measurements are written:
//
//	tile_event           tags tile_id, name, kind   fields properties, count
//	tile_command         tags tile_id, name         fields properties, delivered
//	broker_connectivity  tags state                 fields up
//
// Writes are batched and non-blocking. Telemetry is optional: Connect returns
// ErrDisabled when influxdb.enabled is false and callers simply skip it.
package influxdb
