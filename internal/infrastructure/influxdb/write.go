package influxdb

import (
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementTileEvent   = "tile_event"
	MeasurementTileCommand = "tile_command"
	MeasurementBroker      = "broker_connectivity"
)

// WriteTileEvent records an event decoded from a tile and published upstream.
func (c *Client) WriteTileEvent(tileID, name string, properties []string) {
	c.writePoint(tileEventPoint(tileID, name, properties, time.Now()))
}

// WriteTileCommand records a command routed (or not) to a tile.
func (c *Client) WriteTileCommand(tileID, name string, properties []string, delivered bool) {
	c.writePoint(tileCommandPoint(tileID, name, properties, delivered, time.Now()))
}

// WriteBrokerState records a broker connectivity transition.
func (c *Client) WriteBrokerState(state string, up bool) {
	c.writePoint(brokerStatePoint(state, up, time.Now()))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

// tileEventPoint tags by tile and event name; the first property is the
// event subtype ("tap", "tilt") and is tagged for grouping.
func tileEventPoint(tileID, name string, properties []string, ts time.Time) *write.Point {
	tags := map[string]string{
		"tile_id": tileID,
		"name":    name,
	}
	if len(properties) > 0 {
		tags["kind"] = properties[0]
	}
	return write.NewPoint(MeasurementTileEvent, tags, map[string]interface{}{
		"properties": strings.Join(properties, ","),
		"count":      1,
	}, ts)
}

func tileCommandPoint(tileID, name string, properties []string, delivered bool, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementTileCommand, map[string]string{
		"tile_id": tileID,
		"name":    name,
	}, map[string]interface{}{
		"properties": strings.Join(properties, ","),
		"delivered":  delivered,
	}, ts)
}

func brokerStatePoint(state string, up bool, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementBroker, map[string]string{
		"state": state,
	}, map[string]interface{}{
		"up": up,
	}, ts)
}
