package tiles

import (
	"fmt"
	"strings"
)

// CommandObject is a named event or command with ordered string properties.
// The first property is conventionally the subtype ("tap", "tilt", "led").
//
// On the broker it travels as JSON {"name": ..., "properties": [...]}; on the
// radio link it travels as the properties joined by commas (see Text).
type CommandObject struct {
	Name       string   `json:"name"`
	Properties []string `json:"properties"`
}

// Validate checks the broker-facing form: a non-empty name.
func (c CommandObject) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCommand)
	}
	return nil
}

// Text returns the peripheral-facing text form, e.g. "led,on,red".
func (c CommandObject) Text() string {
	return strings.Join(c.Properties, ",")
}

// WithName returns a copy of c carrying name, leaving c untouched.
func (c CommandObject) WithName(name string) CommandObject {
	props := make([]string, len(c.Properties))
	copy(props, c.Properties)
	return CommandObject{Name: name, Properties: props}
}

// VirtualTile is an application-level pairing record. TileID is the logical
// tile id of the bound peripheral; empty means unbound.
type VirtualTile struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ApplicationID string `json:"application_id"`
	TileID        string `json:"tile_id,omitempty"`
}

// Bound reports whether the virtual tile is paired with a peripheral.
func (v VirtualTile) Bound() bool {
	return v.TileID != ""
}

// EventMapping translates an event string from TileID into Command. An
// empty TileID applies to every tile without a mapping of its own.
type EventMapping struct {
	TileID  string        `json:"tile_id"`
	Event   string        `json:"event"`
	Command CommandObject `json:"command"`
}

// Application owns a set of virtual tiles.
type Application struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Scope is the "current user and application" context that selects topics
// and virtual-tile bindings. It is passed explicitly instead of being read
// from global state.
type Scope struct {
	User          string `json:"user"`
	ApplicationID string `json:"application_id"`
}

// Complete reports whether both segments needed to build a topic are set.
func (s Scope) Complete() bool {
	return s.User != "" && s.ApplicationID != ""
}
