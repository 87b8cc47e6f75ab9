package mqtt

import (
	"fmt"
	"strings"
)

// TopicRoot is the first segment of every tiles topic.
const TopicRoot = "tiles"

// Kind is the direction segment of a tiles topic.
type Kind string

const (
	// KindEvent carries tile events from the gateway to the cloud.
	KindEvent Kind = "evt"

	// KindCommand carries commands from the cloud to a tile.
	KindCommand Kind = "cmd"
)

// Leaf suffixes published under an event topic.
const (
	LeafActive = "active"
	LeafName   = "name"
)

// Topics provides builders for the tiles topic scheme:
//
//	tiles/{evt|cmd}/{user}/{applicationId}/{deviceId}[/active|/name]
type Topics struct{}

// Device returns the base topic for one device in one direction.
//
// Example: tiles/evt/alice/app-1/Tile_01
func (Topics) Device(kind Kind, user, appID, deviceID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", TopicRoot, kind, user, appID, deviceID)
}

// Event returns the topic carrying a device's retained events.
//
// Example: tiles/evt/alice/app-1/Tile_01
func (t Topics) Event(user, appID, deviceID string) string {
	return t.Device(KindEvent, user, appID, deviceID)
}

// Command returns the topic the gateway subscribes to for a device.
//
// Example: tiles/cmd/alice/app-1/Tile_01
func (t Topics) Command(user, appID, deviceID string) string {
	return t.Device(KindCommand, user, appID, deviceID)
}

// Active returns the retained "true"/"false" presence topic.
//
// Example: tiles/evt/alice/app-1/Tile_01/active
func (t Topics) Active(user, appID, deviceID string) string {
	return t.Event(user, appID, deviceID) + "/" + LeafActive
}

// Name returns the retained display-name topic.
//
// Example: tiles/evt/alice/app-1/Tile_01/name
func (t Topics) Name(user, appID, deviceID string) string {
	return t.Event(user, appID, deviceID) + "/" + LeafName
}

// AllCommands returns a wildcard matching every command for a user and application.
//
// Example: tiles/cmd/alice/app-1/+
func (t Topics) AllCommands(user, appID string) string {
	return t.Command(user, appID, "+")
}

// TopicPath is a parsed tiles topic.
type TopicPath struct {
	Kind          Kind
	User          string
	ApplicationID string
	DeviceID      string
	Leaf          string // "", LeafActive or LeafName
}

// ParseTopic splits a concrete (wildcard-free) tiles topic into its segments.
func ParseTopic(topic string) (TopicPath, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 && len(parts) != 6 {
		return TopicPath{}, fmt.Errorf("%w: %q has %d segments", ErrInvalidTopic, topic, len(parts))
	}
	if parts[0] != TopicRoot {
		return TopicPath{}, fmt.Errorf("%w: %q does not start with %s/", ErrInvalidTopic, topic, TopicRoot)
	}

	p := TopicPath{
		Kind:          Kind(parts[1]),
		User:          parts[2],
		ApplicationID: parts[3],
		DeviceID:      parts[4],
	}
	if p.Kind != KindEvent && p.Kind != KindCommand {
		return TopicPath{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidTopic, parts[1])
	}
	for _, seg := range parts[2:5] {
		if seg == "" || strings.ContainsAny(seg, "+#") {
			return TopicPath{}, fmt.Errorf("%w: empty or wildcard segment in %q", ErrInvalidTopic, topic)
		}
	}
	if len(parts) == 6 {
		p.Leaf = parts[5]
		if p.Leaf != LeafActive && p.Leaf != LeafName {
			return TopicPath{}, fmt.Errorf("%w: unknown leaf %q", ErrInvalidTopic, p.Leaf)
		}
	}
	return p, nil
}
