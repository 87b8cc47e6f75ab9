package radio

import "strings"

// TileID derives the logical tile id from an advertised name.
//
// Tiles advertise as "<prefix><sep><id>" such as "Tile_42" or "Tile-42";
// the part after the prefix and any separator is the id. The match on the
// prefix is case-insensitive. ok is false when name does not carry the
// prefix or nothing follows it.
func TileID(name, prefix string) (id string, ok bool) {
	name = strings.TrimSpace(name)
	if prefix == "" || len(name) <= len(prefix) {
		return "", false
	}
	if !strings.EqualFold(name[:len(prefix)], prefix) {
		return "", false
	}
	id = strings.TrimLeft(name[len(prefix):], "_- :")
	if id == "" {
		return "", false
	}
	return id, true
}
