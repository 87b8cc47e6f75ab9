package radio

import (
	"fmt"
	"strings"
)

// baseUUIDSuffix completes a 16-bit assigned number into a 128-bit UUID.
const baseUUIDSuffix = "-0000-1000-8000-00805f9b34fb"

// Default tile GATT profile.
const (
	DefaultService               = "2220"
	DefaultReceiveCharacteristic = "2221"
	DefaultSendCharacteristic    = "2222"
)

// Profile names the GATT service and characteristics a tile exposes.
// Receive carries notifications from the tile, Send accepts commands.
type Profile struct {
	Service string
	Receive string
	Send    string
}

// DefaultProfile returns the stock tile profile in 128-bit form.
func DefaultProfile() Profile {
	return Profile{
		Service: ExpandUUID(DefaultService),
		Receive: ExpandUUID(DefaultReceiveCharacteristic),
		Send:    ExpandUUID(DefaultSendCharacteristic),
	}
}

// NewProfile builds a Profile from short or full UUIDs.
func NewProfile(service, receive, send string) (Profile, error) {
	p := Profile{
		Service: ExpandUUID(service),
		Receive: ExpandUUID(receive),
		Send:    ExpandUUID(send),
	}
	for _, u := range []string{p.Service, p.Receive, p.Send} {
		if !validUUID(u) {
			return Profile{}, fmt.Errorf("radio: invalid uuid %q", u)
		}
	}
	return p, nil
}

// ExpandUUID lowercases u and widens a 16- or 32-bit short form to 128 bits.
// Anything else is returned lowercased and trimmed.
func ExpandUUID(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	u = strings.TrimPrefix(u, "0x")
	switch len(u) {
	case 4:
		return "0000" + u + baseUUIDSuffix
	case 8:
		return u + baseUUIDSuffix
	default:
		return u
	}
}

// SameUUID compares two UUIDs in any supported form.
func SameUUID(a, b string) bool {
	return ExpandUUID(a) == ExpandUUID(b)
}

func validUUID(u string) bool {
	if len(u) != 36 {
		return false
	}
	for i, c := range u {
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
				return false
			}
		}
	}
	return true
}
