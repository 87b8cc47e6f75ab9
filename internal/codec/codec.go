// Package codec converts between the text carried over a tile's radio link
// and raw characteristic bytes.
//
// Peripherals append one terminator byte (conventionally '\n') to every
// notification; DecodeEvent strips it. Outbound commands are written without
// a terminator.
package codec

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/tiles-iot/tiles-gateway/internal/tiles"
)

// Terminator is the framing byte peripherals append to each notification.
const Terminator byte = '\n'

// EncodeCommand maps each UTF-16 code unit of text to one byte, preserving
// order. The link is lossless for Latin-1 text (U+0000 to U+00FF). Wider
// units keep only their low byte, so a rune outside the BMP becomes two
// bytes, one per surrogate. Bytes that are not valid UTF-8 pass through
// unchanged.
func EncodeCommand(text string) []byte {
	out := make([]byte, 0, len(text))
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			out = append(out, text[i])
		case r >= 0x10000:
			hi, lo := utf16.EncodeRune(r)
			out = append(out, byte(hi), byte(lo)) //nolint:gosec // truncation is the wire format
		default:
			out = append(out, byte(r)) //nolint:gosec // truncation is the wire format
		}
		i += size
	}
	return out
}

// EncodeCommandObject encodes cmd in its peripheral-facing text form.
func EncodeCommandObject(cmd tiles.CommandObject) []byte {
	return EncodeCommand(cmd.Text())
}

// DecodeEvent reads frame as one character per byte, drops the trailing
// terminator byte and trims surrounding whitespace. An empty frame yields "".
func DecodeEvent(frame []byte) string {
	if len(frame) == 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(len(frame) - 1)
	for _, c := range frame[:len(frame)-1] {
		b.WriteRune(rune(c))
	}
	return strings.TrimSpace(b.String())
}

// Frame appends the terminator to payload, as a peripheral would.
func Frame(payload []byte) []byte {
	out := make([]byte, len(payload)+1)
	copy(out, payload)
	out[len(payload)] = Terminator
	return out
}
