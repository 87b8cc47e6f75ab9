package codec

import (
	"bytes"
	"testing"

	"github.com/tiles-iot/tiles-gateway/internal/tiles"
)

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
	}{
		{"", []byte{}},
		{"led,on,red", []byte("led,on,red")},
		{"é", []byte{0xE9}},
		{"Ł", []byte{0x41}},
		{"\xff", []byte{0xFF}},
		{"a\xffb", []byte{'a', 0xFF, 'b'}},
		{"😀", []byte{0x3D, 0x00}},
	}

	for _, tt := range tests {
		if got := EncodeCommand(tt.in); !bytes.Equal(got, tt.want) {
			t.Errorf("EncodeCommand(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEncodeCommandObject(t *testing.T) {
	cmd := tiles.CommandObject{Name: "T1", Properties: []string{"led", "off"}}
	if got := string(EncodeCommandObject(cmd)); got != "led,off" {
		t.Errorf("EncodeCommandObject() = %q, want led,off", got)
	}
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  string
	}{
		{"nil", nil, ""},
		{"terminator only", []byte{'\n'}, ""},
		{"tap", []byte("tap\n"), "tap"},
		{"any terminator byte", []byte("tap\x00"), "tap"},
		{"surrounding whitespace", []byte("  tilt,left \r\n"), "tilt,left"},
		{"single byte", []byte("x"), ""},
		{"high bytes", []byte{0xE9, '\n'}, "é"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeEvent(tt.frame); got != tt.want {
				t.Errorf("DecodeEvent(%q) = %q, want %q", tt.frame, got, tt.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	inputs := []string{"tap", "tilt,left", "led,on,red", "a", "x,y,z,1,2,3", "ÿ"}

	for _, s := range inputs {
		if got := DecodeEvent(Frame(EncodeCommand(s))); got != s {
			t.Errorf("DecodeEvent(Frame(EncodeCommand(%q))) = %q", s, got)
		}
	}
}

func TestFrame_DoesNotAlias(t *testing.T) {
	payload := make([]byte, 3, 8)
	copy(payload, "tap")
	framed := Frame(payload)
	framed[0] = 'X'
	if payload[0] != 't' {
		t.Error("Frame() aliases its input")
	}
}
