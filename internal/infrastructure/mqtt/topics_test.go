package mqtt

import (
	"errors"
	"testing"
)

func TestTopics(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"event", topics.Event("alice", "app-1", "Tile_01"), "tiles/evt/alice/app-1/Tile_01"},
		{"command", topics.Command("alice", "app-1", "Tile_01"), "tiles/cmd/alice/app-1/Tile_01"},
		{"active", topics.Active("alice", "app-1", "Tile_01"), "tiles/evt/alice/app-1/Tile_01/active"},
		{"name", topics.Name("alice", "app-1", "Tile_01"), "tiles/evt/alice/app-1/Tile_01/name"},
		{"all commands", topics.AllCommands("alice", "app-1"), "tiles/cmd/alice/app-1/+"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s topic = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestParseTopic(t *testing.T) {
	tests := []struct {
		topic   string
		want    TopicPath
		wantErr bool
	}{
		{
			topic: "tiles/cmd/alice/app-1/Tile_01",
			want:  TopicPath{Kind: KindCommand, User: "alice", ApplicationID: "app-1", DeviceID: "Tile_01"},
		},
		{
			topic: "tiles/evt/alice/app-1/Tile_01/active",
			want:  TopicPath{Kind: KindEvent, User: "alice", ApplicationID: "app-1", DeviceID: "Tile_01", Leaf: LeafActive},
		},
		{topic: "tiles/cmd/alice/app-1", wantErr: true},
		{topic: "other/cmd/alice/app-1/Tile_01", wantErr: true},
		{topic: "tiles/xyz/alice/app-1/Tile_01", wantErr: true},
		{topic: "tiles/cmd/alice/app-1/+", wantErr: true},
		{topic: "tiles/cmd//app-1/Tile_01", wantErr: true},
		{topic: "tiles/evt/alice/app-1/Tile_01/other", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseTopic(tt.topic)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidTopic) {
				t.Errorf("ParseTopic(%q) error = %v, want ErrInvalidTopic", tt.topic, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTopic(%q) error = %v", tt.topic, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTopic(%q) = %+v, want %+v", tt.topic, got, tt.want)
		}
	}
}

func TestParseTopic_RoundTrip(t *testing.T) {
	topic := Topics{}.Name("bob", "app-9", "Tile_7")
	p, err := ParseTopic(topic)
	if err != nil {
		t.Fatalf("ParseTopic() error = %v", err)
	}
	if got := (Topics{}).Name(p.User, p.ApplicationID, p.DeviceID); got != topic {
		t.Errorf("rebuilt topic = %q, want %q", got, topic)
	}
}
