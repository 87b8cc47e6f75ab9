package bluez

import (
	"bytes"
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestDevicePath(t *testing.T) {
	got := devicePath("hci0", "aa:bb:cc:dd:ee:ff")
	want := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	if got != want {
		t.Errorf("devicePath() = %q, want %q", got, want)
	}
}

func TestSanitizeAdapterName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "hci0", false},
		{"hci1", "hci1", false},
		{"../hci0", "", true},
		{"hci0/dev", "", true},
		{"HCI0", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := sanitizeAdapterName(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("sanitizeAdapterName(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("sanitizeAdapterName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateAddress(t *testing.T) {
	valid := []string{"AA:BB:CC:DD:EE:FF", "00:1a:7d:da:71:13"}
	invalid := []string{"", "AA:BB:CC:DD:EE", "AA:BB:CC:DD:EE:GG", "AABBCCDDEEFF", "AA:BB:CC:DD:EE:FFF"}

	for _, a := range valid {
		if err := validateAddress(a); err != nil {
			t.Errorf("validateAddress(%q) error = %v", a, err)
		}
	}
	for _, a := range invalid {
		if err := validateAddress(a); err == nil {
			t.Errorf("validateAddress(%q) error = nil, want error", a)
		}
	}
}

func TestAdvertisementFromProps(t *testing.T) {
	props := map[string]dbus.Variant{
		"Address": dbus.MakeVariant("AA:BB:CC:DD:EE:01"),
		"Alias":   dbus.MakeVariant("Tile_7"),
		"RSSI":    dbus.MakeVariant(int16(-71)),
		"UUIDs":   dbus.MakeVariant([]string{"00002220-0000-1000-8000-00805f9b34fb"}),
	}

	adv, ok := advertisementFromProps(props)
	if !ok {
		t.Fatal("advertisementFromProps() ok = false")
	}
	if adv.TransportID != "AA:BB:CC:DD:EE:01" || adv.Name != "Tile_7" || adv.RSSI != -71 {
		t.Errorf("advertisementFromProps() = %+v", adv)
	}
	if !advertisesAny(adv.Services, []string{"2220"}) {
		t.Error("advertisesAny() = false for short service uuid")
	}
	if advertisesAny(adv.Services, []string{"180f"}) {
		t.Error("advertisesAny() = true for unrelated service")
	}

	if _, ok := advertisementFromProps(map[string]dbus.Variant{}); ok {
		t.Error("advertisementFromProps() ok = true without address")
	}
}

func TestFindCharacteristic(t *testing.T) {
	dev := devicePath("hci0", "AA:BB:CC:DD:EE:01")
	svc := dev + "/service000c"
	other := dev + "/service0010"

	objects := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		svc: {bluezGattService: {"UUID": dbus.MakeVariant("00002220-0000-1000-8000-00805f9b34fb")}},
		svc + "/char000d": {bluezGattChar: {
			"UUID":    dbus.MakeVariant("00002221-0000-1000-8000-00805f9b34fb"),
			"Service": dbus.MakeVariant(svc),
		}},
		other: {bluezGattService: {"UUID": dbus.MakeVariant("0000180f-0000-1000-8000-00805f9b34fb")}},
		other + "/char0011": {bluezGattChar: {
			"UUID":    dbus.MakeVariant("00002222-0000-1000-8000-00805f9b34fb"),
			"Service": dbus.MakeVariant(other),
		}},
	}

	got, ok := findCharacteristic(objects, dev, "2220", "2221")
	if !ok || got != svc+"/char000d" {
		t.Errorf("findCharacteristic() = %q, %v", got, ok)
	}
	if _, ok := findCharacteristic(objects, dev, "2220", "2222"); ok {
		t.Error("findCharacteristic() matched a characteristic of another service")
	}
	if _, ok := findCharacteristic(objects, devicePath("hci0", "AA:BB:CC:DD:EE:02"), "2220", "2221"); ok {
		t.Error("findCharacteristic() matched under another device")
	}
}

func TestNotificationSignals(t *testing.T) {
	dev := devicePath("hci0", "AA:BB:CC:DD:EE:01")
	char := dev + "/service000c/char000d"

	valueSig := &dbus.Signal{
		Path: char,
		Name: dbusProperties + ".PropertiesChanged",
		Body: []any{bluezGattChar, map[string]dbus.Variant{"Value": dbus.MakeVariant([]byte("tap\n"))}, []string{}},
	}
	got, ok := notificationValue(valueSig, char)
	if !ok || !bytes.Equal(got, []byte("tap\n")) {
		t.Errorf("notificationValue() = %q, %v", got, ok)
	}
	if _, ok := notificationValue(valueSig, dev); ok {
		t.Error("notificationValue() matched a different path")
	}

	dropSig := &dbus.Signal{
		Path: dev,
		Name: dbusProperties + ".PropertiesChanged",
		Body: []any{bluezDevice1, map[string]dbus.Variant{"Connected": dbus.MakeVariant(false)}, []string{}},
	}
	if !deviceDropped(dropSig, dev) {
		t.Error("deviceDropped() = false for Connected=false")
	}

	upSig := &dbus.Signal{
		Path: dev,
		Name: dbusProperties + ".PropertiesChanged",
		Body: []any{bluezDevice1, map[string]dbus.Variant{"Connected": dbus.MakeVariant(true)}, []string{}},
	}
	if deviceDropped(upSig, dev) {
		t.Error("deviceDropped() = true for Connected=true")
	}
	if deviceDropped(valueSig, dev) {
		t.Error("deviceDropped() = true for a characteristic signal")
	}
}
