package bluez

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/tiles-iot/tiles-gateway/internal/radio"
)

// devicePath converts a MAC address into a BlueZ object path.
// Example: "AA:BB:CC:DD:EE:FF" → "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"
func devicePath(adapter, address string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s/dev_%s", adapter, strings.ReplaceAll(strings.ToUpper(address), ":", "_")))
}

func underPath(path, parent dbus.ObjectPath) bool {
	return strings.HasPrefix(string(path), string(parent)+"/")
}

// sanitizeAdapterName validates the adapter name so it cannot escape
// /org/bluez.
func sanitizeAdapterName(adapter string) (string, error) {
	if adapter == "" {
		return "hci0", nil
	}
	clean := filepath.Base(adapter)
	if clean != adapter {
		return "", fmt.Errorf("bluez: invalid adapter name %q", adapter)
	}
	for _, c := range clean {
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_') {
			return "", fmt.Errorf("bluez: invalid adapter name %q", adapter)
		}
	}
	return clean, nil
}

func validateAddress(address string) error {
	parts := strings.Split(address, ":")
	if len(parts) != 6 {
		return fmt.Errorf("bluez: invalid address %q", address)
	}
	for _, p := range parts {
		if len(p) != 2 || !isHex(p[0]) || !isHex(p[1]) {
			return fmt.Errorf("bluez: invalid address %q", address)
		}
	}
	return nil
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// advertisementFromProps builds a scan result from Device1 properties.
func advertisementFromProps(props map[string]dbus.Variant) (radio.Advertisement, bool) {
	var adv radio.Advertisement

	addr, ok := props["Address"].Value().(string)
	if !ok || addr == "" {
		return adv, false
	}
	adv.TransportID = addr

	if name, ok := props["Name"].Value().(string); ok {
		adv.Name = name
	} else if alias, ok := props["Alias"].Value().(string); ok {
		adv.Name = alias
	}
	if rssi, ok := props["RSSI"].Value().(int16); ok {
		adv.RSSI = rssi
	}
	if uuids, ok := props["UUIDs"].Value().([]string); ok {
		adv.Services = uuids
	}
	return adv, true
}

// advertisesAny reports whether got contains any of want. An empty want
// matches everything.
func advertisesAny(got, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		for _, g := range got {
			if radio.SameUUID(g, w) {
				return true
			}
		}
	}
	return false
}

// findCharacteristic locates a characteristic by service and characteristic
// UUID beneath a device object.
func findCharacteristic(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant, device dbus.ObjectPath, service, characteristic string) (dbus.ObjectPath, bool) {
	services := make(map[dbus.ObjectPath]bool)
	for path, ifaces := range objects {
		props, ok := ifaces[bluezGattService]
		if !ok || !underPath(path, device) {
			continue
		}
		if uuid, ok := props["UUID"].Value().(string); ok && radio.SameUUID(uuid, service) {
			services[path] = true
		}
	}

	for path, ifaces := range objects {
		props, ok := ifaces[bluezGattChar]
		if !ok || !underPath(path, device) {
			continue
		}
		uuid, ok := props["UUID"].Value().(string)
		if !ok || !radio.SameUUID(uuid, characteristic) {
			continue
		}
		svc, _ := props["Service"].Value().(dbus.ObjectPath)
		if services[svc] {
			return path, true
		}
	}
	return "", false
}
