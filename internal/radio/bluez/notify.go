package bluez

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
)

// StartNotification enables notifications on a characteristic and streams
// the values it reports.
//
// BlueZ delivers notifications as PropertiesChanged signals carrying a new
// "Value". The stream also watches the device object and ends when its
// "Connected" property turns false, which is how a peripheral-initiated
// disconnect shows up.
func (d *Driver) StartNotification(ctx context.Context, address, service, characteristic string) (<-chan []byte, error) {
	charPath, err := d.characteristic(ctx, address, service, characteristic)
	if err != nil {
		return nil, err
	}
	devPath := devicePath(d.adapter, address)

	rules := []string{propertiesChangedRule(charPath), propertiesChangedRule(devPath)}
	for _, rule := range rules {
		if call := d.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.AddMatch", 0, rule); call.Err != nil {
			d.removeMatches(rules)
			return nil, fmt.Errorf("bluez: adding signal match: %w", call.Err)
		}
	}

	sigCh := make(chan *dbus.Signal, signalBuffer)
	d.conn.Signal(sigCh)

	char := d.conn.Object(bluezBus, charPath)
	if call := char.CallWithContext(ctx, bluezGattChar+".StartNotify", 0); call.Err != nil {
		d.conn.RemoveSignal(sigCh)
		d.removeMatches(rules)
		return nil, fmt.Errorf("bluez: starting notifications on %s: %w", address, call.Err)
	}

	out := make(chan []byte, signalBuffer)
	go func() {
		defer close(out)
		defer d.removeMatches(rules)
		defer d.conn.RemoveSignal(sigCh)
		defer d.stopNotify(charPath)

		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-sigCh:
				if !ok {
					return
				}
				if deviceDropped(sig, devPath) {
					d.logger.Debug("bluez: peripheral dropped", "address", address)
					return
				}
				value, ok := notificationValue(sig, charPath)
				if !ok {
					continue
				}
				select {
				case out <- value:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (d *Driver) stopNotify(charPath dbus.ObjectPath) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d.conn.Object(bluezBus, charPath).CallWithContext(ctx, bluezGattChar+".StopNotify", 0)
}

func (d *Driver) removeMatches(rules []string) {
	for _, rule := range rules {
		d.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule)
	}
}

func propertiesChangedRule(path dbus.ObjectPath) string {
	return fmt.Sprintf(
		"type='signal',sender='%s',interface='%s',member='PropertiesChanged',path='%s'",
		bluezBus, dbusProperties, path,
	)
}

// changedProperties returns the changed-properties map of a
// PropertiesChanged signal for iface emitted on path.
func changedProperties(sig *dbus.Signal, path dbus.ObjectPath, iface string) (map[string]dbus.Variant, bool) {
	if sig == nil || sig.Path != path || sig.Name != dbusProperties+".PropertiesChanged" {
		return nil, false
	}
	if len(sig.Body) < 2 {
		return nil, false
	}
	if name, ok := sig.Body[0].(string); !ok || name != iface {
		return nil, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	return changed, ok
}

func notificationValue(sig *dbus.Signal, charPath dbus.ObjectPath) ([]byte, bool) {
	changed, ok := changedProperties(sig, charPath, bluezGattChar)
	if !ok {
		return nil, false
	}
	v, ok := changed["Value"]
	if !ok {
		return nil, false
	}
	value, ok := v.Value().([]byte)
	return value, ok
}

func deviceDropped(sig *dbus.Signal, devPath dbus.ObjectPath) bool {
	changed, ok := changedProperties(sig, devPath, bluezDevice1)
	if !ok {
		return false
	}
	v, ok := changed["Connected"]
	if !ok {
		return false
	}
	connected, ok := v.Value().(bool)
	return ok && !connected
}
