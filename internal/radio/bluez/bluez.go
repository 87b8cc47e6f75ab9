package bluez

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/tiles-iot/tiles-gateway/internal/radio"
)

const (
	bluezBus          = "org.bluez"
	bluezAdapter1     = "org.bluez.Adapter1"
	bluezDevice1      = "org.bluez.Device1"
	bluezGattService  = "org.bluez.GattService1"
	bluezGattChar     = "org.bluez.GattCharacteristic1"
	dbusProperties    = "org.freedesktop.DBus.Properties"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"

	scanPollInterval     = 500 * time.Millisecond
	resolvePollInterval  = 200 * time.Millisecond
	servicesResolveLimit = 15 * time.Second
	signalBuffer         = 64
)

// Logger is the logging interface used by the driver.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Driver implements radio.Transport on top of the BlueZ D-Bus API.
//
// Transport ids are device MAC addresses ("AA:BB:CC:DD:EE:FF").
type Driver struct {
	conn        *dbus.Conn
	adapter     string
	adapterPath dbus.ObjectPath
	logger      Logger

	mu    sync.Mutex
	chars map[charKey]dbus.ObjectPath
}

type charKey struct {
	address        string
	service        string
	characteristic string
}

var _ radio.Transport = (*Driver)(nil)

// New connects to the system bus and returns a driver for adapter.
// An empty adapter selects hci0.
func New(adapter string) (*Driver, error) {
	name, err := sanitizeAdapterName(adapter)
	if err != nil {
		return nil, err
	}

	// The system bus connection is shared and cached by godbus; it is never
	// closed here.
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connecting to system bus: %w", err)
	}

	return &Driver{
		conn:        conn,
		adapter:     name,
		adapterPath: dbus.ObjectPath("/org/bluez/" + name),
		logger:      noopLogger{},
		chars:       make(map[charKey]dbus.ObjectPath),
	}, nil
}

// SetLogger sets the driver logger.
func (d *Driver) SetLogger(l Logger) {
	if l != nil {
		d.logger = l
	}
}

// Adapter returns the adapter name in use.
func (d *Driver) Adapter() string {
	return d.adapter
}

// IsEnabled reports whether the adapter is powered.
func (d *Driver) IsEnabled(ctx context.Context) (bool, error) {
	powered, err := getProperty[bool](ctx, d.conn, d.adapterPath, bluezAdapter1, "Powered")
	if err != nil {
		return false, fmt.Errorf("bluez: reading %s power state: %w", d.adapter, err)
	}
	return powered, nil
}

// Enable powers the adapter on.
func (d *Driver) Enable(ctx context.Context) error {
	obj := d.conn.Object(bluezBus, d.adapterPath)
	call := obj.CallWithContext(ctx, dbusProperties+".Set", 0, bluezAdapter1, "Powered", dbus.MakeVariant(true))
	if call.Err != nil {
		return fmt.Errorf("bluez: powering on %s: %w", d.adapter, call.Err)
	}
	return nil
}

// Scan runs LE discovery filtered by services for window.
//
// BlueZ exposes results as Device1 objects; they are polled through the
// object manager and each address is reported once per scan.
func (d *Driver) Scan(ctx context.Context, services []string, window time.Duration) (<-chan radio.Advertisement, error) {
	adapter := d.conn.Object(bluezBus, d.adapterPath)

	filter := map[string]dbus.Variant{
		"Transport": dbus.MakeVariant("le"),
	}
	if len(services) > 0 {
		expanded := make([]string, len(services))
		for i, s := range services {
			expanded[i] = radio.ExpandUUID(s)
		}
		filter["UUIDs"] = dbus.MakeVariant(expanded)
	}

	if call := adapter.CallWithContext(ctx, bluezAdapter1+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		return nil, fmt.Errorf("bluez: setting discovery filter: %w", call.Err)
	}
	if call := adapter.CallWithContext(ctx, bluezAdapter1+".StartDiscovery", 0); call.Err != nil {
		return nil, fmt.Errorf("bluez: starting discovery: %w", call.Err)
	}

	out := make(chan radio.Advertisement)
	go d.pollDiscovered(ctx, services, window, out)
	return out, nil
}

func (d *Driver) pollDiscovered(ctx context.Context, services []string, window time.Duration, out chan<- radio.Advertisement) {
	defer close(out)
	defer func() {
		// Discovery must stop even when ctx is already cancelled.
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		d.conn.Object(bluezBus, d.adapterPath).CallWithContext(stopCtx, bluezAdapter1+".StopDiscovery", 0)
	}()

	scanCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	ticker := time.NewTicker(scanPollInterval)
	defer ticker.Stop()

	reported := make(map[string]bool)
	for {
		select {
		case <-scanCtx.Done():
			return
		case <-ticker.C:
		}

		objects, err := d.managedObjects(scanCtx)
		if err != nil {
			d.logger.Warn("bluez: listing objects during scan", "error", err)
			continue
		}
		for path, ifaces := range objects {
			props, ok := ifaces[bluezDevice1]
			if !ok || !underPath(path, d.adapterPath) {
				continue
			}
			adv, ok := advertisementFromProps(props)
			if !ok || reported[adv.TransportID] || !advertisesAny(adv.Services, services) {
				continue
			}
			select {
			case out <- adv:
				reported[adv.TransportID] = true
			case <-scanCtx.Done():
				return
			}
		}
	}
}

// Connect opens a connection and waits for GATT services to resolve.
func (d *Driver) Connect(ctx context.Context, address string) error {
	if err := validateAddress(address); err != nil {
		return err
	}
	path := devicePath(d.adapter, address)
	device := d.conn.Object(bluezBus, path)

	if call := device.CallWithContext(ctx, bluezDevice1+".Connect", 0); call.Err != nil {
		return fmt.Errorf("bluez: connecting %s: %w", address, call.Err)
	}
	if err := d.waitServicesResolved(ctx, path); err != nil {
		d.disconnectQuietly(address)
		return fmt.Errorf("bluez: resolving services of %s: %w", address, err)
	}

	d.logger.Debug("bluez: connected", "address", address)
	return nil
}

func (d *Driver) waitServicesResolved(ctx context.Context, path dbus.ObjectPath) error {
	deadline := time.NewTimer(servicesResolveLimit)
	defer deadline.Stop()
	ticker := time.NewTicker(resolvePollInterval)
	defer ticker.Stop()

	for {
		resolved, err := getProperty[bool](ctx, d.conn, path, bluezDevice1, "ServicesResolved")
		if err == nil && resolved {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("timed out after %v", servicesResolveLimit)
		case <-ticker.C:
		}
	}
}

// Disconnect closes the connection to address.
func (d *Driver) Disconnect(ctx context.Context, address string) error {
	if err := validateAddress(address); err != nil {
		return err
	}
	d.forgetCharacteristics(address)

	device := d.conn.Object(bluezBus, devicePath(d.adapter, address))
	if call := device.CallWithContext(ctx, bluezDevice1+".Disconnect", 0); call.Err != nil {
		return fmt.Errorf("bluez: disconnecting %s: %w", address, call.Err)
	}
	return nil
}

func (d *Driver) disconnectQuietly(address string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Disconnect(ctx, address); err != nil {
		d.logger.Debug("bluez: disconnect after failure", "address", address, "error", err)
	}
}

// WriteWithoutResponse writes data to a characteristic using a write command.
func (d *Driver) WriteWithoutResponse(ctx context.Context, address, service, characteristic string, data []byte) error {
	path, err := d.characteristic(ctx, address, service, characteristic)
	if err != nil {
		return err
	}
	obj := d.conn.Object(bluezBus, path)
	call := obj.CallWithContext(ctx, bluezGattChar+".WriteValue", 0, data, map[string]dbus.Variant{
		"type": dbus.MakeVariant("command"),
	})
	if call.Err != nil {
		return fmt.Errorf("bluez: writing %s on %s: %w", characteristic, address, call.Err)
	}
	return nil
}

func (d *Driver) managedObjects(ctx context.Context) (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := d.conn.Object(bluezBus, "/").CallWithContext(ctx, dbusObjectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, call.Err
	}
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("decoding managed objects: %w", err)
	}
	return objects, nil
}

// characteristic resolves and caches the object path of a characteristic.
func (d *Driver) characteristic(ctx context.Context, address, service, characteristic string) (dbus.ObjectPath, error) {
	if err := validateAddress(address); err != nil {
		return "", err
	}
	key := charKey{address: address, service: radio.ExpandUUID(service), characteristic: radio.ExpandUUID(characteristic)}

	d.mu.Lock()
	path, ok := d.chars[key]
	d.mu.Unlock()
	if ok {
		return path, nil
	}

	objects, err := d.managedObjects(ctx)
	if err != nil {
		return "", fmt.Errorf("bluez: listing objects: %w", err)
	}
	path, ok = findCharacteristic(objects, devicePath(d.adapter, address), key.service, key.characteristic)
	if !ok {
		return "", fmt.Errorf("%w: %s/%s on %s", radio.ErrCharacteristicNotFound, service, characteristic, address)
	}

	d.mu.Lock()
	d.chars[key] = path
	d.mu.Unlock()
	return path, nil
}

func (d *Driver) forgetCharacteristics(address string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k := range d.chars {
		if k.address == address {
			delete(d.chars, k)
		}
	}
}

// getProperty reads a property from a BlueZ object.
func getProperty[T any](ctx context.Context, conn *dbus.Conn, path dbus.ObjectPath, iface, property string) (T, error) {
	var zero T
	var v dbus.Variant
	call := conn.Object(bluezBus, path).CallWithContext(ctx, dbusProperties+".Get", 0, iface, property)
	if call.Err != nil {
		return zero, call.Err
	}
	if err := call.Store(&v); err != nil {
		return zero, err
	}
	val, ok := v.Value().(T)
	if !ok {
		return zero, fmt.Errorf("property %s.%s has unexpected type %T", iface, property, v.Value())
	}
	return val, nil
}
