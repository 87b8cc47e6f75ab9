package radio

import (
	"context"
	"time"
)

// Advertisement is one scan result.
type Advertisement struct {
	TransportID string
	Name        string
	RSSI        int16
	Services    []string
}

// Transport is the capability a radio driver supplies to the gateway.
//
// All methods block until the operation completes or ctx is done. Drivers
// must be safe for concurrent use across different transport ids.
type Transport interface {
	// IsEnabled reports whether the adapter is powered.
	IsEnabled(ctx context.Context) (bool, error)

	// Enable powers the adapter on.
	Enable(ctx context.Context) error

	// Scan starts discovery filtered to peripherals advertising any of
	// services. Results are delivered on the returned channel, which is
	// closed when the window elapses or ctx is done.
	Scan(ctx context.Context, services []string, window time.Duration) (<-chan Advertisement, error)

	// Connect opens a connection. A nil error means connected.
	Connect(ctx context.Context, transportID string) error

	// Disconnect closes the connection.
	Disconnect(ctx context.Context, transportID string) error

	// StartNotification subscribes to a characteristic. Frames arrive on the
	// returned channel in order. The channel is closed when the peripheral
	// drops the connection or ctx is cancelled.
	StartNotification(ctx context.Context, transportID, service, characteristic string) (<-chan []byte, error)

	// WriteWithoutResponse writes data to a characteristic.
	WriteWithoutResponse(ctx context.Context, transportID, service, characteristic string, data []byte) error
}
