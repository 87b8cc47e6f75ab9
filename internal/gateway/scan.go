package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tiles-iot/tiles-gateway/internal/device"
	"github.com/tiles-iot/tiles-gateway/internal/radio"
	"github.com/tiles-iot/tiles-gateway/internal/tiles"
)

func (c *Coordinator) scanLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.ScanInterval)
	defer ticker.Stop()

	for {
		c.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sweep runs ScanOnce unless a previous sweep is still running.
func (c *Coordinator) sweep(ctx context.Context) {
	if err := c.ScanOnce(ctx); err != nil {
		switch {
		case errors.Is(err, ErrScanInProgress):
			c.logger.Debug("skipping scan tick, previous sweep still running")
		case errors.Is(err, context.Canceled):
		default:
			c.logger.Warn("scan failed", "error", err)
		}
	}
}

// ScanOnce runs one discovery sweep.
//
// Stale registry entries are cleared first. If the adapter is off an
// attempt is made to enable it; failing that, a bluetooth.disabled event is
// emitted. Recognised tiles are upserted and, when auto-connect is on and
// the tile backs a virtual tile of the active application, connected.
func (c *Coordinator) ScanOnce(ctx context.Context) error {
	if !c.scanning.CompareAndSwap(false, true) {
		return ErrScanInProgress
	}
	defer c.scanning.Store(false)

	if removed := c.opts.Registry.ClearDisconnected(); removed > 0 {
		c.notify(Event{Kind: EventDevicesChanged})
	}

	if err := c.ensureEnabled(ctx); err != nil {
		return err
	}

	results, err := c.opts.Transport.Scan(ctx, []string{c.opts.Profile.Service}, c.opts.ScanWindow)
	if err != nil {
		return fmt.Errorf("starting scan: %w", err)
	}

	appID := c.activeApp(ctx)
	queued := make(map[string]bool)
	var candidates []string
	found := 0
	for adv := range results {
		tileID, ok := radio.TileID(adv.Name, c.opts.NamePrefix)
		if !ok {
			continue
		}
		p, err := c.opts.Registry.UpsertDiscovered(device.Peripheral{
			TileID:      tileID,
			TransportID: adv.TransportID,
			Name:        adv.Name,
			RSSI:        adv.RSSI,
		})
		if err != nil {
			c.logger.Debug("ignoring advertisement", "name", adv.Name, "error", err)
			continue
		}
		found++
		c.notify(Event{Kind: EventDevicesChanged, TileID: tileID})

		if queued[tileID] || !c.shouldAutoConnect(ctx, appID, p) {
			continue
		}
		queued[tileID] = true
		candidates = append(candidates, tileID)
	}

	// Connect after the window closes so the latest transport id is used.
	for _, tileID := range candidates {
		c.goTracked(func() { c.autoConnect(tileID) })
	}

	c.logger.Debug("scan complete", "tiles", found)
	return ctx.Err()
}

func (c *Coordinator) ensureEnabled(ctx context.Context) error {
	enabled, err := c.opts.Transport.IsEnabled(ctx)
	if err == nil && enabled {
		return nil
	}
	if err != nil {
		c.logger.Debug("reading adapter state failed", "error", err)
	}

	if err := c.opts.Transport.Enable(ctx); err != nil {
		c.notify(Event{Kind: EventBluetoothDisabled, Error: err.Error()})
		return fmt.Errorf("%w: %w", ErrBluetoothDisabled, err)
	}
	c.logger.Info("bluetooth adapter enabled")
	return nil
}

func (c *Coordinator) activeApp(ctx context.Context) string {
	appID, err := c.opts.Catalog.ActiveApplication(ctx)
	if err != nil {
		if !errors.Is(err, tiles.ErrNoActiveApplication) {
			c.logger.Warn("reading active application failed", "error", err)
		}
		return ""
	}
	return appID
}

// shouldAutoConnect reports whether p is idle and bound to a virtual tile
// of appID.
func (c *Coordinator) shouldAutoConnect(ctx context.Context, appID string, p device.Peripheral) bool {
	if !c.opts.AutoConnect || appID == "" || p.State != device.StateDisconnected {
		return false
	}
	if s := c.session(p.TileID); s != nil && s.State() != device.StateDisconnected {
		return false
	}
	vts, err := c.opts.Catalog.BoundVirtualTiles(ctx, appID, p.TileID)
	if err != nil {
		c.logger.Warn("looking up bindings failed", "tile_id", p.TileID, "error", err)
		return false
	}
	return len(vts) > 0
}

func (c *Coordinator) autoConnect(tileID string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.connectBudget())
	defer cancel()
	if err := c.Connect(ctx, tileID); err != nil {
		c.logger.Debug("auto-connect failed", "tile_id", tileID, "error", err)
	}
}

// connectBudget bounds one background connect including session teardown.
func (c *Coordinator) connectBudget() time.Duration {
	d := c.opts.ConnectTimeout
	if d <= 0 {
		d = 10 * time.Second
	}
	return 2 * d
}
