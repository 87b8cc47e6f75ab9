package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/tiles-iot/tiles-gateway/internal/codec"
)

const (
	locateOn  = "led,on,red"
	locateOff = "led,off"
)

// Locate lights the tile's LED red for the locate duration so it can be
// found. A tile without a connected session gets a transient radio
// connection that is released afterwards. Locate returns once the LED is
// on; switching it off happens in the background.
func (c *Coordinator) Locate(ctx context.Context, tileID string) error {
	p, ok := c.opts.Registry.Find(tileID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTile, tileID)
	}

	if s := c.session(tileID); s != nil && s.Connected() {
		if err := s.SendCommand(ctx, codec.EncodeCommand(locateOn)); err != nil {
			return fmt.Errorf("locate %s: %w", tileID, err)
		}
		c.goTracked(func() {
			c.sleep(c.opts.LocateDuration)
			offCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			if err := s.SendCommand(offCtx, codec.EncodeCommand(locateOff)); err != nil {
				c.logger.Debug("locate: switching LED off failed", "tile_id", tileID, "error", err)
			}
		})
		return nil
	}

	if err := c.opts.Transport.Connect(ctx, p.TransportID); err != nil {
		return fmt.Errorf("locate %s: connecting: %w", tileID, err)
	}
	if err := c.write(ctx, p.TransportID, locateOn); err != nil {
		c.releaseTransient(p.TransportID, tileID)
		return fmt.Errorf("locate %s: %w", tileID, err)
	}

	c.goTracked(func() {
		c.sleep(c.opts.LocateDuration)
		offCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := c.write(offCtx, p.TransportID, locateOff); err != nil {
			c.logger.Debug("locate: switching LED off failed", "tile_id", tileID, "error", err)
		}
		// A session may have connected meanwhile; it owns the link now.
		if s := c.session(tileID); s != nil && s.Connected() {
			return
		}
		c.releaseTransient(p.TransportID, tileID)
	})
	return nil
}

func (c *Coordinator) write(ctx context.Context, transportID, text string) error {
	return c.opts.Transport.WriteWithoutResponse(ctx, transportID, c.opts.Profile.Service, c.opts.Profile.Send, codec.EncodeCommand(text))
}

func (c *Coordinator) releaseTransient(transportID, tileID string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.opts.Transport.Disconnect(ctx, transportID); err != nil {
		c.logger.Debug("locate: releasing connection failed", "tile_id", tileID, "error", err)
	}
}

// sleep waits for d or until the coordinator stops.
func (c *Coordinator) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-c.done:
	}
}
