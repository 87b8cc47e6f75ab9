package tiles

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const activeAppKey = "active_application"

// SQLiteCatalog implements Catalog and Binder on the gateway's local
// SQLite database.
type SQLiteCatalog struct {
	db *sql.DB

	// splitEvents enables the "a,b,c" -> {tileID, [a b c]} fallback.
	splitEvents bool
}

// NewSQLiteCatalog creates a catalog on an open, migrated database.
func NewSQLiteCatalog(db *sql.DB, splitEvents bool) *SQLiteCatalog {
	return &SQLiteCatalog{db: db, splitEvents: splitEvents}
}

// BoundVirtualTiles lists the virtual tiles in appID bound to tileID, by name.
func (c *SQLiteCatalog) BoundVirtualTiles(ctx context.Context, appID, tileID string) ([]VirtualTile, error) {
	if appID == "" || tileID == "" {
		return nil, nil
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, application_id, COALESCE(tile_id, '')
		FROM virtual_tiles
		WHERE application_id = ? AND tile_id = ?
		ORDER BY name, id`, appID, tileID)
	if err != nil {
		return nil, fmt.Errorf("querying bound virtual tiles: %w", err)
	}
	return scanVirtualTiles(rows)
}

// VirtualTiles lists every virtual tile of appID, bound or not.
func (c *SQLiteCatalog) VirtualTiles(ctx context.Context, appID string) ([]VirtualTile, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, application_id, COALESCE(tile_id, '')
		FROM virtual_tiles
		WHERE application_id = ?
		ORDER BY name, id`, appID)
	if err != nil {
		return nil, fmt.Errorf("querying virtual tiles: %w", err)
	}
	return scanVirtualTiles(rows)
}

func scanVirtualTiles(rows *sql.Rows) ([]VirtualTile, error) {
	defer rows.Close()

	var out []VirtualTile
	for rows.Next() {
		var v VirtualTile
		if err := rows.Scan(&v.ID, &v.Name, &v.ApplicationID, &v.TileID); err != nil {
			return nil, fmt.Errorf("scanning virtual tile: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating virtual tiles: %w", err)
	}
	return out, nil
}

// MapEvent looks up a tile-specific mapping, then the wildcard row (empty
// tile_id), then the comma-split fallback when enabled. An empty event never maps.
func (c *SQLiteCatalog) MapEvent(ctx context.Context, tileID, event string) (CommandObject, bool, error) {
	if event == "" {
		return CommandObject{}, false, nil
	}

	var name, props string
	err := c.db.QueryRowContext(ctx, `
		SELECT name, properties
		FROM event_mappings
		WHERE event = ? AND tile_id IN (?, '')
		ORDER BY tile_id DESC
		LIMIT 1`, event, tileID).Scan(&name, &props)
	switch {
	case err == nil:
		var cmd CommandObject
		cmd.Name = name
		if err := json.Unmarshal([]byte(props), &cmd.Properties); err != nil {
			return CommandObject{}, false, fmt.Errorf("decoding mapping for %q: %w", event, err)
		}
		if len(cmd.Properties) == 0 {
			return CommandObject{}, false, nil
		}
		return cmd, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return CommandObject{}, false, fmt.Errorf("querying event mapping: %w", err)
	}

	if !c.splitEvents {
		return CommandObject{}, false, nil
	}
	return SplitEvent(tileID, event)
}

// SplitEvent maps "a,b,c" to {name: tileID, properties: [a b c]}, dropping
// empty fields. It reports false when nothing is left.
func SplitEvent(tileID, event string) (CommandObject, bool, error) {
	var props []string
	for _, p := range strings.Split(event, ",") {
		if p = strings.TrimSpace(p); p != "" {
			props = append(props, p)
		}
	}
	if len(props) == 0 || tileID == "" {
		return CommandObject{}, false, nil
	}
	return CommandObject{Name: tileID, Properties: props}, true, nil
}

// SetEventMapping stores (or replaces) the mapping for event. An empty tileID
// stores a wildcard mapping that applies to every tile.
func (c *SQLiteCatalog) SetEventMapping(ctx context.Context, tileID, event string, cmd CommandObject) error {
	if strings.TrimSpace(event) == "" {
		return fmt.Errorf("%w: event is required", ErrInvalidMapping)
	}
	if err := cmd.Validate(); err != nil {
		return err
	}
	props, err := json.Marshal(cmd.Properties)
	if err != nil {
		return fmt.Errorf("encoding mapping properties: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO event_mappings (tile_id, event, name, properties) VALUES (?, ?, ?, ?)
		ON CONFLICT (tile_id, event) DO UPDATE SET name = excluded.name, properties = excluded.properties`,
		tileID, event, cmd.Name, string(props))
	if err != nil {
		return fmt.Errorf("storing event mapping: %w", err)
	}
	return nil
}

// EventMappings lists every stored mapping, wildcard rows first.
func (c *SQLiteCatalog) EventMappings(ctx context.Context) ([]EventMapping, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT tile_id, event, name, properties
		FROM event_mappings
		ORDER BY tile_id, event`)
	if err != nil {
		return nil, fmt.Errorf("querying event mappings: %w", err)
	}
	defer rows.Close()

	var out []EventMapping
	for rows.Next() {
		var (
			m     EventMapping
			props string
		)
		if err := rows.Scan(&m.TileID, &m.Event, &m.Command.Name, &props); err != nil {
			return nil, fmt.Errorf("scanning event mapping: %w", err)
		}
		if err := json.Unmarshal([]byte(props), &m.Command.Properties); err != nil {
			return nil, fmt.Errorf("decoding mapping for %q: %w", m.Event, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event mappings: %w", err)
	}
	return out, nil
}

// DeleteEventMapping removes the mapping for tileID and event.
func (c *SQLiteCatalog) DeleteEventMapping(ctx context.Context, tileID, event string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM event_mappings WHERE tile_id = ? AND event = ?`, tileID, event)
	if err != nil {
		return fmt.Errorf("deleting event mapping: %w", err)
	}
	return requireRow(res, ErrMappingNotFound, event)
}

// ActiveApplication returns the selected application id.
func (c *SQLiteCatalog) ActiveApplication(ctx context.Context) (string, error) {
	var id string
	err := c.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, activeAppKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && id == "") {
		return "", ErrNoActiveApplication
	}
	if err != nil {
		return "", fmt.Errorf("reading active application: %w", err)
	}
	return id, nil
}

// SetActiveApplication selects appID, which must exist.
func (c *SQLiteCatalog) SetActiveApplication(ctx context.Context, appID string) error {
	if _, err := c.Application(ctx, appID); err != nil {
		return err
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, activeAppKey, appID)
	if err != nil {
		return fmt.Errorf("storing active application: %w", err)
	}
	return nil
}

// Application returns one application by id.
func (c *SQLiteCatalog) Application(ctx context.Context, id string) (Application, error) {
	var a Application
	err := c.db.QueryRowContext(ctx, `SELECT id, name FROM applications WHERE id = ?`, id).Scan(&a.ID, &a.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Application{}, fmt.Errorf("%w: %s", ErrApplicationNotFound, id)
	}
	if err != nil {
		return Application{}, fmt.Errorf("querying application: %w", err)
	}
	return a, nil
}

// Applications lists all applications by name.
func (c *SQLiteCatalog) Applications(ctx context.Context) ([]Application, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, name FROM applications ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying applications: %w", err)
	}
	defer rows.Close()

	var out []Application
	for rows.Next() {
		var a Application
		if err := rows.Scan(&a.ID, &a.Name); err != nil {
			return nil, fmt.Errorf("scanning application: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveApplication inserts or renames an application.
func (c *SQLiteCatalog) SaveApplication(ctx context.Context, a Application) error {
	if strings.TrimSpace(a.ID) == "" || strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: id and name are required", ErrInvalidApplication)
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO applications (id, name) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name`, a.ID, a.Name)
	if err != nil {
		return fmt.Errorf("storing application: %w", err)
	}
	return nil
}

// SaveVirtualTile inserts or updates a virtual tile, including its binding.
// The owning application must exist.
func (c *SQLiteCatalog) SaveVirtualTile(ctx context.Context, v VirtualTile) error {
	if strings.TrimSpace(v.ID) == "" || strings.TrimSpace(v.Name) == "" || v.ApplicationID == "" {
		return fmt.Errorf("%w: id, name and application_id are required", ErrInvalidVirtualTile)
	}
	if _, err := c.Application(ctx, v.ApplicationID); err != nil {
		return err
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO virtual_tiles (id, name, application_id, tile_id) VALUES (?, ?, ?, NULLIF(?, ''))
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			application_id = excluded.application_id,
			tile_id = excluded.tile_id,
			updated_at = datetime('now')`,
		v.ID, v.Name, v.ApplicationID, v.TileID)
	if err != nil {
		return fmt.Errorf("storing virtual tile: %w", err)
	}
	return nil
}

// PairVirtualTile binds virtualTileID to tileID, or unbinds it when tileID is empty.
func (c *SQLiteCatalog) PairVirtualTile(ctx context.Context, virtualTileID, tileID string) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE virtual_tiles SET tile_id = NULLIF(?, ''), updated_at = datetime('now')
		WHERE id = ?`, tileID, virtualTileID)
	if err != nil {
		return fmt.Errorf("pairing virtual tile: %w", err)
	}
	return requireRow(res, ErrVirtualTileNotFound, virtualTileID)
}

// DeleteVirtualTile removes a virtual tile.
func (c *SQLiteCatalog) DeleteVirtualTile(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM virtual_tiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting virtual tile: %w", err)
	}
	return requireRow(res, ErrVirtualTileNotFound, id)
}

// requireRow returns notFound when res touched no row.
func requireRow(res sql.Result, notFound error, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return nil
}
