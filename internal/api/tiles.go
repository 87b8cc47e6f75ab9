package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tiles-iot/tiles-gateway/internal/audit"
	"github.com/tiles-iot/tiles-gateway/internal/tiles"
)

// PairRequest is the body of POST /tiles/{id}/pair.
type PairRequest struct {
	TileID string `json:"tile_id"`
}

// ActiveAppRequest is the body of PUT /apps/active.
type ActiveAppRequest struct {
	ApplicationID string `json:"application_id"`
}

func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := s.catalog.Applications(r.Context())
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	active, err := s.catalog.ActiveApplication(r.Context())
	if err != nil && !errors.Is(err, tiles.ErrNoActiveApplication) {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applications": apps, "active": active, "count": len(apps)})
}

// handleListVirtualTiles lists the virtual tiles of the application named
// by the app query parameter, defaulting to the active one.
func (s *Server) handleListVirtualTiles(w http.ResponseWriter, r *http.Request) {
	appID := r.URL.Query().Get("app")
	if appID == "" {
		active, err := s.catalog.ActiveApplication(r.Context())
		if errors.Is(err, tiles.ErrNoActiveApplication) {
			writeConflict(w, "no active application")
			return
		}
		if err != nil {
			s.writeGatewayError(w, err)
			return
		}
		appID = active
	}

	vts, err := s.catalog.VirtualTiles(r.Context(), appID)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"application_id": appID, "tiles": vts, "count": len(vts)})
}

func (s *Server) handleSetActiveApp(w http.ResponseWriter, r *http.Request) {
	var req ActiveAppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.ApplicationID) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "application_id is required")
		return
	}

	if err := s.gateway.SetActiveApp(r.Context(), req.ApplicationID); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	s.record(r, audit.ActionSetActiveApp, req.ApplicationID, nil)
	writeJSON(w, http.StatusOK, map[string]any{"active": req.ApplicationID})
}

func (s *Server) handlePairTile(w http.ResponseWriter, r *http.Request) {
	var req PairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.TileID) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "tile_id is required")
		return
	}
	s.pair(w, r, req.TileID)
}

func (s *Server) handleUnpairTile(w http.ResponseWriter, r *http.Request) {
	s.pair(w, r, "")
}

func (s *Server) pair(w http.ResponseWriter, r *http.Request, tileID string) {
	vtID := chi.URLParam(r, "id")
	if err := s.gateway.Pair(r.Context(), vtID, tileID); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	if tileID == "" {
		s.record(r, audit.ActionUnpair, vtID, nil)
	} else {
		s.record(r, audit.ActionPair, vtID, map[string]any{"tile_id": tileID})
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": vtID, "tile_id": tileID})
}

// VirtualTileRequest is the body of PUT /tiles/{id}.
type VirtualTileRequest struct {
	Name          string `json:"name"`
	ApplicationID string `json:"application_id"`
	TileID        string `json:"tile_id"`
}

// MappingRequest is the body of PUT /mappings. An empty TileID maps the
// event for every tile.
type MappingRequest struct {
	TileID  string              `json:"tile_id"`
	Event   string              `json:"event"`
	Command tiles.CommandObject `json:"command"`
}

func (s *Server) handleSaveApplication(w http.ResponseWriter, r *http.Request) {
	var app tiles.Application
	if err := json.NewDecoder(r.Body).Decode(&app); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := s.catalog.SaveApplication(r.Context(), app); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	s.record(r, audit.ActionSaveApplication, app.ID, map[string]any{"name": app.Name})
	writeJSON(w, http.StatusCreated, app)
}

func (s *Server) handleSaveVirtualTile(w http.ResponseWriter, r *http.Request) {
	var req VirtualTileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	vt := tiles.VirtualTile{
		ID:            chi.URLParam(r, "id"),
		Name:          req.Name,
		ApplicationID: req.ApplicationID,
		TileID:        req.TileID,
	}
	if err := s.gateway.SaveVirtualTile(r.Context(), vt); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	s.record(r, audit.ActionSaveVirtualTile, vt.ID, map[string]any{
		"application_id": vt.ApplicationID,
		"tile_id":        vt.TileID,
	})
	writeJSON(w, http.StatusOK, vt)
}

func (s *Server) handleDeleteVirtualTile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.gateway.DeleteVirtualTile(r.Context(), id); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	s.record(r, audit.ActionDeleteVirtualTile, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := s.catalog.EventMappings(r.Context())
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	if mappings == nil {
		mappings = []tiles.EventMapping{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"mappings": mappings, "count": len(mappings)})
}

func (s *Server) handleSetMapping(w http.ResponseWriter, r *http.Request) {
	var req MappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := s.catalog.SetEventMapping(r.Context(), req.TileID, req.Event, req.Command); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	s.record(r, audit.ActionSetMapping, req.TileID, map[string]any{
		"event":   req.Event,
		"command": req.Command.Text(),
	})
	writeJSON(w, http.StatusOK, tiles.EventMapping{TileID: req.TileID, Event: req.Event, Command: req.Command})
}

// handleDeleteMapping removes the mapping named by the tile_id and event
// query parameters. An absent tile_id names the wildcard row.
func (s *Server) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tileID, event := q.Get("tile_id"), q.Get("event")
	if event == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "event is required")
		return
	}
	if err := s.catalog.DeleteEventMapping(r.Context(), tileID, event); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	s.record(r, audit.ActionDeleteMapping, tileID, map[string]any{"event": event})
	w.WriteHeader(http.StatusNoContent)
}
