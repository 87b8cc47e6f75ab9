package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tiles-iot/tiles-gateway/internal/audit"
	"github.com/tiles-iot/tiles-gateway/internal/gateway"
	"github.com/tiles-iot/tiles-gateway/internal/session"
	"github.com/tiles-iot/tiles-gateway/internal/tiles"
)

// CommandRequest is the body of POST /devices/{id}/command. Either
// Properties or Text ("led,on,red") must be given.
type CommandRequest struct {
	Properties []string `json:"properties,omitempty"`
	Text       string   `json:"text,omitempty"`
}

func (c CommandRequest) command(tileID string) (tiles.CommandObject, bool) {
	props := c.Properties
	if len(props) == 0 && strings.TrimSpace(c.Text) != "" {
		props = strings.Split(strings.TrimSpace(c.Text), ",")
	}
	if len(props) == 0 {
		return tiles.CommandObject{}, false
	}
	return tiles.CommandObject{Name: tileID, Properties: props}, true
}

// handleListDevices returns every peripheral the registry knows. The
// optional state query parameter filters by connection state.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.gateway.Devices()
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if string(d.State) == state {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.gateway.Device(chi.URLParam(r, "id"))
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleScan runs one discovery sweep and returns the resulting device list.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if err := s.gateway.ScanOnce(r.Context()); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	s.record(r, audit.ActionScan, "", nil)
	devices := s.gateway.Devices()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

func (s *Server) handleConnectDevice(w http.ResponseWriter, r *http.Request) {
	tileID := chi.URLParam(r, "id")
	if err := s.gateway.Connect(r.Context(), tileID); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	s.record(r, audit.ActionConnect, tileID, nil)
	s.writeDevice(w, tileID)
}

func (s *Server) handleDisconnectDevice(w http.ResponseWriter, r *http.Request) {
	tileID := chi.URLParam(r, "id")
	if err := s.gateway.Disconnect(r.Context(), tileID); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	s.record(r, audit.ActionDisconnect, tileID, nil)
	writeJSON(w, http.StatusOK, map[string]any{"tile_id": tileID, "status": "disconnected"})
}

func (s *Server) handleLocateDevice(w http.ResponseWriter, r *http.Request) {
	tileID := chi.URLParam(r, "id")
	if err := s.gateway.Locate(r.Context(), tileID); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	s.record(r, audit.ActionLocate, tileID, nil)
	writeJSON(w, http.StatusAccepted, map[string]any{"tile_id": tileID, "status": "locating"})
}

func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	tileID := chi.URLParam(r, "id")

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	cmd, ok := req.command(tileID)
	if !ok {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "properties or text is required")
		return
	}

	if err := s.gateway.SendCommand(r.Context(), tileID, cmd); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	s.record(r, audit.ActionCommand, tileID, map[string]any{"command": cmd.Text()})
	writeJSON(w, http.StatusAccepted, map[string]any{"tile_id": tileID, "command": cmd.Text()})
}

func (s *Server) writeDevice(w http.ResponseWriter, tileID string) {
	d, err := s.gateway.Device(tileID)
	if err != nil {
		// Connected then dropped before we could read it back.
		writeJSON(w, http.StatusOK, map[string]any{"tile_id": tileID})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// writeGatewayError maps coordinator, session and catalog errors to HTTP
// responses.
func (s *Server) writeGatewayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tiles.ErrInvalidApplication),
		errors.Is(err, tiles.ErrInvalidVirtualTile),
		errors.Is(err, tiles.ErrInvalidMapping),
		errors.Is(err, tiles.ErrInvalidCommand):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, gateway.ErrUnknownTile),
		errors.Is(err, tiles.ErrApplicationNotFound),
		errors.Is(err, tiles.ErrVirtualTileNotFound),
		errors.Is(err, tiles.ErrMappingNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, session.ErrNotConnected),
		errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrClosed),
		errors.Is(err, gateway.ErrScanInProgress):
		writeConflict(w, err.Error())
	case errors.Is(err, gateway.ErrBluetoothDisabled),
		errors.Is(err, gateway.ErrNoBinder):
		writeUnavailable(w, err.Error())
	case errors.Is(err, session.ErrConnectFailed),
		errors.Is(err, session.ErrWriteFailed):
		writeBadGateway(w, err.Error())
	default:
		s.logger.Error("gateway operation failed", "error", err)
		writeInternalError(w, "gateway operation failed")
	}
}
