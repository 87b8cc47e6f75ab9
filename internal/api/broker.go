package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tiles-iot/tiles-gateway/internal/audit"
	"github.com/tiles-iot/tiles-gateway/internal/broker"
)

// handleBrokerStatus reports whether the broker bridge is connected and the
// scope its topics are built from.
func (s *Server) handleBrokerStatus(w http.ResponseWriter, _ *http.Request) {
	if s.broker == nil {
		writeUnavailable(w, "broker bridge not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connected": s.broker.Connected(),
		"scope":     s.broker.Scope(),
	})
}

// handleBrokerConnect (re)connects the broker bridge with the posted
// credentials. The outcome arrives asynchronously as a server.* event.
func (s *Server) handleBrokerConnect(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		writeUnavailable(w, "broker bridge not configured")
		return
	}

	var creds broker.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.broker.Connect(creds); err != nil {
		if errors.Is(err, broker.ErrInvalidCredentials) {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		s.logger.Error("broker connect failed", "host", creds.Host, "error", err)
		writeBadGateway(w, "broker connect failed")
		return
	}

	s.record(r, audit.ActionBrokerConnect, creds.Host, map[string]any{"port": creds.Port, "user": creds.User})
	s.logger.Info("broker connect requested", "host", creds.Host, "port", creds.Port, "user", creds.User)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "connecting"})
}
