package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tiles-iot/tiles-gateway/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Reads
			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermDeviceRead))
				r.Get("/devices", s.handleListDevices)
				r.Get("/devices/{id}", s.handleGetDevice)
				r.Get("/apps", s.handleListApplications)
				r.Get("/tiles", s.handleListVirtualTiles)
				r.Get("/mappings", s.handleListMappings)
				r.Get("/broker", s.handleBrokerStatus)
				r.Get(s.wsPath(), s.handleWebSocket)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermDeviceOperate))
				r.Post("/scan", s.handleScan)
				r.Route("/devices/{id}", func(r chi.Router) {
					r.Post("/connect", s.handleConnectDevice)
					r.Post("/disconnect", s.handleDisconnectDevice)
					r.Post("/locate", s.handleLocateDevice)
					r.Post("/command", s.handleSendCommand)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermTileManage))
				r.Post("/apps", s.handleSaveApplication)
				r.Put("/apps/active", s.handleSetActiveApp)
				r.Put("/tiles/{id}", s.handleSaveVirtualTile)
				r.Delete("/tiles/{id}", s.handleDeleteVirtualTile)
				r.Post("/tiles/{id}/pair", s.handlePairTile)
				r.Delete("/tiles/{id}/pair", s.handleUnpairTile)
				r.Put("/mappings", s.handleSetMapping)
				r.Delete("/mappings", s.handleDeleteMapping)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermBrokerManage))
				r.Post("/broker/connect", s.handleBrokerConnect)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermAuditRead))
				r.Get("/audit", s.handleListAudit)
			})
		})
	})

	return r
}

// wsPath returns the WebSocket route relative to /api/v1.
func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
	}
	if s.broker != nil {
		resp["broker_connected"] = s.broker.Connected()
	}
	writeJSON(w, http.StatusOK, resp)
}
