package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tiles-iot/tiles-gateway/internal/audit"
	"github.com/tiles-iot/tiles-gateway/internal/broker"
	"github.com/tiles-iot/tiles-gateway/internal/device"
	"github.com/tiles-iot/tiles-gateway/internal/infrastructure/config"
	"github.com/tiles-iot/tiles-gateway/internal/infrastructure/logging"
	"github.com/tiles-iot/tiles-gateway/internal/tiles"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Gateway is the coordinator surface the API drives.
type Gateway interface {
	Devices() []device.Peripheral
	Device(tileID string) (device.Peripheral, error)
	Connect(ctx context.Context, tileID string) error
	Disconnect(ctx context.Context, tileID string) error
	Locate(ctx context.Context, tileID string) error
	SendCommand(ctx context.Context, tileID string, cmd tiles.CommandObject) error
	ScanOnce(ctx context.Context) error
	SetActiveApp(ctx context.Context, appID string) error
	Pair(ctx context.Context, virtualTileID, tileID string) error
	SaveVirtualTile(ctx context.Context, v tiles.VirtualTile) error
	DeleteVirtualTile(ctx context.Context, id string) error
}

// Catalog is the tile catalog as the API sees it. Virtual tile edits go
// through Gateway so broker presence follows them.
type Catalog interface {
	ActiveApplication(ctx context.Context) (string, error)
	Applications(ctx context.Context) ([]tiles.Application, error)
	SaveApplication(ctx context.Context, a tiles.Application) error
	VirtualTiles(ctx context.Context, appID string) ([]tiles.VirtualTile, error)
	EventMappings(ctx context.Context) ([]tiles.EventMapping, error)
	SetEventMapping(ctx context.Context, tileID, event string, cmd tiles.CommandObject) error
	DeleteEventMapping(ctx context.Context, tileID, event string) error
}

// Broker is the broker bridge surface the API drives.
type Broker interface {
	Connect(creds broker.Credentials) error
	Connected() bool
	Scope() tiles.Scope
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Gateway Gateway
	Catalog Catalog
	Broker  Broker           // optional: broker routes answer 503 without it
	Audit   audit.Repository // optional: operator actions are not recorded without it
	Hub     *Hub             // if set, the server uses this hub instead of creating its own
	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	gateway     Gateway
	catalog     Catalog
	broker      Broker
	audit       audit.Repository
	version     string
	server      *http.Server
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}

	s := &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		gateway: deps.Gateway,
		catalog: deps.Catalog,
		broker:  deps.Broker,
		audit:   deps.Audit,
		version: deps.Version,
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}
	return s, nil
}

// Hub returns the server's WebSocket hub. It is nil before Start unless
// one was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start builds the router and starts listening in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr, "auth", s.cfg.JWT.Secret != "")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
