package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/stomplink/internal/audit"
	"github.com/nerrad567/stomplink/internal/infrastructure/config"
	"github.com/nerrad567/stomplink/internal/infrastructure/logging"
	"github.com/nerrad567/stomplink/internal/journal"
	"github.com/nerrad567/stomplink/internal/stompclient"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Link is the view of the STOMP link the API exposes.
// *stompclient.Client satisfies it.
type Link interface {
	State() stompclient.ConnectionState
	Stats() stompclient.Stats
	ServerHeaders() (stompclient.Headers, bool)
	Activate()
	Deactivate(ctx context.Context) error
	WatchState(fn func(stompclient.ConnectionState)) (stop func())
	WatchErrors(fn func(error)) (stop func())
}

// JournalReader is the query side of the journal.
// *journal.SQLiteRepository satisfies it.
type JournalReader interface {
	RecentEvents(ctx context.Context, bridgeID string, limit int) ([]journal.Event, error)
	MessageCounts(ctx context.Context, bridgeID string, since time.Time) ([]journal.Count, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Link     Link
	Journal  JournalReader    // optional; journal endpoints return 503 without it
	Audit    audit.Repository // optional; link control is not audited without it
	BridgeID string
	Version  string
}

// Server is the HTTP status API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secret   string
	logger   *logging.Logger
	link     Link
	journal  JournalReader
	bridgeID string
	version  string
	hub      *Hub

	auditRepo    audit.Repository
	auditCh      chan *audit.AuditLog
	auditDrained chan struct{}

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	stops    []func()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, link, JWT secret)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Link == nil {
		return nil, fmt.Errorf("link is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		secret:   deps.Security.JWT.Secret,
		logger:   deps.Logger,
		link:     deps.Link,
		journal:  deps.Journal,
		bridgeID: deps.BridgeID,
		version:  deps.Version,
		hub:      NewHub(deps.WS, deps.Logger),
	}
	if deps.Audit != nil {
		s.auditRepo = deps.Audit
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
	}
	s.hub.SetSnapshot(ChannelLinkState, func() any {
		return s.linkStatus(s.link.State())
	})
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays link state changes and errors to it,
// binds the listener and serves in a background goroutine. The server can
// be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the hub
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listening on %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}

	srvCtx, cancel := context.WithCancel(ctx)
	go s.hub.Run(srvCtx)
	if s.auditCh != nil {
		s.auditDrained = make(chan struct{})
		go func() {
			defer close(s.auditDrained)
			s.drainAuditLog(srvCtx)
		}()
	}

	stops := s.relayLinkEvents()

	server := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.mu.Lock()
	s.server = server
	s.listener = ln
	s.cancel = cancel
	s.stops = stops
	s.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.mu.Lock()
	server, cancel, stops := s.server, s.cancel, s.stops
	s.server, s.cancel, s.stops = nil, nil, nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	for _, stop := range stops {
		stop()
	}
	cancel()

	ctx, cancelShutdown := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancelShutdown()

	s.logger.Info("API server shutting down")
	err := server.Shutdown(ctx)
	if s.auditDrained != nil {
		<-s.auditDrained
	}
	if err != nil {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// relayLinkEvents forwards link state changes and errors to the hub.
func (s *Server) relayLinkEvents() []func() {
	stopState := s.link.WatchState(func(state stompclient.ConnectionState) {
		s.hub.Broadcast(ChannelLinkState, s.linkStatus(state))
	})
	stopErrors := s.link.WatchErrors(func(err error) {
		s.hub.Broadcast(ChannelLinkError, map[string]string{
			"bridge_id": s.bridgeID,
			"error":     err.Error(),
		})
	})
	return []func(){stopState, stopErrors}
}
