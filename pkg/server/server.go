package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// AuthFunc authenticates an upgrade request. A nil account admits the
// client anonymously; an error rejects it with 401.
type AuthFunc func(r *http.Request) (*AccountID, error)

// Server accepts WebSocket connections, admits them through a Gate and
// runs one actor per admitted connection.
type Server struct {
	config   *ServerConfig
	gate     *Gate
	registry *Registry
	handler  Handler
	authFunc AuthFunc

	trustedProxies *trustedProxies
	upgrader       websocket.Upgrader
	nextID         atomic.Uint64

	httpServer *http.Server
	logger     *slog.Logger
	metrics    *Metrics
}

// New creates a Server that runs handler for every admitted connection.
// Unset config fields take their defaults.
func New(config *ServerConfig, handler Handler) *Server {
	config = config.withDefaults()

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	if err := config.ValidateConfig(); err != nil {
		logger.Error("config validation failed", "error", err)
	}

	return &Server{
		config:         config,
		gate:           NewGate(config.MaxConnections),
		registry:       NewRegistry(config.SessionConfig, handler, logger, config.Metrics),
		handler:        handler,
		trustedProxies: newTrustedProxies(config.TrustedProxies, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		logger:  logger,
		metrics: config.Metrics,
	}
}

// SetAuthFunc sets the authentication function run before admission.
func (s *Server) SetAuthFunc(fn AuthFunc) {
	s.authFunc = fn
}

// Handler returns the HTTP routes of the server: the WebSocket endpoint at
// /ws, a health probe at /healthz and, when configured, /metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/ws", s.HandleWebSocket)
	r.Get("/healthz", s.handleHealth)
	if s.config.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.config.MetricsHandler)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// HandleWebSocket admits, upgrades and spawns an actor for one connection.
// Admission is decided before the upgrade so rejected clients get a plain
// HTTP status.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := clientAddr(r, s.trustedProxies)
	logger := s.logger.With("client_ip", ip.String())

	var account *AccountID
	if s.authFunc != nil {
		acct, err := s.authFunc(r)
		if err != nil {
			logger.Info("unauthorized connection", "error", err)
			s.metrics.admission(admissionUnauthorized)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		account = acct
	}

	permit, err := s.gate.TryAdmit()
	switch {
	case errors.Is(err, ErrRateLimited):
		logger.Warn("connection rejected", "error", err, "in_use", s.gate.InUse())
		s.metrics.admission(admissionRateLimited)
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	case err != nil:
		logger.Error("connection rejected", "error", err)
		s.metrics.admission(admissionSemaphoreClosed)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// The upgrader replies with 400 on a malformed handshake.
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		permit.Release()
		logger.Warn("websocket upgrade failed", "error", errors.Join(ErrHandshake, err))
		s.metrics.admission(admissionHandshakeError)
		return
	}
	conn.SetReadLimit(s.config.SessionConfig.MaxMessageSize)
	s.metrics.admission(admissionAccepted)

	id := ClientID(s.nextID.Add(1))
	sender := s.registry.Spawn(id, conn, account, permit)
	logger.Info("client connected", "client_id", id)

	go func() {
		if err := forwardFrames(context.Background(), conn, sender, logger.With("client_id", id)); err != nil {
			logger.Debug("forwarding ended", "client_id", id, "error", err)
		}
	}()
}

// Registry returns the registry of live actors.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Gate returns the admission gate.
func (s *Server) Gate() *Gate {
	return s.gate
}

// Config returns the server configuration.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// Run starts the HTTP server and blocks until it fails or the process
// receives SIGINT or SIGTERM, in which case it shuts down gracefully.
func (s *Server) Run() error {
	if err := s.config.ValidateConfig(); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.config.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", s.config.Address, "max_connections", s.config.MaxConnections)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-shutdown:
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown stops accepting connections, then terminates every actor.
// Actors still running after ShutdownTimeout are aborted.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			errs = append(errs, err)
		}
	}
	if err := s.registry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.gate.Close()

	s.logger.Info("server shutdown complete")
	return errors.Join(errs...)
}
