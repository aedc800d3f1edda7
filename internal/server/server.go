package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/rickgao/etron/internal/auth"
	"github.com/rickgao/etron/internal/connection"
	"github.com/rickgao/etron/internal/metrics"
	"github.com/rickgao/etron/internal/presence"
	"github.com/rickgao/etron/internal/router"
	"github.com/rickgao/etron/internal/version"
)

const healthPresenceTimeout = 2 * time.Second

// Route paths.
const (
	ProtoPath   = "/proto/v1"
	HealthPath  = "/checkhealth"
	AuthPrefix  = "/auth"
	MetricsPath = "/metrics"
)

// Config holds HTTP listener settings.
type Config struct {
	Addr            string
	ReadBufferSize  int
	WriteBufferSize int
	AllowedOrigins  []string // Empty allows any origin
	MetricsPath     string   // Empty disables /metrics
	ShutdownTimeout time.Duration
}

// DefaultConfig returns defaults for local development.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		MetricsPath:     MetricsPath,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Deps are the components the server fronts. Auth and Metrics are optional.
type Deps struct {
	Spawner connection.Spawner
	Router  router.Router
	Auth    *auth.Handler
	Metrics *metrics.Metrics

	// Presence, when set, adds the cluster-wide online count to health.
	Presence presence.Lister
}

// Server is the relay's HTTP front end.
type Server struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	upgrader websocket.Upgrader
	started  time.Time
	handler  http.Handler
	http     *http.Server
}

// HealthStatus is the /checkhealth response body.
type HealthStatus struct {
	Uptime   string `json:"uptime"`
	Started  string `json:"started"`
	Version  string `json:"version"`
	Sessions int    `json:"sessions"`
	Online   *int   `json:"online,omitempty"`
}

// New creates a server. Routes are built immediately so Handler can be
// used without Start.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With("component", "server"),
		started: time.Now().UTC(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     s.checkOrigin,
	}
	s.handler = s.routes()
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()

	var proto http.Handler = http.HandlerFunc(s.handleProto)
	if s.deps.Auth != nil {
		proto = s.deps.Auth.Middleware(proto)
		s.deps.Auth.Routes(r.PathPrefix(AuthPrefix).Subrouter())
	}
	r.Handle(ProtoPath, proto).Methods(http.MethodGet)
	r.HandleFunc(HealthPath, s.handleHealth).Methods(http.MethodGet)

	if s.cfg.MetricsPath != "" && s.deps.Metrics != nil {
		r.Handle(s.cfg.MetricsPath, s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln and blocks until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("http server listening", "addr", ln.Addr().String())
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, closes every session and stops the
// router. The first error is returned; later steps still run.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.logger.Info("shutting down http server")
	keep(s.http.Shutdown(ctx))

	if s.deps.Spawner != nil {
		s.logger.Info("closing sessions", "active", s.deps.Spawner.Stats().Active)
		keep(s.deps.Spawner.Stop(ctx))
	}

	if s.deps.Router != nil {
		s.logger.Info("stopping router")
		keep(s.deps.Router.Stop(ctx))
	}

	if firstErr != nil {
		s.logger.Warn("shutdown incomplete", "error", firstErr)
	} else {
		s.logger.Info("shutdown complete")
	}
	return firstErr
}

func (s *Server) handleProto(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	id, err := s.deps.Spawner.Spawn(conn)
	if err != nil {
		s.logger.Warn("spawn failed", "remote", r.RemoteAddr, "error", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server unavailable"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	attrs := []any{"client_id", id, "remote", r.RemoteAddr}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		attrs = append(attrs, "user_id", claims.UserID)
	}
	s.logger.Debug("session spawned", attrs...)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	status := HealthStatus{
		Uptime:  now.Sub(s.started).Round(time.Second).String(),
		Started: s.started.Format(time.RFC3339),
		Version: version.String(),
	}
	if s.deps.Spawner != nil {
		status.Sessions = s.deps.Spawner.Stats().Active
	}
	if s.deps.Presence != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPresenceTimeout)
		online, err := s.deps.Presence.Online(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("failed to list online clients", "error", err)
		} else {
			n := len(online)
			status.Online = &n
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("failed to write health response", "error", err)
	}
}

// checkOrigin allows requests without an Origin header and, when a list is
// configured, origins whose host matches an entry.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}
