package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rmacdonaldsmith/directmesh-go/internal/logging"
	meshnodepkg "github.com/rmacdonaldsmith/directmesh-go/pkg/meshnode"
)

// Config holds server configuration
type Config struct {
	// Addr is the listen address, e.g. ":8081"
	Addr      string
	SecretKey string
	// NoAuth skips token checks on non-admin endpoints
	NoAuth bool
	// AdminClientID is the client ID that receives admin tokens at login
	AdminClientID string
	TokenTTL      time.Duration
	// KeepAlive is the interval between SSE ping comments
	KeepAlive time.Duration
	// StreamBuffer is the per-stream message buffer
	StreamBuffer int
	// Gatherer serves /metrics when set
	Gatherer prometheus.Gatherer
	Logger   logging.Logger
	Clock    clock.Clock
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8081"
	}
	if c.SecretKey == "" {
		c.SecretKey = "directmesh-dev-secret-change-me"
	}
	if c.AdminClientID == "" {
		c.AdminClientID = "admin"
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 15 * time.Second
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = 100
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// Server is the admin and bridge HTTP API of one connector
type Server struct {
	connector  meshnodepkg.Connector
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	gatherer   prometheus.Gatherer
	logger     logging.Logger
	server     *http.Server
}

// NewServer creates a new HTTP API server
func NewServer(connector meshnodepkg.Connector, config Config) *Server {
	config.SetDefaults()

	jwtAuth := NewJWTAuth(config.SecretKey, config.TokenTTL, config.Clock)
	s := &Server{
		connector:  connector,
		jwtAuth:    jwtAuth,
		handlers:   NewHandlers(connector, jwtAuth, config),
		middleware: NewMiddleware(jwtAuth, config.Logger, config.NoAuth),
		gatherer:   config.Gatherer,
		logger:     logging.OrNop(config.Logger),
	}
	if config.NoAuth {
		s.logger.Warnf("httpapi: authentication disabled for non-admin endpoints")
	}

	s.server = &http.Server{
		Addr:              config.Addr,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}
	return s
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Auth returns the token issuer used by the server
func (s *Server) Auth() *JWTAuth {
	return s.jwtAuth
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop. It returns nil after a graceful stop.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Infof("httpapi: listening on %s", ln.Addr())
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.CORS(
					s.middleware.ContentType(handler))))
	}

	mux.Handle("/api/v1/auth/login", withMiddleware(s.handlers.Login))

	mux.Handle("/api/v1/events", withMiddleware(s.middleware.AuthRequired(s.handlers.PublishEvent)))
	mux.Handle("/api/v1/events/stream", withMiddleware(s.middleware.AuthRequired(s.handlers.StreamEvents)))

	mux.Handle("/api/v1/admin/peers", withMiddleware(s.middleware.AdminRequired(s.handlers.AdminPeers)))
	mux.Handle("/api/v1/admin/stats", withMiddleware(s.middleware.AdminRequired(s.handlers.AdminGetStats)))

	mux.Handle("/api/v1/health", withMiddleware(s.handlers.Health))

	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	mux.Handle("/", withMiddleware(s.handleRoot))

	return mux
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}

	info := map[string]interface{}{
		"service": "directmesh connector HTTP API",
		"uid":     s.connector.UID(),
		"endpoints": map[string]interface{}{
			"auth": map[string]string{
				"login": "POST /api/v1/auth/login",
			},
			"events": map[string]string{
				"publish": "POST /api/v1/events",
				"stream":  "GET /api/v1/events/stream?topic={topic}",
			},
			"admin": map[string]string{
				"peers": "GET /api/v1/admin/peers",
				"stats": "GET /api/v1/admin/stats",
			},
			"health":  "GET /api/v1/health",
			"metrics": "GET /metrics",
		},
		"authentication": "Bearer JWT token required for most endpoints",
	}

	writeJSON(w, info, http.StatusOK)
}
