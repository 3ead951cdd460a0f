// Package grpchealth serves the standard gRPC health-checking protocol for a
// connector. The status is SERVING while the connector is ready.
package grpchealth

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rmacdonaldsmith/directmesh-go/internal/logging"
	meshnodepkg "github.com/rmacdonaldsmith/directmesh-go/pkg/meshnode"
)

// ServiceName is the service reported alongside the overall ("") status.
const ServiceName = "directmesh.Connector"

// Config configures the health server
type Config struct {
	// PollInterval is how often readiness is sampled
	PollInterval time.Duration
	Logger       logging.Logger
	Clock        clock.Clock
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// Server mirrors connector readiness into a grpc health service.
type Server struct {
	connector meshnodepkg.Connector
	health    *health.Server
	grpc      *grpc.Server
	config    Config
	logger    logging.Logger

	mu      sync.Mutex
	serving bool
	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// NewServer creates a health server for connector and starts watching its
// readiness. Extra grpc server options are passed through.
func NewServer(connector meshnodepkg.Connector, config Config, opts ...grpc.ServerOption) *Server {
	config.SetDefaults()
	s := &Server{
		connector: connector,
		health:    health.NewServer(),
		grpc:      grpc.NewServer(opts...),
		config:    config,
		logger:    logging.OrNop(config.Logger),
		stop:      make(chan struct{}),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.sync()

	s.wg.Add(1)
	go s.watch()
	return s
}

// Serve serves on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Infof("grpchealth: listening on %s", ln.Addr())
	if err := s.grpc.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks every service NOT_SERVING and stops the grpc server.
func (s *Server) Stop() {
	s.once.Do(func() {
		close(s.stop)
		s.health.Shutdown()
		s.grpc.GracefulStop()
	})
	s.wg.Wait()
}

func (s *Server) watch() {
	defer s.wg.Done()

	ticker := s.config.Clock.Ticker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-s.connector.Done():
			s.logger.Infof("grpchealth: connector closed")
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.sync()
		}
	}
}

// sync copies the current readiness into the health service.
func (s *Server) sync() {
	ready := s.connector.IsReady()

	s.mu.Lock()
	changed := ready != s.serving
	s.serving = ready
	s.mu.Unlock()

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	if changed {
		s.logger.Infof("grpchealth: status %s", status)
	}
}
