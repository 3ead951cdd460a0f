package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/rmacdonaldsmith/directmesh-go/internal/grpchealth"
	"github.com/rmacdonaldsmith/directmesh-go/internal/httpapi"
	"github.com/rmacdonaldsmith/directmesh-go/internal/logging"
	"github.com/rmacdonaldsmith/directmesh-go/internal/meshnode"
	"github.com/rmacdonaldsmith/directmesh-go/internal/metrics"
)

type serveOptions struct {
	configFile string

	host              string
	port              int
	peers             []string
	securityToken     string
	minConnections    int
	reconnectInterval time.Duration
	maxReconnects     int
	codec             string

	httpAddr      string
	grpcAddr      string
	secretKey     string
	noAuth        bool
	adminClientID string
	logLevel      string

	// ready, when set, receives the bound addresses once serving
	ready func(api, grpc net.Addr)
}

func newServeCommand() *cobra.Command {
	return serveCommand(&serveOptions{})
}

func serveCommand(opts *serveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a mesh node",
		Long: `Run a mesh node: bind the peer listener, dial every peer in --peers and
serve the HTTP API (publish, stream, health, admin, /metrics) and the gRPC
health service.

Node settings may come from a YAML file (--config); flags given explicitly
override the file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configFile, "config", "", "YAML node configuration file")
	f.StringVar(&opts.host, "host", "0.0.0.0", "Peer listener host")
	f.IntVar(&opts.port, "port", 7000, "Peer listener port")
	f.StringSliceVar(&opts.peers, "peers", nil, "Peer URLs (host:port), comma separated")
	f.StringVar(&opts.securityToken, "security-token", os.Getenv("DIRECTMESH_SECURITY_TOKEN"), "Shared cluster secret")
	f.IntVar(&opts.minConnections, "min-connections", 1, "Verified peer links required before the node is ready")
	f.DurationVar(&opts.reconnectInterval, "reconnect-interval", 0, "Delay between refused dials (default 2s)")
	f.IntVar(&opts.maxReconnects, "max-reconnects", 0, "Retries of a refused dial before giving up (0 = unlimited)")
	f.StringVar(&opts.codec, "codec", "", "Payload codec: json or protojson")

	f.StringVar(&opts.httpAddr, "http-addr", ":8081", "HTTP API listen address (empty disables)")
	f.StringVar(&opts.grpcAddr, "grpc-addr", ":8082", "gRPC health listen address (empty disables)")
	f.StringVar(&opts.secretKey, "jwt-secret", os.Getenv("DIRECTMESH_JWT_SECRET"), "HTTP API token signing secret")
	f.BoolVar(&opts.noAuth, "no-auth", false, "Disable authentication on non-admin HTTP endpoints")
	f.StringVar(&opts.adminClientID, "admin-client-id", "admin", "Client ID that receives admin tokens")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	return cmd
}

// nodeConfig merges the config file, if any, with explicitly set flags.
func (o *serveOptions) nodeConfig(cmd *cobra.Command) (*meshnode.Config, error) {
	cfg := meshnode.NewConfig(o.host, o.port, o.peers, o.securityToken)
	if o.configFile != "" {
		var err error
		if cfg, err = meshnode.LoadConfig(o.configFile); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	set := func(name string) bool { return o.configFile == "" || flags.Changed(name) }

	if set("host") {
		cfg.LocalHost = o.host
	}
	if set("port") {
		cfg.LocalPort = o.port
	}
	if set("peers") {
		cfg.RemoteURLs = o.peers
	}
	// the environment default counts as explicit
	if set("security-token") || (cfg.SecurityToken == "" && o.securityToken != "") {
		cfg.SecurityToken = o.securityToken
	}
	if set("min-connections") {
		cfg.MinimumRequiredConnections = o.minConnections
	}
	if flags.Changed("reconnect-interval") || flags.Changed("max-reconnects") {
		interval, attempts := cfg.ReconnectInterval, cfg.MaxReconnectAttempts
		if flags.Changed("reconnect-interval") {
			interval = o.reconnectInterval
		}
		if flags.Changed("max-reconnects") {
			attempts = o.maxReconnects
		}
		cfg.WithReconnect(interval, attempts)
	}
	if flags.Changed("codec") {
		cfg.Codec = o.codec
	}

	return cfg, nil
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	logger, err := logging.New(opts.logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	cfg, err := opts.nodeConfig(cmd)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	logger.Infof("Starting %s v%s", appName, appVersion)
	conn, err := meshnode.New(cfg,
		meshnode.WithLogger(logger),
		meshnode.WithMetrics(metrics.New(reg)),
	)
	if err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}
	logger.Infof("Node %s listening for peers on %s, %d peer(s) configured", conn.UID(), conn.Addr(), len(cfg.RemoteURLs))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	var apiAddr, grpcAddr net.Addr

	var api *httpapi.Server
	if opts.httpAddr != "" {
		ln, err := net.Listen("tcp", opts.httpAddr)
		if err != nil {
			return multierr.Append(fmt.Errorf("failed to bind HTTP API: %w", err), conn.Close())
		}
		apiAddr = ln.Addr()
		api = httpapi.NewServer(conn, httpapi.Config{
			SecretKey:     opts.secretKey,
			NoAuth:        opts.noAuth,
			AdminClientID: opts.adminClientID,
			Gatherer:      reg,
			Logger:        logger,
		})
		g.Go(func() error { return api.Serve(ln) })
	}

	var health *grpchealth.Server
	if opts.grpcAddr != "" {
		ln, err := net.Listen("tcp", opts.grpcAddr)
		if err != nil {
			var closeErr error
			if api != nil {
				closeErr = api.Stop(context.Background())
			}
			return multierr.Combine(fmt.Errorf("failed to bind gRPC health: %w", err), closeErr, conn.Close())
		}
		grpcAddr = ln.Addr()
		health = grpchealth.NewServer(conn, grpchealth.Config{Logger: logger})
		g.Go(func() error { return health.Serve(ln) })
	}

	if opts.ready != nil {
		opts.ready(apiAddr, grpcAddr)
	}

	// node notifications
	g.Go(func() error {
		ready := conn.Ready()
		for {
			select {
			case <-ready:
				logger.Infof("Node %s is ready", conn.UID())
				ready = nil
			case err := <-conn.Errors():
				logger.Warnf("%v", err)
			case <-conn.Done():
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Infof("Shutting down node %s", conn.UID())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var err error
		if api != nil {
			err = multierr.Append(err, api.Stop(shutdownCtx))
		}
		if health != nil {
			health.Stop()
		}
		return multierr.Append(err, conn.Close())
	})

	return g.Wait()
}
