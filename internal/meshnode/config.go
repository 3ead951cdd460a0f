package meshnode

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rmacdonaldsmith/directmesh-go/internal/discovery"
	"github.com/rmacdonaldsmith/directmesh-go/internal/peerlink"
)

// Config represents configuration for a MessageConnector
type Config struct {
	// LocalHost and LocalPort are where the listener binds. Port 0 picks a free port.
	LocalHost string `yaml:"localHost"`
	LocalPort int    `yaml:"localPort"`

	// RemoteURLs lists every peer as "host:port"
	RemoteURLs []string `yaml:"remoteUrls"`

	// SecurityToken is the cluster-wide shared secret checked on every handshake
	SecurityToken string `yaml:"securityToken"`

	ReconnectInterval time.Duration `yaml:"reconnectInterval"`
	// MaxReconnectAttempts bounds retries of refused dials; 0 means unlimited
	MaxReconnectAttempts int `yaml:"maxReconnectAttempts"`

	// MinimumRequiredConnections is how many verified links make the connector ready
	MinimumRequiredConnections int `yaml:"minimumRequiredConnections"`

	// OutboundHost and OutboundPort optionally pin the local end of dialled sockets
	OutboundHost string `yaml:"outboundHost"`
	OutboundPort int    `yaml:"outboundPort"`

	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	RejectGrace      time.Duration `yaml:"rejectGrace"`
	CloseGrace       time.Duration `yaml:"closeGrace"`
	KeepAlivePeriod  time.Duration `yaml:"keepAlivePeriod"`
	DialTimeout      time.Duration `yaml:"dialTimeout"`
	SendQueueSize    int           `yaml:"sendQueueSize"`
	MaxFrameSize     int           `yaml:"maxFrameSize"`

	// CloseTimeout bounds how long Close waits for links to report closed
	CloseTimeout time.Duration `yaml:"closeTimeout"`

	// ErrorBufferSize is the capacity of the Errors channel
	ErrorBufferSize int `yaml:"errorBufferSize"`

	// PurgeClosedSubscribers drops a closed link from the remote subscriber
	// registry. Off by default: entries for closed links stay until the peer
	// unsubscribes, and sends to them fail quietly.
	PurgeClosedSubscribers bool `yaml:"purgeClosedSubscribers"`

	// Codec selects the payload encoding ("json" or "protojson")
	Codec string `yaml:"codec"`
}

// NewConfig creates a new connector configuration with safe defaults
func NewConfig(localHost string, localPort int, remoteURLs []string, securityToken string) *Config {
	return &Config{
		LocalHost:                  localHost,
		LocalPort:                  localPort,
		RemoteURLs:                 remoteURLs,
		SecurityToken:              securityToken,
		MinimumRequiredConnections: 1,
	}
}

// LoadConfig reads a YAML file on top of NewConfig defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML on top of NewConfig defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := NewConfig("", 0, nil, "")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration and returns a *ConfigError if invalid
func (c *Config) Validate() error {
	if c.LocalHost == "" {
		return missing("localHost")
	}
	if c.LocalPort < 0 || c.LocalPort > 65535 {
		return &ConfigError{Field: "localPort", Reason: "must be a port number"}
	}
	if len(c.RemoteURLs) == 0 {
		return missing("remoteUrls")
	}
	for _, url := range c.RemoteURLs {
		if _, err := discovery.ParsePeer(url); err != nil {
			return &ConfigError{Field: "remoteUrls", Reason: err.Error()}
		}
	}
	if c.SecurityToken == "" {
		return missing("securityToken")
	}
	if c.MinimumRequiredConnections < 0 {
		return &ConfigError{Field: "minimumRequiredConnections", Reason: "cannot be negative"}
	}
	if c.ErrorBufferSize < 0 {
		return &ConfigError{Field: "errorBufferSize", Reason: "cannot be negative"}
	}
	if err := c.linkConfig().Validate(); err != nil {
		return &ConfigError{Field: "link", Reason: err.Error()}
	}
	return nil
}

// SetDefaults fills unset timing and sizing fields
func (c *Config) SetDefaults() {
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 5 * time.Second
	}
	if c.ErrorBufferSize <= 0 {
		c.ErrorBufferSize = 64
	}
	if c.Codec == "" {
		c.Codec = "json"
	}
	link := c.linkConfig()
	link.SetDefaults()
	c.ReconnectInterval = link.ReconnectInterval
	c.HandshakeTimeout = link.HandshakeTimeout
	c.RejectGrace = link.RejectGrace
	c.CloseGrace = link.CloseGrace
	c.KeepAlivePeriod = link.KeepAlivePeriod
	c.DialTimeout = link.DialTimeout
	c.SendQueueSize = link.SendQueueSize
	c.MaxFrameSize = link.MaxFrameSize
}

// WithReconnect sets the retry policy for refused dials
func (c *Config) WithReconnect(interval time.Duration, maxAttempts int) *Config {
	c.ReconnectInterval = interval
	c.MaxReconnectAttempts = maxAttempts
	return c
}

// WithMinimumConnections sets the readiness threshold
func (c *Config) WithMinimumConnections(n int) *Config {
	c.MinimumRequiredConnections = n
	return c
}

// WithOutboundAddress pins the local end of dialled sockets
func (c *Config) WithOutboundAddress(host string, port int) *Config {
	c.OutboundHost = host
	c.OutboundPort = port
	return c
}

// WithPurgeClosedSubscribers toggles registry cleanup on link close
func (c *Config) WithPurgeClosedSubscribers(purge bool) *Config {
	c.PurgeClosedSubscribers = purge
	return c
}

// linkConfig derives the per-link settings
func (c *Config) linkConfig() *peerlink.Config {
	return &peerlink.Config{
		SendQueueSize:        c.SendQueueSize,
		MaxFrameSize:         c.MaxFrameSize,
		KeepAlivePeriod:      c.KeepAlivePeriod,
		DialTimeout:          c.DialTimeout,
		ReconnectInterval:    c.ReconnectInterval,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		OutboundHost:         c.OutboundHost,
		OutboundPort:         c.OutboundPort,
		HandshakeTimeout:     c.HandshakeTimeout,
		RejectGrace:          c.RejectGrace,
		CloseGrace:           c.CloseGrace,
	}
}

func missing(field string) error {
	return &ConfigError{Field: field, Reason: "is required"}
}
