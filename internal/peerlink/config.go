package peerlink

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Config holds the per-link settings shared by outgoing and incoming connections
type Config struct {
	// SendQueueSize is the number of frames buffered per socket before Send fails
	SendQueueSize int
	// MaxFrameSize bounds a single inbound frame, separator excluded
	MaxFrameSize int

	KeepAlivePeriod time.Duration
	DialTimeout     time.Duration

	// ReconnectInterval is the fixed delay between refused dials
	ReconnectInterval time.Duration
	// MaxReconnectAttempts bounds retries after refused dials; 0 means unlimited
	MaxReconnectAttempts int

	// OutboundHost and OutboundPort optionally pin the local end of outgoing sockets
	OutboundHost string
	OutboundPort int

	HandshakeTimeout time.Duration
	// RejectGrace is how long a REJECT frame gets to flush before the socket is destroyed
	RejectGrace time.Duration
	// CloseGrace delays EventClosed after the socket is gone
	CloseGrace time.Duration
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.SendQueueSize < 0 {
		return errors.New("send queue size cannot be negative")
	}
	if c.MaxFrameSize < 0 {
		return errors.New("max frame size cannot be negative")
	}
	if c.MaxReconnectAttempts < 0 {
		return errors.New("max reconnect attempts cannot be negative")
	}
	if c.OutboundPort < 0 || c.OutboundPort > 65535 {
		return errors.New("outbound port must be between 0 and 65535")
	}
	if c.OutboundPort != 0 && c.OutboundHost == "" {
		return errors.New("outbound port requires an outbound host")
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 1000
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = 1024 * 1024 // 1MB
	}
	if c.KeepAlivePeriod <= 0 {
		c.KeepAlivePeriod = 2 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 2 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 2 * time.Second
	}
	if c.RejectGrace <= 0 {
		c.RejectGrace = 20 * time.Millisecond
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = 20 * time.Millisecond
	}
}

// localAddr resolves the outbound bind address, nil when none is configured.
func (c *Config) localAddr() (*net.TCPAddr, error) {
	if c.OutboundHost == "" {
		return nil, nil
	}
	return net.ResolveTCPAddr("tcp", net.JoinHostPort(c.OutboundHost, strconv.Itoa(c.OutboundPort)))
}
