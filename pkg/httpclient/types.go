package httpclient

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rmacdonaldsmith/directmesh-go/pkg/meshnode"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the connector HTTP API (e.g., "http://localhost:8081")
	ServerURL string

	// ClientID is the identifier for this client
	ClientID string

	// Timeout for HTTP requests. Streams are not subject to it.
	Timeout time.Duration

	// Clock drives stream reconnect delays
	Clock clock.Clock
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PublishRequest represents a publish request
type PublishRequest struct {
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

// PublishResponse acknowledges a publish
type PublishResponse struct {
	Topic       string    `json:"topic"`
	PublishedAt time.Time `json:"publishedAt"`
}

// HealthResponse represents the connector health
type HealthResponse struct {
	meshnode.HealthStatus
	StreamClients int `json:"streamClients"`
}

// PeersResponse lists the verified peer links of a connector
type PeersResponse struct {
	UID   string              `json:"uid"`
	Peers []meshnode.PeerInfo `json:"peers"`
}

// StatsResponse represents connector statistics
type StatsResponse struct {
	UID                string   `json:"uid"`
	Ready              bool     `json:"ready"`
	ActiveConnections  int      `json:"activeConnections"`
	PendingConnections int      `json:"pendingConnections"`
	LocalTopics        []string `json:"localTopics"`
	RemoteTopics       []string `json:"remoteTopics"`
	StreamClients      int      `json:"streamClients"`
	MessagesPublished  int64    `json:"messagesPublished"`
	MessagesStreamed   int64    `json:"messagesStreamed"`
	MessagesDropped    int64    `json:"messagesDropped"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// StreamMessage is one message received on an SSE stream
type StreamMessage struct {
	Topic      string      `json:"topic"`
	Payload    interface{} `json:"payload"`
	ReceivedAt time.Time   `json:"receivedAt"`
}
