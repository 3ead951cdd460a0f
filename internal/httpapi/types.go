package httpapi

import (
	"time"

	"github.com/rmacdonaldsmith/directmesh-go/pkg/meshnode"
)

// Request/Response types for the HTTP API

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`
}

// AuthResponse represents a login response
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PublishRequest asks the node to publish payload on topic
type PublishRequest struct {
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

// PublishResponse acknowledges a publish. Delivery to peers is asynchronous.
type PublishResponse struct {
	Topic       string    `json:"topic"`
	PublishedAt time.Time `json:"publishedAt"`
}

// StreamMessage is one server-sent event: a message a peer published on a
// topic this stream subscribed to
type StreamMessage struct {
	Topic      string      `json:"topic"`
	Payload    interface{} `json:"payload"`
	ReceivedAt time.Time   `json:"receivedAt"`
}

// HealthResponse is the connector health plus the API's own view
type HealthResponse struct {
	meshnode.HealthStatus
	StreamClients int `json:"streamClients"`
}

// PeersResponse lists the verified peer links
type PeersResponse struct {
	UID   string              `json:"uid"`
	Peers []meshnode.PeerInfo `json:"peers"`
}

// StatsResponse represents node statistics
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
