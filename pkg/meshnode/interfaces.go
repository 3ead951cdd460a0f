package meshnode

import (
	"io"
)

// Handler receives a message published on topic by a remote peer. Handlers
// run on the connector's event loop and must not block.
type Handler func(topic string, message any)

// Handle identifies one registered Handler, for Unsubscribe.
type Handle uint64

// Connector is a node of the full mesh. It dials every configured peer,
// accepts their connections, and routes published messages only to peers
// that subscribed to the topic.
type Connector interface {
	io.Closer

	// UID returns the identity this node announces in its handshakes.
	UID() string

	// Subscribe registers handler for topic. The first local handler for a
	// topic announces the subscription to the currently connected peers.
	Subscribe(topic string, handler Handler) (Handle, error)

	// Unsubscribe removes a handler. When no local handler remains for the
	// topic, the peers known to be subscribed to it are told.
	Unsubscribe(topic string, handle Handle) error

	// Publish encodes message and sends it to every remote subscriber of
	// topic. Local handlers are not invoked.
	Publish(topic string, message any) error

	// IsReady reports whether the listener is bound and the minimum number
	// of peer links is verified.
	IsReady() bool

	// Ready is closed the first time the connector becomes ready.
	Ready() <-chan struct{}

	// Errors delivers asynchronous failures: rejected handshakes,
	// exhausted reconnects, undecodable messages. Duplicate link
	// rejections are resolved internally and not delivered.
	Errors() <-chan error

	// Done is closed once Close has finished.
	Done() <-chan struct{}

	// IsConnectedToPeer reports whether a verified link to uid exists.
	IsConnectedToPeer(uid string) bool

	// Health returns a snapshot of the connector state.
	Health() HealthStatus
}

// PeerInfo describes one verified peer link
type PeerInfo struct {
	UID       string `json:"uid"`
	URL       string `json:"url"`
	Direction string `json:"direction"`
}

// HealthStatus represents the overall state of a connector
type HealthStatus struct {
	// UID is this node's identity
	UID string `json:"uid"`

	// Ready mirrors IsReady
	Ready bool `json:"ready"`

	// Listening indicates the listener is bound
	Listening bool `json:"listening"`

	// ActiveConnections is the number of verified peer links
	ActiveConnections int `json:"activeConnections"`

	// PendingConnections is the number of links still in the handshake
	PendingConnections int `json:"pendingConnections"`

	// MinimumConnections is the configured readiness threshold
	MinimumConnections int `json:"minimumConnections"`

	Peers []PeerInfo `json:"peers"`

	// LocalTopics are topics with at least one local handler
	LocalTopics []string `json:"localTopics"`

	// RemoteTopics are topics at least one peer subscribed to
	RemoteTopics []string `json:"remoteTopics"`

	Closed bool `json:"closed"`
}
