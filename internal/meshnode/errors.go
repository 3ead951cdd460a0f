package meshnode

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectorClosed is returned by operations on a closed connector
	ErrConnectorClosed = errors.New("message connector is closed")
	// ErrInvalidTopic is returned for empty topics or topics containing separator bytes
	ErrInvalidTopic = errors.New("invalid topic")
	// ErrNilHandler is returned when subscribing without a handler
	ErrNilHandler = errors.New("handler cannot be nil")
)

// ConfigError reports an invalid configuration. New returns it before any
// socket is opened.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// SerializationError is raised when a payload cannot be encoded or decoded.
type SerializationError struct {
	Topic string
	Err   error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error on topic %q: %v", e.Topic, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// LinkError is a socket-level failure of the link to URL, including an
// exhausted reconnect budget.
type LinkError struct {
	URL string
	Err error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.URL, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// HandshakeError reports a rejected handshake. Remote is true when the peer
// sent the REJECT.
type HandshakeError struct {
	URL    string
	Reason string
	Remote bool
}

func (e *HandshakeError) Error() string {
	if e.Remote {
		return fmt.Sprintf("connection to %s was rejected: %s", e.URL, e.Reason)
	}
	return fmt.Sprintf("rejected connection with %s: %s", e.URL, e.Reason)
}

// RemoteError carries the text of an ERROR frame sent by a peer.
type RemoteError struct {
	URL     string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("peer %s reported: %s", e.URL, e.Message)
}

// errorKind labels err for metrics.
func errorKind(err error) string {
	var (
		cfgErr  *ConfigError
		serErr  *SerializationError
		linkErr *LinkError
		hsErr   *HandshakeError
		remErr  *RemoteError
	)
	switch {
	case errors.As(err, &serErr):
		return "serialization"
	case errors.As(err, &hsErr):
		return "handshake"
	case errors.As(err, &linkErr):
		return "link"
	case errors.As(err, &remErr):
		return "remote"
	case errors.As(err, &cfgErr):
		return "config"
	default:
		return "other"
	}
}
