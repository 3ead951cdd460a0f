package peerlink

// Direction tells which side initiated a link.
type Direction int

const (
	// Outgoing links are dialled by this node
	Outgoing Direction = iota
	// Incoming links were accepted by this node's listener
	Incoming
)

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "outgoing"
	case Incoming:
		return "incoming"
	default:
		return "unknown"
	}
}

// State is the lifecycle state of a Connection. Closed is terminal.
type State int

const (
	Connecting State = iota
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Open:
		return "Open"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// EventKind enumerates the lifecycle events a Connection emits.
type EventKind int

const (
	// EventConnect fires when an outgoing dial succeeds
	EventConnect EventKind = iota
	// EventMessage carries one inbound frame, separator stripped
	EventMessage
	// EventError reports a socket or dial failure
	EventError
	// EventClosed fires exactly once, shortly after the socket is gone
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is delivered to a Sink.
type Event struct {
	Kind  EventKind
	Conn  Connection
	Frame string
	Err   error
}

// Sink receives connection events. It is called from the connection's own
// goroutines and must not block.
type Sink func(Event)

// Connection is one framed TCP link to a remote peer.
type Connection interface {
	// Send appends the frame separator and queues the frame for writing.
	Send(frame string) error

	// RemoteURL returns the remote "host:port".
	RemoteURL() string

	// Destroy force-closes the socket. Safe to call more than once. No
	// message or error events fire afterwards; EventClosed still does.
	Destroy()

	Direction() Direction

	State() State

	// RemoteUID is the peer uid learnt during the handshake, "" before.
	RemoteUID() string

	SetRemoteUID(uid string)

	// IsRejected reports whether the handshake on this link was refused.
	IsRejected() bool

	MarkRejected()

	IsClosed() bool
}
