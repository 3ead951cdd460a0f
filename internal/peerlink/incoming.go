package peerlink

import (
	"net"

	"github.com/rmacdonaldsmith/directmesh-go/pkg/peerlink"
)

// Incoming wraps a socket accepted by the listener. It never reconnects.
type Incoming struct {
	*connection

	sess *session
}

// NewIncoming takes ownership of nc. Call Start to begin reading.
func NewIncoming(nc net.Conn, cfg *Config, sink peerlink.Sink, env Env) *Incoming {
	c := newConnection(peerlink.Incoming, cfg, sink, env)
	c.remoteURL = nc.RemoteAddr().String()
	in := &Incoming{connection: c}
	c.self = in
	in.sess = c.attach(nc)
	return in
}

// Start launches the reader and writer goroutines.
func (in *Incoming) Start() {
	if in.sess != nil {
		in.start(in.sess)
	}
}
