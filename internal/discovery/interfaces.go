package discovery

import (
	"context"
)

// Peer is a remote node this node should dial.
type Peer struct {
	// URL is the normalised "host:port" dialled by the outgoing link
	URL  string
	Host string
	Port int
}

// Discovery defines the interface for node discovery mechanisms
type Discovery interface {
	// FindPeers returns the peers to dial
	FindPeers(ctx context.Context) ([]Peer, error)
}
