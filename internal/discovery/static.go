package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrNoPeers is returned when the static list is empty
var ErrNoPeers = errors.New("remote urls cannot be empty")

// StaticDiscovery implements Discovery using a fixed list of peer URLs
type StaticDiscovery struct {
	urls []string
}

// NewStaticDiscovery creates a new static discovery service with the given peer URLs
func NewStaticDiscovery(urls []string) *StaticDiscovery {
	return &StaticDiscovery{urls: urls}
}

// FindPeers parses every URL. Duplicates are dropped, keeping the first
// occurrence; an optional "tcp://" prefix is accepted.
func (s *StaticDiscovery) FindPeers(ctx context.Context) ([]Peer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.urls) == 0 {
		return nil, ErrNoPeers
	}

	peers := make([]Peer, 0, len(s.urls))
	seen := make(map[string]struct{}, len(s.urls))
	for _, raw := range s.urls {
		peer, err := ParsePeer(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[peer.URL]; dup {
			continue
		}
		seen[peer.URL] = struct{}{}
		peers = append(peers, peer)
	}
	return peers, nil
}

// ParsePeer validates a "host:port" peer URL.
func ParsePeer(raw string) (Peer, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "tcp://")
	host, portStr, err := net.SplitHostPort(trimmed)
	if err != nil {
		return Peer{}, fmt.Errorf("invalid peer url %q: %w", raw, err)
	}
	if host == "" {
		return Peer{}, fmt.Errorf("invalid peer url %q: missing host", raw)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Peer{}, fmt.Errorf("invalid peer url %q: bad port %q", raw, portStr)
	}
	return Peer{URL: net.JoinHostPort(host, portStr), Host: host, Port: port}, nil
}
