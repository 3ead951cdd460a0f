package peerlink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/benbjohnson/clock"

	"github.com/rmacdonaldsmith/directmesh-go/pkg/peerlink"
)

type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Outgoing is a link dialled by this node. A refused dial is retried every
// ReconnectInterval until MaxReconnectAttempts is exceeded; any other dial
// error is final. Once established, a dropped link is not redialled.
type Outgoing struct {
	*connection

	dial       dialFunc
	attempts   int
	retry      *clock.Timer
	cancelDial context.CancelFunc
}

// NewOutgoing prepares a link to url ("host:port"). Call Connect to dial.
func NewOutgoing(url string, cfg *Config, sink peerlink.Sink, env Env) (*Outgoing, error) {
	host, port, err := net.SplitHostPort(url)
	if err != nil {
		return nil, fmt.Errorf("invalid peer url %q: %w", url, err)
	}
	if host == "" || port == "" {
		return nil, fmt.Errorf("invalid peer url %q: host and port are required", url)
	}

	local, err := cfg.localAddr()
	if err != nil {
		return nil, fmt.Errorf("invalid outbound address: %w", err)
	}

	d := &net.Dialer{
		Timeout: cfg.DialTimeout,
		// keep-alive is configured on the socket once connected
		KeepAlive: -1,
	}
	if local != nil {
		d.LocalAddr = local
	}

	c := newConnection(peerlink.Outgoing, cfg, sink, env)
	c.remoteURL = net.JoinHostPort(host, port)
	o := &Outgoing{connection: c, dial: d.DialContext}
	c.self = o
	return o, nil
}

// Connect starts the first dial in the background.
func (o *Outgoing) Connect() {
	go o.attempt()
}

func (o *Outgoing) attempt() {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.retry = nil
	o.cancelDial = cancel
	url := o.remoteURL
	o.mu.Unlock()
	defer cancel()

	nc, err := o.dial(ctx, "tcp", url)
	if err != nil {
		o.dialFailed(err)
		return
	}

	sess := o.attach(nc)
	if sess == nil {
		return
	}
	o.logger.Debugf("peerlink: connected to %s", url)
	o.emit(peerlink.EventConnect, "", nil)
	o.start(sess)
}

func (o *Outgoing) dialFailed(err error) {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return
	}

	if errors.Is(err, syscall.ECONNREFUSED) && !o.rejected {
		o.attempts++
		limit := o.config.MaxReconnectAttempts
		if limit == 0 || o.attempts <= limit {
			attempt := o.attempts
			o.retry = o.clock.AfterFunc(o.config.ReconnectInterval, o.attempt)
			o.mu.Unlock()
			o.logger.Debugf("peerlink: %s refused connection, retry %d in %v", o.remoteURL, attempt, o.config.ReconnectInterval)
			return
		}
		err = &ReconnectError{Attempts: limit}
	}
	o.mu.Unlock()

	o.logger.Warnf("peerlink: giving up on %s: %v", o.RemoteURL(), err)
	o.emit(peerlink.EventError, "", err)
	o.finish()
}

// Attempts returns the number of retries scheduled so far.
func (o *Outgoing) Attempts() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempts
}

// Destroy cancels any pending redial before closing the link.
func (o *Outgoing) Destroy() {
	o.mu.Lock()
	if o.retry != nil {
		o.retry.Stop()
		o.retry = nil
	}
	if o.cancelDial != nil {
		o.cancelDial()
	}
	o.mu.Unlock()
	o.connection.Destroy()
}
