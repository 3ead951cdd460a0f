package peerlink

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rmacdonaldsmith/directmesh-go/internal/logging"
	"github.com/rmacdonaldsmith/directmesh-go/pkg/peerlink"
	"github.com/rmacdonaldsmith/directmesh-go/pkg/wire"
)

var (
	// ErrConnectionClosed is returned when sending on a closing or closed link
	ErrConnectionClosed = errors.New("connection is closed")
	// ErrNotConnected is returned when sending before the socket is established
	ErrNotConnected = errors.New("connection is not established")
	// ErrSendQueueFull is returned when the per-socket send queue is saturated
	ErrSendQueueFull = errors.New("send queue is full")
	// ErrMaxReconnectAttempts is matched by errors.Is when an outgoing link gives up
	ErrMaxReconnectAttempts = errors.New("max reconnection attempts exceeded")
)

// ReconnectError is raised once an outgoing link has used up its retries.
type ReconnectError struct {
	Attempts int
}

func (e *ReconnectError) Error() string {
	return fmt.Sprintf("max reconnection attempts (%d) exceeded", e.Attempts)
}

func (e *ReconnectError) Is(target error) bool {
	return target == ErrMaxReconnectAttempts
}

// Env carries the collaborators shared by every link of a node.
type Env struct {
	Clock  clock.Clock
	Logger logging.Logger
}

func (e Env) withDefaults() Env {
	if e.Clock == nil {
		e.Clock = clock.New()
	}
	e.Logger = logging.OrNop(e.Logger)
	return e
}

// connection is the framing core shared by Outgoing and Incoming.
type connection struct {
	direction peerlink.Direction
	config    *Config
	clock     clock.Clock
	logger    logging.Logger
	sink      peerlink.Sink
	self      peerlink.Connection

	mu             sync.Mutex
	sess           *session
	remoteURL      string
	remoteUID      string
	state          peerlink.State
	rejected       bool
	destroyed      bool
	closeScheduled bool
}

// session is one socket with its writer queue.
type session struct {
	conn     net.Conn
	queue    chan []byte
	stop     chan struct{}
	stopOnce sync.Once
	endOnce  sync.Once
	started  bool
}

func (s *session) shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func newConnection(direction peerlink.Direction, cfg *Config, sink peerlink.Sink, env Env) *connection {
	env = env.withDefaults()
	return &connection{
		direction: direction,
		config:    cfg,
		clock:     env.Clock,
		logger:    env.Logger,
		sink:      sink,
		state:     peerlink.Connecting,
	}
}

// attach binds nc to the connection. It returns nil, closing nc, when the
// connection was destroyed in the meantime.
func (c *connection) attach(nc net.Conn) *session {
	if tcp, ok := nc.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(c.config.KeepAlivePeriod)
		_ = tcp.SetNoDelay(true)
	}

	sess := &session{
		conn:  nc,
		queue: make(chan []byte, c.config.SendQueueSize),
		stop:  make(chan struct{}),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		_ = nc.Close()
		return nil
	}
	c.sess = sess
	c.state = peerlink.Open
	return sess
}

func (c *connection) start(sess *session) {
	c.mu.Lock()
	sess.started = true
	c.mu.Unlock()
	go c.writeLoop(sess)
	go c.readLoop(sess)
}

func (c *connection) readLoop(sess *session) {
	scanner := bufio.NewScanner(sess.conn)
	// +1 leaves room for the separator of a maximum sized frame
	limit := c.config.MaxFrameSize + 1
	scanner.Buffer(make([]byte, 0, min(4096, limit)), limit)
	scanner.Split(wire.SplitFrames)

	for scanner.Scan() {
		frame := scanner.Text()
		if frame == wire.CloseFrame {
			c.logger.Debugf("peerlink: %s asked to close the link", c.RemoteURL())
			c.end(sess, nil)
			return
		}
		if c.isDestroyed() {
			return
		}
		c.emit(peerlink.EventMessage, frame, nil)
	}
	c.end(sess, scanner.Err())
}

func (c *connection) writeLoop(sess *session) {
	defer sess.conn.Close()
	for {
		select {
		case frame := <-sess.queue:
			if _, err := sess.conn.Write(frame); err != nil {
				c.end(sess, fmt.Errorf("write to %s: %w", c.RemoteURL(), err))
				return
			}
		case <-sess.stop:
			c.flush(sess)
			return
		}
	}
}

// flush writes whatever is still queued, bounded by the write deadline set in end.
func (c *connection) flush(sess *session) {
	for {
		select {
		case frame := <-sess.queue:
			if _, err := sess.conn.Write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

// end tears down sess once. err is surfaced as EventError unless the link
// was destroyed locally.
func (c *connection) end(sess *session, err error) {
	sess.endOnce.Do(func() {
		_ = sess.conn.SetWriteDeadline(time.Now().Add(c.config.CloseGrace))
		sess.shutdown()

		c.mu.Lock()
		if c.state == peerlink.Open {
			c.state = peerlink.Closing
		}
		destroyed, started := c.destroyed, sess.started
		c.mu.Unlock()

		if !started {
			_ = sess.conn.Close()
		}
		if err != nil && !destroyed {
			c.logger.Debugf("peerlink: %s link to %s failed: %v", c.direction, c.RemoteURL(), err)
			c.emit(peerlink.EventError, "", err)
		}
		c.finish()
	})
}

// finish marks the link Closed and schedules EventClosed once.
func (c *connection) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = peerlink.Closed
	if c.closeScheduled {
		return
	}
	c.closeScheduled = true
	c.clock.AfterFunc(c.config.CloseGrace, func() {
		c.emit(peerlink.EventClosed, "", nil)
	})
}

func (c *connection) emit(kind peerlink.EventKind, frame string, err error) {
	c.sink(peerlink.Event{Kind: kind, Conn: c.self, Frame: frame, Err: err})
}

func (c *connection) isDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// Send appends the frame separator and queues frame for the writer.
func (c *connection) Send(frame string) error {
	c.mu.Lock()
	sess, state, destroyed := c.sess, c.state, c.destroyed
	c.mu.Unlock()

	if destroyed || state == peerlink.Closing || state == peerlink.Closed {
		return ErrConnectionClosed
	}
	if sess == nil {
		return ErrNotConnected
	}

	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, wire.FrameSeparator...)

	select {
	case <-sess.stop:
		return ErrConnectionClosed
	default:
	}
	select {
	case sess.queue <- buf:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Destroy disables keep-alive and closes the socket after flushing queued
// frames. EventClosed follows after the close grace period.
func (c *connection) Destroy() {
	c.mu.Lock()
	if c.destroyed || c.state == peerlink.Closed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.state = peerlink.Closing
	sess := c.sess
	c.mu.Unlock()

	if sess == nil {
		c.finish()
		return
	}
	if tcp, ok := sess.conn.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(false)
	}
	c.end(sess, nil)
}

func (c *connection) RemoteURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteURL
}

func (c *connection) Direction() peerlink.Direction { return c.direction }

func (c *connection) State() peerlink.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *connection) RemoteUID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteUID
}

func (c *connection) SetRemoteUID(uid string) {
	c.mu.Lock()
	c.remoteUID = uid
	c.mu.Unlock()
}

func (c *connection) IsRejected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejected
}

func (c *connection) MarkRejected() {
	c.mu.Lock()
	c.rejected = true
	c.mu.Unlock()
}

func (c *connection) IsClosed() bool {
	return c.State() == peerlink.Closed
}

func (c *connection) String() string {
	return fmt.Sprintf("%s(%s)", c.direction, c.RemoteURL())
}
