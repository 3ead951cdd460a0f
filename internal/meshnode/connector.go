package meshnode

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	temperrcatcher "github.com/jbenet/go-temp-err-catcher"
	"go.uber.org/multierr"

	"github.com/rmacdonaldsmith/directmesh-go/internal/discovery"
	"github.com/rmacdonaldsmith/directmesh-go/internal/logging"
	"github.com/rmacdonaldsmith/directmesh-go/internal/metrics"
	"github.com/rmacdonaldsmith/directmesh-go/internal/peerlink"
	"github.com/rmacdonaldsmith/directmesh-go/internal/routingtable"
	"github.com/rmacdonaldsmith/directmesh-go/pkg/codec"
	"github.com/rmacdonaldsmith/directmesh-go/pkg/meshnode"
	peerlinkpkg "github.com/rmacdonaldsmith/directmesh-go/pkg/peerlink"
	routingtablepkg "github.com/rmacdonaldsmith/directmesh-go/pkg/routingtable"
	"github.com/rmacdonaldsmith/directmesh-go/pkg/wire"
)

// ErrMessageTooLarge is returned by Publish when the encoded frame exceeds MaxFrameSize
var ErrMessageTooLarge = errors.New("message exceeds max frame size")

// Option configures optional collaborators of a MessageConnector
type Option func(*MessageConnector)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logging.Logger) Option {
	return func(n *MessageConnector) { n.logger = logging.OrNop(l) }
}

// WithClock replaces the wall clock used for every timer.
func WithClock(c clock.Clock) Option {
	return func(n *MessageConnector) { n.clock = c }
}

// WithCodec overrides the codec selected by Config.Codec.
func WithCodec(c codec.Codec) Option {
	return func(n *MessageConnector) { n.codec = c }
}

// WithMetrics records connector activity into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *MessageConnector) { n.metrics = m }
}

type linkState int

const (
	linkDialing linkState = iota
	linkPending
	linkActive
	// linkDropped links are done for; they stay tracked until EventClosed
	linkDropped
)

type link struct {
	conn    peerlinkpkg.Connection
	state   linkState
	pending *peerlink.PendingConnection
}

// snapshot is the state published for readers outside the event loop.
type snapshot struct {
	listening    bool
	ready        bool
	pending      int
	peers        []meshnode.PeerInfo
	localTopics  []string
	remoteTopics []string
}

// MessageConnector implements meshnode.Connector over direct TCP links.
//
// All mutable state is owned by a single event loop goroutine. Socket
// goroutines, the accept loop, timers and the public methods hand work to
// the loop through an unbounded mailbox, so no public method blocks on the
// network. Local handlers run on the loop.
type MessageConnector struct {
	config   *Config
	linkCfg  *peerlink.Config
	uid      string
	clock    clock.Clock
	logger   logging.Logger
	codec    codec.Codec
	metrics  *metrics.Metrics
	registry routingtablepkg.RemoteSubscriberRegistry
	listener net.Listener
	peers    []discovery.Peer
	box      *mailbox

	// event loop state
	links         map[peerlinkpkg.Connection]*link
	active        []peerlinkpkg.Connection
	linked        map[string]bool
	emitter       *emitter
	serverIsReady bool
	closing       bool
	finished      bool
	cancelDrain   func()

	mu   sync.RWMutex
	snap snapshot

	nextHandle atomic.Uint64
	closed     atomic.Bool
	closeOnce  sync.Once
	readyOnce  sync.Once
	readyCh    chan struct{}
	errs       chan error
	done       chan struct{}
	closeErr   error
}

var _ meshnode.Connector = (*MessageConnector)(nil)

// New validates cfg, binds the listener and starts dialling every peer.
// Configuration problems are returned as *ConfigError before any socket is
// opened.
func New(cfg *Config, opts ...Option) (*MessageConnector, error) {
	if cfg == nil {
		return nil, &ConfigError{Field: "config", Reason: "is required"}
	}
	c := *cfg
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.SetDefaults()

	peers, err := discovery.NewStaticDiscovery(c.RemoteURLs).FindPeers(context.Background())
	if err != nil {
		return nil, &ConfigError{Field: "remoteUrls", Reason: err.Error()}
	}

	n := &MessageConnector{
		config:   &c,
		linkCfg:  c.linkConfig(),
		uid:      uuid.NewString(),
		clock:    clock.New(),
		logger:   logging.Nop{},
		registry: routingtable.NewInMemoryRegistry(),
		peers:    peers,
		box:      newMailbox(),
		links:    make(map[peerlinkpkg.Connection]*link),
		linked:   make(map[string]bool),
		emitter:  newEmitter(),
		readyCh:  make(chan struct{}),
		errs:     make(chan error, c.ErrorBufferSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.codec == nil {
		cd, err := codec.ByName(c.Codec)
		if err != nil {
			return nil, &ConfigError{Field: "codec", Reason: err.Error()}
		}
		n.codec = cd
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(c.LocalHost, strconv.Itoa(c.LocalPort)))
	if err != nil {
		return nil, fmt.Errorf("failed to bind listener: %w", err)
	}
	n.listener = ln
	n.logger.Infof("meshnode: %s listening on %s", n.uid, ln.Addr())

	go n.run()
	n.box.post(n.start)
	go n.acceptLoop()
	return n, nil
}

// UID returns the identity announced in handshakes
func (n *MessageConnector) UID() string { return n.uid }

// Addr returns the bound listener address
func (n *MessageConnector) Addr() net.Addr { return n.listener.Addr() }

// Subscribe registers handler for topic
func (n *MessageConnector) Subscribe(topic string, handler meshnode.Handler) (meshnode.Handle, error) {
	if !wire.ValidTopic(topic) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if handler == nil {
		return 0, ErrNilHandler
	}
	handle := meshnode.Handle(n.nextHandle.Add(1))
	if !n.post(func() { n.subscribe(topic, handle, handler) }) {
		return 0, ErrConnectorClosed
	}
	return handle, nil
}

// AddPeer dials a peer that was not part of the configuration. A URL
// that already has an outgoing link is ignored.
func (n *MessageConnector) AddPeer(url string) error {
	peer, err := discovery.ParsePeer(url)
	if err != nil {
		return err
	}
	if !n.post(func() { n.dial(peer.URL) }) {
		return ErrConnectorClosed
	}
	return nil
}

// Unsubscribe removes the handler registered under handle
func (n *MessageConnector) Unsubscribe(topic string, handle meshnode.Handle) error {
	if !wire.ValidTopic(topic) {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if !n.post(func() { n.unsubscribe(topic, handle) }) {
		return ErrConnectorClosed
	}
	return nil
}

// Publish encodes message and routes it to the remote subscribers of topic.
// An encoding failure is returned as *SerializationError and also reported
// on Errors.
func (n *MessageConnector) Publish(topic string, message any) error {
	if !wire.ValidTopic(topic) {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if n.closed.Load() {
		return ErrConnectorClosed
	}

	payload, err := n.codec.Encode(message)
	if err != nil {
		serr := &SerializationError{Topic: topic, Err: err}
		n.report(serr)
		return serr
	}
	frame := wire.MsgFrame(topic, payload)
	if len(frame) > n.linkCfg.MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(frame))
	}

	if !n.post(func() { n.publish(topic, frame) }) {
		return ErrConnectorClosed
	}
	return nil
}

func (n *MessageConnector) IsReady() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.snap.ready
}

func (n *MessageConnector) Ready() <-chan struct{} { return n.readyCh }

// Errors delivers asynchronous failures. It is buffered; when nobody drains
// it, further errors are only logged. It is never closed.
//
// A DUPLICATE_CONNECTION rejection, sent or received, is not reported: it
// only means the other link to that peer was kept.
func (n *MessageConnector) Errors() <-chan error { return n.errs }

func (n *MessageConnector) Done() <-chan struct{} { return n.done }

// IsConnectedToPeer reports whether a verified link to uid exists
func (n *MessageConnector) IsConnectedToPeer(uid string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, p := range n.snap.peers {
		if p.UID == uid {
			return true
		}
	}
	return false
}

// Health returns a snapshot of the connector state
func (n *MessageConnector) Health() meshnode.HealthStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return meshnode.HealthStatus{
		UID:                n.uid,
		Ready:              n.snap.ready,
		Listening:          n.snap.listening,
		ActiveConnections:  len(n.snap.peers),
		PendingConnections: n.snap.pending,
		MinimumConnections: n.config.MinimumRequiredConnections,
		Peers:              append([]meshnode.PeerInfo(nil), n.snap.peers...),
		LocalTopics:        append([]string(nil), n.snap.localTopics...),
		RemoteTopics:       append([]string(nil), n.snap.remoteTopics...),
		Closed:             n.closed.Load(),
	}
}

// Shutdown starts closing the connector without waiting. Safe to call from a handler.
func (n *MessageConnector) Shutdown() {
	n.closeOnce.Do(func() {
		n.closed.Store(true)
		n.box.post(n.beginClose)
	})
}

// Close destroys every link, waits for them to report closed, then closes
// the listener. Must not be called from a handler; use Shutdown there.
func (n *MessageConnector) Close() error {
	n.Shutdown()
	<-n.done
	return n.closeErr
}

func (n *MessageConnector) post(fn func()) bool {
	if n.closed.Load() {
		return false
	}
	return n.box.post(fn)
}

func (n *MessageConnector) run() {
	for {
		batch, ok := n.box.take()
		if !ok {
			return
		}
		for _, fn := range batch {
			fn()
		}
		n.refresh()
	}
}

func (n *MessageConnector) start() {
	n.serverIsReady = true
	for _, peer := range n.peers {
		n.dial(peer.URL)
	}
}

// dial opens an Outgoing link to url unless one is already open or being
// established.
func (n *MessageConnector) dial(url string) {
	if n.closing {
		return
	}
	for conn, l := range n.links {
		if conn.Direction() == peerlinkpkg.Outgoing && l.state != linkDropped && conn.RemoteURL() == url {
			n.logger.Debugf("meshnode: already linked to %s", url)
			return
		}
	}
	out, err := peerlink.NewOutgoing(url, n.linkCfg, n.sink, n.env())
	if err != nil {
		n.report(&LinkError{URL: url, Err: err})
		return
	}
	n.links[out] = &link{conn: out, state: linkDialing}
	out.Connect()
}

func (n *MessageConnector) acceptLoop() {
	var catcher temperrcatcher.TempErrCatcher
	for {
		nc, err := n.listener.Accept()
		if err != nil {
			if catcher.IsTemporary(err) {
				n.logger.Warnf("meshnode: temporary accept error: %v", err)
				continue
			}
			if !n.closed.Load() {
				n.report(fmt.Errorf("accept on %s: %w", n.listener.Addr(), err))
			}
			return
		}
		if !n.box.post(func() { n.accept(nc) }) {
			_ = nc.Close()
			return
		}
	}
}

func (n *MessageConnector) accept(nc net.Conn) {
	if n.closing {
		_ = nc.Close()
		return
	}
	in := peerlink.NewIncoming(nc, n.linkCfg, n.sink, n.env())
	l := &link{conn: in, state: linkPending}
	n.links[in] = l
	in.Start()
	n.logger.Debugf("meshnode: accepted connection from %s", in.RemoteURL())
	l.pending = n.handshake(in)
}

func (n *MessageConnector) handshake(conn peerlinkpkg.Connection) *peerlink.PendingConnection {
	return peerlink.NewPendingConnection(conn, directory{n}, scheduler{n}, n.linkCfg, n.logger, n.handshakeDone)
}

// sink receives events from link goroutines.
func (n *MessageConnector) sink(ev peerlinkpkg.Event) {
	n.box.post(func() { n.handleEvent(ev) })
}

func (n *MessageConnector) handleEvent(ev peerlinkpkg.Event) {
	l, ok := n.links[ev.Conn]
	if !ok {
		return
	}

	switch l.state {
	case linkDialing:
		switch ev.Kind {
		case peerlinkpkg.EventConnect:
			if n.closing {
				l.state = linkDropped
				ev.Conn.Destroy()
				break
			}
			l.state = linkPending
			l.pending = n.handshake(ev.Conn)
		case peerlinkpkg.EventError:
			n.report(&LinkError{URL: ev.Conn.RemoteURL(), Err: ev.Err})
		}
	case linkPending:
		l.pending.HandleEvent(ev)
	case linkActive:
		switch ev.Kind {
		case peerlinkpkg.EventMessage:
			n.dispatch(ev.Conn, ev.Frame)
		case peerlinkpkg.EventError:
			n.report(&LinkError{URL: ev.Conn.RemoteURL(), Err: ev.Err})
		case peerlinkpkg.EventClosed:
			n.logger.Infof("meshnode: link to peer %s closed", ev.Conn.RemoteUID())
			n.deactivate(ev.Conn)
		}
	}

	if ev.Kind == peerlinkpkg.EventClosed {
		delete(n.links, ev.Conn)
		if n.closing && len(n.links) == 0 {
			n.finishClose(nil)
		}
	}
}

func (n *MessageConnector) handshakeDone(conn peerlinkpkg.Connection, res peerlink.Result) {
	n.metrics.Handshake(res.Outcome.String())
	l, ok := n.links[conn]
	if !ok {
		return
	}
	l.pending = nil
	l.state = linkDropped

	switch res.Outcome {
	case peerlink.OutcomeOpen:
		if n.closing {
			conn.Destroy()
			return
		}
		n.promote(l)
	case peerlink.OutcomeRejected:
		n.logger.Warnf("meshnode: rejected %s link with %s: %s", conn.Direction(), conn.RemoteURL(), res.Reason)
		if conn.Direction() == peerlinkpkg.Outgoing {
			conn.MarkRejected()
			if res.Reason != wire.ReasonDuplicateConnection {
				n.report(&HandshakeError{URL: conn.RemoteURL(), Reason: res.Reason})
			}
		}
	case peerlink.OutcomeRefused:
		if res.Reason != wire.ReasonDuplicateConnection {
			n.report(&HandshakeError{URL: conn.RemoteURL(), Reason: res.Reason, Remote: true})
		}
	default:
		n.logger.Debugf("meshnode: handshake with %s ended: %s %v", conn.RemoteURL(), res.Outcome, res.Err)
	}
}

// promote moves a verified link into the active set. An existing link to
// the same peer is only present when the new one supersedes it.
//
// A link to a peer this node was linked to before replaces that link, so
// the local topics are announced on it again. Subscriptions sent on the
// earlier link are lost when the peer drops it as a duplicate.
func (n *MessageConnector) promote(l *link) {
	uid := l.conn.RemoteUID()
	replaces := n.linked[uid]
	n.linked[uid] = true
	if old := n.activeFor(uid); old != nil {
		n.logger.Infof("meshnode: replacing %s link to %s with %s link", old.Direction(), uid, l.conn.Direction())
		for _, topic := range n.registry.TopicsFor(old) {
			n.registry.Add(topic, l.conn)
			n.registry.Remove(topic, old)
		}
		_ = old.Send(wire.CloseFrame)
		old.Destroy()
		n.deactivate(old)
	}

	l.state = linkActive
	n.active = append(n.active, l.conn)
	n.logger.Infof("meshnode: connected to peer %s at %s (%s)", uid, l.conn.RemoteURL(), l.conn.Direction())
	if replaces {
		n.announce(l.conn)
	}
}

// announce sends SUBSCRIBE for every local topic on conn.
func (n *MessageConnector) announce(conn peerlinkpkg.Connection) {
	sent := 0
	for _, topic := range n.emitter.topicList() {
		if err := conn.Send(wire.SubscribeFrame(topic)); err != nil {
			n.logger.Debugf("meshnode: resubscribe %q to %s: %v", topic, conn.RemoteURL(), err)
			continue
		}
		sent++
	}
	if sent > 0 {
		n.logger.Debugf("meshnode: announced %d topics to peer %s", sent, conn.RemoteUID())
	}
	n.metrics.FrameSent(wire.TagSubscribe.String(), sent)
}

// deactivate drops conn from the active set.
func (n *MessageConnector) deactivate(conn peerlinkpkg.Connection) {
	for i, c := range n.active {
		if c == conn {
			n.active = append(n.active[:i], n.active[i+1:]...)
			break
		}
	}
	if l, ok := n.links[conn]; ok {
		l.state = linkDropped
	}
	if n.config.PurgeClosedSubscribers {
		n.registry.RemoveForAllTopics(conn)
	}
}

func (n *MessageConnector) activeFor(uid string) peerlinkpkg.Connection {
	for _, c := range n.active {
		if c.RemoteUID() == uid {
			return c
		}
	}
	return nil
}

// preferred reports whether conn is the link both ends keep when two links
// to the same peer race: the one dialled by the lower uid.
func (n *MessageConnector) preferred(conn peerlinkpkg.Connection, peerUID string) bool {
	initiator := peerUID
	if conn.Direction() == peerlinkpkg.Outgoing {
		initiator = n.uid
	}
	return initiator == min(n.uid, peerUID)
}

func (n *MessageConnector) dispatch(conn peerlinkpkg.Connection, frame string) {
	tag, body, err := wire.Split(frame)
	if err != nil {
		return
	}
	n.metrics.FrameReceived(tag.String())

	switch tag {
	case wire.TagMsg:
		topic, payload, ok := wire.SplitMsg(body)
		if !ok {
			n.report(&SerializationError{Err: fmt.Errorf("malformed msg frame from %s", conn.RemoteURL())})
			return
		}
		msg, err := n.codec.Decode([]byte(payload))
		if err != nil {
			n.report(&SerializationError{Topic: topic, Err: err})
			return
		}
		for _, h := range n.emitter.handlers(topic) {
			n.invoke(h, topic, msg)
		}
	case wire.TagSubscribe:
		if body != "" {
			n.registry.Add(body, conn)
		}
	case wire.TagUnsubscribe:
		n.registry.Remove(body, conn)
	case wire.TagError:
		n.report(&RemoteError{URL: conn.RemoteURL(), Message: body})
	case wire.TagReject:
		n.logger.Warnf("meshnode: peer %s rejected an established link: %s", conn.RemoteUID(), body)
		conn.Destroy()
		n.deactivate(conn)
	default:
		n.logger.Debugf("meshnode: ignoring %s frame from %s", tag, conn.RemoteURL())
	}
}

func (n *MessageConnector) invoke(h meshnode.Handler, topic string, msg any) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Errorf("meshnode: handler for %q panicked: %v", topic, r)
		}
	}()
	h(topic, msg)
}

func (n *MessageConnector) subscribe(topic string, handle meshnode.Handle, h meshnode.Handler) {
	if !n.emitter.add(topic, handle, h) {
		return
	}
	// peers that connect later are not told
	frame := wire.SubscribeFrame(topic)
	sent := 0
	for _, conn := range n.active {
		if err := conn.Send(frame); err != nil {
			n.logger.Debugf("meshnode: subscribe %q to %s: %v", topic, conn.RemoteURL(), err)
			continue
		}
		sent++
	}
	n.metrics.FrameSent(wire.TagSubscribe.String(), sent)
}

func (n *MessageConnector) unsubscribe(topic string, handle meshnode.Handle) {
	if n.emitter.remove(topic, handle) > 0 {
		return
	}
	// only peers subscribed to the topic here hear about it
	sent, err := n.registry.SendMsgForTopic(topic, wire.UnsubscribeFrame(topic))
	if err != nil {
		n.logger.Debugf("meshnode: unsubscribe %q: %v", topic, err)
	}
	n.metrics.FrameSent(wire.TagUnsubscribe.String(), sent)
}

func (n *MessageConnector) publish(topic, frame string) {
	sent, err := n.registry.SendMsgForTopic(topic, frame)
	if err != nil {
		n.logger.Debugf("meshnode: publish %q reached %d peers: %v", topic, sent, err)
	}
	n.metrics.FrameSent(wire.TagMsg.String(), sent)
}

func (n *MessageConnector) beginClose() {
	n.closing = true
	n.logger.Infof("meshnode: closing %d links", len(n.links))
	for conn := range n.links {
		conn.Destroy()
	}
	n.active = nil
	if len(n.links) == 0 {
		n.finishClose(nil)
		return
	}
	timeout := n.config.CloseTimeout
	n.cancelDrain = scheduler{n}.Schedule(timeout, func() {
		n.finishClose(fmt.Errorf("%d links did not close within %v", len(n.links), timeout))
	})
}

func (n *MessageConnector) finishClose(drainErr error) {
	if n.finished {
		return
	}
	n.finished = true
	if n.cancelDrain != nil {
		n.cancelDrain()
	}

	err := drainErr
	if cerr := n.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = multierr.Append(err, cerr)
	}
	n.closeErr = err
	n.serverIsReady = false
	n.refresh()
	n.logger.Infof("meshnode: %s closed", n.uid)

	close(n.done)
	n.box.close()
}

// refresh recomputes readiness and publishes the snapshot.
func (n *MessageConnector) refresh() {
	ready := n.serverIsReady && !n.closing && len(n.active) >= n.config.MinimumRequiredConnections

	pending := 0
	for _, l := range n.links {
		if l.state == linkPending {
			pending++
		}
	}
	peers := make([]meshnode.PeerInfo, 0, len(n.active))
	for _, c := range n.active {
		peers = append(peers, meshnode.PeerInfo{UID: c.RemoteUID(), URL: c.RemoteURL(), Direction: c.Direction().String()})
	}

	n.mu.Lock()
	n.snap = snapshot{
		listening:    n.serverIsReady,
		ready:        ready,
		pending:      pending,
		peers:        peers,
		localTopics:  n.emitter.topicList(),
		remoteTopics: n.registry.Topics(),
	}
	n.mu.Unlock()

	n.metrics.Links(len(n.active), pending)
	n.metrics.SetReady(ready)
	if ready {
		n.readyOnce.Do(func() {
			n.logger.Infof("meshnode: %s ready with %d peer connections", n.uid, len(n.active))
			close(n.readyCh)
		})
	}
}

func (n *MessageConnector) report(err error) {
	n.metrics.Error(errorKind(err))
	n.logger.Warnf("meshnode: %v", err)
	select {
	case n.errs <- err:
	default:
		n.logger.Debugf("meshnode: error channel full, dropped: %v", err)
	}
}

func (n *MessageConnector) env() peerlink.Env {
	return peerlink.Env{Clock: n.clock, Logger: n.logger}
}

// directory answers handshake questions from the event loop.
type directory struct {
	n *MessageConnector
}

func (d directory) UID() string { return d.n.uid }

func (d directory) SecurityToken() string { return d.n.config.SecurityToken }

func (d directory) IsConnectedToPeer(uid string) bool { return d.n.activeFor(uid) != nil }

func (d directory) Supersedes(conn peerlinkpkg.Connection, uid string) bool {
	existing := d.n.activeFor(uid)
	if existing == nil {
		return true
	}
	return d.n.preferred(conn, uid) && !d.n.preferred(existing, uid)
}

// scheduler runs timer callbacks on the event loop.
type scheduler struct {
	n *MessageConnector
}

func (s scheduler) Schedule(d time.Duration, fn func()) func() {
	var cancelled atomic.Bool
	t := s.n.clock.AfterFunc(d, func() {
		s.n.box.post(func() {
			if !cancelled.Load() {
				fn()
			}
		})
	})
	return func() {
		cancelled.Store(true)
		t.Stop()
	}
}
