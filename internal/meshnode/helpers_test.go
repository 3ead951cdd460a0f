package meshnode

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	peerlinkpkg "github.com/rmacdonaldsmith/directmesh-go/pkg/peerlink"
	"github.com/rmacdonaldsmith/directmesh-go/pkg/wire"
)

const testToken = "test-token"

// MockLogger forwards to t.Logf until the test has finished.
type MockLogger struct {
	t    *testing.T
	done atomic.Bool
}

func newMockLogger(t *testing.T) *MockLogger {
	m := &MockLogger{t: t}
	t.Cleanup(func() { m.done.Store(true) })
	return m
}

func (m *MockLogger) logf(prefix, format string, args ...interface{}) {
	if m.done.Load() {
		return
	}
	m.t.Logf(prefix+format, args...)
}

func (m *MockLogger) Debugf(format string, args ...interface{}) { m.logf("[DEBUG] ", format, args...) }
func (m *MockLogger) Infof(format string, args ...interface{})  { m.logf("[INFO] ", format, args...) }
func (m *MockLogger) Warnf(format string, args ...interface{})  { m.logf("[WARN] ", format, args...) }
func (m *MockLogger) Errorf(format string, args ...interface{}) { m.logf("[ERROR] ", format, args...) }

// freePorts reserves count loopback ports and releases them again.
func freePorts(t *testing.T, count int) []int {
	t.Helper()
	ports := make([]int, 0, count)
	listeners := make([]net.Listener, 0, count)
	for i := 0; i < count; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		listeners = append(listeners, ln)
		ports = append(ports, ln.Addr().(*net.TCPAddr).Port)
	}
	for _, ln := range listeners {
		_ = ln.Close()
	}
	return ports
}

func peerURL(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

func newTestConfig(port int, peerPorts ...int) *Config {
	urls := make([]string, 0, len(peerPorts))
	for _, p := range peerPorts {
		urls = append(urls, peerURL(p))
	}
	cfg := NewConfig("127.0.0.1", port, urls, testToken).WithReconnect(20*time.Millisecond, 0)
	cfg.CloseTimeout = 2 * time.Second
	return cfg
}

func startConnector(t *testing.T, cfg *Config, opts ...Option) *MessageConnector {
	t.Helper()
	opts = append([]Option{WithLogger(newMockLogger(t))}, opts...)
	n, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

// startMesh starts size fully meshed connectors and waits until every pair
// is linked.
func startMesh(t *testing.T, size int, tweak func(*Config)) []*MessageConnector {
	t.Helper()
	ports := freePorts(t, size)
	nodes := make([]*MessageConnector, 0, size)
	for i, port := range ports {
		var others []int
		for j, p := range ports {
			if j != i {
				others = append(others, p)
			}
		}
		cfg := newTestConfig(port, others...)
		if tweak != nil {
			tweak(cfg)
		}
		nodes = append(nodes, startConnector(t, cfg))
	}
	waitSettled(t, nodes...)
	return nodes
}

// waitSettled waits until every node holds exactly one link to every other
// node, and that link is the one both ends keep.
func waitSettled(t *testing.T, nodes ...*MessageConnector) {
	t.Helper()
	byUID := make(map[string]*MessageConnector, len(nodes))
	for _, n := range nodes {
		byUID[n.UID()] = n
	}
	require.Eventually(t, func() bool {
		for _, n := range nodes {
			h := n.Health()
			if h.ActiveConnections != len(nodes)-1 || h.PendingConnections != 0 {
				return false
			}
			for _, p := range h.Peers {
				other, ok := byUID[p.UID]
				if !ok || p.Direction != keptDirection(n, other) {
					return false
				}
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond, "mesh did not settle")
}

// keptDirection is the direction, as seen by n, of the link n and other keep.
func keptDirection(n, other *MessageConnector) string {
	if n.UID() < other.UID() {
		return "outgoing"
	}
	return "incoming"
}

func waitRemoteTopic(t *testing.T, n *MessageConnector, topic string, present bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, tp := range n.Health().RemoteTopics {
			if tp == topic {
				return present
			}
		}
		return !present
	}, 3*time.Second, 10*time.Millisecond, "remote topic %q present=%v", topic, present)
}

func waitLocalTopic(t *testing.T, n *MessageConnector, topic string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, tp := range n.Health().LocalTopics {
			if tp == topic {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
}

// activeSubscribers returns the uids of the peers registered for topic on
// the link n currently keeps to them. It reads the registry on the loop.
func activeSubscribers(t *testing.T, n *MessageConnector, topic string) []string {
	t.Helper()
	out := make(chan []string, 1)
	require.True(t, n.post(func() {
		var uids []string
		for _, s := range n.registry.Subscribers(topic) {
			conn, ok := s.(peerlinkpkg.Connection)
			if ok && n.activeFor(conn.RemoteUID()) == conn {
				uids = append(uids, conn.RemoteUID())
			}
		}
		out <- uids
	}), "connector closed")
	select {
	case uids := <-out:
		return uids
	case <-time.After(3 * time.Second):
		t.Fatal("event loop did not answer")
		return nil
	}
}

// waitActiveSubscribers waits until exactly the given peers are registered
// for topic on their kept links.
func waitActiveSubscribers(t *testing.T, n *MessageConnector, topic string, uids ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		got := activeSubscribers(t, n, topic)
		if len(got) != len(uids) {
			return false
		}
		for _, uid := range uids {
			found := false
			for _, g := range got {
				found = found || g == uid
			}
			if !found {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond, "subscribers of %q on %s", topic, n.UID())
}

// nextError returns the next reported error of type T, skipping others.
func nextError[T error](t *testing.T, n *MessageConnector) T {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case err := <-n.Errors():
			var target T
			if errors.As(err, &target) {
				return target
			}
			t.Logf("skipping error: %v", err)
		case <-deadline:
			var zero T
			t.Fatalf("no %T reported", zero)
			return zero
		}
	}
}

// noError fails if an error of type T is reported within d.
func noError[T error](t *testing.T, n *MessageConnector, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case err := <-n.Errors():
			var target T
			if errors.As(err, &target) {
				t.Fatalf("unexpected error: %v", err)
			}
		case <-deadline:
			return
		}
	}
}

type received struct {
	topic   string
	message any
}

// inbox is a Handler that records deliveries.
type inbox struct {
	ch chan received
}

func newInbox() *inbox {
	return &inbox{ch: make(chan received, 64)}
}

func (i *inbox) handle(topic string, message any) {
	select {
	case i.ch <- received{topic: topic, message: message}:
	default:
	}
}

func (i *inbox) next(t *testing.T) received {
	t.Helper()
	select {
	case r := <-i.ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("no message delivered")
		return received{}
	}
}

func (i *inbox) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case r := <-i.ch:
		t.Fatalf("unexpected delivery on %q: %v", r.topic, r.message)
	case <-time.After(d):
	}
}

// rawPeer speaks the wire protocol by hand.
type rawPeer struct {
	t       *testing.T
	conn    net.Conn
	scanner *bufio.Scanner
}

func newRawPeer(t *testing.T, conn net.Conn) *rawPeer {
	t.Cleanup(func() { _ = conn.Close() })
	scanner := bufio.NewScanner(conn)
	scanner.Split(wire.SplitFrames)
	return &rawPeer{t: t, conn: conn, scanner: scanner}
}

func dialRaw(t *testing.T, addr net.Addr) *rawPeer {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	return newRawPeer(t, conn)
}

func (p *rawPeer) send(frame string) {
	p.t.Helper()
	_, err := p.conn.Write([]byte(frame + wire.FrameSeparator))
	require.NoError(p.t, err)
}

func (p *rawPeer) identify(uid, token string) {
	p.t.Helper()
	frame, err := wire.IdentifyFrame(wire.Identity{UID: uid, SecurityToken: token})
	require.NoError(p.t, err)
	p.send(frame)
}

func (p *rawPeer) next() string {
	p.t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	require.True(p.t, p.scanner.Scan(), "no frame read: %v", p.scanner.Err())
	return p.scanner.Text()
}

// expectIdentify reads the connector's IDENTIFY frame and returns its uid.
func (p *rawPeer) expectIdentify() string {
	p.t.Helper()
	tag, body, err := wire.Split(p.next())
	require.NoError(p.t, err)
	require.Equal(p.t, wire.TagIdentify, tag)
	id, err := wire.ParseIdentify(body)
	require.NoError(p.t, err)
	return id.UID
}

// expectEOF waits for the connector to hang up.
func (p *rawPeer) expectEOF() {
	p.t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for p.scanner.Scan() {
	}
	var ne net.Error
	if err := p.scanner.Err(); errors.As(err, &ne) && ne.Timeout() {
		p.t.Fatal("connection was not closed")
	}
}

func (p *rawPeer) String() string {
	return fmt.Sprintf("raw peer %s", p.conn.LocalAddr())
}
