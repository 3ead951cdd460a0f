package peerlink

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rmacdonaldsmith/directmesh-go/pkg/peerlink"
)

// MockLogger forwards to t.Logf until the test has finished. Link
// goroutines may outlive the test that started them.
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

func testEnv(t *testing.T) Env {
	return Env{Logger: newMockLogger(t)}
}

func testConfig() *Config {
	cfg := &Config{
		ReconnectInterval: 10 * time.Millisecond,
		HandshakeTimeout:  time.Second,
	}
	cfg.SetDefaults()
	return cfg
}

// recorder collects connection events.
type recorder struct {
	mu     sync.Mutex
	events []peerlink.Event
	ch     chan peerlink.Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan peerlink.Event, 256)}
}

func (r *recorder) sink(ev peerlink.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	select {
	case r.ch <- ev:
	default:
	}
}

// waitFor returns the next event of the given kind, skipping others.
func (r *recorder) waitFor(t *testing.T, kind peerlink.EventKind) peerlink.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-r.ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
			return peerlink.Event{}
		}
	}
}

func (r *recorder) count(kind peerlink.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) frames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Kind == peerlink.EventMessage {
			out = append(out, ev.Frame)
		}
	}
	return out
}

// fakeConn is an in-memory peerlink.Connection.
type fakeConn struct {
	mu        sync.Mutex
	url       string
	direction peerlink.Direction
	sent      []string
	destroyed int
	remoteUID string
	rejected  bool
}

func newFakeConn(direction peerlink.Direction) *fakeConn {
	return &fakeConn{url: "127.0.0.1:4000", direction: direction}
}

func (f *fakeConn) Send(frame string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed > 0 {
		return ErrConnectionClosed
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeConn) RemoteURL() string { return f.url }

func (f *fakeConn) Destroy() {
	f.mu.Lock()
	f.destroyed++
	f.mu.Unlock()
}

func (f *fakeConn) Direction() peerlink.Direction { return f.direction }

func (f *fakeConn) State() peerlink.State {
	if f.IsClosed() {
		return peerlink.Closed
	}
	return peerlink.Open
}

func (f *fakeConn) RemoteUID() string { return f.remoteUID }

func (f *fakeConn) SetRemoteUID(uid string) { f.remoteUID = uid }

func (f *fakeConn) IsRejected() bool { return f.rejected }

func (f *fakeConn) MarkRejected() { f.rejected = true }

func (f *fakeConn) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed > 0
}

func (f *fakeConn) sentFrames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// manualScheduler runs scheduled callbacks only when the test fires them.
type manualScheduler struct {
	tasks []*scheduledTask
}

type scheduledTask struct {
	after     time.Duration
	fn        func()
	cancelled bool
	fired     bool
}

func (s *manualScheduler) Schedule(d time.Duration, fn func()) func() {
	task := &scheduledTask{after: d, fn: fn}
	s.tasks = append(s.tasks, task)
	return func() { task.cancelled = true }
}

// fire runs the oldest live task scheduled with delay d.
func (s *manualScheduler) fire(d time.Duration) error {
	for _, task := range s.tasks {
		if task.after == d && !task.cancelled && !task.fired {
			task.fired = true
			task.fn()
			return nil
		}
	}
	return fmt.Errorf("no live task scheduled after %v", d)
}

func (s *manualScheduler) live() int {
	n := 0
	for _, task := range s.tasks {
		if !task.cancelled && !task.fired {
			n++
		}
	}
	return n
}

type fakeDirectory struct {
	uid       string
	token     string
	connected map[string]bool
	supersede bool
}

func (d *fakeDirectory) UID() string { return d.uid }

func (d *fakeDirectory) SecurityToken() string { return d.token }

func (d *fakeDirectory) IsConnectedToPeer(uid string) bool { return d.connected[uid] }

func (d *fakeDirectory) Supersedes(peerlink.Connection, string) bool { return d.supersede }
