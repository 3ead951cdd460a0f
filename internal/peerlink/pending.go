package peerlink

import (
	"crypto/subtle"
	"time"

	"github.com/rmacdonaldsmith/directmesh-go/internal/logging"
	"github.com/rmacdonaldsmith/directmesh-go/pkg/peerlink"
	"github.com/rmacdonaldsmith/directmesh-go/pkg/wire"
)

// Directory answers the identity questions asked during a handshake.
type Directory interface {
	UID() string
	SecurityToken() string
	IsConnectedToPeer(uid string) bool
	// Supersedes reports whether conn, announced as uid, should replace the
	// active link to that peer instead of being rejected as a duplicate.
	Supersedes(conn peerlink.Connection, uid string) bool
}

// Scheduler runs fn after d on the goroutine that drives the handshake.
// fn must not run once cancel has returned.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) (cancel func())
}

// Outcome is how a handshake ended.
type Outcome int

const (
	// OutcomeOpen: identity verified, the link may be promoted
	OutcomeOpen Outcome = iota
	// OutcomeRejected: this side sent a REJECT
	OutcomeRejected
	// OutcomeRefused: the peer sent a REJECT
	OutcomeRefused
	OutcomeTimedOut
	OutcomeClosed
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOpen:
		return "open"
	case OutcomeRejected:
		return "rejected"
	case OutcomeRefused:
		return "refused"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeClosed:
		return "closed"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result describes a finished handshake.
type Result struct {
	Outcome   Outcome
	Reason    string
	RemoteUID string
	Err       error
}

// HandshakeDone is called exactly once per PendingConnection.
type HandshakeDone func(conn peerlink.Connection, result Result)

type pendingState int

const (
	awaitingIdentify pendingState = iota
	rejecting
	resolved
)

// PendingConnection runs the IDENTIFY/REJECT exchange on a fresh link. It is
// not safe for concurrent use: construction, HandleEvent and scheduled
// callbacks must all run on the same goroutine.
type PendingConnection struct {
	conn   peerlink.Connection
	dir    Directory
	sched  Scheduler
	config *Config
	logger logging.Logger
	done   HandshakeDone

	state         pendingState
	reason        string
	cancelTimeout func()
	cancelReject  func()
}

// NewPendingConnection sends this node's IDENTIFY on conn and starts the
// handshake timeout.
func NewPendingConnection(conn peerlink.Connection, dir Directory, sched Scheduler, cfg *Config, logger logging.Logger, done HandshakeDone) *PendingConnection {
	p := &PendingConnection{
		conn:   conn,
		dir:    dir,
		sched:  sched,
		config: cfg,
		logger: logging.OrNop(logger),
		done:   done,
	}

	frame, err := wire.IdentifyFrame(wire.Identity{UID: dir.UID(), SecurityToken: dir.SecurityToken()})
	if err != nil {
		conn.Destroy()
		p.complete(Result{Outcome: OutcomeFailed, Err: err})
		return p
	}
	if err := conn.Send(frame); err != nil {
		p.logger.Debugf("peerlink: failed to send identify to %s: %v", conn.RemoteURL(), err)
	}
	p.cancelTimeout = sched.Schedule(cfg.HandshakeTimeout, p.timeout)
	return p
}

// HandleEvent feeds a connection event into the handshake.
func (p *PendingConnection) HandleEvent(ev peerlink.Event) {
	switch ev.Kind {
	case peerlink.EventMessage:
		p.handleFrame(ev.Frame)
	case peerlink.EventError:
		p.lost(OutcomeFailed, ev.Err)
	case peerlink.EventClosed:
		p.lost(OutcomeClosed, nil)
	}
}

func (p *PendingConnection) handleFrame(frame string) {
	if p.state != awaitingIdentify {
		return
	}
	if len(frame) < wire.MinFrameLength {
		p.reject(wire.ReasonInvalidMessage)
		return
	}

	tag, body, _ := wire.Split(frame)
	switch tag {
	case wire.TagIdentify:
		p.identify(body)
	case wire.TagReject:
		p.logger.Warnf("peerlink: %s rejected the connection: %s", p.conn.RemoteURL(), body)
		p.conn.MarkRejected()
		p.conn.Destroy()
		p.complete(Result{Outcome: OutcomeRefused, Reason: body})
	default:
		p.logger.Debugf("peerlink: ignoring %s frame from %s during handshake", tag, p.conn.RemoteURL())
	}
}

func (p *PendingConnection) identify(body string) {
	id, err := wire.ParseIdentify(body)
	if err != nil || id.UID == "" {
		p.reject(wire.ReasonMessageParseError)
		return
	}
	if subtle.ConstantTimeCompare([]byte(id.SecurityToken), []byte(p.dir.SecurityToken())) != 1 {
		p.reject(wire.ReasonInvalidSecurityToken)
		return
	}
	if id.UID == p.dir.UID() {
		// a node dialling itself
		p.reject(wire.ReasonDuplicateConnection)
		return
	}
	if p.dir.IsConnectedToPeer(id.UID) && !p.dir.Supersedes(p.conn, id.UID) {
		p.reject(wire.ReasonDuplicateConnection)
		return
	}

	p.conn.SetRemoteUID(id.UID)
	p.complete(Result{Outcome: OutcomeOpen, RemoteUID: id.UID})
}

// reject tells the peer why, then destroys the link once the frame had a
// chance to flush.
func (p *PendingConnection) reject(reason string) {
	p.state = rejecting
	p.reason = reason
	p.stopTimeout()

	if err := p.conn.Send(wire.RejectFrame(reason)); err != nil {
		p.logger.Debugf("peerlink: failed to send reject to %s: %v", p.conn.RemoteURL(), err)
	}
	p.cancelReject = p.sched.Schedule(p.config.RejectGrace, func() {
		if p.state != rejecting {
			return
		}
		p.conn.Destroy()
		p.complete(Result{Outcome: OutcomeRejected, Reason: reason})
	})
}

func (p *PendingConnection) timeout() {
	if p.state != awaitingIdentify {
		return
	}
	p.logger.Debugf("peerlink: handshake with %s timed out", p.conn.RemoteURL())
	p.conn.Destroy()
	p.complete(Result{Outcome: OutcomeTimedOut})
}

// lost handles the link going away before the handshake resolved.
func (p *PendingConnection) lost(outcome Outcome, err error) {
	switch p.state {
	case awaitingIdentify:
		p.conn.Destroy()
		p.complete(Result{Outcome: outcome, Err: err})
	case rejecting:
		p.conn.Destroy()
		p.complete(Result{Outcome: OutcomeRejected, Reason: p.reason})
	}
}

func (p *PendingConnection) stopTimeout() {
	if p.cancelTimeout != nil {
		p.cancelTimeout()
		p.cancelTimeout = nil
	}
}

func (p *PendingConnection) complete(result Result) {
	if p.state == resolved {
		return
	}
	p.state = resolved
	p.stopTimeout()
	if p.cancelReject != nil {
		p.cancelReject()
		p.cancelReject = nil
	}

	conn, done := p.conn, p.done
	p.conn, p.dir, p.sched, p.done = nil, nil, nil, nil
	if done != nil {
		done(conn, result)
	}
}
