// Package peerlink defines the contract for direct TCP links between mesh nodes.
//
// This package defines the core abstractions for the peer link component:
//   - Connection: a framed, bidirectional link owning exactly one socket
//   - Direction: whether the link was dialled (Outgoing) or accepted (Incoming)
//   - Event/Sink: lifecycle notifications (connect, message, error, closed)
//
// A Connection never calls back into its owner directly. Every lifecycle
// change is delivered as an Event to the Sink given at construction, so the
// owner can serialize them on its own goroutine.
//
// Lifecycle:
//
//	Connecting -> Open -> Closing -> Closed
//
// Closed is terminal. EventClosed fires once, after a short grace period,
// whether the link was closed by the remote side, by an error or by Destroy.
//
// Example usage:
//
//	sink := func(ev peerlink.Event) {
//		switch ev.Kind {
//		case peerlink.EventMessage:
//			handleFrame(ev.Conn, ev.Frame)
//		case peerlink.EventClosed:
//			forget(ev.Conn)
//		}
//	}
//	conn, err := peerlink.NewOutgoing("node-2:9000", cfg, sink, env)
//	if err != nil {
//		return err
//	}
//	conn.Connect()
//
// The implementations live in internal/peerlink.
package peerlink
