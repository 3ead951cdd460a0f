package routingtable

// Subscriber is a remote peer that asked to receive a topic. In practice it
// is the peerlink.Connection the SUBSCRIBE frame arrived on.
type Subscriber interface {
	// Send writes one frame to the subscriber.
	Send(frame string) error
}

// RemoteSubscriberRegistry maps topics to the remote subscribers interested
// in them. It holds references only; it never opens or closes links.
//
// Implementations are not required to be safe for concurrent use; the
// connector only touches its registry from its event loop.
type RemoteSubscriberRegistry interface {
	// Add registers s for topic. Adding the same pair twice is a no-op.
	Add(topic string, s Subscriber)

	// Remove unregisters s from topic. Removing an absent pair is a no-op.
	Remove(topic string, s Subscriber)

	// RemoveForAllTopics unregisters s everywhere.
	RemoveForAllTopics(s Subscriber)

	// SendMsgForTopic writes frame to every subscriber of topic and returns
	// how many writes succeeded. A failing subscriber does not stop the
	// fan-out; failures are combined into the returned error.
	SendMsgForTopic(topic, frame string) (int, error)

	// Subscribers returns the subscribers of topic in registration order.
	Subscribers(topic string) []Subscriber

	// TopicsFor returns the topics s is registered for.
	TopicsFor(s Subscriber) []string

	// Topics returns every topic with at least one subscriber.
	Topics() []string
}
