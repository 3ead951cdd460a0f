package routingtable

import (
	"go.uber.org/multierr"

	"github.com/rmacdonaldsmith/directmesh-go/pkg/routingtable"
)

// InMemoryRegistry implements routingtable.RemoteSubscriberRegistry with a
// map of ordered slices. Subscribers are compared by identity.
type InMemoryRegistry struct {
	topics map[string][]routingtable.Subscriber
	order  []string
}

// NewInMemoryRegistry creates an empty registry
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{topics: make(map[string][]routingtable.Subscriber)}
}

var _ routingtable.RemoteSubscriberRegistry = (*InMemoryRegistry)(nil)

// Add registers s for topic
func (r *InMemoryRegistry) Add(topic string, s routingtable.Subscriber) {
	if s == nil {
		return
	}
	subs, known := r.topics[topic]
	if indexOf(subs, s) >= 0 {
		return
	}
	if !known {
		r.order = append(r.order, topic)
	}
	r.topics[topic] = append(subs, s)
}

// Remove unregisters s from topic, dropping the topic once it is empty
func (r *InMemoryRegistry) Remove(topic string, s routingtable.Subscriber) {
	subs, ok := r.topics[topic]
	if !ok {
		return
	}
	i := indexOf(subs, s)
	if i < 0 {
		return
	}
	subs = append(subs[:i:i], subs[i+1:]...)
	if len(subs) == 0 {
		r.dropTopic(topic)
		return
	}
	r.topics[topic] = subs
}

// RemoveForAllTopics unregisters s from every topic
func (r *InMemoryRegistry) RemoveForAllTopics(s routingtable.Subscriber) {
	for _, topic := range r.TopicsFor(s) {
		r.Remove(topic, s)
	}
}

// SendMsgForTopic writes frame to each subscriber of topic
func (r *InMemoryRegistry) SendMsgForTopic(topic, frame string) (int, error) {
	var (
		sent int
		errs error
	)
	for _, s := range r.topics[topic] {
		if err := s.Send(frame); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		sent++
	}
	return sent, errs
}

// Subscribers returns a copy of the subscribers of topic
func (r *InMemoryRegistry) Subscribers(topic string) []routingtable.Subscriber {
	subs := r.topics[topic]
	if len(subs) == 0 {
		return nil
	}
	return append([]routingtable.Subscriber(nil), subs...)
}

// TopicsFor returns the topics s is registered for, in registration order
func (r *InMemoryRegistry) TopicsFor(s routingtable.Subscriber) []string {
	var topics []string
	for _, topic := range r.order {
		if indexOf(r.topics[topic], s) >= 0 {
			topics = append(topics, topic)
		}
	}
	return topics
}

// Topics returns every topic with at least one subscriber
func (r *InMemoryRegistry) Topics() []string {
	return append([]string(nil), r.order...)
}

func (r *InMemoryRegistry) dropTopic(topic string) {
	delete(r.topics, topic)
	for i, t := range r.order {
		if t == topic {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

func indexOf(subs []routingtable.Subscriber, s routingtable.Subscriber) int {
	for i, candidate := range subs {
		if candidate == s {
			return i
		}
	}
	return -1
}
