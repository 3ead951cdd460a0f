package meshnode

import (
	"github.com/rmacdonaldsmith/directmesh-go/pkg/meshnode"
)

type localHandler struct {
	handle  meshnode.Handle
	handler meshnode.Handler
}

// emitter is the local topic -> handlers multimap. A topic is present only
// while it has at least one handler. Loop-owned.
type emitter struct {
	topics map[string][]localHandler
	order  []string
}

func newEmitter() *emitter {
	return &emitter{topics: make(map[string][]localHandler)}
}

// add registers h and reports whether it is the first handler for topic.
func (e *emitter) add(topic string, handle meshnode.Handle, h meshnode.Handler) bool {
	handlers, known := e.topics[topic]
	if !known {
		e.order = append(e.order, topic)
	}
	e.topics[topic] = append(handlers, localHandler{handle: handle, handler: h})
	return !known
}

// remove drops handle from topic and returns how many handlers remain.
func (e *emitter) remove(topic string, handle meshnode.Handle) int {
	handlers, ok := e.topics[topic]
	if !ok {
		return 0
	}
	for i, lh := range handlers {
		if lh.handle == handle {
			handlers = append(handlers[:i:i], handlers[i+1:]...)
			break
		}
	}
	if len(handlers) == 0 {
		delete(e.topics, topic)
		for i, t := range e.order {
			if t == topic {
				e.order = append(e.order[:i], e.order[i+1:]...)
				break
			}
		}
		return 0
	}
	e.topics[topic] = handlers
	return len(handlers)
}

// handlers returns a copy of the handlers for topic, in registration order.
func (e *emitter) handlers(topic string) []meshnode.Handler {
	lhs := e.topics[topic]
	out := make([]meshnode.Handler, len(lhs))
	for i, lh := range lhs {
		out[i] = lh.handler
	}
	return out
}

func (e *emitter) topicList() []string {
	return append([]string(nil), e.order...)
}
