package routingtable

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/rmacdonaldsmith/directmesh-go/pkg/routingtable"
)

type stubSubscriber struct {
	name string
	sent []string
	err  error
}

func (s *stubSubscriber) Send(frame string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, frame)
	return nil
}

type discardSubscriber struct {
	name string
}

func (*discardSubscriber) Send(string) error { return nil }

func TestInMemoryRegistry_AddIsIdempotent(t *testing.T) {
	r := NewInMemoryRegistry()
	a := &stubSubscriber{name: "a"}

	r.Add("orders", a)
	r.Add("orders", a)

	if got := len(r.Subscribers("orders")); got != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", got)
	}
}

func TestInMemoryRegistry_PreservesInsertionOrder(t *testing.T) {
	r := NewInMemoryRegistry()
	a, b, c := &stubSubscriber{name: "a"}, &stubSubscriber{name: "b"}, &stubSubscriber{name: "c"}

	r.Add("orders", b)
	r.Add("orders", a)
	r.Add("orders", c)

	want := []routingtable.Subscriber{b, a, c}
	if got := r.Subscribers("orders"); !reflect.DeepEqual(got, want) {
		t.Fatalf("Expected subscribers in insertion order, got %v", got)
	}
}

func TestInMemoryRegistry_RemoveDropsEmptyTopic(t *testing.T) {
	r := NewInMemoryRegistry()
	a, b := &stubSubscriber{name: "a"}, &stubSubscriber{name: "b"}

	r.Add("orders", a)
	r.Add("orders", b)
	r.Remove("orders", a)

	if got := r.Subscribers("orders"); len(got) != 1 || got[0] != b {
		t.Fatalf("Expected only b to remain, got %v", got)
	}

	r.Remove("orders", b)
	if topics := r.Topics(); len(topics) != 0 {
		t.Fatalf("Expected no topics after removing the last subscriber, got %v", topics)
	}
}

func TestInMemoryRegistry_RemoveMissingIsNoop(t *testing.T) {
	r := NewInMemoryRegistry()
	a, b := &stubSubscriber{name: "a"}, &stubSubscriber{name: "b"}

	r.Remove("orders", a)
	r.Add("orders", a)
	r.Remove("orders", b)
	r.Remove("payments", a)

	if got := len(r.Subscribers("orders")); got != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", got)
	}
}

func TestInMemoryRegistry_RemoveForAllTopics(t *testing.T) {
	r := NewInMemoryRegistry()
	a, b := &stubSubscriber{name: "a"}, &stubSubscriber{name: "b"}

	r.Add("orders", a)
	r.Add("payments", a)
	r.Add("payments", b)
	r.Add("refunds", b)

	if got := r.TopicsFor(a); !reflect.DeepEqual(got, []string{"orders", "payments"}) {
		t.Fatalf("Unexpected topics for a: %v", got)
	}

	r.RemoveForAllTopics(a)

	if got := r.TopicsFor(a); len(got) != 0 {
		t.Fatalf("Expected a to be gone, still registered for %v", got)
	}
	if got := r.Topics(); !reflect.DeepEqual(got, []string{"payments", "refunds"}) {
		t.Fatalf("Unexpected remaining topics: %v", got)
	}
}

func TestInMemoryRegistry_SendMsgForTopic(t *testing.T) {
	r := NewInMemoryRegistry()
	a, b, other := &stubSubscriber{name: "a"}, &stubSubscriber{name: "b"}, &stubSubscriber{name: "other"}

	r.Add("orders", a)
	r.Add("orders", b)
	r.Add("payments", other)

	sent, err := r.SendMsgForTopic("orders", "Morders\x1d{}")
	if err != nil {
		t.Fatalf("SendMsgForTopic failed: %v", err)
	}
	if sent != 2 {
		t.Errorf("Expected 2 sends, got %d", sent)
	}
	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Errorf("Expected one frame per subscriber, got a=%v b=%v", a.sent, b.sent)
	}
	if len(other.sent) != 0 {
		t.Errorf("Expected no frame for other topic, got %v", other.sent)
	}
}

func TestInMemoryRegistry_SendMsgForUnknownTopic(t *testing.T) {
	r := NewInMemoryRegistry()

	sent, err := r.SendMsgForTopic("nobody", "Mnobody\x1d{}")
	if err != nil || sent != 0 {
		t.Fatalf("Expected silent no-op, got sent=%d err=%v", sent, err)
	}
}

func TestInMemoryRegistry_SendContinuesPastFailures(t *testing.T) {
	r := NewInMemoryRegistry()
	errA, errB := errors.New("a failed"), errors.New("b failed")
	a := &stubSubscriber{name: "a", err: errA}
	b := &stubSubscriber{name: "b", err: errB}
	c := &stubSubscriber{name: "c"}

	r.Add("orders", a)
	r.Add("orders", b)
	r.Add("orders", c)

	sent, err := r.SendMsgForTopic("orders", "frame")
	if sent != 1 {
		t.Errorf("Expected 1 successful send, got %d", sent)
	}
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Expected both failures in %v", err)
	}
	if len(c.sent) != 1 {
		t.Errorf("Expected c to receive the frame")
	}
}

func TestInMemoryRegistry_IgnoresNilSubscriber(t *testing.T) {
	r := NewInMemoryRegistry()
	r.Add("orders", nil)

	if topics := r.Topics(); len(topics) != 0 {
		t.Fatalf("Expected nil subscriber to be ignored, got %v", topics)
	}
}

// BenchmarkInMemoryRegistry_SendMsgForTopic measures fan-out over a small mesh
func BenchmarkInMemoryRegistry_SendMsgForTopic(b *testing.B) {
	r := NewInMemoryRegistry()
	for i := 0; i < 8; i++ {
		r.Add("orders", &discardSubscriber{name: fmt.Sprintf("peer-%d", i)})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.SendMsgForTopic("orders", "Morders\x1d{}"); err != nil {
			b.Fatalf("SendMsgForTopic failed: %v", err)
		}
	}
}
