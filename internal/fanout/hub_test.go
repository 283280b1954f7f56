package fanout

import (
	"testing"
)

func TestHubPublishSubscribe(t *testing.T) {
	h := NewHub()
	id, ch, cancel := h.Subscribe("conversation:c1", 4)
	defer cancel()
	if id == "" {
		t.Fatalf("expected stream id")
	}

	delivered, dropped := h.Publish("conversation:c1", "hello")
	if delivered != 1 || dropped != 0 {
		t.Fatalf("delivered=%d dropped=%d", delivered, dropped)
	}
	if got := <-ch; got != "hello" {
		t.Fatalf("got %q", got)
	}

	if delivered, _ := h.Publish("conversation:other", "x"); delivered != 0 {
		t.Fatalf("published to unrelated channel")
	}
}

func TestHubSlowSubscriberSkipped(t *testing.T) {
	h := NewHub()
	_, _, cancel := h.Subscribe("c", 1)
	defer cancel()

	h.Publish("c", "first")
	delivered, dropped := h.Publish("c", "second")
	if delivered != 0 || dropped != 1 {
		t.Fatalf("delivered=%d dropped=%d", delivered, dropped)
	}
}

func TestHubCancelIdempotentAndCloses(t *testing.T) {
	h := NewHub()
	_, ch, cancel := h.Subscribe("c", 1)
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if n := h.Subscribers("c"); n != 0 {
		t.Fatalf("expected registry cleanup, got %d", n)
	}
}

func TestHubEmptyChannel(t *testing.T) {
	h := NewHub()
	id, ch, cancel := h.Subscribe("  ", 1)
	defer cancel()
	if id != "" {
		t.Fatalf("expected no stream id")
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
}
