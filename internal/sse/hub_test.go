package sse

import "testing"

func TestBroadcastReachesTopicAndAll(t *testing.T) {
	h := NewHub()
	acct, cancelAcct := h.Subscribe("a1")
	all, cancelAll := h.Subscribe(AllTopics)
	other, cancelOther := h.Subscribe("a2")
	defer cancelAcct()
	defer cancelAll()
	defer cancelOther()

	h.Broadcast("a1", []byte("x"))

	if got := string(<-acct); got != "x" {
		t.Fatalf("topic subscriber got %q", got)
	}
	if got := string(<-all); got != "x" {
		t.Fatalf("all-topics subscriber got %q", got)
	}
	select {
	case p := <-other:
		t.Fatalf("unrelated subscriber received %q", p)
	default:
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub()
	_, cancel := h.Subscribe("a1")
	cancel()
	cancel()
	if n := h.Subscribers("a1"); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
	h.Broadcast("a1", []byte("x"))
}
