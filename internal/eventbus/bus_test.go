package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: "test", Data: 42})

	select {
	case e := <-ch:
		if e.Type != "test" || e.Data != 42 {
			t.Fatalf("event = %+v", e)
		}
		if e.Time.IsZero() {
			t.Fatalf("publish did not stamp time")
		}
	case <-time.After(time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: "flood"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on full subscriber")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	// Channel is closed; publishing afterwards must not panic.
	b.Publish(Event{Type: "late"})
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
}
