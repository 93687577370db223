package event

import (
	"testing"
	"time"
)

func TestBusDeliversInPublishOrder(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(8)
	defer cancel()

	b.Publish(Event{Kind: KindConnected})
	b.Publish(Event{Kind: KindTextFeedback, Text: "first"})
	b.Publish(Event{Kind: KindTextFeedback, Text: "second"})

	got := make([]Event, 0, 3)
	for i := 0; i < 3; i++ {
		select {
		case ev := <-ch:
			got = append(got, ev)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	if got[0].Kind != KindConnected || got[1].Text != "first" || got[2].Text != "second" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if !(got[0].Seq < got[1].Seq && got[1].Seq < got[2].Seq) {
		t.Fatalf("sequence not monotonic: %d %d %d", got[0].Seq, got[1].Seq, got[2].Seq)
	}
}

func TestBusFiltersByKind(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(8, KindTextFeedback)
	defer cancel()

	b.Publish(Event{Kind: KindConnected})
	b.Publish(Event{Kind: KindTextFeedback, Text: "scored"})

	select {
	case ev := <-ch:
		if ev.Kind != KindTextFeedback {
			t.Fatalf("Kind = %q, want %q", ev.Kind, KindTextFeedback)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for filtered event")
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event: %+v", ev)
	default:
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	b := NewBus()
	_, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(Event{Kind: KindConnected})
	b.Publish(Event{Kind: KindConnected})
	if b.Dropped() != 1 {
		t.Fatalf("Dropped() = %d, want 1", b.Dropped())
	}
}

func TestBusCancelIsIdempotent(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	cancel()
	cancel()
	if b.Subscribers() != 0 {
		t.Fatalf("Subscribers() = %d, want 0", b.Subscribers())
	}
	if _, open := <-ch; open {
		t.Fatalf("channel should be closed after cancel")
	}
	// Publishing after cancel must not panic.
	b.Publish(Event{Kind: KindConnected})
}

func TestKnownKindCoversClosedSet(t *testing.T) {
	for _, k := range AllKinds() {
		if !KnownKind(k) {
			t.Fatalf("KnownKind(%q) = false", k)
		}
	}
	if KnownKind("made_up") {
		t.Fatalf("KnownKind should reject foreign kinds")
	}
}
