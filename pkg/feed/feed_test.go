package feed

import (
	"testing"

	"github.com/offlinefirst/stepcapture/pkg/tutorial"
)

func TestPublishReachesSubscribers(t *testing.T) {
	b := New()
	first, cancelFirst := b.Subscribe(4)
	second, cancelSecond := b.Subscribe(4)
	defer cancelSecond()

	b.Publish(Notification{Kind: KindStep, Step: &tutorial.Step{ID: 1}})
	if n := <-first; n.Step.ID != 1 {
		t.Fatalf("unexpected notification %+v", n)
	}
	if n := <-second; n.Kind != KindStep {
		t.Fatalf("unexpected notification %+v", n)
	}

	cancelFirst()
	cancelFirst()
	if _, ok := <-first; ok {
		t.Fatalf("expected closed channel after cancel")
	}
	if b.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", b.Subscribers())
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(1)
	defer cancel()
	for i := 0; i < 5; i++ {
		b.Publish(Notification{Kind: KindState})
	}
	if b.Dropped() != 4 {
		t.Fatalf("expected 4 dropped notifications, got %d", b.Dropped())
	}
	if len(ch) != 1 {
		t.Fatalf("expected buffered notification")
	}
}
