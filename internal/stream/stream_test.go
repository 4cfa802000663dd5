package stream

import (
	"context"
	"testing"
	"time"
)

func TestPublishReachesMatchingSubscriber(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx, "share-1")
	other := s.Subscribe(ctx, "share-2")

	s.Publish(ViewEvent{ShareID: "share-1", Status: "valid", OK: true, Timestamp: time.Now()})

	select {
	case evt := <-ch:
		if evt.ShareID != "share-1" || !evt.OK {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("expected event for share-1 subscriber")
	}

	select {
	case evt := <-other:
		t.Fatalf("share-2 subscriber received foreign event: %+v", evt)
	default:
	}
}

func TestSubscribeClosesOnContextCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx, "share-1")
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
