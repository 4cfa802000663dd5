package stream

import (
	"context"
	"sync"
	"time"
)

// ViewEvent is pushed to a share owner's dashboard whenever a verifier
// dereferences one of their shares. It carries only anonymized context.
type ViewEvent struct {
	ShareID        string    `json:"share_id"`
	Status         string    `json:"status"`
	OK             bool      `json:"ok"`
	Country        string    `json:"country"`
	ReferrerDomain string    `json:"referrer_domain,omitempty"`
	ViewsRemaining int       `json:"views_remaining"`
	Timestamp      time.Time `json:"timestamp"`
}

// Stream fan-outs view events to all active subscribers (SSE clients).
// Subscriptions are keyed by share id so owners only see their own traffic.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

type subscriber struct {
	shareID string
	ch      chan ViewEvent
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for one share and returns a channel which
// will receive its events. The channel is closed when the context ends.
func (s *Stream) Subscribe(ctx context.Context, shareID string) <-chan ViewEvent {
	ch := make(chan ViewEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{shareID: shareID, ch: ch}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to the share's subscribers.
func (s *Stream) Publish(evt ViewEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.shareID != evt.ShareID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
