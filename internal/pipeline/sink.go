package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/codebuildervaibhav/longform-transcriber/internal/types"
)

// Sink receives pipeline events. Publish must not block: when the consumer
// cannot keep up the event is dropped and Publish reports false.
type Sink interface {
	Publish(ev types.Event) bool
}

// ChannelSink is a bounded channel with a drop-on-full policy
type ChannelSink struct {
	ch      chan types.Event
	dropped atomic.Int64
	mu      sync.RWMutex
	closed  bool
}

// NewChannelSink creates a sink buffering up to size events
func NewChannelSink(size int) *ChannelSink {
	if size < 0 {
		size = 0
	}
	return &ChannelSink{ch: make(chan types.Event, size)}
}

// Publish pushes ev without blocking
func (s *ChannelSink) Publish(ev types.Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.dropped.Add(1)
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Events returns the receive side
func (s *ChannelSink) Events() <-chan types.Event {
	return s.ch
}

// Dropped returns how many events were discarded
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close closes the channel; later publishes are dropped
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Broadcaster fans events out to any number of subscribers, each with its
// own bounded buffer. A slow subscriber only loses its own events.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*ChannelSink]struct{}
	size   int
	closed bool
	last   *types.Event
}

// NewBroadcaster creates a broadcaster whose subscribers buffer size events
func NewBroadcaster(size int) *Broadcaster {
	return &Broadcaster{
		subs: make(map[*ChannelSink]struct{}),
		size: size,
	}
}

// Publish delivers ev to every subscriber. It reports false only when no
// subscriber accepted it while some were attached.
func (b *Broadcaster) Publish(ev types.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	if ev.Type == types.EventDone || ev.Type == types.EventFailed {
		e := ev
		b.last = &e
	}
	if len(b.subs) == 0 {
		return true
	}

	delivered := false
	for s := range b.subs {
		if s.Publish(ev) {
			delivered = true
		}
	}
	return delivered
}

// Subscribe attaches a new consumer. If the run already finished the
// subscriber receives the terminal event and a closed channel.
func (b *Broadcaster) Subscribe() *ChannelSink {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := NewChannelSink(b.size)
	if b.closed {
		if b.last != nil {
			s.Publish(*b.last)
		}
		s.Close()
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Unsubscribe detaches and closes a consumer
func (b *Broadcaster) Unsubscribe(s *ChannelSink) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		s.Close()
	}
}

// Close closes every subscriber; the broadcaster rejects further events
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.Close()
	}
	b.subs = nil
}

// Subscribers returns the number of attached consumers
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
