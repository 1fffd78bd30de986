// Package pubsub provides a multicast stream that replays its latest value to
// new subscribers and runs its producer only while someone is listening.
package pubsub

import (
	"context"
	"sync"
	"time"
)

// State is the lifecycle phase of a Hub's producer.
type State int

const (
	// Idle: no producer running.
	Idle State = iota
	// Starting: producer launched, nothing published yet.
	Starting
	// Running: producer has published at least once.
	Running
	// Stopping: no subscribers; the producer is cancelled when the grace period ends.
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

// Producer generates values until ctx is done. It is started when the first
// subscriber arrives. publish may be called from any goroutine.
type Producer[T any] func(ctx context.Context, publish func(T))

// Hub shares one Producer among any number of subscribers.
type Hub[T any] struct {
	produce Producer[T]
	grace   time.Duration

	mu      sync.Mutex
	state   State
	subs    map[*subscriber[T]]struct{}
	last    T
	hasLast bool
	gen     uint64
	cancel  context.CancelFunc
	timer   *time.Timer
	closed  bool
}

type subscriber[T any] struct {
	ch   chan T
	stop func() bool
}

// New returns a hub that keeps its producer alive for grace after the last
// subscriber leaves.
func New[T any](produce Producer[T], grace time.Duration) *Hub[T] {
	return &Hub[T]{
		produce: produce,
		grace:   grace,
		subs:    make(map[*subscriber[T]]struct{}),
	}
}

// Subscribe returns a channel receiving the latest value, if any, followed by
// every later one. A slow reader only sees the newest pending value. The
// channel closes when ctx is done or the hub is closed.
func (h *Hub[T]) Subscribe(ctx context.Context) <-chan T {
	s := &subscriber[T]{ch: make(chan T, 1)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.ch)
		return s.ch
	}
	h.subs[s] = struct{}{}
	if h.hasLast {
		s.ch <- h.last
	}
	switch h.state {
	case Idle:
		h.startLocked()
	case Stopping:
		h.timer.Stop()
		h.timer = nil
		if h.hasLast {
			h.state = Running
		} else {
			h.state = Starting
		}
	}
	s.stop = context.AfterFunc(ctx, func() { h.unsubscribe(s) })
	h.mu.Unlock()
	return s.ch
}

// State returns the current lifecycle phase.
func (h *Hub[T]) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Close cancels the producer and closes every subscriber channel.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		s.stop()
		close(s.ch)
		delete(h.subs, s)
	}
	h.stopLocked()
}

func (h *Hub[T]) startLocked() {
	h.gen++
	gen := h.gen
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.state = Starting
	go func() {
		h.produce(ctx, func(v T) { h.publish(gen, v) })
		h.finished(gen)
	}()
}

func (h *Hub[T]) stopLocked() {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.gen++
	h.state = Idle
	var zero T
	h.last, h.hasLast = zero, false
}

func (h *Hub[T]) publish(gen uint64, v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if gen != h.gen {
		return
	}
	h.last, h.hasLast = v, true
	if h.state == Starting {
		h.state = Running
	}
	for s := range h.subs {
		offer(s.ch, v)
	}
}

// finished handles a producer that returned on its own: subscribers see their
// channels close and the next Subscribe starts a fresh producer.
func (h *Hub[T]) finished(gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if gen != h.gen {
		return
	}
	for s := range h.subs {
		s.stop()
		close(s.ch)
		delete(h.subs, s)
	}
	h.stopLocked()
}

func (h *Hub[T]) unsubscribe(s *subscriber[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
	if len(h.subs) > 0 || h.state == Idle {
		return
	}
	h.state = Stopping
	gen := h.gen
	h.timer = time.AfterFunc(h.grace, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if gen == h.gen && h.state == Stopping {
			h.timer = nil
			h.stopLocked()
		}
	})
}

// offer replaces any pending value in a one-slot channel. Callers hold the
// hub lock, so there is a single sender.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- v
}
