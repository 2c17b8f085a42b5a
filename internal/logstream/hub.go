// Package logstream buffers per-task progress lines and delivers them to
// streaming subscribers.
//
// Delivery is best effort. Each task has one bounded queue; Publish never
// blocks, and when the queue is full the incoming line is dropped. The
// buffer keeps every line so new subscribers can catch up.
package logstream

import (
	"context"
	"sync"
	"time"
)

// Keepalive is emitted to subscribers after an idle interval
const Keepalive = "keepalive"

// Options tunes a Hub
type Options struct {
	Capacity          int
	ReplayCount       int
	ReplayDelay       time.Duration
	KeepaliveInterval time.Duration
}

// DefaultOptions returns the production settings
func DefaultOptions() Options {
	return Options{
		Capacity:          100,
		ReplayCount:       10,
		ReplayDelay:       100 * time.Millisecond,
		KeepaliveInterval: 30 * time.Second,
	}
}

type stream struct {
	entries []string
	queue   chan string
	expiry  *time.Timer
}

// Hub owns the buffer and queue of every task
type Hub struct {
	mu      sync.Mutex
	streams map[string]*stream
	opts    Options
}

// NewHub creates a hub. Zero option fields take their defaults.
func NewHub(opts Options) *Hub {
	def := DefaultOptions()
	if opts.Capacity <= 0 {
		opts.Capacity = def.Capacity
	}
	if opts.ReplayCount <= 0 {
		opts.ReplayCount = def.ReplayCount
	}
	if opts.ReplayDelay <= 0 {
		opts.ReplayDelay = def.ReplayDelay
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = def.KeepaliveInterval
	}
	return &Hub{
		streams: make(map[string]*stream),
		opts:    opts,
	}
}

// getOrCreate must be called with h.mu held
func (h *Hub) getOrCreate(taskID string) *stream {
	s, ok := h.streams[taskID]
	if !ok {
		s = &stream{queue: make(chan string, h.opts.Capacity)}
		h.streams[taskID] = s
	}
	return s
}

// Publish appends entry to the task buffer and offers it to the queue
func (h *Hub) Publish(taskID, entry string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.getOrCreate(taskID)
	s.entries = append(s.entries, entry)

	select {
	case s.queue <- entry:
	default:
		// full: drop the incoming line
	}
}

// Entries returns a copy of the buffered lines for taskID
func (h *Hub) Entries(taskID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.streams[taskID]
	if !ok {
		return nil
	}
	return append([]string(nil), s.entries...)
}

// Has reports whether a buffer exists for taskID
func (h *Hub) Has(taskID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.streams[taskID]
	return ok
}

// Len returns the number of live task streams
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

// Subscribe streams lines for taskID until ctx is done. The most recent
// buffered lines are replayed first, spaced by the replay delay; afterwards
// live lines are delivered in emission order, with Keepalive sent whenever
// the stream stays idle for the keepalive interval.
func (h *Hub) Subscribe(ctx context.Context, taskID string) <-chan string {
	h.mu.Lock()
	s := h.getOrCreate(taskID)
	replay := s.entries
	if len(replay) > h.opts.ReplayCount {
		replay = replay[len(replay)-h.opts.ReplayCount:]
	}
	replay = append([]string(nil), replay...)
	queue := s.queue
	// Lines still queued are part of the buffer and covered by the replay.
	drain(queue)
	h.mu.Unlock()

	out := make(chan string)
	go func() {
		defer close(out)

		for i, entry := range replay {
			if i > 0 && !sleep(ctx, h.opts.ReplayDelay) {
				return
			}
			if !send(ctx, out, entry) {
				return
			}
		}

		idle := time.NewTimer(h.opts.KeepaliveInterval)
		defer idle.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case entry := <-queue:
				if !send(ctx, out, entry) {
					return
				}
			case <-idle.C:
				if !send(ctx, out, Keepalive) {
					return
				}
			}
			resetTimer(idle, h.opts.KeepaliveInterval)
		}
	}()

	return out
}

// Expire removes the buffer and queue of taskID after the given delay.
// Calling it again reschedules the removal.
func (h *Hub) Expire(taskID string, after time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.getOrCreate(taskID)
	if s.expiry != nil {
		s.expiry.Stop()
	}
	s.expiry = time.AfterFunc(after, func() {
		h.remove(taskID, s)
	})
}

func (h *Hub) remove(taskID string, s *stream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streams[taskID] == s {
		delete(h.streams, taskID)
	}
}

// Close cancels pending expiry timers and drops all streams
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.streams {
		if s.expiry != nil {
			s.expiry.Stop()
		}
		delete(h.streams, id)
	}
}

func drain(queue chan string) {
	for {
		select {
		case <-queue:
		default:
			return
		}
	}
}

func send(ctx context.Context, out chan<- string, entry string) bool {
	select {
	case out <- entry:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
