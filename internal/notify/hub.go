// Package notify fans job change notifications out to live subscribers.
//
// Delivery is latest-value: a subscriber learns which jobs changed since its
// previous Wait and re-reads their current records from the tracker. Several
// changes to one job between two Waits collapse into a single entry, so slow
// subscribers never block publishers and never miss the final state.
package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Wait once the subscription or hub is closed.
var ErrClosed = errors.New("subscription closed")

// Hub tracks the set of live subscriptions.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	seq    atomic.Uint64
	closed bool
	onDrop func()
}

// Option customizes a Hub.
type Option func(*Hub)

// WithCoalesceHook registers fn to run whenever a publish merges into a wake
// that the subscriber has not consumed yet. Used for metrics.
func WithCoalesceHook(fn func()) Option {
	return func(h *Hub) { h.onDrop = fn }
}

// NewHub constructs an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{subs: make(map[*Subscription]struct{})}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscription receives change notifications. A filter limits it to the given
// job ids; no filter means every job.
type Subscription struct {
	hub     *Hub
	filter  map[string]struct{}
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	pending map[string]struct{}
}

// Subscribe registers a new subscription. Subscribing to a closed hub returns
// a subscription whose Wait reports ErrClosed.
func (h *Hub) Subscribe(jobIDs ...string) *Subscription {
	sub := &Subscription{
		hub:     h,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		pending: make(map[string]struct{}),
	}
	for _, id := range jobIDs {
		if id == "" {
			continue
		}
		if sub.filter == nil {
			sub.filter = make(map[string]struct{}, len(jobIDs))
		}
		sub.filter[id] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.once.Do(func() { close(sub.done) })
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Publish records that jobID changed and wakes interested subscribers. It
// never blocks.
func (h *Hub) Publish(jobID string) {
	if h == nil || jobID == "" {
		return
	}
	h.seq.Add(1)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if !sub.wants(jobID) {
			continue
		}
		if sub.mark(jobID) && h.onDrop != nil {
			h.onDrop()
		}
	}
}

// Sequence reports how many publishes the hub has seen.
func (h *Hub) Sequence() uint64 {
	return h.seq.Load()
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*Subscription]struct{})
	h.closed = true
	h.mu.Unlock()
	for sub := range subs {
		sub.once.Do(func() { close(sub.done) })
	}
}

func (s *Subscription) wants(jobID string) bool {
	if s.filter == nil {
		return true
	}
	_, ok := s.filter[jobID]
	return ok
}

// mark adds jobID to the pending set and signals the wake channel. It reports
// whether the notification coalesced with one not yet consumed.
func (s *Subscription) mark(jobID string) bool {
	s.mu.Lock()
	_, already := s.pending[jobID]
	s.pending[jobID] = struct{}{}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return already
}

// Wait blocks until at least one job changed since the previous call and
// returns the changed ids in sorted order. Pending changes are delivered
// before ErrClosed.
func (s *Subscription) Wait(ctx context.Context) ([]string, error) {
	for {
		if ids := s.drain(); len(ids) > 0 {
			return ids, nil
		}
		select {
		case <-s.wake:
		case <-s.done:
			if ids := s.drain(); len(ids) > 0 {
				return ids, nil
			}
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// C exposes the wake channel for select loops. After receiving on it, call
// Drain to collect the changed ids.
func (s *Subscription) C() <-chan struct{} {
	return s.wake
}

// Drain returns the ids changed since the previous Wait or Drain without blocking.
func (s *Subscription) Drain() []string {
	return s.drain()
}

func (s *Subscription) drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	clear(s.pending)
	sort.Strings(ids)
	return ids
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	delete(s.hub.subs, s)
	s.hub.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}
