package store

import "sync"

// Feed is a subscription that never loses a change.
//
// Unlike the channel returned by [MemoryStore.Subscribe], a Feed does not
// drop changes when its reader is slow. Pending changes are coalesced per
// (resource type, id): a key that changes several times before the reader
// drains it is reported once, with the latest Removed flag, in the position
// of its first pending change. Memory is therefore bounded by the number of
// distinct keys, not the number of mutations.
//
// Readers wait on [Feed.Ready] and then call [Feed.Drain]:
//
//	for range feed.Ready() {
//	    for _, c := range feed.Drain() {
//	        handle(c)
//	    }
//	}
//
// Ready is closed by [MemoryStore.UnsubscribeFeed]; changes still pending at
// that point remain available to a final Drain.
type Feed struct {
	mu      sync.Mutex
	queue   []Change
	pending map[key]int
	ready   chan struct{}
	closed  bool
}

func newFeed() *Feed {
	return &Feed{
		pending: make(map[key]int),
		ready:   make(chan struct{}, 1),
	}
}

// Ready receives a signal whenever changes are pending. Signals are
// coalesced, so one receive may cover many changes.
func (f *Feed) Ready() <-chan struct{} {
	return f.ready
}

// Drain returns every pending change in first-pending order and clears the
// queue. Returns nil when nothing is pending.
func (f *Feed) Drain() []Change {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := f.queue
	f.queue = nil
	clear(f.pending)
	return out
}

// Pending returns the number of keys waiting to be drained.
func (f *Feed) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

func (f *Feed) push(c Change) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}

	k := key{rt: c.Type, id: c.ID}
	if i, ok := f.pending[k]; ok {
		f.queue[i] = c
	} else {
		f.pending[k] = len(f.queue)
		f.queue = append(f.queue, c)
	}

	select {
	case f.ready <- struct{}{}:
	default:
		// a signal is already pending
	}
}

func (f *Feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.closed {
		f.closed = true
		close(f.ready)
	}
}
