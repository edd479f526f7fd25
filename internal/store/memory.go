package store

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// subscriberBuffer is the channel capacity handed to each subscriber.
const subscriberBuffer = 100

// DefaultTombstoneTTL is how long a deletion keeps rejecting older updates.
const DefaultTombstoneTTL = 10 * time.Minute

type key struct {
	rt ResourceType
	id string
}

// MemoryStore is an in-memory implementation of [Store].
//
// MemoryStore keeps the latest known value per (resource type, id) and
// publishes a [Change] to subscribers whenever the stored view changes.
// All mutation funnels through [MemoryStore.ApplyUpdate] and
// [MemoryStore.Remove], each of which runs as a single critical section.
//
// Deletions leave a tombstone carrying the removal time so that an update
// observed before the deletion, but delivered after it, cannot resurrect the
// resource. Tombstones never appear in [MemoryStore.GetAll].
//
// Tombstones expire after the store's TTL (see [WithTombstoneTTL]). Expired
// tombstones are pruned during later removals, so a long run that deletes
// many distinct ids keeps a bounded map.
//
// Subscribers receive changes via buffered channels (buffer size 100). Sends
// are non-blocking; a subscriber with a full buffer misses the change.
// Consumers that must see every change use [MemoryStore.SubscribeFeed].
type MemoryStore struct {
	mu           sync.RWMutex
	resources    map[key]Resource
	tombstones   map[key]time.Time
	tombstoneTTL time.Duration
	lastPrune    time.Time

	subscribers map[chan Change]struct{}
	feeds       map[*Feed]struct{}
	subMu       sync.RWMutex
}

// MemoryOption configures a [MemoryStore].
type MemoryOption func(*MemoryStore)

// WithTombstoneTTL sets how long a removal keeps rejecting updates observed
// at or before it. Non-positive values are ignored. Defaults to
// [DefaultTombstoneTTL].
func WithTombstoneTTL(d time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		if d > 0 {
			m.tombstoneTTL = d
		}
	}
}

// NewMemoryStore creates a new, empty [MemoryStore].
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		resources:    make(map[key]Resource),
		tombstones:   make(map[key]time.Time),
		tombstoneTTL: DefaultTombstoneTTL,
		subscribers:  make(map[chan Change]struct{}),
		feeds:        make(map[*Feed]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ApplyUpdate submits a candidate value for (rt, id).
//
// Policy:
//   - absent key: insert
//   - present key: overwrite only when observedAt is strictly after the
//     stored ObservedAt; ties keep the existing value
//   - tombstoned key: insert only when observedAt is strictly after the
//     removal time
//
// The payload is deep-copied before it is stored. Returns true when the
// stored view changed, in which case subscribers are notified.
func (m *MemoryStore) ApplyUpdate(rt ResourceType, id string, payload map[string]any, observedAt time.Time) (bool, error) {
	if !rt.Valid() {
		return false, fmt.Errorf("%w: %q", ErrUnknownResourceType, rt)
	}
	if id == "" {
		return false, ErrEmptyID
	}

	k := key{rt: rt, id: id}
	value := Resource{Type: rt, ID: id, Payload: copyPayload(payload), ObservedAt: observedAt}

	m.mu.Lock()
	if current, exists := m.resources[k]; exists {
		if !observedAt.After(current.ObservedAt) {
			m.mu.Unlock()
			return false, nil
		}
	} else if removedAt, dead := m.tombstones[k]; dead {
		if !observedAt.After(removedAt) {
			m.mu.Unlock()
			return false, nil
		}
		delete(m.tombstones, k)
	}
	m.resources[k] = value
	// notify before unlocking so subscribers see changes in commit order
	m.notifySubscribers(Change{Type: rt, ID: id})
	m.mu.Unlock()

	return true, nil
}

// Remove deletes (rt, id) without comparing timestamps.
//
// A tombstone at removedAt is kept (the later of any existing tombstone and
// removedAt) so older in-flight updates are rejected. Tombstones older than
// the TTL, measured back from removedAt, are pruned at most once per TTL.
// Returns true if a stored value was removed.
func (m *MemoryStore) Remove(rt ResourceType, id string, removedAt time.Time) bool {
	if !rt.Valid() || id == "" {
		return false
	}

	k := key{rt: rt, id: id}

	m.mu.Lock()
	_, existed := m.resources[k]
	delete(m.resources, k)
	if prev, ok := m.tombstones[k]; !ok || removedAt.After(prev) {
		m.tombstones[k] = removedAt
	}
	if removedAt.Sub(m.lastPrune) >= m.tombstoneTTL {
		m.pruneTombstones(removedAt.Add(-m.tombstoneTTL))
		m.lastPrune = removedAt
	}
	if existed {
		m.notifySubscribers(Change{Type: rt, ID: id, Removed: true})
	}
	m.mu.Unlock()

	return existed
}

// pruneTombstones drops tombstones at or before cutoff. Caller holds m.mu.
func (m *MemoryStore) pruneTombstones(cutoff time.Time) {
	for k, removedAt := range m.tombstones {
		if !removedAt.After(cutoff) {
			delete(m.tombstones, k)
		}
	}
}

// Get returns a copy of the stored resource for (rt, id).
func (m *MemoryStore) Get(rt ResourceType, id string) (Resource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.resources[key{rt: rt, id: id}]
	if !ok {
		return Resource{}, false
	}
	r.Payload = copyPayload(r.Payload)
	return r, true
}

// GetAll returns a snapshot of all resources of the given type.
//
// The returned slice is a deep copy ordered by ID; modifications do not
// affect the store.
func (m *MemoryStore) GetAll(rt ResourceType) []Resource {
	m.mu.RLock()
	results := make([]Resource, 0, len(m.resources))
	for k, r := range m.resources {
		if k.rt != rt {
			continue
		}
		r.Payload = copyPayload(r.Payload)
		results = append(results, r)
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].ID < results[j].ID
	})
	return results
}

// Len returns the number of stored resources of the given type.
func (m *MemoryStore) Len(rt ResourceType) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for k := range m.resources {
		if k.rt == rt {
			n++
		}
	}
	return n
}

// Subscribe creates a new subscription and returns a channel for receiving changes.
//
// The returned channel has a buffer of 100 messages. If the buffer fills
// (slow consumer), new changes are dropped for this subscriber.
//
// Caller must call [MemoryStore.Unsubscribe] when done to prevent resource leaks.
func (m *MemoryStore) Subscribe() <-chan Change {
	ch := make(chan Change, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
//
// Safe to call multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan Change) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// SubscribeFeed creates a lossless, coalescing subscription. See [Feed].
//
// Caller must call [MemoryStore.UnsubscribeFeed] when done.
func (m *MemoryStore) SubscribeFeed() *Feed {
	f := newFeed()

	m.subMu.Lock()
	m.feeds[f] = struct{}{}
	m.subMu.Unlock()

	return f
}

// UnsubscribeFeed detaches f and closes its Ready channel. Safe to call
// multiple times.
func (m *MemoryStore) UnsubscribeFeed(f *Feed) {
	m.subMu.Lock()
	delete(m.feeds, f)
	m.subMu.Unlock()

	f.close()
}

// notifySubscribers sends the change to all active subscribers without blocking.
func (m *MemoryStore) notifySubscribers(change Change) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- change:
		default:
			// subscriber is slow, drop the message
		}
	}
	for f := range m.feeds {
		f.push(change)
	}
}

// copyPayload deep-copies a decoded JSON object.
func copyPayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyPayload(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return val
	}
}
