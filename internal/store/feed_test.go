package store

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestFeed_DeliversEveryKeyBeyondChannelBuffer(t *testing.T) {
	store := NewMemoryStore()
	feed := store.SubscribeFeed()
	defer store.UnsubscribeFeed(feed)

	n := subscriberBuffer * 3
	for i := 0; i < n; i++ {
		mustApply(t, store, ResourceAttendanceRecord, fmt.Sprintf("rec-%03d", i), nil, t0)
	}

	changes := feed.Drain()
	if len(changes) != n {
		t.Fatalf("Drain() = %d changes, want %d", len(changes), n)
	}
	for i, c := range changes {
		if want := fmt.Sprintf("rec-%03d", i); c.ID != want {
			t.Errorf("changes[%d].ID = %q, want %q", i, c.ID, want)
		}
	}
	if got := feed.Pending(); got != 0 {
		t.Errorf("Pending() after Drain = %d, want 0", got)
	}
}

func TestFeed_CoalescesPerKey(t *testing.T) {
	store := NewMemoryStore()
	feed := store.SubscribeFeed()
	defer store.UnsubscribeFeed(feed)

	mustApply(t, store, ResourceDevice, "dev-1", map[string]any{"v": 1}, t0)
	mustApply(t, store, ResourceDevice, "dev-2", map[string]any{"v": 1}, t0)
	mustApply(t, store, ResourceDevice, "dev-1", map[string]any{"v": 2}, t0.Add(time.Second))
	store.Remove(ResourceDevice, "dev-1", t0.Add(2*time.Second))

	changes := feed.Drain()
	if len(changes) != 2 {
		t.Fatalf("Drain() = %v, want 2 changes", changes)
	}
	if changes[0].ID != "dev-1" || !changes[0].Removed {
		t.Errorf("changes[0] = %+v, want dev-1 removed", changes[0])
	}
	if changes[1].ID != "dev-2" || changes[1].Removed {
		t.Errorf("changes[1] = %+v, want dev-2 updated", changes[1])
	}

	// same id under another type is a distinct key
	mustApply(t, store, ResourceAttendanceRecord, "dev-2", nil, t0)
	mustApply(t, store, ResourceDevice, "dev-2", nil, t0.Add(time.Second))
	if got := len(feed.Drain()); got != 2 {
		t.Errorf("Drain() = %d changes, want 2", got)
	}
}

func TestFeed_ReadySignalsAndClose(t *testing.T) {
	store := NewMemoryStore()
	feed := store.SubscribeFeed()

	select {
	case <-feed.Ready():
		t.Fatal("Ready() signalled with nothing pending")
	default:
	}

	mustApply(t, store, ResourceDevice, "dev-1", nil, t0)
	mustApply(t, store, ResourceDevice, "dev-2", nil, t0)

	select {
	case <-feed.Ready():
	case <-time.After(time.Second):
		t.Fatal("Ready() did not signal")
	}

	store.UnsubscribeFeed(feed)
	store.UnsubscribeFeed(feed) // idempotent

	// pending changes survive the close for a final drain
	if got := len(feed.Drain()); got != 2 {
		t.Errorf("Drain() after close = %d changes, want 2", got)
	}

	mustApply(t, store, ResourceDevice, "dev-3", nil, t0)
	if got := feed.Pending(); got != 0 {
		t.Errorf("Pending() after close = %d, want 0", got)
	}

	// a signal buffered before close may still be delivered; after that the
	// channel reports closed
	for range feed.Ready() {
	}
}

func TestFeed_SlowReaderSeesEveryChange(t *testing.T) {
	store := NewMemoryStore()
	feed := store.SubscribeFeed()

	seen := make(map[string]bool)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range feed.Ready() {
			for _, c := range feed.Drain() {
				seen[c.ID] = true
				time.Sleep(time.Millisecond)
			}
		}
		for _, c := range feed.Drain() {
			seen[c.ID] = true
		}
	}()

	n := 250
	for i := 0; i < n; i++ {
		mustApply(t, store, ResourceAttendanceRecord, fmt.Sprintf("rec-%d", i), nil, t0)
	}
	store.UnsubscribeFeed(feed)
	wg.Wait()

	if len(seen) != n {
		t.Errorf("reader saw %d ids, want %d", len(seen), n)
	}
}
