package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/roomwatch/internal/store"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// resultRecorder collects PollResults from the scheduler.
type resultRecorder struct {
	mu      sync.Mutex
	results []PollResult
}

func (r *resultRecorder) record(pr PollResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, pr)
}

func (r *resultRecorder) snapshot() []PollResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PollResult(nil), r.results...)
}

// waitFor polls cond until it returns true or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func staticFetch(items ...Item) FetchFunc {
	return func(ctx context.Context) ([]Item, error) {
		return items, nil
	}
}

func TestScheduler_ScheduleValidation(t *testing.T) {
	scheduler := NewScheduler(store.NewMemoryStore(), nil, testLogger())
	defer scheduler.Stop()

	tests := []struct {
		name     string
		rt       store.ResourceType
		interval time.Duration
		fetch    FetchFunc
	}{
		{name: "unknown resource type", rt: "student", interval: time.Second, fetch: staticFetch()},
		{name: "zero interval", rt: store.ResourceDevice, interval: 0, fetch: staticFetch()},
		{name: "negative interval", rt: store.ResourceDevice, interval: -time.Second, fetch: staticFetch()},
		{name: "nil fetch", rt: store.ResourceDevice, interval: time.Second, fetch: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := scheduler.Schedule(context.Background(), tt.rt, tt.interval, tt.fetch); err == nil {
				t.Error("Schedule() error = nil, want error")
			}
		})
	}
}

func TestScheduler_FetchesImmediatelyAndApplies(t *testing.T) {
	st := store.NewMemoryStore()
	rec := &resultRecorder{}
	scheduler := NewScheduler(st, rec.record, testLogger())
	defer scheduler.Stop()

	before := time.Now()
	err := scheduler.Schedule(context.Background(), store.ResourceDevice, time.Hour, staticFetch(
		Item{ID: "dev-1", Payload: map[string]any{"status": "active"}},
		Item{ID: "dev-2", Payload: map[string]any{"status": "inactive"}},
	))
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 1 })

	all := st.GetAll(store.ResourceDevice)
	if len(all) != 2 {
		t.Fatalf("GetAll() = %d items, want 2", len(all))
	}
	if all[0].ObservedAt.Before(before) {
		t.Errorf("ObservedAt = %v, want receipt time after %v", all[0].ObservedAt, before)
	}

	res := rec.snapshot()[0]
	if res.Items != 2 || res.Applied != 2 || res.Error != nil {
		t.Errorf("result = %+v, want 2 items, 2 applied, no error", res)
	}
}

func TestScheduler_DropsItemsWithoutID(t *testing.T) {
	st := store.NewMemoryStore()
	rec := &resultRecorder{}
	scheduler := NewScheduler(st, rec.record, testLogger())
	defer scheduler.Stop()

	_ = scheduler.Schedule(context.Background(), store.ResourceAttendanceRecord, time.Hour, staticFetch(
		Item{ID: "", Payload: map[string]any{"student_id": "S-1"}},
		Item{ID: "7", Payload: map[string]any{"student_id": "S-2"}},
	))

	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 1 })

	if got := st.Len(store.ResourceAttendanceRecord); got != 1 {
		t.Errorf("Len() = %d, want 1 (id-less item must not be stored)", got)
	}
	if res := rec.snapshot()[0]; res.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", res.Dropped)
	}
}

// TestScheduler_OverlapGuard verifies that a tick firing while the previous
// fetch is still pending does not start a second concurrent fetch.
func TestScheduler_OverlapGuard(t *testing.T) {
	release := make(chan struct{})
	var calls, concurrent, maxConcurrent atomic.Int32

	fetch := func(ctx context.Context) ([]Item, error) {
		calls.Add(1)
		n := concurrent.Add(1)
		for {
			m := maxConcurrent.Load()
			if n <= m || maxConcurrent.CompareAndSwap(m, n) {
				break
			}
		}
		defer concurrent.Add(-1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	}

	scheduler := NewScheduler(store.NewMemoryStore(), nil, testLogger())
	defer scheduler.Stop()

	if err := scheduler.Schedule(context.Background(), store.ResourceDevice, 10*time.Millisecond, fetch); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	// several ticks elapse while the first fetch is blocked
	waitFor(t, time.Second, func() bool {
		stats, _ := scheduler.Stats(store.ResourceDevice)
		return stats.Skipped >= 3
	})

	if got := calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d while first fetch pending, want 1", got)
	}

	close(release)
	waitFor(t, time.Second, func() bool { return calls.Load() >= 2 })

	if got := maxConcurrent.Load(); got != 1 {
		t.Errorf("max concurrent fetches = %d, want 1", got)
	}
}

// TestScheduler_FailureDoesNotStopPolling verifies that an error is reported
// and the next tick still fetches.
func TestScheduler_FailureDoesNotStopPolling(t *testing.T) {
	st := store.NewMemoryStore()
	rec := &resultRecorder{}
	var calls atomic.Int32

	fetch := func(ctx context.Context) ([]Item, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("backend unavailable")
		}
		return []Item{{ID: "dev-1", Payload: map[string]any{}}}, nil
	}

	scheduler := NewScheduler(st, rec.record, testLogger())
	defer scheduler.Stop()

	_ = scheduler.Schedule(context.Background(), store.ResourceDevice, 10*time.Millisecond, fetch)

	waitFor(t, time.Second, func() bool { return st.Len(store.ResourceDevice) == 1 })

	results := rec.snapshot()
	if results[0].Error == nil {
		t.Error("first result Error = nil, want backend error")
	}
}

// TestScheduler_IndependentResourceTypes verifies that a failing resource
// type does not affect another.
func TestScheduler_IndependentResourceTypes(t *testing.T) {
	st := store.NewMemoryStore()
	scheduler := NewScheduler(st, nil, testLogger())
	defer scheduler.Stop()

	failing := func(ctx context.Context) ([]Item, error) {
		return nil, errors.New("boom")
	}

	_ = scheduler.Schedule(context.Background(), store.ResourceAttendanceRecord, 10*time.Millisecond, failing)
	_ = scheduler.Schedule(context.Background(), store.ResourceDevice, 10*time.Millisecond, staticFetch(Item{ID: "dev-1"}))

	waitFor(t, time.Second, func() bool { return st.Len(store.ResourceDevice) == 1 })
}

// TestScheduler_UnscheduleLetsInFlightComplete verifies that an in-flight
// fetch still applies its results after its timer is cancelled.
func TestScheduler_UnscheduleLetsInFlightComplete(t *testing.T) {
	st := store.NewMemoryStore()
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	fetch := func(ctx context.Context) ([]Item, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return []Item{{ID: "dev-1", Payload: map[string]any{}}}, nil
	}

	scheduler := NewScheduler(st, nil, testLogger())
	defer scheduler.Stop()

	_ = scheduler.Schedule(context.Background(), store.ResourceDevice, 10*time.Millisecond, fetch)
	<-started

	if !scheduler.Unschedule(store.ResourceDevice) {
		t.Fatal("Unschedule() = false, want true")
	}
	if scheduler.Unschedule(store.ResourceDevice) {
		t.Error("second Unschedule() = true, want false")
	}

	close(release)
	waitFor(t, time.Second, func() bool { return st.Len(store.ResourceDevice) == 1 })

	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("fetch calls after Unschedule = %d, want 1", got)
	}
}

func TestScheduler_RescheduleReplacesTimer(t *testing.T) {
	scheduler := NewScheduler(store.NewMemoryStore(), nil, testLogger())
	defer scheduler.Stop()

	_ = scheduler.Schedule(context.Background(), store.ResourceDevice, time.Hour, staticFetch())
	if err := scheduler.Schedule(context.Background(), store.ResourceDevice, 2*time.Hour, staticFetch()); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	stats, ok := scheduler.Stats(store.ResourceDevice)
	if !ok {
		t.Fatal("Stats() ok = false")
	}
	if stats.Interval != 2*time.Hour {
		t.Errorf("Interval = %v, want 2h", stats.Interval)
	}
}

// TestScheduler_StopBeforeSchedule verifies that calling Stop() on a
// scheduler without jobs does not panic and is a safe no-op.
func TestScheduler_StopBeforeSchedule(t *testing.T) {
	scheduler := NewScheduler(store.NewMemoryStore(), nil, testLogger())
	scheduler.Stop()
}

// TestScheduler_StopTwice verifies that Stop() is idempotent.
func TestScheduler_StopTwice(t *testing.T) {
	scheduler := NewScheduler(store.NewMemoryStore(), nil, testLogger())
	_ = scheduler.Schedule(context.Background(), store.ResourceDevice, time.Minute, staticFetch())

	scheduler.Stop()
	scheduler.Stop()
}

func TestScheduler_ScheduleAfterStop(t *testing.T) {
	scheduler := NewScheduler(store.NewMemoryStore(), nil, testLogger())
	scheduler.Stop()

	err := scheduler.Schedule(context.Background(), store.ResourceDevice, time.Minute, staticFetch())
	if !errors.Is(err, ErrSchedulerStopped) {
		t.Errorf("Schedule() error = %v, want ErrSchedulerStopped", err)
	}
}

// TestScheduler_StopAbortsInFlightFetch verifies that Stop cancels the fetch
// context and returns without reporting the aborted fetch.
func TestScheduler_StopAbortsInFlightFetch(t *testing.T) {
	rec := &resultRecorder{}
	started := make(chan struct{})

	fetch := func(ctx context.Context) ([]Item, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	scheduler := NewScheduler(store.NewMemoryStore(), rec.record, testLogger())
	_ = scheduler.Schedule(context.Background(), store.ResourceDevice, time.Hour, fetch)
	<-started

	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not return")
	}

	if n := len(rec.snapshot()); n != 0 {
		t.Errorf("results after Stop = %d, want 0", n)
	}
}

// TestScheduler_ContextCancelStopsTimer verifies that cancelling the schedule
// context stops future ticks.
func TestScheduler_ContextCancelStopsTimer(t *testing.T) {
	var calls atomic.Int32
	fetch := func(ctx context.Context) ([]Item, error) {
		calls.Add(1)
		return nil, nil
	}

	scheduler := NewScheduler(store.NewMemoryStore(), nil, testLogger())
	defer scheduler.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	_ = scheduler.Schedule(ctx, store.ResourceDevice, 10*time.Millisecond, fetch)
	waitFor(t, time.Second, func() bool { return calls.Load() >= 1 })

	cancel()
	time.Sleep(30 * time.Millisecond)
	settled := calls.Load()
	time.Sleep(50 * time.Millisecond)

	if got := calls.Load(); got != settled {
		t.Errorf("fetch calls grew from %d to %d after context cancel", settled, got)
	}
}

func TestScheduler_FetchPanicRecovered(t *testing.T) {
	rec := &resultRecorder{}
	fetch := func(ctx context.Context) ([]Item, error) {
		panic("decoder exploded")
	}

	scheduler := NewScheduler(store.NewMemoryStore(), rec.record, testLogger())
	defer scheduler.Stop()

	_ = scheduler.Schedule(context.Background(), store.ResourceDevice, time.Hour, fetch)
	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 1 })

	if rec.snapshot()[0].Error == nil {
		t.Error("Error = nil after fetch panic, want correlation error")
	}
}

// TestScheduler_ConcurrentScheduleAndStop verifies there is no race between
// scheduling and stopping. Run with: go test -race ./internal/poller/...
func TestScheduler_ConcurrentScheduleAndStop(t *testing.T) {
	for i := 0; i < 50; i++ {
		scheduler := NewScheduler(store.NewMemoryStore(), nil, testLogger())

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			_ = scheduler.Schedule(context.Background(), store.ResourceDevice, 5*time.Millisecond, staticFetch(Item{ID: "a"}))
		}()
		go func() {
			defer wg.Done()
			_ = scheduler.Schedule(context.Background(), store.ResourceAttendanceRecord, 5*time.Millisecond, staticFetch(Item{ID: "b"}))
		}()
		go func() {
			defer wg.Done()
			scheduler.Stop()
		}()
		wg.Wait()

		scheduler.Stop()
	}
}
