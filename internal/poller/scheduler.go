package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/roomwatch/internal/store"
)

// ErrSchedulerStopped is returned by [Scheduler.Schedule] after [Scheduler.Stop].
var ErrSchedulerStopped = errors.New("scheduler stopped")

// Item is one resource returned by a snapshot fetch.
type Item struct {
	// ID is the stable resource id. Items with an empty ID are dropped.
	ID string

	// Payload holds the decoded domain fields.
	Payload map[string]any
}

// FetchFunc performs one snapshot fetch.
//
// It is called at most once at a time per resource type. The context is
// cancelled only when the scheduler is stopped.
type FetchFunc func(ctx context.Context) ([]Item, error)

// Applier receives candidate updates. It is implemented by the resource store.
type Applier interface {
	ApplyUpdate(rt store.ResourceType, id string, payload map[string]any, observedAt time.Time) (bool, error)
}

// PollResult describes the outcome of a single fetch.
type PollResult struct {
	// Type is the resource type that was polled.
	Type store.ResourceType

	// CheckedAt is when the response (or error) was received. Successful
	// items are applied with this observation time.
	CheckedAt time.Time

	// Latency is the time taken by the fetch.
	Latency time.Duration

	// Items is the number of resources returned.
	Items int

	// Applied is the number of resources that changed the store.
	Applied int

	// Dropped is the number of resources rejected for lacking an id.
	Dropped int

	// Error is non-nil when the fetch failed.
	Error error
}

// Stats holds per-resource-type scheduling counters.
type Stats struct {
	Interval time.Duration
	Fetches  int64
	Skipped  int64
}

type job struct {
	rt       store.ResourceType
	interval time.Duration
	fetch    FetchFunc
	cancel   context.CancelFunc

	// shared with any job this one replaced, so a replacement never overlaps
	// a fetch started by its predecessor
	inFlight *atomic.Bool
	fetches  atomic.Int64
	skipped  atomic.Int64
}

// Scheduler polls each registered resource type on its own timer.
//
// Every schedule fires immediately and then once per interval. If the
// previous fetch of a resource type is still running when its timer fires,
// that tick is skipped, so slow backends never accumulate a pile of requests.
// A failed fetch is reported through the result handler and polling carries
// on at the next tick.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	applier  Applier
	onResult func(PollResult)
	logger   *slog.Logger

	// fetchCtx outlives individual timers: unscheduling lets an in-flight
	// fetch finish, only Stop aborts it.
	fetchCtx    context.Context
	cancelFetch context.CancelFunc

	mu      sync.Mutex
	jobs    map[store.ResourceType]*job
	stopped bool
	wg      sync.WaitGroup
}

// NewScheduler creates a new polling [Scheduler].
//
// Parameters:
//   - applier: Destination for fetched resources
//   - onResult: Called after every fetch (may be nil)
//   - logger: Logger for scheduler events
func NewScheduler(applier Applier, onResult func(PollResult), logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	fetchCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		applier:     applier,
		onResult:    onResult,
		logger:      logger,
		fetchCtx:    fetchCtx,
		cancelFetch: cancel,
		jobs:        make(map[store.ResourceType]*job),
	}
}

// Schedule registers fetch to run every interval for resource type rt.
//
// The first fetch runs immediately. Scheduling a resource type that is
// already scheduled replaces the previous timer. The timer stops when ctx is
// cancelled, when [Scheduler.Unschedule] is called for rt, or on
// [Scheduler.Stop].
//
// Returns an error for an unknown resource type, a non-positive interval,
// a nil fetch function, or a stopped scheduler.
func (s *Scheduler) Schedule(ctx context.Context, rt store.ResourceType, interval time.Duration, fetch FetchFunc) error {
	if !rt.Valid() {
		return fmt.Errorf("%w: %q", store.ErrUnknownResourceType, rt)
	}
	if interval <= 0 {
		return fmt.Errorf("%s: polling interval must be positive, got %s", rt, interval)
	}
	if fetch == nil {
		return fmt.Errorf("%s: fetch function is required", rt)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	inFlight := &atomic.Bool{}
	if prev, ok := s.jobs[rt]; ok {
		prev.cancel()
		inFlight = prev.inFlight
	}

	timerCtx, cancel := context.WithCancel(ctx)
	j := &job{rt: rt, interval: interval, fetch: fetch, cancel: cancel, inFlight: inFlight}
	s.jobs[rt] = j

	s.wg.Add(1)
	go s.run(timerCtx, j)

	s.logger.Debug("polling scheduled", "resource_type", rt.String(), "interval", interval.String())
	return nil
}

// Unschedule cancels the timer for rt.
//
// A fetch already in flight is allowed to complete and its resources are
// still applied. Returns false if rt was not scheduled.
func (s *Scheduler) Unschedule(rt store.ResourceType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[rt]
	if !ok {
		return false
	}
	j.cancel()
	delete(s.jobs, rt)
	return true
}

// Stats returns the counters for rt, or false if rt is not scheduled.
func (s *Scheduler) Stats(rt store.ResourceType) (Stats, bool) {
	s.mu.Lock()
	j, ok := s.jobs[rt]
	s.mu.Unlock()

	if !ok {
		return Stats{}, false
	}
	return Stats{
		Interval: j.interval,
		Fetches:  j.fetches.Load(),
		Skipped:  j.skipped.Load(),
	}, true
}

// Stop cancels every timer, aborts in-flight fetches and waits for all
// goroutines to exit.
//
// Stop is idempotent. Schedule returns [ErrSchedulerStopped] afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		for rt, j := range s.jobs {
			j.cancel()
			delete(s.jobs, rt)
		}
		s.cancelFetch()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// run drives the timer of a single resource type.
func (s *Scheduler) run(ctx context.Context, j *job) {
	defer s.wg.Done()

	s.tick(j)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(j)
		}
	}
}

// tick starts a fetch unless one is already in flight for the job.
func (s *Scheduler) tick(j *job) {
	if !j.inFlight.CompareAndSwap(false, true) {
		j.skipped.Add(1)
		s.logger.Debug("poll skipped, previous fetch still in flight", "resource_type", j.rt.String())
		return
	}
	j.fetches.Add(1)

	// the run goroutine holds a wg slot, so this Add cannot race with Wait reaching zero
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer j.inFlight.Store(false)
		s.poll(j)
	}()
}

// poll performs one fetch and applies its results.
func (s *Scheduler) poll(j *job) {
	start := time.Now()
	items, err := s.safeFetch(j)
	receivedAt := time.Now()

	result := PollResult{
		Type:      j.rt,
		CheckedAt: receivedAt,
		Latency:   receivedAt.Sub(start),
		Error:     err,
	}

	if err != nil {
		if s.fetchCtx.Err() != nil {
			// shutdown aborted the request; nothing to report
			return
		}
		s.logger.Warn("poll failed",
			"resource_type", j.rt.String(),
			"latency_ms", result.Latency.Milliseconds(),
			"error", err.Error(),
		)
		s.report(result)
		return
	}

	result.Items = len(items)
	for _, it := range items {
		if it.ID == "" {
			result.Dropped++
			continue
		}
		changed, err := s.applier.ApplyUpdate(j.rt, it.ID, it.Payload, receivedAt)
		if err != nil {
			s.logger.Warn("update rejected", "resource_type", j.rt.String(), "id", it.ID, "error", err.Error())
			result.Dropped++
			continue
		}
		if changed {
			result.Applied++
		}
	}

	if result.Dropped > 0 {
		s.logger.Warn("resources without id dropped", "resource_type", j.rt.String(), "count", result.Dropped)
	}
	s.logger.Debug("poll completed",
		"resource_type", j.rt.String(),
		"items", result.Items,
		"applied", result.Applied,
		"latency_ms", result.Latency.Milliseconds(),
	)
	s.report(result)
}

// safeFetch calls the fetch function with panic recovery.
// A panic is logged with a correlation ID and reported as a failed fetch.
func (s *Scheduler) safeFetch(j *job) (items []Item, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error("fetch panic",
				"correlation_id", correlationID,
				"resource_type", j.rt.String(),
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			items = nil
			err = fmt.Errorf("fetch panic (correlation_id: %s)", correlationID)
		}
	}()
	return j.fetch(s.fetchCtx)
}

// report hands the result to the result handler, recovering panics.
func (s *Scheduler) report(result PollResult) {
	if s.onResult == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("poll result handler panicked", "panic", r, "resource_type", result.Type.String())
		}
	}()
	s.onResult(result)
}
