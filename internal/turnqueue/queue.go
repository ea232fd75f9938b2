package turnqueue

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultCapacity bounds the drain queue. Beyond it the oldest
	// entry is superseded.
	DefaultCapacity = 4

	// DefaultStaleAfter is how old a queued turn may grow before it is
	// skipped at drain time in favor of newer entries.
	DefaultStaleAfter = 12 * time.Second
)

// QueueOption configures a [Queue].
type QueueOption func(*Queue)

// WithCapacity overrides the queue capacity. Values below 1 are
// ignored.
func WithCapacity(n int) QueueOption {
	return func(q *Queue) {
		if n >= 1 {
			q.capacity = n
		}
	}
}

// WithStaleAfter overrides the staleness threshold.
func WithStaleAfter(d time.Duration) QueueOption {
	return func(q *Queue) { q.staleAfter = d }
}

// WithQueueClock overrides the queue's time source for tests.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

// EnqueueResult reports what Enqueue did with the request.
type EnqueueResult struct {
	// Coalesced is true when the request was merged into the tail
	// entry instead of appended.
	Coalesced bool

	// Evicted is the superseded oldest entry when the queue was full,
	// nil otherwise.
	Evicted *Request
}

// Queue is the bounded drain queue for turns that arrive while a
// previous turn is still being transcribed or decided. Safe for
// concurrent use.
type Queue struct {
	mu         sync.Mutex
	entries    []Request
	capacity   int
	staleAfter time.Duration
	now        func() time.Time
}

// NewQueue returns an empty drain queue with the default capacity and
// staleness threshold.
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		capacity:   DefaultCapacity,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue inserts r. A request from the same speaker as the tail entry
// is coalesced into it; otherwise r is appended, evicting the oldest
// entry when the queue is full. The eviction is returned so the caller
// can log it as superseded — a full queue is capacity behavior, not an
// error.
func (q *Queue) Enqueue(r Request) EnqueueResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if r.QueuedAt.IsZero() {
		r.QueuedAt = q.now()
	}

	if n := len(q.entries); n > 0 && q.entries[n-1].UserID == r.UserID {
		q.entries[n-1] = q.entries[n-1].Merge(r)
		return EnqueueResult{Coalesced: true}
	}

	var res EnqueueResult
	if len(q.entries) >= q.capacity {
		evicted := q.entries[0]
		q.entries = append(q.entries[:0], q.entries[1:]...)
		res.Evicted = &evicted
		slog.Debug("turn superseded: drain queue full",
			"user_id", evicted.UserID,
			"queued_at", evicted.QueuedAt,
		)
	}
	q.entries = append(q.entries, r)
	return res
}

// Drain pops the next turn to evaluate. Entries older than the
// staleness threshold are skipped without evaluation as long as newer
// entries exist behind them; the last remaining entry is always
// returned regardless of age. Returns false when the queue is empty.
func (q *Queue) Drain() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for len(q.entries) > 1 && now.Sub(q.entries[0].QueuedAt) > q.staleAfter {
		skipped := q.entries[0]
		q.entries = append(q.entries[:0], q.entries[1:]...)
		slog.Debug("turn skipped: stale behind newer captures",
			"user_id", skipped.UserID,
			"age", now.Sub(skipped.QueuedAt),
		)
	}

	if len(q.entries) == 0 {
		return Request{}, false
	}
	head := q.entries[0]
	q.entries = append(q.entries[:0], q.entries[1:]...)
	return head, true
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Clear drops all entries without evaluating them. Used on session
// end.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = q.entries[:0]
}
