package turnqueue

import (
	"log/slog"
	"sync"
	"time"
)

// DeferredCapacity bounds the deferral queue. Beyond it the oldest
// deferred turn is superseded.
const DeferredCapacity = 8

// FlushOutcome reports the result of a flush attempt.
type FlushOutcome int

const (
	// FlushEmpty means nothing was deferred.
	FlushEmpty FlushOutcome = iota

	// FlushRescheduled means a capture is still recording; the caller
	// must retry once silence is confirmed.
	FlushRescheduled

	// FlushReady means the returned request carries every deferred
	// turn, coalesced into one.
	FlushReady
)

// DeferralOption configures a [Deferral].
type DeferralOption func(*Deferral)

// WithDeferredCapacity overrides the deferral queue capacity. Values
// below 1 are ignored.
func WithDeferredCapacity(n int) DeferralOption {
	return func(d *Deferral) {
		if n >= 1 {
			d.capacity = n
		}
	}
}

// Deferral holds turns whose decision came back bot_turn_open. All
// deferred turns flush as a single coalesced admission once the floor
// is free, so a rapid exchange never fans out into several overlapping
// replies. Safe for concurrent use.
type Deferral struct {
	mu       sync.Mutex
	entries  []Request
	capacity int
}

// NewDeferral returns an empty deferral queue.
func NewDeferral(opts ...DeferralOption) *Deferral {
	d := &Deferral{capacity: DeferredCapacity}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Defer appends r, evicting the oldest deferred turn when full. The
// eviction is returned for superseded logging.
func (d *Deferral) Defer(r Request) (evicted *Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if r.QueuedAt.IsZero() {
		r.QueuedAt = time.Now()
	}

	if len(d.entries) >= d.capacity {
		old := d.entries[0]
		d.entries = append(d.entries[:0], d.entries[1:]...)
		evicted = &old
		slog.Debug("deferred turn superseded: queue full",
			"user_id", old.UserID,
			"queued_at", old.QueuedAt,
		)
	}
	d.entries = append(d.entries, r)
	return evicted
}

// Flush coalesces everything deferred so far into one request:
// transcripts space-joined and audio concatenated in arrival order,
// speaker and reason taken from the newest turn. The flush only runs
// when silenceConfirmed reports no capture is still recording;
// otherwise the entries stay put and the caller reschedules.
//
// The caller issues exactly one admission evaluation and at most one
// reply for the returned request.
func (d *Deferral) Flush(silenceConfirmed func() bool) (Request, FlushOutcome) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.entries) == 0 {
		return Request{}, FlushEmpty
	}
	if silenceConfirmed != nil && !silenceConfirmed() {
		return Request{}, FlushRescheduled
	}

	merged := d.entries[0]
	for _, r := range d.entries[1:] {
		merged = merged.Merge(r)
	}
	d.entries = d.entries[:0]
	return merged, FlushReady
}

// Len returns the number of deferred entries.
func (d *Deferral) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Clear drops all deferred entries without flushing. Used on session
// end.
func (d *Deferral) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = d.entries[:0]
}
